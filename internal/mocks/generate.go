// Package mocks provides mock implementations for testing the adsync job system.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our repository interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	mockStore := mocks.NewMockJobStore(ctrl)
//	mockStore.EXPECT().Create(gomock.Any(), gomock.Any()).Return(job, nil)
package mocks

// Generate mock for JobStore interface from internal/core package.
// This creates MockJobStore with methods for all JobStore interface methods:
// Create, GetByID, GetForOwner, ListActive, Heartbeat, MarkUpstreamDone,
// TryClaimProcessing, TryResumeStale, MarkCompleted, MarkFailed, MarkCancelled, Stats
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=job_store_mock.go github.com/adsync/adsync/internal/core JobStore

// Generate mock for ReportClient interface from internal/core package.
// This creates MockReportClient with methods for all ReportClient interface methods:
// StartReport, GetReportStatus, GetPage, GetCreativeMetadata, GetAdStatuses
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=report_client_mock.go github.com/adsync/adsync/internal/core ReportClient

// Generate mock for RecordStore interface from internal/core package.
// This creates MockRecordStore with methods for all RecordStore interface methods:
// UpsertCreatives, UpsertMetrics, ComputeSummaryStats
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=record_store_mock.go github.com/adsync/adsync/internal/core RecordStore

// Generate mock for ProgressReporter interface from internal/core package.
// This creates MockProgressReporter with methods for all ProgressReporter interface methods:
// GetJob, Heartbeat, MarkCompleted, MarkFailed
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=progress_reporter_mock.go github.com/adsync/adsync/internal/core ProgressReporter

// Generate mock for Processor interface from internal/core package.
// This creates MockProcessor with the Process method.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=processor_mock.go github.com/adsync/adsync/internal/core Processor

// Generate mock for CacheRepository interface from internal/core package.
// This creates MockCacheRepository with methods for all CacheRepository interface methods:
// Get, Set, SetIfNotExists, Delete, Health
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=cache_repository_mock.go github.com/adsync/adsync/internal/core CacheRepository

// Generate mock for RetentionStore interface from internal/core package.
// This creates MockRetentionStore with the DeleteOldJobs method.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=retention_store_mock.go github.com/adsync/adsync/internal/core RetentionStore
