// Package pipeline implements the post-claim processing pipeline: fetching
// report result pages, enriching rows with creative metadata and serving
// status, formatting records, and driving persistence with heartbeats.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/adsync/adsync/internal/core"
	"github.com/adsync/adsync/internal/domain/model"
	apperrors "github.com/adsync/adsync/internal/errors"
)

// defaultMaxPages bounds pagination as a runaway-cursor guard.
const defaultMaxPages = 100

// ErrTooManyPages is returned when pagination exceeds the configured bound,
// which indicates an upstream cursor bug rather than a genuinely huge report.
var ErrTooManyPages = errors.New("page limit exceeded while fetching report results")

// PageFetcherOptions groups dependencies for PageFetcher.
type PageFetcherOptions struct {
	Client   core.ReportClient // Required: upstream reporting API
	Logger   *slog.Logger      // Optional: structured logger
	MaxPages int               // Optional: pagination bound (default 100)
}

// PageFetcher pages through a completed report's results. Each page gets one
// retry on transient failure; a second failure aborts the fetch, keeping
// whatever was collected so the caller can record accurate counts.
type PageFetcher struct {
	client   core.ReportClient
	logger   *slog.Logger
	maxPages int
}

// NewPageFetcher constructs a new PageFetcher.
func NewPageFetcher(opts PageFetcherOptions) (*PageFetcher, error) {
	if opts.Client == nil {
		return nil, errors.New("ReportClient is required")
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "page_fetcher")
	}

	return &PageFetcher{
		client:   opts.Client,
		logger:   logger,
		maxPages: maxPages,
	}, nil
}

// FetchProgress is invoked after each successfully fetched page.
type FetchProgress func(pagesCollected, rowsCollected int)

// FetchResult carries everything collected, even on error.
type FetchResult struct {
	Rows  []model.ReportRow
	Pages int
}

// Collect fetches all result pages for the handle. On error the returned
// result still holds the pages and rows collected before the failure.
func (f *PageFetcher) Collect(ctx context.Context, handle string, progress FetchProgress) (*FetchResult, error) {
	result := &FetchResult{}
	cursor := ""

	for {
		if result.Pages >= f.maxPages {
			return result, fmt.Errorf("%w: fetched %d pages", ErrTooManyPages, result.Pages)
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		page, err := f.fetchPage(ctx, handle, cursor)
		if err != nil {
			return result, fmt.Errorf("fetch page %d: %w", result.Pages+1, err)
		}

		result.Pages++
		result.Rows = append(result.Rows, page.Rows...)
		if progress != nil {
			progress(result.Pages, len(result.Rows))
		}

		if page.NextCursor == "" {
			return result, nil
		}
		cursor = page.NextCursor
	}
}

// fetchPage fetches one page with a single retry on transient failure.
func (f *PageFetcher) fetchPage(ctx context.Context, handle, cursor string) (*model.ReportPage, error) {
	page, err := f.client.GetPage(ctx, handle, cursor)
	if err == nil {
		return page, nil
	}
	if !apperrors.IsRetryable(err) {
		return nil, err
	}

	if f.logger != nil {
		f.logger.WarnContext(ctx, "transient page fetch failure, retrying once",
			"handle", handle,
			"error", err)
	}
	page, retryErr := f.client.GetPage(ctx, handle, cursor)
	if retryErr != nil {
		return nil, retryErr
	}
	return page, nil
}
