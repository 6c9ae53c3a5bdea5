package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/adsync/adsync/internal/core"
	"github.com/adsync/adsync/internal/data/pgxutil"
)

// Advisory lock namespace for retention operations.
// Using two-arg pg_try_advisory_xact_lock(major, minor) for proper namespacing.
// Major key 2100 is reserved for adsync retention operations.
const (
	advisoryLockRetentionMajor  = 2100
	advisoryLockRetentionDelete = 1 // minor key for DeleteOldJobs
)

var _ core.RetentionStore = (*JobStore)(nil)

// DeleteOldJobs deletes terminal jobs with the given status older than MaxAge.
// Processes up to BatchSize jobs per call to prevent long locks and I/O spikes.
// Uses advisory locks to prevent concurrent retention instances from conflicting.
// Returns the number of jobs deleted.
func (s *JobStore) DeleteOldJobs(ctx context.Context, params core.DeleteOldJobsParams) (int64, error) {
	if !params.Status.Valid() {
		return 0, fmt.Errorf("invalid job status: %s", params.Status)
	}
	if !params.Status.Terminal() {
		return 0, fmt.Errorf("refusing to delete non-terminal status: %s", params.Status)
	}
	if params.BatchSize <= 0 {
		return 0, fmt.Errorf("batch size must be greater than zero")
	}
	if params.MaxAge <= 0 {
		return 0, fmt.Errorf("max age must be greater than zero")
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, s.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockRetentionMajor, advisoryLockRetentionDelete).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			cutoffTime := s.timeProvider.Now().Add(-params.MaxAge).UTC()

			res, err := tx.ExecContext(ctx, `
				DELETE FROM collection_jobs
				WHERE id IN (
					SELECT id FROM collection_jobs
					WHERE status = $1
					  AND updated_at < $2
					ORDER BY updated_at
					LIMIT $3
				)
			`, params.Status, cutoffTime, params.BatchSize)
			if err != nil {
				return fmt.Errorf("delete old jobs: %w", err)
			}

			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}
