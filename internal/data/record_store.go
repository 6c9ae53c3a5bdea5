package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/adsync/adsync/internal/core"
	"github.com/adsync/adsync/internal/data/pgxutil"
	"github.com/adsync/adsync/internal/domain/model"
	apperrors "github.com/adsync/adsync/internal/errors"
)

// defaultPersistBatchSize bounds the number of rows per INSERT statement.
const defaultPersistBatchSize = 500

// RecordStore provides idempotent persistence for collected creative and
// metric records. Both upserts key on stable composite identity, so re-running
// a job converges on the same rows.
type RecordStore struct {
	DB           *sql.DB
	batchSize    int
	timeProvider TimeProvider
	logger       *slog.Logger
}

// RecordStoreConfig holds configuration options for the record store.
type RecordStoreConfig struct {
	BatchSize    int
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// NewRecordStore creates a new RecordStore instance.
func NewRecordStore(db *sql.DB, cfg RecordStoreConfig) *RecordStore {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultPersistBatchSize
	}

	return &RecordStore{
		DB:           db,
		batchSize:    batchSize,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

var _ core.RecordStore = (*RecordStore)(nil)

// UpsertCreatives writes per-creative rollups keyed by (collection_id, name).
// On conflict the scalar fields take the incoming values while ad_ids and
// tags are set-unioned in SQL, so concurrent writers only ever grow the sets.
func (s *RecordStore) UpsertCreatives(ctx context.Context, collectionID string, records []model.CreativeRecord) (int, error) {
	if collectionID == "" {
		return 0, errors.New("collection id is required")
	}
	if len(records) == 0 {
		return 0, nil
	}

	written := 0
	err := pgxutil.WithPgxTx(ctx, s.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			for start := 0; start < len(records); start += s.batchSize {
				end := min(start+s.batchSize, len(records))
				n, err := s.upsertCreativeBatch(ctx, tx, collectionID, records[start:end])
				if err != nil {
					return err
				}
				written += n
			}
			return nil
		},
	})
	if err != nil {
		return written, apperrors.MapDBError(err)
	}
	return written, nil
}

const creativeUpsertColumns = 8

func (s *RecordStore) upsertCreativeBatch(ctx context.Context, tx pgx.Tx, collectionID string, records []model.CreativeRecord) (int, error) {
	values := make([]string, 0, len(records))
	args := make([]any, 0, len(records)*creativeUpsertColumns+2)
	args = append(args, collectionID, s.timeProvider.Now().UTC())
	for _, rec := range records {
		base := len(args)
		values = append(values, fmt.Sprintf("($1, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $2)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8))
		args = append(args,
			rec.Name,
			rec.Title,
			rec.ImageURL,
			rec.DestinationURL,
			rec.Category,
			rec.ServingState,
			rec.AdIDs,
			rec.Tags,
		)
	}

	query := `
		INSERT INTO collection_creatives
		  (collection_id, name, title, image_url, destination_url, category, serving_state, ad_ids, tags, updated_at)
		VALUES ` + strings.Join(values, ", ") + `
		ON CONFLICT (collection_id, name) DO UPDATE SET
		  title = EXCLUDED.title,
		  image_url = EXCLUDED.image_url,
		  destination_url = EXCLUDED.destination_url,
		  category = EXCLUDED.category,
		  serving_state = EXCLUDED.serving_state,
		  ad_ids = ARRAY(SELECT DISTINCT unnest(collection_creatives.ad_ids || EXCLUDED.ad_ids) ORDER BY 1),
		  tags = ARRAY(SELECT DISTINCT unnest(collection_creatives.tags || EXCLUDED.tags) ORDER BY 1),
		  updated_at = EXCLUDED.updated_at
	`

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("upsert creatives: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// UpsertMetrics writes per-ad per-day metric rows keyed by
// (collection_id, ad_id, date). Replays overwrite with identical values.
func (s *RecordStore) UpsertMetrics(ctx context.Context, collectionID string, records []model.MetricRecord) (int, error) {
	if collectionID == "" {
		return 0, errors.New("collection id is required")
	}
	if len(records) == 0 {
		return 0, nil
	}

	written := 0
	err := pgxutil.WithPgxTx(ctx, s.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			for start := 0; start < len(records); start += s.batchSize {
				end := min(start+s.batchSize, len(records))
				n, err := s.upsertMetricBatch(ctx, tx, collectionID, records[start:end])
				if err != nil {
					return err
				}
				written += n
			}
			return nil
		},
	})
	if err != nil {
		return written, apperrors.MapDBError(err)
	}
	return written, nil
}

const metricUpsertColumns = 8

func (s *RecordStore) upsertMetricBatch(ctx context.Context, tx pgx.Tx, collectionID string, records []model.MetricRecord) (int, error) {
	values := make([]string, 0, len(records))
	args := make([]any, 0, len(records)*metricUpsertColumns+2)
	args = append(args, collectionID, s.timeProvider.Now().UTC())
	for _, rec := range records {
		extras, err := marshalExtras(rec.Extras)
		if err != nil {
			return 0, err
		}
		base := len(args)
		values = append(values, fmt.Sprintf("($1, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d::jsonb, $2)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8))
		args = append(args,
			rec.AdID,
			rec.Date,
			rec.Name,
			rec.Impressions,
			rec.Clicks,
			rec.CostMicros,
			rec.Conversions,
			extras,
		)
	}

	query := `
		INSERT INTO collection_metrics
		  (collection_id, ad_id, date, name, impressions, clicks, cost_micros, conversions, extras, updated_at)
		VALUES ` + strings.Join(values, ", ") + `
		ON CONFLICT (collection_id, ad_id, date) DO UPDATE SET
		  name = EXCLUDED.name,
		  impressions = EXCLUDED.impressions,
		  clicks = EXCLUDED.clicks,
		  cost_micros = EXCLUDED.cost_micros,
		  conversions = EXCLUDED.conversions,
		  extras = EXCLUDED.extras,
		  updated_at = EXCLUDED.updated_at
	`

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("upsert metrics: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ComputeSummaryStats aggregates a collection. Returns nil when the
// collection has no metric rows.
func (s *RecordStore) ComputeSummaryStats(ctx context.Context, collectionID string) (*model.CollectionStats, error) {
	if collectionID == "" {
		return nil, errors.New("collection id is required")
	}

	var (
		st       model.CollectionStats
		rowCount int
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT
		  (SELECT count(*) FROM collection_creatives WHERE collection_id = $1),
		  count(*),
		  COALESCE(sum(impressions), 0),
		  COALESCE(sum(clicks), 0),
		  COALESCE(sum(cost_micros), 0),
		  COALESCE(sum(conversions), 0)
		FROM collection_metrics
		WHERE collection_id = $1
	`, collectionID).Scan(
		&st.Creatives,
		&rowCount,
		&st.Impressions,
		&st.Clicks,
		&st.CostMicros,
		&st.Conversions,
	)
	if err != nil {
		return nil, fmt.Errorf("collection summary stats: %w", err)
	}
	if rowCount == 0 && st.Creatives == 0 {
		return nil, nil
	}

	st.CollectionID = collectionID
	st.MetricRows = rowCount
	return &st, nil
}

func marshalExtras(extras map[string]float64) ([]byte, error) {
	if len(extras) == 0 {
		return []byte(`{}`), nil
	}
	raw, err := json.Marshal(extras)
	if err != nil {
		return nil, fmt.Errorf("marshal metric extras: %w", err)
	}
	return raw, nil
}
