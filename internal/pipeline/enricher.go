package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adsync/adsync/internal/core"
	"github.com/adsync/adsync/internal/domain/model"
	apperrors "github.com/adsync/adsync/internal/errors"
)

const (
	defaultMetaBatchSize   = 50
	defaultStatusBatchSize = 200
	defaultConcurrency     = 4
	defaultMetaCacheTTL    = 6 * time.Hour

	metaCacheKeyPrefix = "adsync:creative-meta:"
)

// EnricherOptions groups dependencies for Enricher.
type EnricherOptions struct {
	Client          core.ReportClient    // Required: upstream reporting API
	Cache           core.CacheRepository // Optional: creative metadata read-through cache
	Logger          *slog.Logger         // Optional: structured logger
	MetaBatchSize   int                  // Optional: metadata batch size (default 50)
	StatusBatchSize int                  // Optional: serving-status batch size (default 200)
	Concurrency     int                  // Optional: parallel batch bound (default 4)
	MetaCacheTTL    time.Duration        // Optional: metadata cache TTL (default 6h)
}

// Enricher joins report rows with creative metadata and serving status.
//
// Metadata is heavy and deduplicated by creative name: the distinct names are
// fetched in batches, and a batch refused for payload size is split in half
// and retried recursively. A single name that still fails is dropped and the
// rows keep flowing unenriched. Serving status is cheap and keyed by ad id,
// so it runs as its own large-batch pass; it cannot ride along with metadata
// because two ads sharing a creative name serve independently.
type Enricher struct {
	client          core.ReportClient
	cache           core.CacheRepository
	logger          *slog.Logger
	metaBatchSize   int
	statusBatchSize int
	concurrency     int
	metaCacheTTL    time.Duration
}

// NewEnricher constructs a new Enricher.
func NewEnricher(opts EnricherOptions) (*Enricher, error) {
	if opts.Client == nil {
		return nil, errors.New("ReportClient is required")
	}

	metaBatchSize := opts.MetaBatchSize
	if metaBatchSize <= 0 {
		metaBatchSize = defaultMetaBatchSize
	}
	statusBatchSize := opts.StatusBatchSize
	if statusBatchSize <= 0 {
		statusBatchSize = defaultStatusBatchSize
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	ttl := opts.MetaCacheTTL
	if ttl <= 0 {
		ttl = defaultMetaCacheTTL
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "enricher")
	}

	return &Enricher{
		client:          opts.Client,
		cache:           opts.Cache,
		logger:          logger,
		metaBatchSize:   metaBatchSize,
		statusBatchSize: statusBatchSize,
		concurrency:     concurrency,
		metaCacheTTL:    ttl,
	}, nil
}

// EnrichOutcome carries the enriched rows plus the counters reported in job
// details.
type EnrichOutcome struct {
	Rows             []model.EnrichedRow
	EntitiesDeduped  int
	EntitiesEnriched int
	EntitiesDropped  int
}

// Enrich joins the rows with metadata and serving status. It degrades
// gracefully: enrichment failures shrink the metadata coverage but never
// discard report rows or fail the run. Only context cancellation aborts.
func (e *Enricher) Enrich(ctx context.Context, rows []model.ReportRow) (*EnrichOutcome, error) {
	if len(rows) == 0 {
		return &EnrichOutcome{}, nil
	}

	names := distinctNames(rows)
	metas, dropped, err := e.fetchAllMetadata(ctx, names)
	if err != nil {
		return nil, err
	}

	states, err := e.fetchServingStates(ctx, distinctAdIDs(rows))
	if err != nil {
		return nil, err
	}

	outcome := &EnrichOutcome{
		Rows:             make([]model.EnrichedRow, 0, len(rows)),
		EntitiesDeduped:  len(names),
		EntitiesEnriched: len(metas),
		EntitiesDropped:  dropped,
	}
	for _, row := range rows {
		enriched := model.EnrichedRow{ReportRow: row}
		if meta, ok := metas[row.Name]; ok {
			m := meta
			enriched.Meta = &m
		}
		enriched.ServingState = states[row.AdID]
		outcome.Rows = append(outcome.Rows, enriched)
	}
	return outcome, nil
}

// fetchAllMetadata resolves metadata for the distinct names: cache first,
// then batched upstream fetches with bounded parallelism.
func (e *Enricher) fetchAllMetadata(ctx context.Context, names []string) (map[string]model.CreativeMeta, int, error) {
	metas := make(map[string]model.CreativeMeta, len(names))
	missing := e.readMetaCache(ctx, names, metas)

	var (
		mu      sync.Mutex
		dropped int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for start := 0; start < len(missing); start += e.metaBatchSize {
		batch := missing[start:min(start+e.metaBatchSize, len(missing))]
		g.Go(func() error {
			fetched, batchDropped, err := e.fetchMetaBatch(gctx, batch)
			if err != nil {
				return err
			}
			mu.Lock()
			for name, meta := range fetched {
				metas[name] = meta
			}
			dropped += batchDropped
			mu.Unlock()
			e.writeMetaCache(gctx, fetched)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return metas, dropped, nil
}

// fetchMetaBatch fetches one batch, recursively halving on payload-size
// refusals. A size-1 batch that still gets refused is dropped. Errors other
// than rate limiting leave the batch unenriched without counting as dropped;
// only context cancellation propagates.
func (e *Enricher) fetchMetaBatch(ctx context.Context, names []string) (map[string]model.CreativeMeta, int, error) {
	if len(names) == 0 {
		return nil, 0, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	metas, err := e.client.GetCreativeMetadata(ctx, names)
	if err == nil {
		out := make(map[string]model.CreativeMeta, len(metas))
		for _, meta := range metas {
			out[meta.Name] = meta
		}
		return out, 0, nil
	}

	if !apperrors.IsRateLimited(err) {
		if apperrors.IsCanceled(err) || errors.Is(err, context.Canceled) {
			return nil, 0, err
		}
		if e.logger != nil {
			e.logger.WarnContext(ctx, "metadata batch failed, continuing unenriched",
				"batch_size", len(names),
				"error", err)
		}
		return nil, 0, nil
	}

	if len(names) == 1 {
		if e.logger != nil {
			e.logger.WarnContext(ctx, "metadata refused for single creative, dropping",
				"name", names[0],
				"error", err)
		}
		return nil, 1, nil
	}

	// Split ceil/floor so both halves stay as large as allowed.
	mid := (len(names) + 1) / 2
	left, leftDropped, err := e.fetchMetaBatch(ctx, names[:mid])
	if err != nil {
		return nil, 0, err
	}
	right, rightDropped, err := e.fetchMetaBatch(ctx, names[mid:])
	if err != nil {
		return nil, 0, err
	}

	// Either half may come back nil (dropped or degraded); never merge into
	// a nil map.
	if left == nil {
		return right, leftDropped + rightDropped, nil
	}
	for name, meta := range right {
		left[name] = meta
	}
	return left, leftDropped + rightDropped, nil
}

// fetchServingStates runs the lightweight per-ad status pass. A failing
// batch is skipped after logging; serving state is best-effort.
func (e *Enricher) fetchServingStates(ctx context.Context, adIDs []string) (map[string]string, error) {
	states := make(map[string]string, len(adIDs))
	for start := 0; start < len(adIDs); start += e.statusBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch := adIDs[start:min(start+e.statusBatchSize, len(adIDs))]
		statuses, err := e.client.GetAdStatuses(ctx, batch)
		if err != nil {
			if apperrors.IsCanceled(err) || errors.Is(err, context.Canceled) {
				return nil, err
			}
			if e.logger != nil {
				e.logger.WarnContext(ctx, "serving status batch failed, skipping",
					"batch_size", len(batch),
					"error", err)
			}
			continue
		}
		for _, st := range statuses {
			states[st.AdID] = st.State
		}
	}
	return states, nil
}

// readMetaCache fills metas from the cache and returns the names still
// missing. Cache failures are treated as misses.
func (e *Enricher) readMetaCache(ctx context.Context, names []string, metas map[string]model.CreativeMeta) []string {
	if e.cache == nil {
		return names
	}

	missing := make([]string, 0, len(names))
	for _, name := range names {
		raw, err := e.cache.Get(ctx, metaCacheKeyPrefix+name)
		if err != nil || raw == nil {
			missing = append(missing, name)
			continue
		}
		var meta model.CreativeMeta
		if unmarshalErr := json.Unmarshal(raw, &meta); unmarshalErr != nil {
			missing = append(missing, name)
			continue
		}
		metas[name] = meta
	}
	return missing
}

func (e *Enricher) writeMetaCache(ctx context.Context, metas map[string]model.CreativeMeta) {
	if e.cache == nil {
		return
	}
	for name, meta := range metas {
		raw, err := json.Marshal(meta)
		if err != nil {
			continue
		}
		if setErr := e.cache.Set(ctx, metaCacheKeyPrefix+name, raw, e.metaCacheTTL); setErr != nil && e.logger != nil {
			e.logger.DebugContext(ctx, "metadata cache write failed", "name", name, "error", setErr)
		}
	}
}

func distinctNames(rows []model.ReportRow) []string {
	seen := make(map[string]struct{}, len(rows))
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.Name == "" {
			continue
		}
		if _, ok := seen[row.Name]; ok {
			continue
		}
		seen[row.Name] = struct{}{}
		names = append(names, row.Name)
	}
	sort.Strings(names)
	return names
}

func distinctAdIDs(rows []model.ReportRow) []string {
	seen := make(map[string]struct{}, len(rows))
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.AdID == "" {
			continue
		}
		if _, ok := seen[row.AdID]; ok {
			continue
		}
		seen[row.AdID] = struct{}{}
		ids = append(ids, row.AdID)
	}
	sort.Strings(ids)
	return ids
}
