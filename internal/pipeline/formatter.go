package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/adsync/adsync/internal/domain/model"
)

// FormatterOptions groups dependencies for Formatter.
type FormatterOptions struct {
	// ExtraFields maps extra metric names to JMESPath expressions evaluated
	// against the raw upstream row. Non-numeric results are skipped.
	ExtraFields map[string]string
	// Tags are applied to every creative record in the collection.
	Tags   []string
	Logger *slog.Logger // Optional: structured logger
}

// Formatter turns enriched rows into persistable records: one creative
// rollup per distinct name with its ad ids unioned, and one metric row per
// enriched input row.
type Formatter struct {
	extras map[string]jmespath.JMESPath
	tags   []string
	logger *slog.Logger
}

// NewFormatter constructs a new Formatter, compiling the configured extra
// field expressions. An invalid expression fails construction so bad config
// is caught at startup rather than mid-job.
func NewFormatter(opts FormatterOptions) (*Formatter, error) {
	extras := make(map[string]jmespath.JMESPath, len(opts.ExtraFields))
	for name, expr := range opts.ExtraFields {
		compiled, err := jmespath.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile extra field %q: %w", name, err)
		}
		extras[name] = compiled
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "formatter")
	}

	return &Formatter{
		extras: extras,
		tags:   opts.Tags,
		logger: logger,
	}, nil
}

// FormatOutput carries the records ready for persistence.
type FormatOutput struct {
	Creatives []model.CreativeRecord
	Metrics   []model.MetricRecord
}

// Format groups the rows into creative rollups and per-ad per-day metric
// rows. Rows without a creative name still produce metric rows; they just
// have no creative rollup to join.
func (f *Formatter) Format(rows []model.EnrichedRow) *FormatOutput {
	out := &FormatOutput{
		Metrics: make([]model.MetricRecord, 0, len(rows)),
	}

	creatives := make(map[string]*model.CreativeRecord)
	adIDs := make(map[string]map[string]struct{})
	order := make([]string, 0)

	for _, row := range rows {
		out.Metrics = append(out.Metrics, f.metricRecord(row))

		if row.Name == "" {
			continue
		}
		rec, ok := creatives[row.Name]
		if !ok {
			rec = &model.CreativeRecord{
				Name: row.Name,
				Tags: f.tags,
			}
			creatives[row.Name] = rec
			adIDs[row.Name] = make(map[string]struct{})
			order = append(order, row.Name)
		}
		if row.Meta != nil {
			rec.Title = row.Meta.Title
			rec.ImageURL = row.Meta.ImageURL
			rec.DestinationURL = row.Meta.DestinationURL
			rec.Category = row.Meta.Category
		}
		if row.ServingState != "" {
			rec.ServingState = row.ServingState
		}
		if row.AdID != "" {
			adIDs[row.Name][row.AdID] = struct{}{}
		}
	}

	out.Creatives = make([]model.CreativeRecord, 0, len(order))
	for _, name := range order {
		rec := creatives[name]
		ids := make([]string, 0, len(adIDs[name]))
		for id := range adIDs[name] {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		rec.AdIDs = ids
		out.Creatives = append(out.Creatives, *rec)
	}
	return out
}

func (f *Formatter) metricRecord(row model.EnrichedRow) model.MetricRecord {
	return model.MetricRecord{
		AdID:        row.AdID,
		Date:        row.Date,
		Name:        row.Name,
		Impressions: row.Impressions,
		Clicks:      row.Clicks,
		CostMicros:  row.CostMicros,
		Conversions: row.Conversions,
		Extras:      f.extractExtras(row.Raw),
	}
}

// extractExtras evaluates the configured expressions against the raw
// upstream row. Extraction is best-effort: unparseable rows or non-numeric
// results simply leave the field out.
func (f *Formatter) extractExtras(raw json.RawMessage) map[string]float64 {
	if len(f.extras) == 0 || len(raw) == 0 {
		return nil
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		if f.logger != nil {
			f.logger.Debug("skipping extras for unparseable raw row", "error", err)
		}
		return nil
	}

	extras := make(map[string]float64, len(f.extras))
	for name, expr := range f.extras {
		res, err := expr.Search(data)
		if err != nil {
			continue
		}
		switch v := res.(type) {
		case float64:
			extras[name] = v
		case int:
			extras[name] = float64(v)
		case json.Number:
			if n, convErr := v.Float64(); convErr == nil {
				extras[name] = n
			}
		}
	}
	if len(extras) == 0 {
		return nil
	}
	return extras
}
