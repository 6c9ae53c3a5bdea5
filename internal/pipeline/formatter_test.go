package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adsync/adsync/internal/domain/model"
)

func enriched(adID, name string, meta *model.CreativeMeta, state string) model.EnrichedRow {
	return model.EnrichedRow{
		ReportRow:    model.ReportRow{AdID: adID, Name: name, Date: "2024-01-01", Impressions: 10, Clicks: 2},
		Meta:         meta,
		ServingState: state,
	}
}

func TestFormatter_GroupsCreativesAndUnionsAdIDs(t *testing.T) {
	f, err := NewFormatter(FormatterOptions{})
	require.NoError(t, err)

	meta := &model.CreativeMeta{Name: "alpha", Title: "Alpha Sale", Category: "retail"}
	rows := []model.EnrichedRow{
		enriched("ad-2", "alpha", meta, "serving"),
		enriched("ad-1", "alpha", meta, "serving"),
		enriched("ad-1", "alpha", meta, "serving"), // duplicate ad id
		enriched("ad-3", "beta", nil, ""),
	}

	out := f.Format(rows)

	require.Len(t, out.Creatives, 2)
	alpha := out.Creatives[0]
	assert.Equal(t, "alpha", alpha.Name)
	assert.Equal(t, "Alpha Sale", alpha.Title)
	assert.Equal(t, "retail", alpha.Category)
	assert.Equal(t, "serving", alpha.ServingState)
	assert.Equal(t, []string{"ad-1", "ad-2"}, alpha.AdIDs)

	beta := out.Creatives[1]
	assert.Equal(t, "beta", beta.Name)
	assert.Empty(t, beta.Title)
	assert.Equal(t, []string{"ad-3"}, beta.AdIDs)

	assert.Len(t, out.Metrics, 4)
}

func TestFormatter_RowsWithoutNameStillProduceMetrics(t *testing.T) {
	f, err := NewFormatter(FormatterOptions{})
	require.NoError(t, err)

	rows := []model.EnrichedRow{enriched("ad-1", "", nil, "")}
	out := f.Format(rows)

	assert.Empty(t, out.Creatives)
	require.Len(t, out.Metrics, 1)
	assert.Equal(t, "ad-1", out.Metrics[0].AdID)
	assert.Equal(t, int64(10), out.Metrics[0].Impressions)
}

func TestFormatter_AppliesCollectionTags(t *testing.T) {
	f, err := NewFormatter(FormatterOptions{Tags: []string{"q1", "brand"}})
	require.NoError(t, err)

	out := f.Format([]model.EnrichedRow{enriched("ad-1", "alpha", nil, "")})
	require.Len(t, out.Creatives, 1)
	assert.Equal(t, []string{"q1", "brand"}, out.Creatives[0].Tags)
}

func TestFormatter_ExtractsExtraFields(t *testing.T) {
	f, err := NewFormatter(FormatterOptions{
		ExtraFields: map[string]string{
			"video_views": "metrics.video_views",
			"engagements": "metrics.engagements",
			"missing":     "metrics.absent",
		},
	})
	require.NoError(t, err)

	row := enriched("ad-1", "alpha", nil, "")
	row.Raw = json.RawMessage(`{"metrics":{"video_views":420,"engagements":17,"label":"not a number"}}`)

	out := f.Format([]model.EnrichedRow{row})
	require.Len(t, out.Metrics, 1)
	extras := out.Metrics[0].Extras
	require.NotNil(t, extras)
	assert.InDelta(t, 420, extras["video_views"], 0.001)
	assert.InDelta(t, 17, extras["engagements"], 0.001)
	_, ok := extras["missing"]
	assert.False(t, ok)
}

func TestFormatter_ExtrasSkipUnparseableRaw(t *testing.T) {
	f, err := NewFormatter(FormatterOptions{
		ExtraFields: map[string]string{"views": "metrics.views"},
	})
	require.NoError(t, err)

	row := enriched("ad-1", "alpha", nil, "")
	row.Raw = json.RawMessage(`{not json`)

	out := f.Format([]model.EnrichedRow{row})
	assert.Nil(t, out.Metrics[0].Extras)
}

func TestFormatter_ExtrasNilWithoutConfig(t *testing.T) {
	f, err := NewFormatter(FormatterOptions{})
	require.NoError(t, err)

	row := enriched("ad-1", "alpha", nil, "")
	row.Raw = json.RawMessage(`{"metrics":{"views":1}}`)

	out := f.Format([]model.EnrichedRow{row})
	assert.Nil(t, out.Metrics[0].Extras)
}

func TestNewFormatter_InvalidExpressionFailsConstruction(t *testing.T) {
	_, err := NewFormatter(FormatterOptions{
		ExtraFields: map[string]string{"bad": "metrics.["},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}
