package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus_Valid(t *testing.T) {
	assert.True(t, JobStatusUpstreamRunning.Valid())
	assert.True(t, JobStatusUpstreamDone.Valid())
	assert.True(t, JobStatusProcessing.Valid())
	assert.True(t, JobStatusPersisting.Valid())
	assert.True(t, JobStatusCompleted.Valid())
	assert.True(t, JobStatusFailed.Valid())
	assert.True(t, JobStatusCancelled.Valid())
	assert.False(t, JobStatus("unknown").Valid())
	assert.False(t, JobStatus("").Valid())
}

func TestJobStatus_UnmarshalText(t *testing.T) {
	var s JobStatus
	err := s.UnmarshalText([]byte(" Processing "))
	require.NoError(t, err)
	assert.Equal(t, JobStatusProcessing, s)

	err = s.UnmarshalText([]byte("bogus"))
	assert.Error(t, err)
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.True(t, JobStatusCancelled.Terminal())
	assert.False(t, JobStatusUpstreamRunning.Terminal())
	assert.False(t, JobStatusUpstreamDone.Terminal())
	assert.False(t, JobStatusProcessing.Terminal())
	assert.False(t, JobStatusPersisting.Terminal())
}

func TestJobStatus_Active(t *testing.T) {
	assert.True(t, JobStatusProcessing.Active())
	assert.True(t, JobStatusPersisting.Active())
	assert.False(t, JobStatusUpstreamRunning.Active())
	assert.False(t, JobStatusUpstreamDone.Active())
	assert.False(t, JobStatusCompleted.Active())
}

func TestJobConfig_Validate(t *testing.T) {
	valid := JobConfig{
		Owner:        "acct-1",
		StartDate:    "2024-01-01",
		EndDate:      "2024-01-31",
		CollectionID: "spring-campaign",
	}

	tests := []struct {
		name    string
		mutate  func(*JobConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(*JobConfig) {}},
		{
			name:    "missing owner",
			mutate:  func(c *JobConfig) { c.Owner = "" },
			wantErr: "owner is required",
		},
		{
			name:    "missing collection id",
			mutate:  func(c *JobConfig) { c.CollectionID = "" },
			wantErr: "collection id is required",
		},
		{
			name:    "bad start date",
			mutate:  func(c *JobConfig) { c.StartDate = "01/01/2024" },
			wantErr: "invalid start date",
		},
		{
			name:    "bad end date",
			mutate:  func(c *JobConfig) { c.EndDate = "" },
			wantErr: "invalid end date",
		},
		{
			name: "end before start",
			mutate: func(c *JobConfig) {
				c.StartDate = "2024-02-01"
				c.EndDate = "2024-01-01"
			},
			wantErr: "end date precedes start date",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCreateJobRequest_Validate(t *testing.T) {
	req := CreateJobRequest{
		ID: "rpt-abc123",
		Config: JobConfig{
			Owner:        "acct-1",
			StartDate:    "2024-01-01",
			EndDate:      "2024-01-31",
			CollectionID: "spring-campaign",
		},
	}
	assert.NoError(t, req.Validate())

	missing := req
	missing.ID = ""
	err := missing.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job id is required")

	badConfig := req
	badConfig.Config.Owner = ""
	assert.Error(t, badConfig.Validate())
}

func TestJobDetails_Merge(t *testing.T) {
	base := JobDetails{
		Stage:          "fetching",
		PagesCollected: 3,
		TotalCollected: 1500,
		Extra:          map[string]string{"cursor": "p3", "region": "us"},
	}

	t.Run("non-zero patch fields win", func(t *testing.T) {
		out := base.Merge(JobDetails{
			Stage:            "enriching",
			EntitiesEnriched: 900,
		})
		assert.Equal(t, "enriching", out.Stage)
		assert.Equal(t, 3, out.PagesCollected)
		assert.Equal(t, 1500, out.TotalCollected)
		assert.Equal(t, 900, out.EntitiesEnriched)
	})

	t.Run("zero fields keep existing values", func(t *testing.T) {
		out := base.Merge(JobDetails{PagesCollected: 5})
		assert.Equal(t, "fetching", out.Stage)
		assert.Equal(t, 5, out.PagesCollected)
		assert.Equal(t, 1500, out.TotalCollected)
	})

	t.Run("extra keys union with patch winning", func(t *testing.T) {
		out := base.Merge(JobDetails{
			Extra: map[string]string{"cursor": "p4", "split_depth": "2"},
		})
		assert.Equal(t, "p4", out.Extra["cursor"])
		assert.Equal(t, "us", out.Extra["region"])
		assert.Equal(t, "2", out.Extra["split_depth"])
		// original map untouched
		assert.Equal(t, "p3", base.Extra["cursor"])
	})

	t.Run("empty patch is identity", func(t *testing.T) {
		out := base.Merge(JobDetails{})
		assert.Equal(t, base, out)
	})
}

func TestJobDetails_IsZero(t *testing.T) {
	assert.True(t, JobDetails{}.IsZero())
	assert.False(t, JobDetails{Stage: "fetching"}.IsZero())
	assert.False(t, JobDetails{RecordsPersisted: 1}.IsZero())
	assert.False(t, JobDetails{Extra: map[string]string{"k": "v"}}.IsZero())
}
