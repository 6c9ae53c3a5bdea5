package config

import (
	"reflect"
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:  "single service - processor",
			input: "processor",
			expected: map[ServiceMode]bool{
				ServiceModeProcessor: true,
			},
			expectError: false,
		},
		{
			name:  "single service - retention",
			input: "retention",
			expected: map[ServiceMode]bool{
				ServiceModeRetention: true,
			},
			expectError: false,
		},
		{
			name:  "all services",
			input: "processor,retention",
			expected: map[ServiceMode]bool{
				ServiceModeProcessor: true,
				ServiceModeRetention: true,
			},
			expectError: false,
		},
		{
			name:  "services with spaces",
			input: " processor , retention ",
			expected: map[ServiceMode]bool{
				ServiceModeProcessor: true,
				ServiceModeRetention: true,
			},
			expectError: false,
		},
		{
			name:  "duplicate services",
			input: "processor,processor,retention",
			expected: map[ServiceMode]bool{
				ServiceModeProcessor: true,
				ServiceModeRetention: true,
			},
			expectError: false,
		},
		{
			name:        "empty string",
			input:       "",
			expected:    nil,
			expectError: true,
		},
		{
			name:        "only spaces and commas",
			input:       " , , ",
			expected:    nil,
			expectError: true,
		},
		{
			name:        "invalid service name",
			input:       "processor,invalid-service",
			expected:    nil,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServices(tt.input)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if len(result) != len(tt.expected) {
				t.Errorf("expected %d services, got %d", len(tt.expected), len(result))
				return
			}

			for service, expected := range tt.expected {
				if result[service] != expected {
					t.Errorf("expected service %s to be %v, got %v", service, expected, result[service])
				}
			}
		})
	}
}

func TestConfig_ServiceEnabledMethods(t *testing.T) {
	tests := []struct {
		name              string
		services          string
		expectedProcessor bool
		expectedRetention bool
	}{
		{
			name:              "default - processor only",
			services:          "processor",
			expectedProcessor: true,
			expectedRetention: false,
		},
		{
			name:              "retention only",
			services:          "retention",
			expectedProcessor: false,
			expectedRetention: true,
		},
		{
			name:              "all services",
			services:          "processor,retention",
			expectedProcessor: true,
			expectedRetention: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{Services: tt.services}

			if cfg.IsProcessorEnabled() != tt.expectedProcessor {
				t.Errorf("IsProcessorEnabled(): expected %v, got %v", tt.expectedProcessor, cfg.IsProcessorEnabled())
			}

			if cfg.IsRetentionEnabled() != tt.expectedRetention {
				t.Errorf("IsRetentionEnabled(): expected %v, got %v", tt.expectedRetention, cfg.IsRetentionEnabled())
			}
		})
	}
}

func TestConfig_ServiceEnabledMethodsWithInvalidConfig(t *testing.T) {
	cfg := AppConfig{Services: "invalid-service"}

	// All methods should return false when configuration is invalid
	if cfg.IsProcessorEnabled() {
		t.Errorf("IsProcessorEnabled() with invalid config: expected false, got true")
	}

	if cfg.IsRetentionEnabled() {
		t.Errorf("IsRetentionEnabled() with invalid config: expected false, got true")
	}
}

func TestValidServiceModes(t *testing.T) {
	modes := ValidServiceModes()
	expected := []ServiceMode{
		ServiceModeProcessor,
		ServiceModeRetention,
	}

	if len(modes) != len(expected) {
		t.Errorf("expected %d service modes, got %d", len(expected), len(modes))
	}

	for i, mode := range modes {
		if mode != expected[i] {
			t.Errorf("expected service mode %s at index %d, got %s", expected[i], i, mode)
		}
	}
}

func TestAppConfig_ParseUpstreamEnv(t *testing.T) {
	t.Setenv("UPSTREAM_BASE_URL", "https://reports.example.com")
	t.Setenv("UPSTREAM_TOKEN_URL", "https://login.example.com/oauth2/token")
	t.Setenv("UPSTREAM_CLIENT_ID", "app-client")
	t.Setenv("UPSTREAM_CLIENT_SECRET", "super-secret")
	t.Setenv("UPSTREAM_SCOPES", "reports.read,creatives.read")
	t.Setenv("UPSTREAM_PAGE_SIZE", "250")
	t.Setenv("UPSTREAM_TIMEOUT", "10s")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}

	expected := UpstreamConfig{
		BaseURL:      "https://reports.example.com",
		TokenURL:     "https://login.example.com/oauth2/token",
		ClientID:     "app-client",
		ClientSecret: "super-secret",
		Scopes:       []string{"reports.read", "creatives.read"},
		PageSize:     250,
		Timeout:      10 * time.Second,
	}

	if !reflect.DeepEqual(cfg.Upstream, expected) {
		t.Fatalf("unexpected upstream configuration:\nexpected: %#v\ngot:      %#v", expected, cfg.Upstream)
	}
}

func TestUpstreamConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		cfg         UpstreamConfig
		expectError bool
	}{
		{
			name: "client credentials",
			cfg: UpstreamConfig{
				BaseURL:      "https://reports.example.com",
				TokenURL:     "https://login.example.com/token",
				ClientID:     "id",
				ClientSecret: "secret",
			},
			expectError: false,
		},
		{
			name: "static token",
			cfg: UpstreamConfig{
				BaseURL:     "https://reports.example.com",
				StaticToken: "dev-token",
			},
			expectError: false,
		},
		{
			name:        "missing base url",
			cfg:         UpstreamConfig{StaticToken: "dev-token"},
			expectError: true,
		},
		{
			name: "incomplete client credentials",
			cfg: UpstreamConfig{
				BaseURL:  "https://reports.example.com",
				TokenURL: "https://login.example.com/token",
				ClientID: "id",
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.expectError && err == nil {
				t.Fatal("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestUpstreamConfig_Sanitize(t *testing.T) {
	cfg := UpstreamConfig{
		BaseURL:  " https://reports.example.com/ ",
		PageSize: 5000,
		Timeout:  -1,
	}

	cfg.Sanitize()

	if cfg.BaseURL != "https://reports.example.com" {
		t.Fatalf("expected trimmed base url without trailing slash, got %q", cfg.BaseURL)
	}
	if cfg.PageSize != 1000 {
		t.Fatalf("expected page size to be capped at 1000, got %d", cfg.PageSize)
	}
	if cfg.Timeout != 30*time.Second {
		t.Fatalf("expected timeout default, got %v", cfg.Timeout)
	}
}

func TestProcessorConfig_Sanitize(t *testing.T) {
	cfg := ProcessorConfig{
		StaleThreshold:       time.Second,
		HeartbeatMinInterval: 0,
		PollInterval:         0,
		PollBatchSize:        0,
		MaxPages:             -1,
		PersistBatchSize:     0,
	}

	cfg.Sanitize()

	if cfg.StaleThreshold < 10*time.Second {
		t.Fatalf("expected stale threshold floor, got %v", cfg.StaleThreshold)
	}
	if cfg.HeartbeatMinInterval < time.Second {
		t.Fatalf("expected heartbeat interval floor, got %v", cfg.HeartbeatMinInterval)
	}
	if cfg.PollInterval < time.Second {
		t.Fatalf("expected poll interval floor, got %v", cfg.PollInterval)
	}
	if cfg.PollBatchSize < 1 || cfg.MaxPages < 1 || cfg.PersistBatchSize < 1 {
		t.Fatalf("expected positive batch bounds, got %+v", cfg)
	}
}

func TestEnrichmentConfig_Sanitize(t *testing.T) {
	cfg := EnrichmentConfig{
		MetaBatchSize:   0,
		StatusBatchSize: -5,
		Concurrency:     0,
		MetaCacheTTL:    time.Second,
	}

	cfg.Sanitize()

	if cfg.MetaBatchSize < 1 || cfg.StatusBatchSize < 1 || cfg.Concurrency < 1 {
		t.Fatalf("expected positive enrichment bounds, got %+v", cfg)
	}
	if cfg.MetaCacheTTL < time.Minute {
		t.Fatalf("expected cache TTL floor, got %v", cfg.MetaCacheTTL)
	}
}

func TestRetentionConfig_Sanitize(t *testing.T) {
	cfg := RetentionConfig{
		Interval:        time.Second,
		CompletedMaxAge: time.Minute,
		FailedMaxAge:    time.Minute,
		CancelledMaxAge: time.Minute,
		BatchSize:       1000000,
	}

	cfg.Sanitize()

	if cfg.Interval < time.Minute {
		t.Fatalf("expected interval floor of 1m, got %v", cfg.Interval)
	}
	if cfg.CompletedMaxAge < time.Hour || cfg.FailedMaxAge < time.Hour || cfg.CancelledMaxAge < time.Hour {
		t.Fatalf("expected max age floors of 1h, got %+v", cfg)
	}
	if cfg.BatchSize > 10000 {
		t.Fatalf("expected batch size cap of 10000, got %d", cfg.BatchSize)
	}
}

func TestObservabilityMetricsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " ",
	}

	cfg.Sanitize()

	if cfg.Enabled {
		t.Fatalf("expected enabled to be false when address is empty")
	}

	cfg = ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " statsd:1234 ",
	}

	cfg.Sanitize()

	if !cfg.IsEnabled() {
		t.Fatalf("expected metrics to remain enabled")
	}
	if cfg.StatsdAddress != "statsd:1234" {
		t.Fatalf("expected address to be trimmed, got %q", cfg.StatsdAddress)
	}
}

func TestObservabilityNotificationsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityNotificationsConfig{
		Enabled:    true,
		Timeout:    0,
		RetryLimit: -1,
		Slack: SlackNotificationConfig{
			Enabled:    true,
			WebhookURL: " ",
			Channel:    "  ",
			Username:   "",
		},
		PagerDuty: PagerDutyNotificationConfig{
			Enabled:    true,
			RoutingKey: " ",
			Source:     "",
			Component:  "",
		},
	}

	cfg.Sanitize()

	if cfg.Timeout <= 0 {
		t.Fatalf("expected timeout to fall back to default, got %v", cfg.Timeout)
	}
	if cfg.RetryLimit < 0 {
		t.Fatalf("expected retry limit to be clamped to >= 0, got %d", cfg.RetryLimit)
	}
	if cfg.Slack.Enabled {
		t.Fatal("expected slack to be disabled without a webhook url")
	}
	if cfg.PagerDuty.Enabled {
		t.Fatal("expected pagerduty to be disabled without a routing key")
	}
	if cfg.PagerDuty.Source != "adsync" {
		t.Fatalf("expected pagerduty source default, got %q", cfg.PagerDuty.Source)
	}
	if cfg.PagerDuty.Component != "adsync" {
		t.Fatalf("expected pagerduty component default, got %q", cfg.PagerDuty.Component)
	}

	// Disabled top-level should disable child sinks.
	cfg = ObservabilityNotificationsConfig{
		Enabled: false,
		Slack: SlackNotificationConfig{
			Enabled:    true,
			WebhookURL: "https://hooks.slack.com/services/test",
		},
		PagerDuty: PagerDutyNotificationConfig{
			Enabled:    true,
			RoutingKey: "abc",
		},
	}
	cfg.Sanitize()

	if cfg.Slack.Enabled {
		t.Fatal("expected slack to be disabled when top-level notifications disabled")
	}
	if cfg.PagerDuty.Enabled {
		t.Fatal("expected pagerduty to be disabled when top-level notifications disabled")
	}
}
