package config

import (
	"errors"
	"strings"
	"time"
)

// UpstreamConfig contains upstream reporting API configuration.
//
// Authentication is OAuth2 client credentials (TokenURL + ClientID +
// ClientSecret). For development, StaticToken short-circuits the token
// exchange with a fixed bearer token.
type UpstreamConfig struct {
	// BaseURL is the upstream reporting API base URL.
	BaseURL string `env:"UPSTREAM_BASE_URL" envDefault:"http://localhost:8980"`

	// TokenURL is the OAuth2 token endpoint.
	TokenURL string `env:"UPSTREAM_TOKEN_URL"`

	// ClientID is the OAuth2 client id.
	ClientID string `env:"UPSTREAM_CLIENT_ID"`

	// ClientSecret is the OAuth2 client secret.
	ClientSecret string `env:"UPSTREAM_CLIENT_SECRET"`

	// Scopes are the OAuth2 scopes requested with the client credentials grant.
	Scopes []string `env:"UPSTREAM_SCOPES" envDefault:""`

	// StaticToken bypasses the OAuth2 exchange with a fixed bearer token.
	// Development only.
	StaticToken string `env:"UPSTREAM_STATIC_TOKEN"`

	// PageSize is the requested report result page size.
	PageSize int `env:"UPSTREAM_PAGE_SIZE" envDefault:"500"`

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"30s"`
}

// Sanitize applies guardrails to upstream configuration values.
func (u *UpstreamConfig) Sanitize() {
	u.BaseURL = strings.TrimRight(strings.TrimSpace(u.BaseURL), "/")
	u.TokenURL = strings.TrimSpace(u.TokenURL)
	u.StaticToken = strings.TrimSpace(u.StaticToken)

	if u.PageSize < 1 {
		u.PageSize = 1
	}
	if u.PageSize > 1000 {
		u.PageSize = 1000
	}
	if u.Timeout <= 0 {
		u.Timeout = 30 * time.Second
	}
}

// Validate checks that the upstream configuration is usable: a base URL plus
// either a static token or a complete client-credentials triple.
func (u *UpstreamConfig) Validate() error {
	if u.BaseURL == "" {
		return errors.New("upstream base URL is required")
	}
	if u.StaticToken != "" {
		return nil
	}
	if u.TokenURL == "" || u.ClientID == "" || u.ClientSecret == "" {
		return errors.New("upstream auth requires either a static token or token URL, client id, and client secret")
	}
	return nil
}
