package wowclient

import (
	"errors"
	"time"

	"github.com/fivetwenty-io/wow-client/pkg/auth"
	"github.com/fivetwenty-io/wow-client/pkg/fetcher"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Static errors for err113 compliance.
var (
	ErrConfigRequired  = errors.New("config is required")
	ErrBaseURLRequired = errors.New("base URL is required")
)

// Config represents client configuration for building a Client.
//
// # Authentication
//
// AccessToken and RefreshToken seed the credential store. When only a
// RefreshToken is given, New exchanges it for an access token before
// returning. Expired or rejected access tokens are renewed with:
//  1. OAuth2: the refresh_token grant against OAuth2.TokenURL.
//  2. RefreshURL: a POST of the current pair, answered with a new pair.
//
// Without either, a 401 is returned to the caller as is.
//
// # Command results
//
// Results are read from the server-sent event stream at ResultStreamPath
// unless NATSURL is set, in which case they are read from ResultSubject.
type Config struct {
	// BaseURL of the backend. New trims a trailing slash and adds
	// "https://" if no scheme is present.
	BaseURL string `yaml:"base_url"`
	// Name identifies the client in logs and traces.
	Name string `yaml:"name,omitempty"`
	// Headers are added to every request that lacks them.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Timeout is the default transport deadline. Zero uses 30s.
	Timeout time.Duration `yaml:"timeout,omitempty"`
	// RetryMax enables transport retries of connection errors, 429 and 5xx
	// responses. Zero disables retries.
	RetryMax     int           `yaml:"retry_max,omitempty"`
	RetryWaitMin time.Duration `yaml:"retry_wait_min,omitempty"`
	RetryWaitMax time.Duration `yaml:"retry_wait_max,omitempty"`
	// RateLimit caps requests per second when positive; RateBurst defaults to 1.
	RateLimit float64 `yaml:"rate_limit,omitempty"`
	RateBurst int     `yaml:"rate_burst,omitempty"`
	// UserAgent overrides the default User-Agent header.
	UserAgent string `yaml:"user_agent,omitempty"`
	// Debug enables request and response logging when a Logger is provided.
	Debug bool `yaml:"debug,omitempty"`
	// Logger receives structured logs. Nil disables logging.
	Logger fetcher.Logger `yaml:"-"`

	AccessToken  string             `yaml:"access_token,omitempty"`
	RefreshToken string             `yaml:"refresh_token,omitempty"`
	RefreshURL   string             `yaml:"refresh_url,omitempty"`
	OAuth2       *auth.OAuth2Config `yaml:"oauth2,omitempty"`
	// CredentialStore persists credentials. Nil keeps them in memory.
	CredentialStore auth.Store `yaml:"-"`

	ResultStreamPath string        `yaml:"result_stream_path,omitempty"`
	NATSURL          string        `yaml:"nats_url,omitempty"`
	ResultSubject    string        `yaml:"result_subject,omitempty"`
	WaitTimeout      time.Duration `yaml:"wait_timeout,omitempty"`

	// TracerProvider and MeterProvider enable exchange telemetry. A nil
	// provider falls back to the global one when the other is set.
	TracerProvider trace.TracerProvider `yaml:"-"`
	MeterProvider  metric.MeterProvider `yaml:"-"`
}
