package wowclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	internalhttp "github.com/fivetwenty-io/wow-client/internal/http"
	"github.com/fivetwenty-io/wow-client/pkg/auth"
	"github.com/fivetwenty-io/wow-client/pkg/command"
	"github.com/fivetwenty-io/wow-client/pkg/fetcher"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"
)

// Client bundles the fetcher, credentials and command client of one backend.
type Client struct {
	config      *Config
	fetcher     *fetcher.Fetcher
	credentials *auth.Credentials
	commands    *command.Client
	hub         *command.ResultHub
	conn        *nats.Conn
}

// New creates a client for config.BaseURL.
func New(ctx context.Context, config *Config) (*Client, error) {
	if config == nil {
		return nil, ErrConfigRequired
	}

	if config.BaseURL == "" {
		return nil, ErrBaseURLRequired
	}

	// The caller keeps its own config
	normalized := *config
	config = &normalized

	// Normalize base URL
	baseURL := strings.TrimSuffix(config.BaseURL, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "https://" + baseURL
	}

	config.BaseURL = baseURL
	logger := fetcher.LoggerOrNop(config.Logger)

	transport := newTransport(config, logger)
	fetcherOpts := []fetcher.Option{
		fetcher.WithBaseURL(baseURL),
		fetcher.WithDoer(transport),
		fetcher.WithLogger(logger),
		fetcher.WithHeaders(toHeader(config.Headers)),
	}

	if config.Name != "" {
		fetcherOpts = append(fetcherOpts, fetcher.WithName(config.Name))
	}

	if config.Timeout != 0 {
		fetcherOpts = append(fetcherOpts, fetcher.WithTimeout(config.Timeout))
	}

	f := fetcher.New(fetcherOpts...)

	c := &Client{config: config, fetcher: f}

	if err := c.setupCredentials(ctx, transport.StandardClient(), logger); err != nil {
		return nil, err
	}

	if err := c.setupInterceptors(); err != nil {
		return nil, err
	}

	source, err := c.resultSource(logger)
	if err != nil {
		return nil, err
	}

	c.hub = command.NewResultHub(source, command.WithHubLogger(logger))

	opts := []command.ClientOption{command.WithResultHub(c.hub), command.WithLogger(logger)}
	if config.WaitTimeout > 0 {
		opts = append(opts, command.WithWaitTimeout(config.WaitTimeout))
	}

	c.commands = command.NewClient(f, opts...)

	return c, nil
}

// NewWithToken creates a client with a base URL and access token.
func NewWithToken(ctx context.Context, baseURL, token string) (*Client, error) {
	return New(ctx, &Config{
		BaseURL:     baseURL,
		AccessToken: token,
	})
}

func newTransport(config *Config, logger fetcher.Logger) *internalhttp.Client {
	opts := []internalhttp.Option{
		internalhttp.WithLogger(logger),
		internalhttp.WithDebug(config.Debug),
	}

	if config.UserAgent != "" {
		opts = append(opts, internalhttp.WithUserAgent(config.UserAgent))
	}

	if config.RetryMax > 0 {
		opts = append(opts, internalhttp.WithRetryConfig(config.RetryMax, config.RetryWaitMin, config.RetryWaitMax))
	}

	return internalhttp.NewClient(opts...)
}

func (c *Client) setupCredentials(ctx context.Context, httpClient *http.Client, logger fetcher.Logger) error {
	store := c.config.CredentialStore
	if store == nil {
		store = auth.NewMemoryStore()
	}

	var refresher auth.Refresher

	switch {
	case c.config.OAuth2 != nil && c.config.OAuth2.TokenURL != "":
		refresher = auth.NewOAuth2Refresher(*c.config.OAuth2, httpClient)
	case c.config.RefreshURL != "":
		refreshURL, err := fetcher.ResolveURL(c.config.BaseURL, &fetcher.Request{URL: c.config.RefreshURL})
		if err != nil {
			return fmt.Errorf("invalid refresh URL: %w", err)
		}

		refresher = auth.NewHTTPRefresher(refreshURL, httpClient)
	}

	c.credentials = auth.NewCredentials(store, refresher, auth.WithLogger(logger))

	if c.config.AccessToken == "" && c.config.RefreshToken == "" {
		return nil
	}

	pair := &auth.CredentialPair{AccessToken: c.config.AccessToken, RefreshToken: c.config.RefreshToken}
	if err := c.credentials.Set(pair); err != nil {
		return fmt.Errorf("storing credentials: %w", err)
	}

	if pair.AccessToken == "" {
		if _, err := c.credentials.Refresh(ctx, pair); err != nil {
			return fmt.Errorf("obtaining access token: %w", err)
		}
	}

	return nil
}

func (c *Client) setupInterceptors() error {
	interceptors := c.fetcher.Interceptors()

	if err := auth.Register(interceptors, c.credentials); err != nil {
		return fmt.Errorf("registering auth interceptors: %w", err)
	}

	if c.config.RateLimit > 0 {
		burst := c.config.RateBurst
		if burst <= 0 {
			burst = 1
		}

		limiter := rate.NewLimiter(rate.Limit(c.config.RateLimit), burst)
		if _, err := interceptors.Request.Use(fetcher.RateLimitInterceptor(limiter)); err != nil {
			return fmt.Errorf("registering rate limit: %w", err)
		}
	}

	if c.config.TracerProvider == nil && c.config.MeterProvider == nil {
		return nil
	}

	tp, mp := c.config.TracerProvider, c.config.MeterProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	telemetry, err := fetcher.NewTelemetry(tp, mp)
	if err != nil {
		return fmt.Errorf("creating telemetry: %w", err)
	}

	if err := telemetry.Register(interceptors); err != nil {
		return fmt.Errorf("registering telemetry: %w", err)
	}

	return nil
}

func (c *Client) resultSource(logger fetcher.Logger) (command.SignalSource, error) {
	if c.config.NATSURL == "" {
		return command.NewEventStreamSource(c.fetcher, c.config.ResultStreamPath), nil
	}

	name := c.config.Name
	if name == "" {
		name = "wow-client"
	}

	conn, err := nats.Connect(c.config.NATSURL, nats.Name(name))
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	c.conn = conn

	return command.NewNATSSource(conn, c.config.ResultSubject, logger), nil
}

func toHeader(headers map[string]string) http.Header {
	out := make(http.Header, len(headers))
	for key, value := range headers {
		out.Set(key, value)
	}

	return out
}

// Fetcher returns the exchange pipeline.
func (c *Client) Fetcher() *fetcher.Fetcher {
	return c.fetcher
}

// Credentials returns the credential holder.
func (c *Client) Credentials() *auth.Credentials {
	return c.credentials
}

// Commands returns the command client.
func (c *Client) Commands() *command.Client {
	return c.commands
}

// Config returns the normalized configuration.
func (c *Client) Config() *Config {
	return c.config
}

// Fetch runs req through the pipeline.
func (c *Client) Fetch(ctx context.Context, req *fetcher.Request, opts ...fetcher.FetchOption) (any, error) {
	return c.fetcher.Fetch(ctx, req, opts...)
}

// Send dispatches cmd and returns its acceptance.
func (c *Client) Send(ctx context.Context, cmd *command.Command) (*command.Result, error) {
	return c.commands.Send(ctx, cmd)
}

// SendAndWait dispatches cmd and waits until it reaches stage.
func (c *Client) SendAndWait(ctx context.Context, cmd *command.Command, stage command.Stage) (*command.Result, error) {
	return c.commands.SendAndWait(ctx, cmd, stage)
}

// Close tears down the result stream and the NATS connection, if any.
func (c *Client) Close() {
	c.hub.Close()

	if c.conn != nil {
		c.conn.Close()
	}
}
