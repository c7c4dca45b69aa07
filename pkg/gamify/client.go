package gamify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/masa-finance/gamify-sdk-go/pkg/logger"
)

// ErrMissingAPIKey is returned by NewClient when no API key is configured.
var ErrMissingAPIKey = errors.New("gamify: missing API key")

// Client is the entry point of the SDK. It is safe for concurrent use.
type Client struct {
	executor *Executor

	Events         *EventsService
	Users          *UsersService
	Leaderboards   *LeaderboardsService
	Badges         *BadgesService
	Questionnaires *QuestionnairesService
}

type clientOptions struct {
	cfg        Config
	transport  Transport
	httpClient *http.Client
	observer   Observer
}

// ClientOption customises a Client.
type ClientOption func(*clientOptions)

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(o *clientOptions) {
		o.cfg.BaseURL = baseURL
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.cfg.Timeout = timeout
	}
}

// WithHTTPClient sends requests through httpClient.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(o *clientOptions) {
		o.httpClient = httpClient
	}
}

// WithTransport replaces the HTTP transport entirely. Takes precedence over WithHTTPClient.
func WithTransport(t Transport) ClientOption {
	return func(o *clientOptions) {
		o.transport = t
	}
}

// WithRateLimit paces outgoing requests to rps per second.
func WithRateLimit(rps float64) ClientOption {
	return func(o *clientOptions) {
		o.cfg.RequestsPerSecond = rps
	}
}

// WithAutoRetry enables retrying rate-limited calls up to maxRetries times.
func WithAutoRetry(maxRetries int) ClientOption {
	return func(o *clientOptions) {
		o.cfg.AutoRetry = true
		o.cfg.MaxRetries = maxRetries
	}
}

// WithRateLimitWarning installs the near-exhaustion hook.
func WithRateLimitWarning(fn RateLimitWarningFunc) ClientOption {
	return func(o *clientOptions) {
		o.cfg.OnRateLimitWarning = fn
	}
}

// WithObserver reports attempts and retries to obs.
func WithObserver(obs Observer) ClientOption {
	return func(o *clientOptions) {
		o.observer = obs
	}
}

// NewClient creates a client from cfg and opts.
//
// Example:
//
//	client, err := gamify.NewClient(gamify.Config{APIKey: key}, gamify.WithAutoRetry(3))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := client.Users.Get(ctx, "u1")
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	o := &clientOptions{cfg: cfg}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	transport := o.transport
	if transport == nil {
		transport = NewHTTPTransport(o.httpClient)
	}

	ex := NewExecutor(o.cfg, transport)
	ex.observer = o.observer

	c := &Client{executor: ex}
	c.Events = &EventsService{client: c}
	c.Users = &UsersService{client: c}
	c.Leaderboards = &LeaderboardsService{client: c}
	c.Badges = &BadgesService{client: c}
	c.Questionnaires = &QuestionnairesService{client: c}

	logger.Debugf("Gamify client created for %s (auto retry: %v, max retries: %d)",
		ex.cfg.BaseURL, ex.cfg.AutoRetry, ex.cfg.MaxRetries)
	return c, nil
}

// NewClientFromEnv creates a client from ConfigFromEnv.
func NewClientFromEnv(opts ...ClientOption) (*Client, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return NewClient(cfg, opts...)
}

// Executor exposes the underlying executor for endpoints the services do not cover.
func (c *Client) Executor() *Executor {
	return c.executor
}

// Do executes an arbitrary request and returns the raw result data.
func (c *Client) Do(ctx context.Context, req Request) (*Result[json.RawMessage], error) {
	return c.executor.Do(ctx, req)
}
