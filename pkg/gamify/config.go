package gamify

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/masa-finance/gamify-sdk-go/pkg/logger"
)

// Default configuration values
const (
	DefaultBaseURL    = "https://api.gamify.example.com/v1"
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultUserAgent  = "gamify-sdk-go/1.0"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvAPIKey            = "GAMIFY_API_KEY"
	EnvBaseURL           = "GAMIFY_BASE_URL"
	EnvTimeout           = "GAMIFY_TIMEOUT"
	EnvAutoRetry         = "GAMIFY_AUTO_RETRY"
	EnvMaxRetries        = "GAMIFY_MAX_RETRIES"
	EnvRetryDelay        = "GAMIFY_RETRY_DELAY"
	EnvRequestsPerSecond = "GAMIFY_REQUESTS_PER_SECOND"
	EnvLogLevel          = "LOG_LEVEL"
)

// RateLimitWarningFunc receives the rate limit snapshot of a response once
// more than 80% of the window is used. It runs synchronously on the calling
// goroutine before the call returns, so it must not block.
type RateLimitWarningFunc func(RateLimitInfo)

// Config holds the settings consumed by the executor.
type Config struct {
	BaseURL string
	APIKey  string

	// Timeout applies to each attempt separately; there is no deadline across retries.
	Timeout time.Duration

	OnRateLimitWarning RateLimitWarningFunc

	// AutoRetry retries 429 responses after the server's Retry-After delay.
	AutoRetry bool
	// MaxRetries bounds the retries after the first attempt. Zero means DefaultMaxRetries;
	// disable retrying with AutoRetry instead.
	MaxRetries int
	// RetryDelay replaces the wait only when a 429 carries no Retry-After header.
	RetryDelay time.Duration

	// RequestsPerSecond paces outgoing attempts client-side when positive.
	RequestsPerSecond float64

	UserAgent string
}

// DefaultConfig returns a Config populated with defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:    DefaultBaseURL,
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
		UserAgent:  DefaultUserAgent,
	}
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	return c
}

// ConfigFromEnv builds a Config from the process environment after loading
// the given .env files (".env" when none are given). Missing files are not an
// error; malformed values are.
func ConfigFromEnv(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	if err := godotenv.Load(envFiles...); err != nil {
		logger.Debugf("No env file loaded (%v), using process environment", err)
	}

	if level, ok := os.LookupEnv(EnvLogLevel); ok {
		logger.SetLevel(level)
	}

	cfg := DefaultConfig()
	cfg.APIKey = os.Getenv(EnvAPIKey)

	if v, ok := lookupEnv(EnvBaseURL); ok {
		cfg.BaseURL = v
		logger.Debugf("Using %s from environment: %s", EnvBaseURL, v)
	}

	var err error
	if v, ok := lookupEnv(EnvTimeout); ok {
		if cfg.Timeout, err = parseDurationValue(v); err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", EnvTimeout, err)
		}
	}
	if v, ok := lookupEnv(EnvAutoRetry); ok {
		if cfg.AutoRetry, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", EnvAutoRetry, err)
		}
	}
	if v, ok := lookupEnv(EnvMaxRetries); ok {
		if cfg.MaxRetries, err = strconv.Atoi(v); err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", EnvMaxRetries, err)
		}
	}
	if v, ok := lookupEnv(EnvRetryDelay); ok {
		if cfg.RetryDelay, err = parseDurationValue(v); err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", EnvRetryDelay, err)
		}
	}
	if v, ok := lookupEnv(EnvRequestsPerSecond); ok {
		if cfg.RequestsPerSecond, err = strconv.ParseFloat(v, 64); err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", EnvRequestsPerSecond, err)
		}
	}

	return cfg, nil
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// parseDurationValue accepts Go durations ("30s") or a bare number of milliseconds.
func parseDurationValue(v string) (time.Duration, error) {
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}
