package gamify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/masa-finance/gamify-sdk-go/pkg/logger"
	"golang.org/x/time/rate"
)

// Observer is notified of every attempt and retry. Implementations must be
// safe for concurrent use and must not block.
type Observer interface {
	// ObserveAttempt is called once per dispatch. status is 0 and kind is
	// KindGeneric when no response was received; kind is "" on success.
	ObserveAttempt(method, path string, status int, kind Kind, d time.Duration)
	// ObserveRetry is called before waiting to retry a rate-limited call.
	ObserveRetry(method, path string, attempt int, wait time.Duration)
}

// Executor turns Requests into wire calls, interprets responses and retries
// rate-limited calls. It holds no per-call state and is safe for concurrent use.
type Executor struct {
	cfg       Config
	transport Transport
	headers   map[string]string
	limiter   *rate.Limiter
	observer  Observer
}

// NewExecutor creates an executor. A nil transport uses NewHTTPTransport(nil).
func NewExecutor(cfg Config, transport Transport) *Executor {
	cfg = cfg.withDefaults()
	if transport == nil {
		transport = NewHTTPTransport(nil)
	}

	ex := &Executor{
		cfg:       cfg,
		transport: transport,
		headers: map[string]string{
			"Accept":     "application/json",
			"User-Agent": cfg.UserAgent,
		},
	}
	if cfg.APIKey != "" {
		ex.headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	if cfg.RequestsPerSecond > 0 {
		ex.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return ex
}

// Config returns the effective configuration.
func (ex *Executor) Config() Config {
	return ex.cfg
}

// Do executes req and returns the raw result data.
func (ex *Executor) Do(ctx context.Context, req Request) (*Result[json.RawMessage], error) {
	treq, err := buildTransportRequest(ex.cfg.BaseURL, ex.headers, req)
	if err != nil {
		return nil, err
	}

	timeout := ex.cfg.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}

	for attempt := 0; ; attempt++ {
		logger.Debugf("%s %s: sending request (attempt %d)", treq.Method, req.Path, attempt+1)

		start := time.Now()
		resp, err := ex.dispatch(ctx, treq, timeout)
		elapsed := time.Since(start)

		if err != nil {
			failure := transportFailure(err)
			ex.observeAttempt(treq.Method, req.Path, failure.StatusCode, failure.Kind, elapsed)
			logger.Debugf("%s %s: transport error: %v", treq.Method, req.Path, err)
			return nil, failure
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			result, err := ex.interpret(resp)
			kind := Kind("")
			var apiErr *Error
			if errors.As(err, &apiErr) {
				kind = apiErr.Kind
			}
			ex.observeAttempt(treq.Method, req.Path, resp.StatusCode, kind, elapsed)
			return result, err
		}

		failure := Classify(resp.StatusCode, resp.Body, ExtractRequestID(resp.Header, resp.Body), resp.Header)
		ex.observeAttempt(treq.Method, req.Path, resp.StatusCode, failure.Kind, elapsed)

		if !ex.shouldRetry(failure, attempt) {
			logger.Debugf("%s %s: %v", treq.Method, req.Path, failure)
			return nil, failure
		}

		wait := ex.retryWait(failure, resp.Header)
		logger.Warnf("%s %s: rate limited, retrying in %v (retry %d/%d)",
			treq.Method, req.Path, wait, attempt+1, ex.cfg.MaxRetries)
		if ex.observer != nil {
			ex.observer.ObserveRetry(treq.Method, req.Path, attempt+1, wait)
		}

		if err := sleepContext(ctx, wait); err != nil {
			logger.Debugf("%s %s: retry abandoned: %v", treq.Method, req.Path, err)
			return nil, failure
		}
	}
}

// Execute runs req on ex and decodes the result data into T.
func Execute[T any](ctx context.Context, ex *Executor, req Request) (*Result[T], error) {
	raw, err := ex.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &Result[T]{
		RequestID:  raw.RequestID,
		RateLimit:  raw.RateLimit,
		Pagination: raw.Pagination,
	}
	if len(raw.Data) == 0 || string(raw.Data) == "null" {
		return result, nil
	}
	if err := json.Unmarshal(raw.Data, &result.Data); err != nil {
		return nil, &Error{
			Kind:       KindGeneric,
			Message:    fmt.Sprintf("invalid JSON in API response: %v", err),
			Code:       CodeInvalidResponse,
			RequestID:  raw.RequestID,
			StatusCode: http.StatusOK,
			Err:        err,
		}
	}
	return result, nil
}

// dispatch runs a single attempt under its own timeout.
func (ex *Executor) dispatch(ctx context.Context, treq *TransportRequest, timeout time.Duration) (*TransportResponse, error) {
	if ex.limiter != nil {
		if err := ex.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return ex.transport.Do(attemptCtx, treq)
}

// interpret turns a 2xx response into a result, or into an error when the
// envelope reports a logical failure.
func (ex *Executor) interpret(resp *TransportResponse) (*Result[json.RawMessage], error) {
	rl := ExtractRateLimit(resp.Header)
	if rl.NearlyExhausted() && ex.cfg.OnRateLimitWarning != nil {
		ex.cfg.OnRateLimitWarning(rl)
	}

	env := ParseEnvelope(resp.Body)

	requestID := ExtractRequestID(resp.Header, resp.Body)
	if requestID == "" {
		requestID = env.RequestID
	}

	if env.Failed() {
		return nil, Classify(http.StatusBadRequest, resp.Body, requestID, resp.Header)
	}

	return &Result[json.RawMessage]{
		Data:       env.Data,
		RequestID:  requestID,
		RateLimit:  rl,
		Pagination: env.Pagination,
	}, nil
}

func (ex *Executor) shouldRetry(failure *Error, attempt int) bool {
	return failure.Kind == KindRateLimit && ex.cfg.AutoRetry && attempt < ex.cfg.MaxRetries
}

func (ex *Executor) retryWait(failure *Error, h http.Header) time.Duration {
	if _, ok := headerValue(h, HeaderRetryAfter); !ok && ex.cfg.RetryDelay > 0 {
		return ex.cfg.RetryDelay
	}
	return failure.RetryAfter()
}

func (ex *Executor) observeAttempt(method, path string, status int, kind Kind, d time.Duration) {
	if ex.observer != nil {
		ex.observer.ObserveAttempt(method, path, status, kind, d)
	}
}

// transportFailure converts an error with no HTTP response into an *Error.
// Errors that are already typed pass through unchanged.
func transportFailure(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	msg := err.Error()
	if isTimeout(err) {
		return &Error{
			Kind:       KindGeneric,
			Message:    msg,
			Code:       CodeTimeout,
			StatusCode: http.StatusRequestTimeout,
			Err:        err,
		}
	}
	if msg == "" {
		msg = "Network error"
	}
	return &Error{
		Kind:       KindGeneric,
		Message:    msg,
		Code:       CodeNetwork,
		StatusCode: 0,
		Err:        err,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
