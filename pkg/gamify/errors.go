// Package gamify provides a client for the Gamify API: event tracking, user
// profiles, leaderboards, badges and questionnaires.
package gamify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

// Kind identifies the class of a failed API call.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindForbidden      Kind = "forbidden"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindRateLimit      Kind = "rate_limit"
	KindServer         Kind = "server"
	KindGeneric        Kind = "generic"
)

// Error codes produced by the client itself rather than the API.
const (
	CodeUnknown         = "UNKNOWN_ERROR"
	CodeTimeout         = "TIMEOUT"
	CodeNetwork         = "NETWORK_ERROR"
	CodeInvalidInput    = "INVALID_INPUT"
	CodeInvalidResponse = "INVALID_RESPONSE"
)

const (
	defaultErrorMessage = "An error occurred"

	// DefaultRetryAfterSeconds is used when a 429 carries no usable Retry-After header.
	DefaultRetryAfterSeconds = 60

	// MaxRetryAfterSeconds is the largest delay that still fits a time.Duration.
	MaxRetryAfterSeconds = int64(math.MaxInt64 / int64(time.Second))
)

// Sentinels for errors.Is checks against an *Error's kind.
var (
	ErrValidation     = errors.New("gamify: validation failed")
	ErrAuthentication = errors.New("gamify: authentication failed")
	ErrForbidden      = errors.New("gamify: forbidden")
	ErrNotFound       = errors.New("gamify: not found")
	ErrConflict       = errors.New("gamify: conflict")
	ErrRateLimit      = errors.New("gamify: rate limit exceeded")
	ErrServer         = errors.New("gamify: server error")
	ErrGeneric        = errors.New("gamify: request failed")
)

var kindSentinels = map[Kind]error{
	KindValidation:     ErrValidation,
	KindAuthentication: ErrAuthentication,
	KindForbidden:      ErrForbidden,
	KindNotFound:       ErrNotFound,
	KindConflict:       ErrConflict,
	KindRateLimit:      ErrRateLimit,
	KindServer:         ErrServer,
	KindGeneric:        ErrGeneric,
}

// FieldError is a single field-level validation problem reported by the API.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the typed failure returned by every API call.
type Error struct {
	Kind       Kind
	Message    string
	Code       string
	RequestID  string
	StatusCode int

	// Details is only populated for KindValidation.
	Details []FieldError

	// RetryAfterSeconds is only populated for KindRateLimit.
	RetryAfterSeconds int

	// Err is the underlying transport error, if any.
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("gamify %s error (status %d, code %s): %s", e.Kind, e.StatusCode, e.Code, e.Message)
	if e.RequestID != "" {
		msg += " [request " + e.RequestID + "]"
	}
	if e.Kind == KindRateLimit {
		msg += fmt.Sprintf(", retry after %ds", e.RetryAfterSeconds)
	}
	return msg
}

// Unwrap returns the underlying transport error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// RetryAfter returns RetryAfterSeconds as a duration, saturating at the
// largest representable duration. Negative values count as zero.
func (e *Error) RetryAfter() time.Duration {
	switch {
	case e.RetryAfterSeconds <= 0:
		return 0
	case int64(e.RetryAfterSeconds) > MaxRetryAfterSeconds:
		return time.Duration(math.MaxInt64)
	default:
		return time.Duration(e.RetryAfterSeconds) * time.Second
	}
}

// errorPayload is the object form of the "error" field and of flat error bodies.
type errorPayload struct {
	Message *string         `json:"message"`
	Code    *string         `json:"code"`
	Details json.RawMessage `json:"details"`
}

// Classify maps a failed response to exactly one typed *Error. body may be
// empty, a flat error object, or an envelope whose "error" field is a string
// or an object. Malformed input degrades to defaults.
func Classify(status int, body []byte, requestID string, headers http.Header) *Error {
	message, code, details := resolveErrorBody(body)

	e := &Error{
		Kind:       kindForStatus(status),
		Message:    message,
		Code:       code,
		RequestID:  requestID,
		StatusCode: status,
	}

	switch e.Kind {
	case KindValidation:
		e.Details = details
	case KindRateLimit:
		e.RetryAfterSeconds = retryAfterSeconds(headers)
	}
	return e
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusBadRequest:
		return KindValidation
	case status == http.StatusUnauthorized:
		return KindAuthentication
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict:
		return KindConflict
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status >= http.StatusInternalServerError:
		return KindServer
	default:
		return KindGeneric
	}
}

func resolveErrorBody(body []byte) (message, code string, details []FieldError) {
	message, code = defaultErrorMessage, CodeUnknown

	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil || top == nil {
		return message, code, nil
	}

	var flat errorPayload
	_ = json.Unmarshal(body, &flat)

	var nested errorPayload
	var nestedMessage *string
	if raw, ok := top["error"]; ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			nestedMessage = &s
		} else {
			_ = json.Unmarshal(raw, &nested)
		}
	}

	message = firstNonEmpty(defaultErrorMessage, nested.Message, nestedMessage, flat.Message)
	code = firstNonEmpty(CodeUnknown, nested.Code, flat.Code)

	if d := decodeDetails(nested.Details); d != nil {
		details = d
	} else {
		details = decodeDetails(flat.Details)
	}
	return message, code, details
}

// firstNonEmpty returns the first candidate that is set and non-empty.
func firstNonEmpty(fallback string, candidates ...*string) string {
	for _, c := range candidates {
		if c != nil && *c != "" {
			return *c
		}
	}
	return fallback
}

func decodeDetails(raw json.RawMessage) []FieldError {
	if len(raw) == 0 {
		return nil
	}
	var details []FieldError
	if err := json.Unmarshal(raw, &details); err != nil {
		return nil
	}
	return details
}

func retryAfterSeconds(headers http.Header) int {
	v, ok := headerValue(headers, "Retry-After")
	if !ok {
		return DefaultRetryAfterSeconds
	}
	n, ok := parseLeadingInt(v)
	if !ok || n < 0 {
		return DefaultRetryAfterSeconds
	}
	if limit := MaxRetryAfterSeconds; int64(n) > limit {
		return int(limit)
	}
	return n
}

// Error handling utilities
// ----------------------

// IsRetryable returns true if the error is a rate-limit failure, the only kind
// the API expects clients to retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimit)
}

// GetRetryDelay returns the recommended retry delay for the error
func GetRetryDelay(err error) time.Duration {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Kind == KindRateLimit {
		return apiErr.RetryAfter()
	}
	return DefaultRetryAfterSeconds * time.Second
}

// newInputError builds the error returned by client-side input guards.
func newInputError(message string, details ...FieldError) *Error {
	return &Error{
		Kind:       KindValidation,
		Message:    message,
		Code:       CodeInvalidInput,
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}
