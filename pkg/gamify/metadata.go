package gamify

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// Rate limit header names and their defaults.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRequestID          = "X-Request-Id"
	HeaderRetryAfter         = "Retry-After"
	HeaderIdempotencyKey     = "X-Idempotency-Key"

	DefaultRateLimit          = 1000
	DefaultRateLimitRemaining = 1000
	DefaultRateLimitReset     = 0

	// RateLimitUnknown marks a rate limit header that was present but not numeric.
	RateLimitUnknown = -1

	// rateLimitWarningRatio is the remaining share below which the warning hook fires.
	rateLimitWarningRatio = 0.2
)

// RateLimitInfo is the rate limit snapshot carried by a single response.
type RateLimitInfo struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset"`
}

// Known reports whether both counters parsed as numbers.
func (r RateLimitInfo) Known() bool {
	return r.Limit != RateLimitUnknown && r.Remaining != RateLimitUnknown
}

// NearlyExhausted reports whether more than 80% of the window has been consumed.
// Exactly 80% does not count, and unknown counters never do.
func (r RateLimitInfo) NearlyExhausted() bool {
	if !r.Known() {
		return false
	}
	return float64(r.Remaining) < float64(r.Limit)*rateLimitWarningRatio
}

// ExtractRateLimit reads the X-RateLimit-* headers. Missing limit and remaining
// default to 1000, a missing reset to 0. Non-numeric values are not clamped
// and come back as RateLimitUnknown.
func ExtractRateLimit(h http.Header) RateLimitInfo {
	return RateLimitInfo{
		Limit:     headerInt(h, HeaderRateLimitLimit, DefaultRateLimit),
		Remaining: headerInt(h, HeaderRateLimitRemaining, DefaultRateLimitRemaining),
		Reset:     int64(headerInt(h, HeaderRateLimitReset, DefaultRateLimitReset)),
	}
}

// ExtractRequestID returns the X-Request-Id header, falling back to the body's
// "request_id" then "requestId" fields. Headers always win. Returns "" when
// neither carries an ID.
func ExtractRequestID(h http.Header, body []byte) string {
	if v, ok := headerValue(h, HeaderRequestID); ok {
		return v
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return ""
	}
	for _, key := range []string{"request_id", "requestId"} {
		if id, ok := stringField(fields, key); ok {
			return id
		}
	}
	return ""
}

func headerInt(h http.Header, name string, fallback int) int {
	v, ok := headerValue(h, name)
	if !ok {
		return fallback
	}
	n, ok := parseLeadingInt(v)
	if !ok {
		return RateLimitUnknown
	}
	return n
}

// headerValue looks a header up by its exact name, then its lowercase form,
// then case-insensitively. Hand-built header maps are not always canonical.
func headerValue(h http.Header, name string) (string, bool) {
	if h == nil {
		return "", false
	}
	for _, key := range []string{name, strings.ToLower(name), http.CanonicalHeaderKey(name)} {
		if vs, ok := h[key]; ok && len(vs) > 0 {
			return vs[0], true
		}
	}
	for key, vs := range h {
		if strings.EqualFold(key, name) && len(vs) > 0 {
			return vs[0], true
		}
	}
	return "", false
}

// parseLeadingInt parses an optional sign followed by decimal digits at the
// start of s, ignoring surrounding whitespace and any trailing text
// ("30s" parses as 30). ok is false when no digits are found.
func parseLeadingInt(s string) (n int, ok bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	v, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return v, true
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}
