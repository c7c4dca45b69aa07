package gamify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"sort"
	"strings"
	"time"
)

// Request describes one logical API call. It is treated as a template and is
// not modified by the executor, so retries resend exactly the same call.
type Request struct {
	Method string
	Path   string

	// Query entries with a nil value are dropped. Zero values such as 0,
	// false and "" are sent.
	Query map[string]any

	// Body is JSON-encoded when non-nil.
	Body any

	Headers        map[string]string
	IdempotencyKey string

	// Timeout overrides the client timeout for each attempt of this call.
	Timeout time.Duration
}

// Result is the normalized outcome of a successful call.
type Result[T any] struct {
	Data       T
	RequestID  string
	RateLimit  RateLimitInfo
	Pagination *Pagination
}

// TransportRequest is the wire-level request handed to a Transport.
type TransportRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// TransportResponse is whatever came back over the wire, for any status code.
type TransportResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// buildTransportRequest assembles the wire request for req against baseURL.
func buildTransportRequest(baseURL string, defaults map[string]string, req Request) (*TransportRequest, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	u := fmt.Sprintf("%s/%s", strings.TrimRight(baseURL, "/"), strings.TrimLeft(req.Path, "/"))
	if q := encodeQuery(req.Query); q != "" {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + q
	}

	header := make(http.Header, len(defaults)+len(req.Headers)+1)
	for k, v := range defaults {
		header.Set(k, v)
	}
	for k, v := range req.Headers {
		header.Set(k, v)
	}
	if req.IdempotencyKey != "" {
		header.Set(HeaderIdempotencyKey, req.IdempotencyKey)
	}

	var body []byte
	if !isNil(req.Body) {
		var err error
		if body, err = json.Marshal(req.Body); err != nil {
			return nil, newInputError(fmt.Sprintf("error marshaling request body: %v", err))
		}
		if header.Get("Content-Type") == "" {
			header.Set("Content-Type", "application/json")
		}
	}

	return &TransportRequest{Method: method, URL: u, Header: header, Body: body}, nil
}

// encodeQuery drops nil-valued entries and encodes the rest with sorted keys.
func encodeQuery(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if isNil(v) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := url.Values{}
	for _, k := range keys {
		switch v := deref(params[k]).(type) {
		case []string:
			for _, s := range v {
				values.Add(k, s)
			}
		case time.Time:
			values.Add(k, v.Format(time.RFC3339))
		case fmt.Stringer:
			values.Add(k, v.String())
		default:
			values.Add(k, fmt.Sprint(v))
		}
	}
	return values.Encode()
}

// isNil reports whether v is an untyped nil or a nil pointer, map, slice or interface.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// deref unwraps a non-nil pointer so *int and int encode the same way.
func deref(v any) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr && !rv.IsNil() {
		return rv.Elem().Interface()
	}
	return v
}
