package gamify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// Transport performs the network round trip for a single attempt. It returns a
// response for every HTTP status and an error only when no response was
// received (timeouts, DNS failures, refused connections). Implementations may
// also return an *Error, which the executor passes through unchanged.
type Transport interface {
	Do(ctx context.Context, req *TransportRequest) (*TransportResponse, error)
}

// HTTPTransport is the default Transport, backed by an *http.Client. Connection
// reuse and TLS are whatever the client is configured with.
type HTTPTransport struct {
	Client *http.Client
}

// NewHTTPTransport returns a transport using client, or a fresh *http.Client if nil.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{Client: client}
}

// Do sends req and reads the full response body.
func (t *HTTPTransport) Do(ctx context.Context, req *TransportRequest) (*TransportResponse, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := t.Client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}

	return &TransportResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req *TransportRequest) (*TransportResponse, error)

// Do calls f(ctx, req).
func (f TransportFunc) Do(ctx context.Context, req *TransportRequest) (*TransportResponse, error) {
	return f(ctx, req)
}
