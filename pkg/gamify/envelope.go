package gamify

import (
	"bytes"
	"encoding/json"
)

// EnvelopeKind discriminates the response body shapes the API has used.
type EnvelopeKind int

const (
	// EnvelopeRaw is any body that is not a JSON object; it is passed through.
	EnvelopeRaw EnvelopeKind = iota
	// EnvelopeSuccess is {"success": true, ...}.
	EnvelopeSuccess
	// EnvelopeFailure is {"success": false, "error": ...}.
	EnvelopeFailure
	// EnvelopeLegacy is an object without a boolean "success" field.
	EnvelopeLegacy
)

func (k EnvelopeKind) String() string {
	switch k {
	case EnvelopeSuccess:
		return "success"
	case EnvelopeFailure:
		return "failure"
	case EnvelopeLegacy:
		return "legacy"
	default:
		return "raw"
	}
}

// Pagination is the page metadata attached to list responses.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// HasNext reports whether another page follows this one.
func (p *Pagination) HasNext() bool {
	return p != nil && p.Page < p.TotalPages
}

// Envelope is a response body decoded into one of the known shapes.
type Envelope struct {
	Kind EnvelopeKind

	// Data is the result payload. Nil for EnvelopeFailure.
	Data json.RawMessage

	// Error is the raw "error" value of an EnvelopeFailure, if the body had one.
	Error json.RawMessage

	Pagination *Pagination
	RequestID  string
}

// Failed reports whether the body signalled a logical error.
func (e Envelope) Failed() bool {
	return e.Kind == EnvelopeFailure
}

// ParseEnvelope decodes a response body. It never fails: shapes it does not
// recognise are returned as EnvelopeRaw with the body untouched.
func ParseEnvelope(body []byte) Envelope {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{Kind: EnvelopeRaw, Data: rawOrNil(body)}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil || fields == nil {
		return Envelope{Kind: EnvelopeRaw, Data: rawOrNil(body)}
	}

	var success bool
	rawSuccess, hasSuccess := fields["success"]
	if !hasSuccess || json.Unmarshal(rawSuccess, &success) != nil {
		return Envelope{
			Kind:       EnvelopeLegacy,
			Data:       json.RawMessage(trimmed),
			Pagination: decodePagination(fields),
		}
	}

	requestID, _ := stringField(fields, "request_id")

	if !success {
		return Envelope{
			Kind:      EnvelopeFailure,
			Error:     fields["error"],
			RequestID: requestID,
		}
	}

	data, hasData := fields["data"]
	if !hasData {
		data = json.RawMessage(trimmed)
	}
	return Envelope{
		Kind:       EnvelopeSuccess,
		Data:       data,
		Pagination: decodePagination(fields),
		RequestID:  requestID,
	}
}

func decodePagination(fields map[string]json.RawMessage) *Pagination {
	raw, ok := fields["pagination"]
	if !ok {
		return nil
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var p Pagination
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil
	}
	return &p
}

func rawOrNil(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	return json.RawMessage(body)
}
