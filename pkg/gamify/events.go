package gamify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Event is a user action reported to the API.
type Event struct {
	UserID     string                 `json:"user_id"`
	EventType  string                 `json:"event_type"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Timestamp  *time.Time             `json:"timestamp,omitempty"`

	// IdempotencyKey lets the server deduplicate retried submissions.
	IdempotencyKey string `json:"-"`
}

// TrackResult is the API's answer to a tracked event.
type TrackResult struct {
	EventID       string  `json:"event_id"`
	PointsAwarded int     `json:"points_awarded"`
	TotalPoints   int     `json:"total_points"`
	LevelUp       bool    `json:"level_up"`
	BadgesEarned  []Badge `json:"badges_earned"`
}

// BatchEventError describes one rejected event in a batch.
type BatchEventError struct {
	Index   int    `json:"index"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BatchResult summarises a TrackBatch call.
type BatchResult struct {
	Accepted int               `json:"accepted"`
	Rejected int               `json:"rejected"`
	Errors   []BatchEventError `json:"errors,omitempty"`
}

// EventsService tracks user events.
type EventsService struct {
	client *Client
}

func validateEvent(e Event) *Error {
	if err := requireField("user_id", e.UserID); err != nil {
		return err
	}
	return requireField("event_type", e.EventType)
}

// Track reports a single event.
func (s *EventsService) Track(ctx context.Context, e Event) (*Result[TrackResult], error) {
	if err := validateEvent(e); err != nil {
		return nil, err
	}
	return Execute[TrackResult](ctx, s.client.executor, Request{
		Method:         http.MethodPost,
		Path:           "/events",
		Body:           e,
		IdempotencyKey: e.IdempotencyKey,
	})
}

// TrackBatch reports up to MaxBatchSize events in one call.
func (s *EventsService) TrackBatch(ctx context.Context, events []Event) (*Result[BatchResult], error) {
	if err := validateBatchSize(len(events)); err != nil {
		return nil, err
	}
	for i, e := range events {
		if err := validateEvent(e); err != nil {
			err.Message = fmt.Sprintf("event %d: %s", i, err.Message)
			return nil, err
		}
	}
	return Execute[BatchResult](ctx, s.client.executor, Request{
		Method: http.MethodPost,
		Path:   "/events/batch",
		Body:   map[string]interface{}{"events": events},
	})
}
