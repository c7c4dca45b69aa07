package gamify

import (
	"context"
	"net/http"
	"time"
)

// Badge is an achievement a user can earn.
type Badge struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	ImageURL    string     `json:"image_url,omitempty"`
	Category    string     `json:"category,omitempty"`
	EarnedAt    *time.Time `json:"earned_at,omitempty"`
}

// BadgeQuery pages through the badge catalogue.
type BadgeQuery struct {
	Page     int
	Limit    int
	Category string
}

// BadgesService reads the badge catalogue.
type BadgesService struct {
	client *Client
}

// List returns a page of badges.
func (s *BadgesService) List(ctx context.Context, q BadgeQuery) (*Result[[]Badge], error) {
	return Execute[[]Badge](ctx, s.client.executor, Request{
		Method: http.MethodGet,
		Path:   "/badges",
		Query: map[string]any{
			"page":     optionalInt(q.Page),
			"limit":    optionalInt(q.Limit),
			"category": optionalString(q.Category),
		},
	})
}

// Get fetches a single badge.
func (s *BadgesService) Get(ctx context.Context, badgeID string) (*Result[Badge], error) {
	if err := requireField("badge_id", badgeID); err != nil {
		return nil, err
	}
	return Execute[Badge](ctx, s.client.executor, Request{
		Method: http.MethodGet,
		Path:   "/badges/" + pathSegment(badgeID),
	})
}
