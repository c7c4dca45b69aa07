package gamify

import (
	"context"
	"net/http"
)

// Leaderboard periods understood by the API.
const (
	PeriodDaily   = "daily"
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
	PeriodAllTime = "all_time"
)

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	Rank        int      `json:"rank"`
	UserID      string   `json:"user_id"`
	DisplayName string   `json:"display_name,omitempty"`
	Points      int      `json:"points"`
	Level       int      `json:"level"`
	BadgeIDs    []string `json:"badge_ids,omitempty"`
}

// Leaderboard is a page of ranked entries.
type Leaderboard struct {
	ID      string             `json:"id"`
	Name    string             `json:"name"`
	Period  string             `json:"period"`
	Entries []LeaderboardEntry `json:"entries"`

	// Pagination is copied from the response envelope.
	Pagination *Pagination `json:"-"`
}

// LeaderboardSummary describes a leaderboard without its entries.
type LeaderboardSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Period string `json:"period"`
}

// LeaderboardQuery selects a page and period. Zero values are left to the server.
type LeaderboardQuery struct {
	Page   int
	Limit  int
	Period string
}

func (q LeaderboardQuery) params() map[string]any {
	return map[string]any{
		"page":   optionalInt(q.Page),
		"limit":  optionalInt(q.Limit),
		"period": optionalString(q.Period),
	}
}

// LeaderboardsService reads leaderboards.
type LeaderboardsService struct {
	client *Client
}

// List returns the configured leaderboards.
func (s *LeaderboardsService) List(ctx context.Context) (*Result[[]LeaderboardSummary], error) {
	return Execute[[]LeaderboardSummary](ctx, s.client.executor, Request{
		Method: http.MethodGet,
		Path:   "/leaderboards",
	})
}

// Get fetches one page of a leaderboard.
func (s *LeaderboardsService) Get(ctx context.Context, leaderboardID string, q LeaderboardQuery) (*Result[Leaderboard], error) {
	if err := requireField("leaderboard_id", leaderboardID); err != nil {
		return nil, err
	}
	res, err := Execute[Leaderboard](ctx, s.client.executor, Request{
		Method: http.MethodGet,
		Path:   "/leaderboards/" + pathSegment(leaderboardID),
		Query:  q.params(),
	})
	if err != nil {
		return nil, err
	}
	if res.Data.ID == "" {
		res.Data.ID = leaderboardID
	}
	res.Data.Pagination = res.Pagination
	return res, nil
}

func optionalInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func optionalString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
