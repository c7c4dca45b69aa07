package gamify

import (
	"context"
	"net/http"
	"time"
)

// User is a player profile.
type User struct {
	UserID      string                 `json:"user_id"`
	Email       string                 `json:"email,omitempty"`
	DisplayName string                 `json:"display_name,omitempty"`
	Points      int                    `json:"points"`
	Level       int                    `json:"level"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   *time.Time             `json:"created_at,omitempty"`
}

// CreateUserParams are the fields accepted when registering a user.
type CreateUserParams struct {
	UserID      string                 `json:"user_id"`
	Email       string                 `json:"email,omitempty"`
	DisplayName string                 `json:"display_name,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// UpdateUserParams holds the fields to change; nil fields are left untouched.
type UpdateUserParams struct {
	Email       *string                `json:"email,omitempty"`
	DisplayName *string                `json:"display_name,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// UserRank is a user's position on a leaderboard.
type UserRank struct {
	UserID        string `json:"user_id"`
	LeaderboardID string `json:"leaderboard_id"`
	Rank          int    `json:"rank"`
	Points        int    `json:"points"`
	Total         int    `json:"total"`
}

// UsersService reads and manages user profiles.
type UsersService struct {
	client *Client
}

// Get fetches a user profile.
func (s *UsersService) Get(ctx context.Context, userID string) (*Result[User], error) {
	if err := requireField("user_id", userID); err != nil {
		return nil, err
	}
	return Execute[User](ctx, s.client.executor, Request{
		Method: http.MethodGet,
		Path:   "/users/" + pathSegment(userID),
	})
}

// Create registers a new user.
func (s *UsersService) Create(ctx context.Context, params CreateUserParams) (*Result[User], error) {
	if err := requireField("user_id", params.UserID); err != nil {
		return nil, err
	}
	if params.Email != "" {
		if err := validateEmail(params.Email); err != nil {
			return nil, err
		}
	}
	return Execute[User](ctx, s.client.executor, Request{
		Method: http.MethodPost,
		Path:   "/users",
		Body:   params,
	})
}

// Update changes a user profile.
func (s *UsersService) Update(ctx context.Context, userID string, params UpdateUserParams) (*Result[User], error) {
	if err := requireField("user_id", userID); err != nil {
		return nil, err
	}
	if params.Email != nil {
		if err := validateEmail(*params.Email); err != nil {
			return nil, err
		}
	}
	return Execute[User](ctx, s.client.executor, Request{
		Method: http.MethodPatch,
		Path:   "/users/" + pathSegment(userID),
		Body:   params,
	})
}

// Badges lists the badges a user has earned.
func (s *UsersService) Badges(ctx context.Context, userID string) (*Result[[]Badge], error) {
	if err := requireField("user_id", userID); err != nil {
		return nil, err
	}
	return Execute[[]Badge](ctx, s.client.executor, Request{
		Method: http.MethodGet,
		Path:   "/users/" + pathSegment(userID) + "/badges",
	})
}

// Rank returns the user's position on a leaderboard. An empty leaderboardID
// asks for the default leaderboard.
func (s *UsersService) Rank(ctx context.Context, userID, leaderboardID string) (*Result[UserRank], error) {
	if err := requireField("user_id", userID); err != nil {
		return nil, err
	}
	query := map[string]any{}
	if leaderboardID != "" {
		query["leaderboard"] = leaderboardID
	}
	return Execute[UserRank](ctx, s.client.executor, Request{
		Method: http.MethodGet,
		Path:   "/users/" + pathSegment(userID) + "/rank",
		Query:  query,
	})
}
