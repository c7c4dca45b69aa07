package gamify

import (
	"context"
	"fmt"
	"net/http"
)

// Question is one item of a questionnaire.
type Question struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Type     string   `json:"type"`
	Options  []string `json:"options,omitempty"`
	Required bool     `json:"required"`
}

// Questionnaire is a set of questions identified by a slug.
type Questionnaire struct {
	ID        string     `json:"id"`
	Slug      string     `json:"slug"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Answer is a user's response to a question.
type Answer struct {
	QuestionID string      `json:"question_id"`
	Value      interface{} `json:"value"`
}

// Submission is the payload of QuestionnairesService.Submit.
type Submission struct {
	UserID  string   `json:"user_id"`
	Answers []Answer `json:"answers"`

	IdempotencyKey string `json:"-"`
}

// SubmissionResult is the API's answer to a submission.
type SubmissionResult struct {
	SubmissionID  string  `json:"submission_id"`
	PointsAwarded int     `json:"points_awarded"`
	BadgesEarned  []Badge `json:"badges_earned"`
}

// QuestionnairesService reads questionnaires and submits answers.
type QuestionnairesService struct {
	client *Client
}

// Get fetches a questionnaire by slug.
func (s *QuestionnairesService) Get(ctx context.Context, slug string) (*Result[Questionnaire], error) {
	if err := requireField("slug", slug); err != nil {
		return nil, err
	}
	return Execute[Questionnaire](ctx, s.client.executor, Request{
		Method: http.MethodGet,
		Path:   "/questionnaires/" + pathSegment(slug),
	})
}

// Submit sends a user's answers.
func (s *QuestionnairesService) Submit(ctx context.Context, slug string, sub Submission) (*Result[SubmissionResult], error) {
	if err := requireField("slug", slug); err != nil {
		return nil, err
	}
	if err := requireField("user_id", sub.UserID); err != nil {
		return nil, err
	}
	if len(sub.Answers) == 0 {
		return nil, newInputError("at least one answer is required", FieldError{Field: "answers", Message: "must not be empty"})
	}
	for i, a := range sub.Answers {
		if err := requireField("question_id", a.QuestionID); err != nil {
			err.Message = fmt.Sprintf("answer %d: %s", i, err.Message)
			return nil, err
		}
	}
	return Execute[SubmissionResult](ctx, s.client.executor, Request{
		Method:         http.MethodPost,
		Path:           "/questionnaires/" + pathSegment(slug) + "/submit",
		Body:           sub,
		IdempotencyKey: sub.IdempotencyKey,
	})
}
