// Package models defines persisted record structures for Formily Web.
package models

import "time"

// ViewStatus tracks how far a user got with a displayed survey.
type ViewStatus string

const (
	// ViewStatusSeen indicates the survey was displayed to the user.
	ViewStatusSeen ViewStatus = "seen"
	// ViewStatusClosed indicates the user dismissed the survey.
	ViewStatusClosed ViewStatus = "closed"
	// ViewStatusCompleted indicates the user answered through to the end.
	ViewStatusCompleted ViewStatus = "completed"
)

// IsValidViewStatus checks if the given view status is supported.
func IsValidViewStatus(vs ViewStatus) bool {
	switch vs {
	case ViewStatusSeen, ViewStatusClosed, ViewStatusCompleted:
		return true
	default:
		return false
	}
}

// SurveyResponse is one persisted answer submission for a question.
type SurveyResponse struct {
	ID         string         `json:"id"`
	SurveyID   string         `json:"survey_id"`
	QuestionID string         `json:"question_id"`
	UserID     string         `json:"user_id"`
	Answers    []SurveyAnswer `json:"answers"`
	Finished   bool           `json:"finished"`
	CreatedAt  time.Time      `json:"created_at"`
}

// SurveyView records display lifecycle per survey and user. One row per
// survey/user pair; status upgrades in place as the user progresses.
type SurveyView struct {
	SurveyID  string     `json:"survey_id"`
	UserID    string     `json:"user_id"`
	Status    ViewStatus `json:"status"`
	Recurring bool       `json:"recurring"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TrackedEvent is one user action reported by the host application.
type TrackedEvent struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// UserAttributes is the audience profile of the visiting user.
type UserAttributes map[string]string
