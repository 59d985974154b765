package surveys

import (
	"context"
	"log/slog"
	"time"

	"github.com/Formily/formily-web/internal/models"
	"github.com/Formily/formily-web/internal/store"
	"github.com/google/uuid"
)

// Client is the persistence collaborator. Every call is awaited by the
// orchestrator before its next state transition, but a failure never blocks
// the user-facing flow: the orchestrator logs and continues.
type Client interface {
	// PersistSurveyAnswers stores the submitted answers for a question.
	PersistSurveyAnswers(ctx context.Context, surveyID, questionID string, answers []models.SurveyAnswer) error

	// MarkSurveyAsSeen records that the survey was displayed.
	MarkSurveyAsSeen(ctx context.Context, surveyID string, seenAt time.Time, recurring bool) error

	// CloseSurvey records that the user dismissed the survey.
	CloseSurvey(ctx context.Context, surveyID string) error

	// MarkSurveyAsCompleted records that the user finished the survey.
	MarkSurveyAsCompleted(ctx context.Context, surveyID string) error

	// SurveyStatus returns the recorded lifecycle status for the survey, or
	// the empty string when it was never displayed.
	SurveyStatus(ctx context.Context, surveyID string) (models.ViewStatus, error)
}

// StoreClient implements Client on top of a store backend, scoped to one
// visiting user.
type StoreClient struct {
	store  store.Store
	userID string
}

// NewStoreClient creates a store-backed persistence client for the given user.
func NewStoreClient(st store.Store, userID string) *StoreClient {
	return &StoreClient{store: st, userID: userID}
}

func (c *StoreClient) PersistSurveyAnswers(ctx context.Context, surveyID, questionID string, answers []models.SurveyAnswer) error {
	finished := false
	if len(answers) > 0 {
		finished = answers[len(answers)-1].Finished
	}
	r := models.SurveyResponse{
		ID:         uuid.NewString(),
		SurveyID:   surveyID,
		QuestionID: questionID,
		UserID:     c.userID,
		Answers:    answers,
		Finished:   finished,
		CreatedAt:  time.Now(),
	}
	slog.Debug("StoreClient PersistSurveyAnswers", "surveyID", surveyID, "questionID", questionID, "answers", len(answers))
	return c.store.AddResponse(r)
}

func (c *StoreClient) MarkSurveyAsSeen(ctx context.Context, surveyID string, seenAt time.Time, recurring bool) error {
	slog.Debug("StoreClient MarkSurveyAsSeen", "surveyID", surveyID, "recurring", recurring)
	return c.store.SaveView(models.SurveyView{
		SurveyID:  surveyID,
		UserID:    c.userID,
		Status:    models.ViewStatusSeen,
		Recurring: recurring,
		UpdatedAt: seenAt,
	})
}

func (c *StoreClient) CloseSurvey(ctx context.Context, surveyID string) error {
	slog.Debug("StoreClient CloseSurvey", "surveyID", surveyID)
	return c.saveStatus(surveyID, models.ViewStatusClosed)
}

func (c *StoreClient) MarkSurveyAsCompleted(ctx context.Context, surveyID string) error {
	slog.Debug("StoreClient MarkSurveyAsCompleted", "surveyID", surveyID)
	return c.saveStatus(surveyID, models.ViewStatusCompleted)
}

func (c *StoreClient) saveStatus(surveyID string, status models.ViewStatus) error {
	recurring := false
	if v, err := c.store.GetView(surveyID, c.userID); err == nil && v != nil {
		recurring = v.Recurring
	}
	return c.store.SaveView(models.SurveyView{
		SurveyID:  surveyID,
		UserID:    c.userID,
		Status:    status,
		Recurring: recurring,
		UpdatedAt: time.Now(),
	})
}

func (c *StoreClient) SurveyStatus(ctx context.Context, surveyID string) (models.ViewStatus, error) {
	v, err := c.store.GetView(surveyID, c.userID)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	return v.Status, nil
}
