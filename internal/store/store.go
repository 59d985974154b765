// Package store provides storage backends for Formily Web.
//
// It persists survey responses, display lifecycle records, and tracked events.
// Backends: in-memory (tests, ephemeral deployments), SQLite, and PostgreSQL.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Formily/formily-web/internal/models"
)

// Store is the persistence interface shared by all backends.
type Store interface {
	// AddResponse records one answer submission.
	AddResponse(r models.SurveyResponse) error

	// GetResponses returns recorded submissions, newest last. An empty
	// surveyID returns submissions for all surveys.
	GetResponses(surveyID string) ([]models.SurveyResponse, error)

	// SaveView inserts or upgrades the lifecycle record for a survey/user pair.
	SaveView(v models.SurveyView) error

	// GetView returns the lifecycle record for a survey/user pair, or nil if
	// the survey was never displayed to that user.
	GetView(surveyID, userID string) (*models.SurveyView, error)

	// AddEvent appends a tracked event.
	AddEvent(e models.TrackedEvent) error

	// GetEvents returns tracked events for a user, oldest first.
	GetEvents(userID string) ([]models.TrackedEvent, error)

	// Close releases backend resources.
	Close() error
}

// Opts holds configuration for store backends.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithDSN sets the database DSN (file path for SQLite, connection string for
// Postgres).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL connection strings and
// "sqlite" for file paths.
func DetectDSNType(dsn string) string {
	if strings.Contains(dsn, "postgres://") || strings.Contains(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

type viewKey struct {
	surveyID string
	userID   string
}

// InMemoryStore is a mutex-guarded in-memory store.
type InMemoryStore struct {
	mu        sync.RWMutex
	responses []models.SurveyResponse
	views     map[viewKey]models.SurveyView
	events    []models.TrackedEvent
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		views: make(map[viewKey]models.SurveyView),
	}
}

func (s *InMemoryStore) AddResponse(r models.SurveyResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, r)
	return nil
}

func (s *InMemoryStore) GetResponses(surveyID string) ([]models.SurveyResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.SurveyResponse
	for _, r := range s.responses {
		if surveyID == "" || r.SurveyID == surveyID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *InMemoryStore) SaveView(v models.SurveyView) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = time.Now()
	}
	s.views[viewKey{v.SurveyID, v.UserID}] = v
	return nil
}

func (s *InMemoryStore) GetView(surveyID, userID string) (*models.SurveyView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.views[viewKey{surveyID, userID}]; ok {
		return &v, nil
	}
	return nil, nil
}

func (s *InMemoryStore) AddEvent(e models.TrackedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *InMemoryStore) GetEvents(userID string) ([]models.TrackedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.TrackedEvent
	for _, e := range s.events {
		if userID == "" || e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
