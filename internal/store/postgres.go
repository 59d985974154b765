// Package store provides storage backends for Formily Web.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/Formily/formily-web/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) AddResponse(r models.SurveyResponse) error {
	answersJSON, err := json.Marshal(r.Answers)
	if err != nil {
		slog.Error("PostgresStore AddResponse marshal failed", "error", err, "responseID", r.ID)
		return fmt.Errorf("failed to marshal answers: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO survey_responses (id, survey_id, question_id, user_id, answers, finished, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.SurveyID, r.QuestionID, r.UserID, string(answersJSON), r.Finished, r.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore AddResponse failed", "error", err, "surveyID", r.SurveyID)
		return fmt.Errorf("failed to insert response for survey %s: %w", r.SurveyID, err)
	}
	slog.Debug("PostgresStore AddResponse succeeded", "surveyID", r.SurveyID, "questionID", r.QuestionID)
	return nil
}

func (s *PostgresStore) GetResponses(surveyID string) ([]models.SurveyResponse, error) {
	query := `SELECT id, survey_id, question_id, user_id, answers, finished, created_at FROM survey_responses`
	args := []interface{}{}
	if surveyID != "" {
		query += ` WHERE survey_id = $1`
		args = append(args, surveyID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("PostgresStore GetResponses query failed", "error", err)
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer rows.Close()

	var responses []models.SurveyResponse
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			slog.Error("PostgresStore GetResponses scan failed", "error", err)
			return nil, err
		}
		responses = append(responses, r)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore GetResponses rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate response rows: %w", err)
	}
	slog.Debug("PostgresStore GetResponses succeeded", "count", len(responses))
	return responses, nil
}

func (s *PostgresStore) SaveView(v models.SurveyView) error {
	_, err := s.db.Exec(
		`INSERT INTO survey_views (survey_id, user_id, status, recurring, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (survey_id, user_id) DO UPDATE SET status = EXCLUDED.status, recurring = EXCLUDED.recurring, updated_at = EXCLUDED.updated_at`,
		v.SurveyID, v.UserID, string(v.Status), v.Recurring, v.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore SaveView failed", "error", err, "surveyID", v.SurveyID)
		return fmt.Errorf("failed to save view for survey %s: %w", v.SurveyID, err)
	}
	slog.Debug("PostgresStore SaveView succeeded", "surveyID", v.SurveyID, "status", v.Status)
	return nil
}

func (s *PostgresStore) GetView(surveyID, userID string) (*models.SurveyView, error) {
	var v models.SurveyView
	var status string
	err := s.db.QueryRow(
		`SELECT survey_id, user_id, status, recurring, updated_at FROM survey_views WHERE survey_id = $1 AND user_id = $2`,
		surveyID, userID,
	).Scan(&v.SurveyID, &v.UserID, &status, &v.Recurring, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetView failed", "error", err, "surveyID", surveyID)
		return nil, fmt.Errorf("failed to query view for survey %s: %w", surveyID, err)
	}
	v.Status = models.ViewStatus(status)
	return &v, nil
}

func (s *PostgresStore) AddEvent(e models.TrackedEvent) error {
	attrsJSON, err := marshalAttributes(e.Attributes)
	if err != nil {
		slog.Error("PostgresStore AddEvent marshal failed", "error", err, "eventID", e.ID)
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO events (id, user_id, name, attributes, created_at) VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.UserID, e.Name, attrsJSON, e.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore AddEvent failed", "error", err, "name", e.Name)
		return fmt.Errorf("failed to insert event %s: %w", e.Name, err)
	}
	slog.Debug("PostgresStore AddEvent succeeded", "name", e.Name, "userID", e.UserID)
	return nil
}

func (s *PostgresStore) GetEvents(userID string) ([]models.TrackedEvent, error) {
	query := `SELECT id, user_id, name, attributes, created_at FROM events`
	args := []interface{}{}
	if userID != "" {
		query += ` WHERE user_id = $1`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("PostgresStore GetEvents query failed", "error", err)
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.TrackedEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			slog.Error("PostgresStore GetEvents scan failed", "error", err)
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore GetEvents rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate event rows: %w", err)
	}
	slog.Debug("PostgresStore GetEvents succeeded", "count", len(events))
	return events, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
