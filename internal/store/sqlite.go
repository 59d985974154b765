// Package store provides storage backends for Formily Web.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/Formily/formily-web/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given options. The DSN
// is a file path to the SQLite database file; its directory is created if
// missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) AddResponse(r models.SurveyResponse) error {
	answersJSON, err := json.Marshal(r.Answers)
	if err != nil {
		slog.Error("SQLiteStore AddResponse marshal failed", "error", err, "responseID", r.ID)
		return fmt.Errorf("failed to marshal answers: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO survey_responses (id, survey_id, question_id, user_id, answers, finished, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SurveyID, r.QuestionID, r.UserID, string(answersJSON), r.Finished, r.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore AddResponse failed", "error", err, "surveyID", r.SurveyID)
		return fmt.Errorf("failed to insert response for survey %s: %w", r.SurveyID, err)
	}
	slog.Debug("SQLiteStore AddResponse succeeded", "surveyID", r.SurveyID, "questionID", r.QuestionID)
	return nil
}

func (s *SQLiteStore) GetResponses(surveyID string) ([]models.SurveyResponse, error) {
	query := `SELECT id, survey_id, question_id, user_id, answers, finished, created_at FROM survey_responses`
	args := []interface{}{}
	if surveyID != "" {
		query += ` WHERE survey_id = ?`
		args = append(args, surveyID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("SQLiteStore GetResponses query failed", "error", err)
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer rows.Close()

	var responses []models.SurveyResponse
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			slog.Error("SQLiteStore GetResponses scan failed", "error", err)
			return nil, err
		}
		responses = append(responses, r)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore GetResponses rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate response rows: %w", err)
	}
	slog.Debug("SQLiteStore GetResponses succeeded", "count", len(responses))
	return responses, nil
}

func (s *SQLiteStore) SaveView(v models.SurveyView) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO survey_views (survey_id, user_id, status, recurring, updated_at) VALUES (?, ?, ?, ?, ?)`,
		v.SurveyID, v.UserID, string(v.Status), v.Recurring, v.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveView failed", "error", err, "surveyID", v.SurveyID)
		return fmt.Errorf("failed to save view for survey %s: %w", v.SurveyID, err)
	}
	slog.Debug("SQLiteStore SaveView succeeded", "surveyID", v.SurveyID, "status", v.Status)
	return nil
}

func (s *SQLiteStore) GetView(surveyID, userID string) (*models.SurveyView, error) {
	var v models.SurveyView
	var status string
	err := s.db.QueryRow(
		`SELECT survey_id, user_id, status, recurring, updated_at FROM survey_views WHERE survey_id = ? AND user_id = ?`,
		surveyID, userID,
	).Scan(&v.SurveyID, &v.UserID, &status, &v.Recurring, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetView failed", "error", err, "surveyID", surveyID)
		return nil, fmt.Errorf("failed to query view for survey %s: %w", surveyID, err)
	}
	v.Status = models.ViewStatus(status)
	return &v, nil
}

func (s *SQLiteStore) AddEvent(e models.TrackedEvent) error {
	attrsJSON, err := marshalAttributes(e.Attributes)
	if err != nil {
		slog.Error("SQLiteStore AddEvent marshal failed", "error", err, "eventID", e.ID)
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO events (id, user_id, name, attributes, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Name, attrsJSON, e.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore AddEvent failed", "error", err, "name", e.Name)
		return fmt.Errorf("failed to insert event %s: %w", e.Name, err)
	}
	slog.Debug("SQLiteStore AddEvent succeeded", "name", e.Name, "userID", e.UserID)
	return nil
}

func (s *SQLiteStore) GetEvents(userID string) ([]models.TrackedEvent, error) {
	query := `SELECT id, user_id, name, attributes, created_at FROM events`
	args := []interface{}{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("SQLiteStore GetEvents query failed", "error", err)
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.TrackedEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			slog.Error("SQLiteStore GetEvents scan failed", "error", err)
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore GetEvents rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate event rows: %w", err)
	}
	slog.Debug("SQLiteStore GetEvents succeeded", "count", len(events))
	return events, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
