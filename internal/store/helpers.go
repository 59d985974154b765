package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Formily/formily-web/internal/models"
)

// marshalAttributes converts event attributes to a nullable JSON column value.
func marshalAttributes(attrs map[string]string) (interface{}, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attributes: %w", err)
	}
	return string(data), nil
}

// scanResponse scans a SurveyResponse from sql.Rows.
func scanResponse(rows *sql.Rows) (models.SurveyResponse, error) {
	var r models.SurveyResponse
	var answersJSON string
	err := rows.Scan(&r.ID, &r.SurveyID, &r.QuestionID, &r.UserID, &answersJSON, &r.Finished, &r.CreatedAt)
	if err != nil {
		return r, fmt.Errorf("scan response failed: %w", err)
	}
	if answersJSON != "" {
		if err := json.Unmarshal([]byte(answersJSON), &r.Answers); err != nil {
			return r, fmt.Errorf("unmarshal answers failed: %w", err)
		}
	}
	return r, nil
}

// scanEvent scans a TrackedEvent from sql.Rows.
func scanEvent(rows *sql.Rows) (models.TrackedEvent, error) {
	var e models.TrackedEvent
	var attrsJSON sql.NullString
	err := rows.Scan(&e.ID, &e.UserID, &e.Name, &attrsJSON, &e.CreatedAt)
	if err != nil {
		return e, fmt.Errorf("scan event failed: %w", err)
	}
	if attrsJSON.Valid && attrsJSON.String != "" {
		if err := json.Unmarshal([]byte(attrsJSON.String), &e.Attributes); err != nil {
			return e, fmt.Errorf("unmarshal attributes failed: %w", err)
		}
	}
	return e, nil
}
