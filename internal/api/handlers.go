// Package api provides HTTP handlers for formily-web endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Formily/formily-web/internal/models"
)

type trackEventRequest struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type surveyIDRequest struct {
	SurveyID string `json:"surveyId"`
}

type answersRequest struct {
	Answers []models.SurveyAnswer `json:"answers"`
}

// widgetStatus is the GET /surveys payload: the orchestrator's state plus the
// configured pool.
type widgetStatus struct {
	State      string          `json:"state"`
	Active     []string        `json:"active"`
	SurveyID   string          `json:"surveyId,omitempty"`
	QuestionID string          `json:"questionId,omitempty"`
	Surveys    []models.Survey `json:"surveys"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.eventsHandler: processing event request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.eventsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req trackEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.eventsHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Name == "" {
		slog.Warn("Server.eventsHandler: missing event name")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Event name is required"))
		return
	}

	event := models.TrackedEvent{
		ID:         uuid.NewString(),
		UserID:     s.hub.UserID(),
		Name:       req.Name,
		Attributes: req.Attributes,
		CreatedAt:  time.Now(),
	}
	if err := s.store.AddEvent(event); err != nil {
		slog.Error("Server.eventsHandler: failed to record event", "error", err, "name", req.Name)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to record event"))
		return
	}
	s.hub.TrackEvent(event)

	slog.Info("Server.eventsHandler: event tracked", "name", req.Name)
	writeJSONResponse(w, http.StatusOK, models.Recorded())
}

func (s *Server) attributesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.attributesHandler: processing attributes request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.attributesHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var attrs models.UserAttributes
	if err := json.NewDecoder(r.Body).Decode(&attrs); err != nil {
		slog.Warn("Server.attributesHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if len(attrs) == 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("At least one attribute is required"))
		return
	}

	s.hub.UpdateUserAttributes(attrs)

	slog.Info("Server.attributesHandler: attributes updated", "count", len(attrs))
	writeJSONResponse(w, http.StatusOK, models.Recorded())
}

func (s *Server) surveysHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	status := widgetStatus{
		State:   string(s.manager.State()),
		Active:  s.manager.ActiveSurveyIDs(),
		Surveys: s.hub.Surveys(),
	}
	if surveyID, questionID, ok := s.manager.Current(); ok {
		status.SurveyID = surveyID
		status.QuestionID = questionID
	}
	writeJSONResponse(w, http.StatusOK, models.Success(status))
}

func (s *Server) showHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.showHandler: processing show request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req surveyIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.showHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.SurveyID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Survey ID is required"))
		return
	}
	if s.hub.SurveyByID(req.SurveyID) == nil {
		slog.Warn("Server.showHandler: survey not found", "surveyID", req.SurveyID)
		writeJSONResponse(w, http.StatusNotFound, models.Error("Survey not found"))
		return
	}

	s.manager.ShowSurvey(req.SurveyID)

	slog.Info("Server.showHandler: survey shown", "surveyID", req.SurveyID)
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

func (s *Server) hideHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.hideHandler: processing hide request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req surveyIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.hideHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.SurveyID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Survey ID is required"))
		return
	}

	s.manager.HideSurvey(req.SurveyID)

	slog.Info("Server.hideHandler: survey hidden", "surveyID", req.SurveyID)
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

func (s *Server) dismissHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.dismissHandler: processing dismiss request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if err := s.manager.Dismiss(r.Context()); err != nil {
		slog.Warn("Server.dismissHandler: dismiss failed", "error", err)
		writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
		return
	}

	slog.Info("Server.dismissHandler: survey dismissed")
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

func (s *Server) answersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.answersHandler: processing answers request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req answersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.answersHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if len(req.Answers) == 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("At least one answer is required"))
		return
	}

	if err := s.manager.OnAnswered(r.Context(), req.Answers); err != nil {
		slog.Warn("Server.answersHandler: answer routing failed", "error", err)
		writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
		return
	}

	slog.Info("Server.answersHandler: answers accepted", "count", len(req.Answers))
	writeJSONResponse(w, http.StatusOK, models.Recorded())
}

func (s *Server) responsesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	surveyID := r.URL.Query().Get("survey")
	responses, err := s.store.GetResponses(surveyID)
	if err != nil {
		slog.Error("Server.responsesHandler: failed to read responses", "error", err, "surveyID", surveyID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read responses"))
		return
	}
	if responses == nil {
		responses = []models.SurveyResponse{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(responses))
}
