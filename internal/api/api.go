// Package api provides HTTP handlers and the main API server logic for
// formily-web.
//
// It exposes RESTful endpoints for tracking events, updating user attributes,
// driving the survey widget, and reading back recorded responses. The API
// integrates with the hub, surveys, and store modules.
package api

import (
	"log/slog"
	"net/http"

	"github.com/Formily/formily-web/internal/hub"
	"github.com/Formily/formily-web/internal/store"
	"github.com/Formily/formily-web/internal/surveys"
)

// Server wires the HTTP surface to the widget's collaborators.
type Server struct {
	hub     *hub.Hub
	manager *surveys.Manager
	store   store.Store
}

// NewServer creates an API server over the given collaborators.
func NewServer(h *hub.Hub, m *surveys.Manager, st store.Store) *Server {
	return &Server{hub: h, manager: m, store: st}
}

// Handler returns the routing handler for all API endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/events", s.eventsHandler)
	mux.HandleFunc("/attributes", s.attributesHandler)
	mux.HandleFunc("/surveys", s.surveysHandler)
	mux.HandleFunc("/surveys/show", s.showHandler)
	mux.HandleFunc("/surveys/hide", s.hideHandler)
	mux.HandleFunc("/surveys/dismiss", s.dismissHandler)
	mux.HandleFunc("/answers", s.answersHandler)
	mux.HandleFunc("/responses", s.responsesHandler)
	return mux
}

// Run starts the API server and blocks until it stops.
func (s *Server) Run(addr string) error {
	slog.Info("Server.Run: formily-web API starting", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}
