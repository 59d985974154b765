// Package hub provides the process-wide event hub for Formily Web.
//
// It holds the configured survey pool, the visiting user's live attributes,
// and a typed publish/subscribe channel that the targeting engine and the
// survey orchestrator react to.
package hub

import (
	"log/slog"
	"sync"

	"github.com/Formily/formily-web/internal/models"
)

// EventType identifies the two events the hub broadcasts.
type EventType int

const (
	// EventTracked fires when the host application reports a user action.
	EventTracked EventType = iota
	// AudienceUpdated fires when the user's attribute data changes.
	AudienceUpdated
)

// String returns the wire name of the event type.
func (e EventType) String() string {
	switch e {
	case EventTracked:
		return "eventTracked"
	case AudienceUpdated:
		return "audienceUpdated"
	default:
		return "unknown"
	}
}

// Event is the envelope passed to every subscriber.
type Event struct {
	Type EventType
	Data interface{}
}

// Handler consumes a broadcast event.
type Handler func(Event)

// Subscription identifies one registered handler and can be used to remove it.
type Subscription struct {
	event EventType
	token uint64
}

// Listeners holds the optional lifecycle callbacks supplied at construction.
// Each field is independently nil-able. The hub invokes the tracking pair
// itself; the survey lifecycle callbacks are read and invoked by the
// orchestrator.
type Listeners struct {
	OnAudienceChanged  func(models.UserAttributes)
	OnEventTracked     func(models.TrackedEvent)
	OnSurveyDisplayed  func(surveyID string)
	OnSurveyClosed     func(surveyID string)
	OnQuestionAnswered func(surveyID, questionID string, answers []models.SurveyAnswer)
	OnSurveyCompleted  func(surveyID string)
}

// Config is the construction-time configuration of the hub, immutable
// thereafter.
type Config struct {
	Surveys   []models.Survey
	UserID    string
	User      models.UserAttributes
	Debug     bool
	Listeners Listeners
}

type subscriber struct {
	token   uint64
	handler Handler
}

// Hub is the event hub. All methods are safe for concurrent use.
type Hub struct {
	surveys   []models.Survey
	userID    string
	debug     bool
	listeners Listeners

	mu          sync.RWMutex
	user        models.UserAttributes
	subscribers map[EventType][]subscriber
	nextToken   uint64
}

// New creates a hub from the given configuration.
func New(cfg Config) *Hub {
	user := make(models.UserAttributes, len(cfg.User))
	for k, v := range cfg.User {
		user[k] = v
	}
	return &Hub{
		surveys:     cfg.Surveys,
		userID:      cfg.UserID,
		debug:       cfg.Debug,
		listeners:   cfg.Listeners,
		user:        user,
		subscribers: make(map[EventType][]subscriber),
	}
}

// Surveys returns the configured survey pool.
func (h *Hub) Surveys() []models.Survey {
	return h.surveys
}

// SurveyByID returns the configured survey with the given ID, or nil.
func (h *Hub) SurveyByID(id string) *models.Survey {
	for i := range h.surveys {
		if h.surveys[i].ID == id {
			return &h.surveys[i]
		}
	}
	return nil
}

// UserID returns the identity of the visiting user.
func (h *Hub) UserID() string {
	return h.userID
}

// Debug reports whether debug logging was requested at construction.
func (h *Hub) Debug() bool {
	return h.debug
}

// Listeners returns the configured lifecycle callbacks.
func (h *Hub) Listeners() Listeners {
	return h.listeners
}

// UserAttributes returns a copy of the user's current attribute data.
func (h *Hub) UserAttributes() models.UserAttributes {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(models.UserAttributes, len(h.user))
	for k, v := range h.user {
		out[k] = v
	}
	return out
}

// Subscribe registers a handler for the given event type and returns a token
// that removes it. Handlers run in registration order during Broadcast.
func (h *Hub) Subscribe(event EventType, handler Handler) Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextToken++
	sub := Subscription{event: event, token: h.nextToken}
	h.subscribers[event] = append(h.subscribers[event], subscriber{token: sub.token, handler: handler})
	slog.Debug("Hub Subscribe", "event", event.String(), "token", sub.token)
	return sub
}

// Unsubscribe removes the handler identified by the subscription. Removing an
// already-removed subscription is a no-op.
func (h *Hub) Unsubscribe(sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subscribers[sub.event]
	for i := range subs {
		if subs[i].token == sub.token {
			h.subscribers[sub.event] = append(subs[:i:i], subs[i+1:]...)
			slog.Debug("Hub Unsubscribe", "event", sub.event.String(), "token", sub.token)
			return
		}
	}
}

// Broadcast invokes every registered handler for the event type, in
// registration order, synchronously. A handler that panics does not prevent
// subsequent handlers in the same broadcast from running.
func (h *Hub) Broadcast(event EventType, data interface{}) {
	h.mu.RLock()
	subs := make([]subscriber, len(h.subscribers[event]))
	copy(subs, h.subscribers[event])
	h.mu.RUnlock()

	slog.Debug("Hub Broadcast", "event", event.String(), "subscribers", len(subs))
	for _, s := range subs {
		h.dispatch(event, s, Event{Type: event, Data: data})
	}
}

func (h *Hub) dispatch(event EventType, s subscriber, e Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Hub subscriber panicked", "event", event.String(), "token", s.token, "panic", r)
		}
	}()
	s.handler(e)
}

// TrackEvent records a user action: the OnEventTracked listener is invoked,
// then EventTracked is broadcast with the event as payload.
func (h *Hub) TrackEvent(event models.TrackedEvent) {
	slog.Debug("Hub TrackEvent", "name", event.Name, "userID", event.UserID)
	if h.listeners.OnEventTracked != nil {
		h.listeners.OnEventTracked(event)
	}
	h.Broadcast(EventTracked, event)
}

// UpdateUserAttributes merges the given attributes into the user's live
// profile, invokes the OnAudienceChanged listener, then broadcasts
// AudienceUpdated with the merged attributes as payload.
func (h *Hub) UpdateUserAttributes(attrs models.UserAttributes) {
	h.mu.Lock()
	for k, v := range attrs {
		h.user[k] = v
	}
	merged := make(models.UserAttributes, len(h.user))
	for k, v := range h.user {
		merged[k] = v
	}
	h.mu.Unlock()

	slog.Debug("Hub UpdateUserAttributes", "updated", len(attrs), "total", len(merged))
	if h.listeners.OnAudienceChanged != nil {
		h.listeners.OnAudienceChanged(merged)
	}
	h.Broadcast(AudienceUpdated, merged)
}
