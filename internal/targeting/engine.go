// Package targeting evaluates audience-attribute rules and trigger conditions
// to decide which surveys are eligible right now.
package targeting

import (
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/Formily/formily-web/internal/hub"
	"github.com/Formily/formily-web/internal/models"
)

// Engine filters surveys by audience attributes and tracked-event triggers.
// It subscribes itself to EventTracked at construction so every tracked event
// can change trigger-condition outcomes; re-running the filter after a change
// is the orchestrator's responsibility.
type Engine struct {
	hub *hub.Hub
	sub hub.Subscription

	mu     sync.RWMutex
	counts map[string]int
}

// NewEngine creates an engine wired to the given hub.
func NewEngine(h *hub.Hub) *Engine {
	e := &Engine{
		hub:    h,
		counts: make(map[string]int),
	}
	e.sub = h.Subscribe(hub.EventTracked, e.onEventTracked)
	slog.Debug("Engine created")
	return e
}

// Close removes the engine's hub subscription.
func (e *Engine) Close() {
	e.hub.Unsubscribe(e.sub)
}

func (e *Engine) onEventTracked(ev hub.Event) {
	tracked, ok := ev.Data.(models.TrackedEvent)
	if !ok {
		slog.Error("Engine onEventTracked unexpected payload", "type", ev.Type.String())
		return
	}
	e.mu.Lock()
	e.counts[tracked.Name]++
	count := e.counts[tracked.Name]
	e.mu.Unlock()
	slog.Debug("Engine counted event", "name", tracked.Name, "count", count)
}

// EventCount returns how many times the named event has been tracked.
func (e *Engine) EventCount(name string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.counts[name]
}

// EvaluateAttributes reports whether the survey's audience conditions hold
// against the user's attributes under the survey's configured logic operator.
// A survey with no audience conditions matches everyone. Malformed conditions
// fail closed: the survey is treated as non-matching and the defect is logged.
func (e *Engine) EvaluateAttributes(survey *models.Survey, user models.UserAttributes) bool {
	if survey.Audience == nil || len(survey.Audience.Conditions) == 0 {
		return true
	}

	matches := make([]bool, 0, len(survey.Audience.Conditions))
	for _, cond := range survey.Audience.Conditions {
		matched, err := matchAttribute(cond, user)
		if err != nil {
			slog.Error("Engine EvaluateAttributes condition failed", "surveyID", survey.ID, "attribute", cond.Attribute, "error", err)
			return false
		}
		matches = append(matches, matched)
	}

	return combine(matches, survey.Audience.Operator)
}

// FilterSurveys returns the subset of the attribute-matched candidates whose
// trigger conditions are currently satisfied, stable relative to input order.
// Malformed trigger conditions fail closed.
func (e *Engine) FilterSurveys(candidates []models.Survey) []models.Survey {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var matched []models.Survey
	for _, survey := range candidates {
		if e.triggerSatisfied(&survey) {
			matched = append(matched, survey)
		}
	}
	slog.Debug("Engine FilterSurveys", "candidates", len(candidates), "matched", len(matched))
	return matched
}

// triggerSatisfied must be called with e.mu held.
func (e *Engine) triggerSatisfied(survey *models.Survey) bool {
	if survey.Trigger == nil || len(survey.Trigger.Conditions) == 0 {
		return true
	}

	matches := make([]bool, 0, len(survey.Trigger.Conditions))
	for _, cond := range survey.Trigger.Conditions {
		matched, err := matchCount(e.counts[cond.Event], cond)
		if err != nil {
			slog.Error("Engine trigger condition failed", "surveyID", survey.ID, "event", cond.Event, "error", err)
			return false
		}
		matches = append(matches, matched)
	}

	return combine(matches, survey.Trigger.Operator)
}

// combine folds per-condition outcomes under the logic operator. The empty
// operator behaves as "or", matching the original widget's default.
func combine(matches []bool, op models.LogicOperator) bool {
	if op == models.LogicOperatorAnd {
		for _, m := range matches {
			if !m {
				return false
			}
		}
		return true
	}
	for _, m := range matches {
		if m {
			return true
		}
	}
	return false
}

func matchAttribute(cond models.AudienceCondition, user models.UserAttributes) (bool, error) {
	value, present := user[cond.Attribute]

	switch cond.Operator {
	case models.FilterOperatorHasValue:
		return present && value != "", nil
	case models.FilterOperatorIs:
		return present && value == cond.Value, nil
	case models.FilterOperatorIsNot:
		return !present || value != cond.Value, nil
	case models.FilterOperatorContains:
		return present && strings.Contains(value, cond.Value), nil
	case models.FilterOperatorNotContains:
		return !present || !strings.Contains(value, cond.Value), nil
	case models.FilterOperatorGreater, models.FilterOperatorGreaterEq,
		models.FilterOperatorLess, models.FilterOperatorLessEq:
		if !present {
			return false, nil
		}
		return compareNumeric(value, cond.Value, cond.Operator)
	default:
		return false, models.ErrInvalidOperator
	}
}

func matchCount(count int, cond models.TriggerCondition) (bool, error) {
	switch cond.Operator {
	case models.FilterOperatorIs:
		return count == cond.Count, nil
	case models.FilterOperatorIsNot:
		return count != cond.Count, nil
	case models.FilterOperatorGreater:
		return count > cond.Count, nil
	case models.FilterOperatorGreaterEq:
		return count >= cond.Count, nil
	case models.FilterOperatorLess:
		return count < cond.Count, nil
	case models.FilterOperatorLessEq:
		return count <= cond.Count, nil
	default:
		return false, models.ErrInvalidOperator
	}
}

func compareNumeric(value, target string, op models.FilterOperator) (bool, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return false, err
	}
	t, err := strconv.ParseFloat(target, 64)
	if err != nil {
		return false, err
	}
	switch op {
	case models.FilterOperatorGreater:
		return v > t, nil
	case models.FilterOperatorGreaterEq:
		return v >= t, nil
	case models.FilterOperatorLess:
		return v < t, nil
	case models.FilterOperatorLessEq:
		return v <= t, nil
	default:
		return false, models.ErrInvalidOperator
	}
}
