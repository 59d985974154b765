// Package models defines the core data structures for Formily Web.
//
// It includes types for surveys, questions, targeting conditions, and answers,
// which are shared across modules.
package models

import (
	"errors"
	"fmt"
	"sort"
)

// LogicOperator combines sibling conditions or rules.
type LogicOperator string

const (
	// LogicOperatorAnd requires every condition to hold.
	LogicOperatorAnd LogicOperator = "and"
	// LogicOperatorOr requires at least one condition to hold.
	LogicOperatorOr LogicOperator = "or"
)

// IsValidLogicOperator checks if the given logic operator is supported.
// The empty operator is accepted and treated as "or", matching rule-less configs.
func IsValidLogicOperator(op LogicOperator) bool {
	switch op {
	case LogicOperatorAnd, LogicOperatorOr, "":
		return true
	default:
		return false
	}
}

// FilterOperator compares an observed value against a condition target.
type FilterOperator string

const (
	FilterOperatorIs          FilterOperator = "is"
	FilterOperatorIsNot       FilterOperator = "is_not"
	FilterOperatorGreater     FilterOperator = "gt"
	FilterOperatorGreaterEq   FilterOperator = "gte"
	FilterOperatorLess        FilterOperator = "lt"
	FilterOperatorLessEq      FilterOperator = "lte"
	FilterOperatorContains    FilterOperator = "contains"
	FilterOperatorNotContains FilterOperator = "not_contains"
	// FilterOperatorHasValue matches when the attribute is present at all.
	FilterOperatorHasValue FilterOperator = "has_value"
)

// IsValidFilterOperator checks if the given filter operator is supported.
func IsValidFilterOperator(op FilterOperator) bool {
	switch op {
	case FilterOperatorIs, FilterOperatorIsNot, FilterOperatorGreater,
		FilterOperatorGreaterEq, FilterOperatorLess, FilterOperatorLessEq,
		FilterOperatorContains, FilterOperatorNotContains, FilterOperatorHasValue:
		return true
	default:
		return false
	}
}

// QuestionType identifies the response widget a question expects.
type QuestionType string

const (
	QuestionTypeText           QuestionType = "text"
	QuestionTypeSmileyScale    QuestionType = "smiley_scale"
	QuestionTypeDate           QuestionType = "date"
	QuestionTypeCTA            QuestionType = "cta"
	QuestionTypeNPS            QuestionType = "nps"
	QuestionTypeRating         QuestionType = "rating"
	QuestionTypeCSAT           QuestionType = "csat"
	QuestionTypeMultiple       QuestionType = "multiple"
	QuestionTypeSingle         QuestionType = "single"
	QuestionTypeForm           QuestionType = "form"
	QuestionTypeNumericalScale QuestionType = "numerical_scale"
	QuestionTypeBoolean        QuestionType = "boolean"
)

// IsValidQuestionType checks if the given question type is supported.
func IsValidQuestionType(qt QuestionType) bool {
	switch qt {
	case QuestionTypeText, QuestionTypeSmileyScale, QuestionTypeDate,
		QuestionTypeCTA, QuestionTypeNPS, QuestionTypeRating, QuestionTypeCSAT,
		QuestionTypeMultiple, QuestionTypeSingle, QuestionTypeForm,
		QuestionTypeNumericalScale, QuestionTypeBoolean:
		return true
	default:
		return false
	}
}

// Placement positions the survey widget inside the host page.
type Placement string

const (
	PlacementBottomRight Placement = "bottomRight"
	PlacementBottomLeft  Placement = "bottomLeft"
	PlacementTopRight    Placement = "topRight"
	PlacementTopLeft     Placement = "topLeft"
	PlacementCenter      Placement = "center"
)

// ShuffleOption controls how question options are reordered before display.
type ShuffleOption string

const (
	// ShuffleNone keeps options in configured order.
	ShuffleNone ShuffleOption = "none"
	// ShuffleAll randomizes every option.
	ShuffleAll ShuffleOption = "all"
	// ShuffleExceptLast randomizes all options but keeps the last in place,
	// typically an "Other" catch-all.
	ShuffleExceptLast ShuffleOption = "exceptLast"
)

// DestinationEnd is the branching destination that ends the survey immediately,
// ignoring any remaining questions.
const DestinationEnd = "end"

// Validation error variables for survey configuration defects.
var (
	ErrEmptySurveyID       = errors.New("survey id cannot be empty")
	ErrNoQuestions         = errors.New("survey must have at least one question")
	ErrEmptyQuestionID     = errors.New("question id cannot be empty")
	ErrDuplicateQuestionID = errors.New("duplicate question id")
	ErrInvalidQuestionType = errors.New("invalid question type")
	ErrInvalidOperator     = errors.New("invalid operator")
	ErrUnknownDestination  = errors.New("branching rule destination is not a question in the survey")
	ErrEmptyAttribute      = errors.New("audience condition attribute cannot be empty")
	ErrEmptyEventName      = errors.New("trigger condition event cannot be empty")
)

// AudienceCondition is a predicate over one named user attribute.
type AudienceCondition struct {
	Attribute string         `json:"attribute"`
	Operator  FilterOperator `json:"operator"`
	Value     string         `json:"value,omitempty"`
}

// Audience groups a survey's attribute conditions under one logic operator.
type Audience struct {
	Operator   LogicOperator       `json:"operator,omitempty"`
	Conditions []AudienceCondition `json:"conditions,omitempty"`
}

// TriggerCondition gates activation on tracked-event counters, e.g.
// "event checkout_started occurred at least 3 times".
type TriggerCondition struct {
	Event    string         `json:"event"`
	Operator FilterOperator `json:"operator"`
	Count    int            `json:"count"`
}

// Trigger describes when an attribute-matched survey may activate.
// A nil DelaySeconds, or a negative value, means immediate activation.
type Trigger struct {
	DelaySeconds *int               `json:"delay,omitempty"`
	Operator     LogicOperator      `json:"operator,omitempty"`
	Conditions   []TriggerCondition `json:"conditions,omitempty"`
}

// Deferred reports whether the trigger requests delayed activation.
func (t *Trigger) Deferred() bool {
	return t != nil && t.DelaySeconds != nil && *t.DelaySeconds >= 0
}

// Theme carries display colors for the rendering collaborator. The core never
// interprets these values.
type Theme struct {
	Background string `json:"background,omitempty"`
	Question   string `json:"question,omitempty"`
	Answer     string `json:"answer,omitempty"`
	Button     string `json:"button,omitempty"`
	Progress   string `json:"progress,omitempty"`
}

// SurveySettings holds per-survey display settings.
type SurveySettings struct {
	Placement       Placement `json:"placement,omitempty"`
	Recurring       bool      `json:"recurring,omitempty"`
	ShowProgressBar bool      `json:"showProgressBar,omitempty"`
	SubmitText      string    `json:"submitText,omitempty"`
}

// QuestionOption is one selectable choice for choice-type questions.
type QuestionOption struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	OrderNumber int    `json:"orderNumber"`
}

// QuestionSettings holds type-specific question settings. Fields not relevant
// to the question's type are ignored.
type QuestionSettings struct {
	Min          int           `json:"min,omitempty"`
	Max          int           `json:"max,omitempty"`
	PositiveText string        `json:"positiveText,omitempty"`
	NegativeText string        `json:"negativeText,omitempty"`
	Shuffle      ShuffleOption `json:"shuffle,omitempty"`
	Required     bool          `json:"required,omitempty"`
	CTALink      string        `json:"ctaLink,omitempty"`
	CTAText      string        `json:"ctaText,omitempty"`
}

// RuleCondition is a predicate over the answers submitted for a question.
type RuleCondition struct {
	Operator FilterOperator `json:"operator"`
	Value    string         `json:"value,omitempty"`
}

// BranchingRule routes to a destination question when its conditions match.
// Destination is another question's ID, or DestinationEnd to finish the survey.
type BranchingRule struct {
	Operator    LogicOperator   `json:"operator,omitempty"`
	Conditions  []RuleCondition `json:"conditions,omitempty"`
	Destination string          `json:"destination"`
}

// Question is one step of a survey.
type Question struct {
	ID          string           `json:"id"`
	Type        QuestionType     `json:"type"`
	Label       string           `json:"label"`
	Description string           `json:"description,omitempty"`
	OrderNumber int              `json:"orderNumber"`
	Options     []QuestionOption `json:"options,omitempty"`
	Settings    QuestionSettings `json:"settings,omitempty"`
	Rules       []BranchingRule  `json:"rules,omitempty"`
}

// Survey is a configured, ordered set of questions plus targeting, trigger,
// and theme metadata. Definitions are immutable after construction except for
// the one-time question sort performed by the orchestrator.
type Survey struct {
	ID        string         `json:"id"`
	Name      string         `json:"name,omitempty"`
	Questions []Question     `json:"questions"`
	Theme     *Theme         `json:"theme,omitempty"`
	Settings  SurveySettings `json:"settings,omitempty"`
	Audience  *Audience      `json:"audience,omitempty"`
	Trigger   *Trigger       `json:"trigger,omitempty"`
}

// SurveyAnswer is the submitted value for a question. Finished is set by the
// orchestrator, never by the rendering layer, on the answer that ends the survey.
type SurveyAnswer struct {
	Answer   string `json:"answer,omitempty"`
	AnswerID string `json:"answerId,omitempty"`
	Finished bool   `json:"finished,omitempty"`
}

// NextKind tags the branching resolver's three-way result.
type NextKind int

const (
	// NextDefault advances to the next question in orderNumber order.
	NextDefault NextKind = iota
	// NextJump advances to the question named by QuestionID.
	NextJump
	// NextTerminate ends the survey immediately, ignoring remaining questions.
	NextTerminate
)

// NextAction is the branching resolver's result. QuestionID is set only when
// Kind is NextJump.
type NextAction struct {
	Kind       NextKind
	QuestionID string
}

// SortQuestions orders the survey's questions by ascending orderNumber. The
// sort is stable so configs with equal order numbers keep their relative order.
func (s *Survey) SortQuestions() {
	sort.SliceStable(s.Questions, func(i, j int) bool {
		return s.Questions[i].OrderNumber < s.Questions[j].OrderNumber
	})
}

// QuestionByID returns the question with the given ID, or nil if absent.
func (s *Survey) QuestionByID(id string) *Question {
	for i := range s.Questions {
		if s.Questions[i].ID == id {
			return &s.Questions[i]
		}
	}
	return nil
}

// Validate performs comprehensive validation on a Survey definition. A
// branching rule that targets a question absent from the survey is a
// configuration defect and fails validation here rather than surfacing
// mid-flow.
func (s *Survey) Validate() error {
	if s.ID == "" {
		return ErrEmptySurveyID
	}
	if len(s.Questions) == 0 {
		return fmt.Errorf("survey %s: %w", s.ID, ErrNoQuestions)
	}

	ids := make(map[string]bool, len(s.Questions))
	for i := range s.Questions {
		q := &s.Questions[i]
		if q.ID == "" {
			return fmt.Errorf("survey %s: %w", s.ID, ErrEmptyQuestionID)
		}
		if ids[q.ID] {
			return fmt.Errorf("survey %s question %s: %w", s.ID, q.ID, ErrDuplicateQuestionID)
		}
		ids[q.ID] = true
		if !IsValidQuestionType(q.Type) {
			return fmt.Errorf("survey %s question %s type %q: %w", s.ID, q.ID, q.Type, ErrInvalidQuestionType)
		}
	}

	for i := range s.Questions {
		q := &s.Questions[i]
		for _, rule := range q.Rules {
			if !IsValidLogicOperator(rule.Operator) {
				return fmt.Errorf("survey %s question %s rule operator %q: %w", s.ID, q.ID, rule.Operator, ErrInvalidOperator)
			}
			for _, cond := range rule.Conditions {
				if !IsValidFilterOperator(cond.Operator) {
					return fmt.Errorf("survey %s question %s condition operator %q: %w", s.ID, q.ID, cond.Operator, ErrInvalidOperator)
				}
			}
			if rule.Destination != DestinationEnd && !ids[rule.Destination] {
				return fmt.Errorf("survey %s question %s destination %q: %w", s.ID, q.ID, rule.Destination, ErrUnknownDestination)
			}
		}
	}

	if s.Audience != nil {
		if !IsValidLogicOperator(s.Audience.Operator) {
			return fmt.Errorf("survey %s audience operator %q: %w", s.ID, s.Audience.Operator, ErrInvalidOperator)
		}
		for _, cond := range s.Audience.Conditions {
			if cond.Attribute == "" {
				return fmt.Errorf("survey %s: %w", s.ID, ErrEmptyAttribute)
			}
			if !IsValidFilterOperator(cond.Operator) {
				return fmt.Errorf("survey %s audience condition operator %q: %w", s.ID, cond.Operator, ErrInvalidOperator)
			}
		}
	}

	if s.Trigger != nil {
		if !IsValidLogicOperator(s.Trigger.Operator) {
			return fmt.Errorf("survey %s trigger operator %q: %w", s.ID, s.Trigger.Operator, ErrInvalidOperator)
		}
		for _, cond := range s.Trigger.Conditions {
			if cond.Event == "" {
				return fmt.Errorf("survey %s: %w", s.ID, ErrEmptyEventName)
			}
			if !IsValidFilterOperator(cond.Operator) {
				return fmt.Errorf("survey %s trigger condition operator %q: %w", s.ID, cond.Operator, ErrInvalidOperator)
			}
		}
	}

	return nil
}
