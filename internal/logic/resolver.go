// Package logic computes the next question to show from per-question
// branching rules.
package logic

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/Formily/formily-web/internal/models"
)

// Resolver evaluates branching rules. It holds no state; results are a pure
// function of question and answers.
type Resolver struct{}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// NextQuestion evaluates the question's branching rules against the submitted
// answers, in rule order. The first rule whose conditions combine to true
// under the rule's logic operator decides the outcome: a question identity
// means jump there, DestinationEnd terminates the survey. When no rule
// matches, the default next question (ascending orderNumber) applies.
func (r *Resolver) NextQuestion(question *models.Question, answers []models.SurveyAnswer) models.NextAction {
	for _, rule := range question.Rules {
		if !ruleMatches(rule, answers) {
			continue
		}
		if rule.Destination == models.DestinationEnd {
			slog.Debug("Resolver rule terminates survey", "questionID", question.ID)
			return models.NextAction{Kind: models.NextTerminate}
		}
		slog.Debug("Resolver rule jumps", "questionID", question.ID, "target", rule.Destination)
		return models.NextAction{Kind: models.NextJump, QuestionID: rule.Destination}
	}
	return models.NextAction{Kind: models.NextDefault}
}

// ruleMatches combines the rule's conditions under its logic operator. A rule
// without conditions matches unconditionally. Malformed conditions fail
// closed: the rule is treated as non-matching and the defect is logged.
func ruleMatches(rule models.BranchingRule, answers []models.SurveyAnswer) bool {
	if len(rule.Conditions) == 0 {
		return true
	}

	matched := 0
	for _, cond := range rule.Conditions {
		ok, err := conditionMatches(cond, answers)
		if err != nil {
			slog.Error("Resolver condition failed", "operator", cond.Operator, "error", err)
			return false
		}
		if ok {
			matched++
		}
	}

	if rule.Operator == models.LogicOperatorAnd {
		return matched == len(rule.Conditions)
	}
	return matched > 0
}

// conditionMatches reports whether any submitted answer satisfies the
// condition. Both the raw answer value and the selected answer ID are checked,
// so choice questions can branch on option identity.
func conditionMatches(cond models.RuleCondition, answers []models.SurveyAnswer) (bool, error) {
	switch cond.Operator {
	case models.FilterOperatorIs:
		return anyAnswer(answers, func(v string) bool { return v == cond.Value }), nil
	case models.FilterOperatorIsNot:
		return !anyAnswer(answers, func(v string) bool { return v == cond.Value }), nil
	case models.FilterOperatorContains:
		return anyAnswer(answers, func(v string) bool { return strings.Contains(v, cond.Value) }), nil
	case models.FilterOperatorNotContains:
		return !anyAnswer(answers, func(v string) bool { return strings.Contains(v, cond.Value) }), nil
	case models.FilterOperatorHasValue:
		return anyAnswer(answers, func(v string) bool { return v != "" }), nil
	case models.FilterOperatorGreater, models.FilterOperatorGreaterEq,
		models.FilterOperatorLess, models.FilterOperatorLessEq:
		return anyAnswerNumeric(answers, cond)
	default:
		return false, models.ErrInvalidOperator
	}
}

func anyAnswer(answers []models.SurveyAnswer, pred func(string) bool) bool {
	for _, a := range answers {
		if pred(a.Answer) || (a.AnswerID != "" && pred(a.AnswerID)) {
			return true
		}
	}
	return false
}

func anyAnswerNumeric(answers []models.SurveyAnswer, cond models.RuleCondition) (bool, error) {
	target, err := strconv.ParseFloat(cond.Value, 64)
	if err != nil {
		return false, err
	}
	for _, a := range answers {
		v, err := strconv.ParseFloat(a.Answer, 64)
		if err != nil {
			continue
		}
		var ok bool
		switch cond.Operator {
		case models.FilterOperatorGreater:
			ok = v > target
		case models.FilterOperatorGreaterEq:
			ok = v >= target
		case models.FilterOperatorLess:
			ok = v < target
		case models.FilterOperatorLessEq:
			ok = v <= target
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
