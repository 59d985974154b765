// Package tags resolves template placeholders in survey text against live
// hub state.
package tags

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/Formily/formily-web/internal/hub"
)

// tagPattern matches {{name}} and {{name | fallback}} placeholders.
var tagPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.-]+)\s*(?:\|\s*([^}]*?)\s*)?\}\}`)

// Manager substitutes placeholder tokens in survey content with values from
// the hub's live user attributes. Substitution is best-effort: unresolvable
// tokens are left verbatim and the caller never sees an error.
type Manager struct {
	hub *hub.Hub
}

// NewManager creates a tag manager reading from the given hub.
func NewManager(h *hub.Hub) *Manager {
	return &Manager{hub: h}
}

// ReplaceTags scans content for placeholder tokens and substitutes values
// from the user's attributes, scoped to the given survey.
func (m *Manager) ReplaceTags(surveyID, content string) string {
	if !strings.Contains(content, "{{") {
		return content
	}

	attrs := m.hub.UserAttributes()
	out := tagPattern.ReplaceAllStringFunc(content, func(token string) string {
		groups := tagPattern.FindStringSubmatch(token)
		name, fallback := groups[1], groups[2]
		if value, ok := attrs[name]; ok && value != "" {
			return value
		}
		if fallback != "" {
			return fallback
		}
		slog.Debug("Manager ReplaceTags unresolved token", "surveyID", surveyID, "token", name)
		return token
	})
	return out
}
