// Package surveys implements the survey orchestration state machine.
package surveys

import (
	"log/slog"

	"github.com/Formily/formily-web/internal/models"
)

// Container is a named mount point obtained from the frame collaborator.
type Container struct {
	Name string
}

// Frame creates and removes mount points. The orchestrator tears down and
// recreates its container under the same name when hiding a survey.
type Frame interface {
	CreateContainer(name string) Container
	RemoveContainer(name string)
}

// RenderContext carries everything the rendering collaborator needs for one
// question. The orchestrator does not inspect what the surface does with it.
type RenderContext struct {
	Container  Container
	Survey     *models.Survey
	Question   models.Question
	Progress   float64
	SubmitText string
	Theme      *models.Theme

	// ReplaceTags resolves placeholder tokens in display content.
	ReplaceTags func(content string) string
}

// Renderer is the opaque mount/unmount surface for survey display.
// Implementations must not call back into the Manager from within Render or
// Unmount; answer submission happens through Manager.OnAnswered afterwards.
type Renderer interface {
	Render(rc RenderContext) error
	Unmount()
}

// NopFrame is a Frame for headless deployments and tests.
type NopFrame struct{}

func (NopFrame) CreateContainer(name string) Container { return Container{Name: name} }
func (NopFrame) RemoveContainer(name string)           {}

// LogRenderer logs render calls instead of mounting anything. Used by the
// service binary, where actual display happens in the embedding web client.
type LogRenderer struct{}

func (LogRenderer) Render(rc RenderContext) error {
	slog.Info("LogRenderer Render", "surveyID", rc.Survey.ID, "questionID", rc.Question.ID, "progress", rc.Progress)
	return nil
}

func (LogRenderer) Unmount() {
	slog.Debug("LogRenderer Unmount")
}
