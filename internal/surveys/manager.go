package surveys

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Formily/formily-web/internal/hub"
	"github.com/Formily/formily-web/internal/logic"
	"github.com/Formily/formily-web/internal/models"
	"github.com/Formily/formily-web/internal/scheduler"
	"github.com/Formily/formily-web/internal/tags"
	"github.com/Formily/formily-web/internal/targeting"
)

// State is the orchestrator's coarse lifecycle state.
type State string

const (
	// StateLoading is the initial state: the survey pool is being
	// attribute-filtered.
	StateLoading State = "loading"
	// StateReady means triggers may be evaluated and a survey rendered.
	StateReady State = "ready"
	// StateRunning means a survey is displayed; render attempts are no-ops.
	StateRunning State = "running"
)

// surveyContainerName is the frame container the orchestrator renders into.
const surveyContainerName = "survey"

// Options holds the orchestrator's collaborators.
type Options struct {
	Client   Client
	Renderer Renderer
	Frame    Frame
	Timer    scheduler.Timer
}

// Manager is the top-level survey orchestration state machine. It loads
// candidate surveys, asks the targeting engine which are eligible, manages
// deferred activation timers, renders the active survey's current question,
// routes answers into the branching resolver, and reports lifecycle events to
// the persistence collaborator.
//
// All mutable state is guarded by one mutex; hub broadcasts, timer callbacks,
// and direct calls are serialized through it, matching the original widget's
// single logical thread.
type Manager struct {
	hub      *hub.Hub
	engine   *targeting.Engine
	resolver *logic.Resolver
	tags     *tags.Manager
	client   Client
	renderer Renderer
	frame    Frame
	timer    scheduler.Timer

	mu         sync.Mutex
	state      State
	container  Container
	pool       []models.Survey   // attribute-matched working pool
	active     []models.Survey   // active queue; head is rendered
	current    *models.Survey    // currently rendered survey, questions sorted
	questionID string            // current question within the rendered survey
	rendered   bool              // mounted flag, independent of state
	generation uint64            // increments per mount
	deferred   map[string]string // surveyID -> pending activation timer ID

	trackedSub  hub.Subscription
	audienceSub hub.Subscription
}

// NewManager creates the orchestrator and runs its loading pass: the survey
// pool is attribute-filtered, triggers are evaluated, and an eligible survey
// is rendered if one is ready.
func NewManager(h *hub.Hub, opts Options) *Manager {
	m := &Manager{
		hub:      h,
		engine:   targeting.NewEngine(h),
		resolver: logic.NewResolver(),
		tags:     tags.NewManager(h),
		client:   opts.Client,
		renderer: opts.Renderer,
		frame:    opts.Frame,
		timer:    opts.Timer,
		deferred: make(map[string]string),
	}
	m.container = m.frame.CreateContainer(surveyContainerName)

	m.trackedSub = h.Subscribe(hub.EventTracked, m.onHubEvent)
	m.audienceSub = h.Subscribe(hub.AudienceUpdated, m.onHubEvent)

	m.mu.Lock()
	m.setStateLocked(StateLoading)
	m.mu.Unlock()
	return m
}

// Stop removes hub subscriptions and cancels pending activation timers.
func (m *Manager) Stop() {
	m.hub.Unsubscribe(m.trackedSub)
	m.hub.Unsubscribe(m.audienceSub)
	m.engine.Close()

	m.mu.Lock()
	defer m.mu.Unlock()
	for surveyID, timerID := range m.deferred {
		if err := m.timer.Cancel(timerID); err != nil {
			slog.Error("Manager Stop cancel timer failed", "error", err, "surveyID", surveyID)
		}
		delete(m.deferred, surveyID)
	}
}

// State returns the orchestrator's current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ActiveSurveyIDs returns the identities in the active queue, head first.
func (m *Manager) ActiveSurveyIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.active))
	for i := range m.active {
		out[i] = m.active[i].ID
	}
	return out
}

// Current returns the rendered survey and question identities, if any.
func (m *Manager) Current() (surveyID, questionID string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.rendered || m.current == nil {
		return "", "", false
	}
	return m.current.ID, m.questionID, true
}

// Sweep reloads the working pool and re-evaluates triggers. Wired to a
// periodic job so eligibility changes that arrive without a hub event, such
// as a lifecycle record written by another session, are picked up.
func (m *Manager) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady {
		return
	}
	m.loadSurveysLocked()
	m.evaluateTriggersLocked()
}

func (m *Manager) onHubEvent(e hub.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slog.Debug("Manager saw hub event", "event", e.Type.String(), "state", m.state)
	if m.state != StateReady {
		slog.Debug("Manager not ready, waiting on queue")
		return
	}

	if e.Type == hub.AudienceUpdated {
		m.loadSurveysLocked()
		return
	}
	m.evaluateTriggersLocked()
}

func (m *Manager) setStateLocked(state State) {
	slog.Debug("Manager setting state", "state", state)
	m.state = state
	m.onEnterLocked(state)
}

func (m *Manager) onEnterLocked(state State) {
	switch state {
	case StateLoading:
		m.loadSurveysLocked()
		m.setStateLocked(StateReady)
	case StateReady:
		m.evaluateTriggersLocked()
		m.renderSurveyLocked(nil)
	case StateRunning:
		// Exists purely to block concurrent render attempts.
	}
}

// loadSurveysLocked rebuilds the working pool: surveys whose audience
// conditions match the current user, minus non-recurring surveys the user has
// already completed or closed.
func (m *Manager) loadSurveysLocked() {
	attrs := m.hub.UserAttributes()
	all := m.hub.Surveys()

	pool := make([]models.Survey, 0, len(all))
	for i := range all {
		survey := all[i]
		if !m.engine.EvaluateAttributes(&survey, attrs) {
			continue
		}
		if m.seenGateLocked(&survey) {
			continue
		}
		pool = append(pool, survey)
	}
	m.pool = pool
	slog.Debug("Manager loaded surveys", "configured", len(all), "matched", len(pool))
}

// seenGateLocked reports whether a prior completed/closed record blocks the
// survey. Recurring surveys are never blocked. A status lookup failure fails
// open so a backend hiccup cannot hide every survey.
func (m *Manager) seenGateLocked(survey *models.Survey) bool {
	if survey.Settings.Recurring {
		return false
	}
	status, err := m.client.SurveyStatus(context.Background(), survey.ID)
	if err != nil {
		slog.Error("Manager survey status lookup failed", "error", err, "surveyID", survey.ID)
		return false
	}
	return status == models.ViewStatusCompleted || status == models.ViewStatusClosed
}

func (m *Manager) evaluateTriggersLocked() {
	matched := m.engine.FilterSurveys(m.pool)
	m.activateSurveysLocked(matched)
}

func (m *Manager) activateSurveysLocked(surveys []models.Survey) {
	slog.Debug("Manager will activate surveys", "count", len(surveys))
	for i := range surveys {
		survey := surveys[i]
		if survey.Trigger.Deferred() {
			m.scheduleDeferredLocked(survey)
			continue
		}
		m.activateSurveyLocked(survey)
	}
	m.renderSurveyLocked(nil)
}

// scheduleDeferredLocked arms a one-shot activation timer for the survey.
// Already-active surveys and surveys with a pending timer are skipped, so
// repeated trigger passes do not stack timers.
func (m *Manager) scheduleDeferredLocked(survey models.Survey) {
	if m.isActiveLocked(survey.ID) {
		return
	}
	if _, pending := m.deferred[survey.ID]; pending {
		return
	}

	delay := time.Duration(*survey.Trigger.DelaySeconds) * time.Second
	slog.Debug("Manager deferring survey activation", "surveyID", survey.ID, "delay", delay)

	timerID, err := m.timer.ScheduleAfter(delay, func() {
		m.activateDeferred(survey)
	})
	if err != nil {
		slog.Error("Manager defer scheduling failed", "error", err, "surveyID", survey.ID)
		return
	}
	m.deferred[survey.ID] = timerID
}

func (m *Manager) activateDeferred(survey models.Survey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deferred, survey.ID)
	m.activateSurveyLocked(survey)
	m.renderSurveyLocked(nil)
}

// activateSurveyLocked adds the survey to the active queue unless an entry
// with the same identity is already present.
func (m *Manager) activateSurveyLocked(survey models.Survey) {
	if m.isActiveLocked(survey.ID) {
		return
	}
	m.active = append(m.active, survey)
	slog.Debug("Manager activated survey", "surveyID", survey.ID, "queue", len(m.active))
}

func (m *Manager) isActiveLocked(surveyID string) bool {
	for i := range m.active {
		if m.active[i].ID == surveyID {
			return true
		}
	}
	return false
}

func (m *Manager) removeActiveLocked(surveyID string) {
	for i := range m.active {
		if m.active[i].ID == surveyID {
			m.active = append(m.active[:i:i], m.active[i+1:]...)
			return
		}
	}
}

func (m *Manager) removePoolLocked(surveyID string) {
	for i := range m.pool {
		if m.pool[i].ID == surveyID {
			m.pool = append(m.pool[:i:i], m.pool[i+1:]...)
			return
		}
	}
}

// renderSurveyLocked renders the given survey, or the head of the active
// queue when nil. Rendering outside ready, or while a survey is mounted, is a
// silent no-op.
func (m *Manager) renderSurveyLocked(survey *models.Survey) {
	if survey == nil {
		if len(m.active) == 0 {
			return
		}
		survey = &m.active[0]
	}

	if m.state != StateReady || m.rendered {
		slog.Debug("Manager render skipped", "state", m.state, "rendered", m.rendered)
		return
	}

	cur := *survey
	cur.SortQuestions()
	if len(cur.Questions) == 0 {
		slog.Error("Manager cannot render survey without questions", "surveyID", cur.ID)
		return
	}

	m.generation++
	m.current = &cur
	m.questionID = cur.Questions[0].ID
	m.rendered = true
	m.setStateLocked(StateRunning)
	slog.Info("Manager rendering survey", "surveyID", cur.ID, "generation", m.generation)

	if err := m.client.MarkSurveyAsSeen(context.Background(), cur.ID, time.Now(), cur.Settings.Recurring); err != nil {
		slog.Error("Manager mark seen failed", "error", err, "surveyID", cur.ID)
	}
	if fn := m.hub.Listeners().OnSurveyDisplayed; fn != nil {
		fn(cur.ID)
	}

	if err := m.renderCurrentLocked(); err != nil {
		slog.Error("Manager render failed", "error", err, "surveyID", cur.ID)
		m.rendered = false
		m.current = nil
		m.questionID = ""
		m.state = StateReady
	}
}

// renderCurrentLocked mounts the current question onto the render surface.
func (m *Manager) renderCurrentLocked() error {
	q := m.current.QuestionByID(m.questionID)
	if q == nil {
		return fmt.Errorf("question %s not found in survey %s", m.questionID, m.current.ID)
	}

	question := *q
	question.Options = shuffledOptions(q)

	surveyID := m.current.ID
	rc := RenderContext{
		Container:  m.container,
		Survey:     m.current,
		Question:   question,
		Progress:   m.progressLocked(),
		SubmitText: m.current.Settings.SubmitText,
		Theme:      m.current.Theme,
		ReplaceTags: func(content string) string {
			return m.tags.ReplaceTags(surveyID, content)
		},
	}
	return m.renderer.Render(rc)
}

// progressLocked is the fraction of questions already passed, by position.
func (m *Manager) progressLocked() float64 {
	for i := range m.current.Questions {
		if m.current.Questions[i].ID == m.questionID {
			return float64(i) / float64(len(m.current.Questions))
		}
	}
	return 0
}

// OnAnswered routes the submitted answers for the current question: the
// finished flag is set on the last entry when the question is the survey's
// last by position, the answers are persisted, and the branching resolver
// decides whether to advance, jump, or complete.
//
// Persistence is attempted before the flow advances, but a persistence
// failure never blocks the local state transition: it is logged and the user
// still moves on. A branching rule that targets a question absent from the
// survey is a configuration defect and is returned as an error, with the
// current question left in place.
func (m *Manager) OnAnswered(ctx context.Context, answers []models.SurveyAnswer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.rendered || m.current == nil {
		return fmt.Errorf("no survey is currently displayed")
	}
	q := m.current.QuestionByID(m.questionID)
	if q == nil {
		return fmt.Errorf("question %s not found in survey %s", m.questionID, m.current.ID)
	}

	idx := m.questionIndexLocked(q.ID)
	last := idx == len(m.current.Questions)-1
	if len(answers) > 0 {
		answers[len(answers)-1].Finished = last
	}

	surveyID := m.current.ID
	if err := m.client.PersistSurveyAnswers(ctx, surveyID, q.ID, answers); err != nil {
		slog.Error("Manager persist answers failed", "error", err, "surveyID", surveyID, "questionID", q.ID)
	}
	if fn := m.hub.Listeners().OnQuestionAnswered; fn != nil {
		fn(surveyID, q.ID, answers)
	}

	next := m.resolver.NextQuestion(q, answers)

	var nextQuestion *models.Question
	switch next.Kind {
	case models.NextTerminate:
		nextQuestion = nil
	case models.NextJump:
		nextQuestion = m.current.QuestionByID(next.QuestionID)
		if nextQuestion == nil {
			slog.Error("Manager branching rule targets unknown question", "surveyID", surveyID, "questionID", q.ID, "target", next.QuestionID)
			return fmt.Errorf("survey %s question %s: %w", surveyID, q.ID, models.ErrUnknownDestination)
		}
	case models.NextDefault:
		if idx+1 < len(m.current.Questions) {
			nextQuestion = &m.current.Questions[idx+1]
		}
	}

	if last || next.Kind == models.NextTerminate || nextQuestion == nil {
		m.completeCurrentLocked(ctx)
		return nil
	}

	m.questionID = nextQuestion.ID
	if err := m.renderCurrentLocked(); err != nil {
		slog.Error("Manager re-render failed", "error", err, "surveyID", surveyID, "questionID", m.questionID)
	}
	return nil
}

// completeCurrentLocked finishes the rendered survey: the completion hook is
// attempted, then the survey is torn down, dropped from the active queue and
// the working pool, and the orchestrator returns to ready.
func (m *Manager) completeCurrentLocked(ctx context.Context) {
	surveyID := m.current.ID
	if err := m.client.MarkSurveyAsCompleted(ctx, surveyID); err != nil {
		slog.Error("Manager mark completed failed", "error", err, "surveyID", surveyID)
	}
	if fn := m.hub.Listeners().OnSurveyCompleted; fn != nil {
		fn(surveyID)
	}
	slog.Info("Manager survey completed", "surveyID", surveyID)

	m.teardownLocked()
	m.removeActiveLocked(surveyID)
	m.removePoolLocked(surveyID)
	m.setStateLocked(StateReady)
}

// Dismiss closes the rendered survey on the user's behalf: the close hook is
// attempted, then the survey is hidden.
func (m *Manager) Dismiss(ctx context.Context) error {
	m.mu.Lock()
	if !m.rendered || m.current == nil {
		m.mu.Unlock()
		return fmt.Errorf("no survey is currently displayed")
	}
	surveyID := m.current.ID
	if err := m.client.CloseSurvey(ctx, surveyID); err != nil {
		slog.Error("Manager close survey failed", "error", err, "surveyID", surveyID)
	}
	if fn := m.hub.Listeners().OnSurveyClosed; fn != nil {
		fn(surveyID)
	}
	m.mu.Unlock()

	m.HideSurvey(surveyID)
	return nil
}

// HideSurvey tears down the rendering surface, recreates it under the same
// name, cancels any pending activation timer for the survey, removes the
// survey from the active queue and the working pool, returns to ready, and
// attempts to render the new head of the queue. The survey rejoins the pool
// on the next audience reload if it still matches.
func (m *Manager) HideSurvey(surveyID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if timerID, ok := m.deferred[surveyID]; ok {
		if err := m.timer.Cancel(timerID); err != nil {
			slog.Error("Manager cancel pending activation failed", "error", err, "surveyID", surveyID)
		}
		delete(m.deferred, surveyID)
	}

	m.teardownLocked()
	m.removeActiveLocked(surveyID)
	m.removePoolLocked(surveyID)
	slog.Debug("Manager hid survey", "surveyID", surveyID, "queue", len(m.active))
	m.setStateLocked(StateReady)
}

// ShowSurvey looks up the survey in the full configured pool and renders it
// immediately, ahead of anything queued. When another survey is running it is
// force-closed first: unmounted and left in the queue behind the requested
// one, without a persistence close.
func (m *Manager) ShowSurvey(surveyID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	survey := m.hub.SurveyByID(surveyID)
	if survey == nil {
		slog.Warn("Manager ShowSurvey unknown survey", "surveyID", surveyID)
		return
	}

	if m.rendered {
		slog.Debug("Manager force-closing running survey", "surveyID", m.current.ID, "requested", surveyID)
		m.teardownLocked()
		m.state = StateReady
	}

	m.removeActiveLocked(surveyID)
	m.active = append([]models.Survey{*survey}, m.active...)
	m.renderSurveyLocked(&m.active[0])
}

// teardownLocked unmounts the render surface and recreates the container
// under the same name.
func (m *Manager) teardownLocked() {
	m.renderer.Unmount()
	name := m.container.Name
	m.frame.RemoveContainer(name)
	m.container = m.frame.CreateContainer(name)
	m.rendered = false
	m.current = nil
	m.questionID = ""
}

func (m *Manager) questionIndexLocked(questionID string) int {
	for i := range m.current.Questions {
		if m.current.Questions[i].ID == questionID {
			return i
		}
	}
	return -1
}
