package surveys

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Formily/formily-web/internal/hub"
	"github.com/Formily/formily-web/internal/models"
)

type renderCall struct {
	surveyID   string
	questionID string
	progress   float64
}

type recordRenderer struct {
	mu       sync.Mutex
	renders  []renderCall
	unmounts int
	err      error
}

func (r *recordRenderer) Render(rc RenderContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.renders = append(r.renders, renderCall{
		surveyID:   rc.Survey.ID,
		questionID: rc.Question.ID,
		progress:   rc.Progress,
	})
	return nil
}

func (r *recordRenderer) Unmount() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unmounts++
}

func (r *recordRenderer) last(t *testing.T) renderCall {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.renders) == 0 {
		t.Fatal("expected at least one render call")
	}
	return r.renders[len(r.renders)-1]
}

func (r *recordRenderer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.renders)
}

type persistCall struct {
	surveyID   string
	questionID string
	answers    []models.SurveyAnswer
}

type fakeClient struct {
	mu         sync.Mutex
	statuses   map[string]models.ViewStatus
	statusErr  error
	persistErr error
	persisted  []persistCall
	seen       []string
	closed     []string
	completed  []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{statuses: make(map[string]models.ViewStatus)}
}

func (c *fakeClient) PersistSurveyAnswers(ctx context.Context, surveyID, questionID string, answers []models.SurveyAnswer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persisted = append(c.persisted, persistCall{surveyID: surveyID, questionID: questionID, answers: answers})
	return c.persistErr
}

func (c *fakeClient) MarkSurveyAsSeen(ctx context.Context, surveyID string, seenAt time.Time, recurring bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, surveyID)
	return nil
}

func (c *fakeClient) CloseSurvey(ctx context.Context, surveyID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, surveyID)
	return nil
}

func (c *fakeClient) MarkSurveyAsCompleted(ctx context.Context, surveyID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed = append(c.completed, surveyID)
	return nil
}

func (c *fakeClient) SurveyStatus(ctx context.Context, surveyID string) (models.ViewStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.statusErr != nil {
		return "", c.statusErr
	}
	return c.statuses[surveyID], nil
}

// manualTimer implements scheduler.Timer with explicit firing so tests
// control deferred activation.
type manualTimer struct {
	mu   sync.Mutex
	next int
	fns  map[string]func()
}

func newManualTimer() *manualTimer {
	return &manualTimer{fns: make(map[string]func())}
}

func (t *manualTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	if delay < 0 {
		return "", errors.New("delay cannot be negative")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	id := fmt.Sprintf("timer_%d", t.next)
	t.fns[id] = fn
	return id, nil
}

func (t *manualTimer) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.fns, id)
	return nil
}

func (t *manualTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fns = make(map[string]func())
}

func (t *manualTimer) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.fns)
}

// fireAll runs every pending callback outside the timer lock.
func (t *manualTimer) fireAll() {
	t.mu.Lock()
	fns := make([]func(), 0, len(t.fns))
	for id, fn := range t.fns {
		fns = append(fns, fn)
		delete(t.fns, id)
	}
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func textQuestion(id string, order int, rules ...models.BranchingRule) models.Question {
	return models.Question{
		ID:          id,
		Type:        models.QuestionTypeText,
		Label:       "Question " + id,
		OrderNumber: order,
		Rules:       rules,
	}
}

func simpleSurvey(id string, questions ...models.Question) models.Survey {
	return models.Survey{ID: id, Name: "Survey " + id, Questions: questions}
}

type managerFixture struct {
	hub      *hub.Hub
	manager  *Manager
	client   *fakeClient
	renderer *recordRenderer
	timer    *manualTimer
}

func newFixture(t *testing.T, cfg hub.Config) *managerFixture {
	t.Helper()
	f := &managerFixture{
		hub:      hub.New(cfg),
		client:   newFakeClient(),
		renderer: &recordRenderer{},
		timer:    newManualTimer(),
	}
	f.manager = NewManager(f.hub, Options{
		Client:   f.client,
		Renderer: f.renderer,
		Frame:    NopFrame{},
		Timer:    f.timer,
	})
	t.Cleanup(f.manager.Stop)
	return f
}

func newFixtureWithClient(t *testing.T, cfg hub.Config, client *fakeClient) *managerFixture {
	t.Helper()
	f := &managerFixture{
		hub:      hub.New(cfg),
		client:   client,
		renderer: &recordRenderer{},
		timer:    newManualTimer(),
	}
	f.manager = NewManager(f.hub, Options{
		Client:   f.client,
		Renderer: f.renderer,
		Frame:    NopFrame{},
		Timer:    f.timer,
	})
	t.Cleanup(f.manager.Stop)
	return f
}

func TestManagerRendersEligibleSurveyOnStartup(t *testing.T) {
	survey := simpleSurvey("s1",
		textQuestion("q2", 2),
		textQuestion("q1", 1),
	)
	f := newFixture(t, hub.Config{Surveys: []models.Survey{survey}, UserID: "u1"})

	if got := f.manager.State(); got != StateRunning {
		t.Fatalf("expected state %s, got %s", StateRunning, got)
	}
	call := f.renderer.last(t)
	if call.surveyID != "s1" || call.questionID != "q1" {
		t.Errorf("expected first question q1 by order, got survey %s question %s", call.surveyID, call.questionID)
	}
	if call.progress != 0 {
		t.Errorf("expected progress 0 on first question, got %v", call.progress)
	}
	if len(f.client.seen) != 1 || f.client.seen[0] != "s1" {
		t.Errorf("expected survey marked as seen once, got %v", f.client.seen)
	}
}

func TestManagerWaitsForTrigger(t *testing.T) {
	survey := simpleSurvey("s1", textQuestion("q1", 1))
	survey.Trigger = &models.Trigger{
		Conditions: []models.TriggerCondition{
			{Event: "signup", Operator: models.FilterOperatorGreaterEq, Count: 2},
		},
	}
	f := newFixture(t, hub.Config{Surveys: []models.Survey{survey}, UserID: "u1"})

	if got := f.manager.State(); got != StateReady {
		t.Fatalf("expected state %s before trigger, got %s", StateReady, got)
	}
	if f.renderer.count() != 0 {
		t.Fatalf("expected no renders before trigger, got %d", f.renderer.count())
	}

	f.hub.TrackEvent(models.TrackedEvent{UserID: "u1", Name: "signup"})
	if got := f.manager.State(); got != StateReady {
		t.Fatalf("expected state %s after one event, got %s", StateReady, got)
	}

	f.hub.TrackEvent(models.TrackedEvent{UserID: "u1", Name: "signup"})
	if got := f.manager.State(); got != StateRunning {
		t.Fatalf("expected state %s after threshold, got %s", StateRunning, got)
	}
	if call := f.renderer.last(t); call.surveyID != "s1" {
		t.Errorf("expected survey s1 rendered, got %s", call.surveyID)
	}
}

func TestManagerAudienceReload(t *testing.T) {
	survey := simpleSurvey("s1", textQuestion("q1", 1))
	survey.Audience = &models.Audience{
		Conditions: []models.AudienceCondition{
			{Attribute: "plan", Operator: models.FilterOperatorIs, Value: "pro"},
		},
	}
	f := newFixture(t, hub.Config{Surveys: []models.Survey{survey}, UserID: "u1"})

	if got := f.manager.State(); got != StateReady {
		t.Fatalf("expected state %s for unmatched audience, got %s", StateReady, got)
	}

	// The reload refreshes the pool; the next trigger pass activates.
	f.hub.UpdateUserAttributes(models.UserAttributes{"plan": "pro"})
	f.hub.TrackEvent(models.TrackedEvent{UserID: "u1", Name: "page_view"})

	if got := f.manager.State(); got != StateRunning {
		t.Fatalf("expected state %s after audience match, got %s", StateRunning, got)
	}
}

func TestManagerSingleQuestionFlow(t *testing.T) {
	var completions []string
	survey := simpleSurvey("s1", textQuestion("q1", 1))
	f := newFixture(t, hub.Config{
		Surveys: []models.Survey{survey},
		UserID:  "u1",
		Listeners: hub.Listeners{
			OnSurveyCompleted: func(surveyID string) { completions = append(completions, surveyID) },
		},
	})

	if err := f.manager.OnAnswered(context.Background(), []models.SurveyAnswer{{Answer: "great"}}); err != nil {
		t.Fatalf("OnAnswered failed: %v", err)
	}

	if len(f.client.persisted) != 1 {
		t.Fatalf("expected 1 persisted call, got %d", len(f.client.persisted))
	}
	p := f.client.persisted[0]
	if p.surveyID != "s1" || p.questionID != "q1" {
		t.Errorf("persisted wrong identities: %s/%s", p.surveyID, p.questionID)
	}
	if !p.answers[len(p.answers)-1].Finished {
		t.Error("expected last answer flagged finished on the last question")
	}
	if len(f.client.completed) != 1 || f.client.completed[0] != "s1" {
		t.Errorf("expected exactly one completion record, got %v", f.client.completed)
	}
	if len(completions) != 1 || completions[0] != "s1" {
		t.Errorf("expected completion listener invoked once, got %v", completions)
	}
	if got := f.manager.State(); got != StateReady {
		t.Errorf("expected state %s after completion, got %s", StateReady, got)
	}
	if ids := f.manager.ActiveSurveyIDs(); len(ids) != 0 {
		t.Errorf("expected empty active queue after completion, got %v", ids)
	}
}

func TestManagerJumpRule(t *testing.T) {
	q1 := textQuestion("q1", 1, models.BranchingRule{
		Conditions:  []models.RuleCondition{{Operator: models.FilterOperatorIs, Value: "skip"}},
		Destination: "q3",
	})
	survey := simpleSurvey("s1", q1, textQuestion("q2", 2), textQuestion("q3", 3))
	f := newFixture(t, hub.Config{Surveys: []models.Survey{survey}, UserID: "u1"})

	if err := f.manager.OnAnswered(context.Background(), []models.SurveyAnswer{{Answer: "skip"}}); err != nil {
		t.Fatalf("OnAnswered failed: %v", err)
	}

	_, questionID, ok := f.manager.Current()
	if !ok || questionID != "q3" {
		t.Fatalf("expected jump to q3, got %q (displayed=%v)", questionID, ok)
	}
	call := f.renderer.last(t)
	if call.questionID != "q3" {
		t.Errorf("expected q3 rendered, got %s", call.questionID)
	}
	if want := 2.0 / 3.0; call.progress != want {
		t.Errorf("expected progress %v, got %v", want, call.progress)
	}
}

func TestManagerDefaultAdvance(t *testing.T) {
	survey := simpleSurvey("s1", textQuestion("q1", 1), textQuestion("q2", 2))
	f := newFixture(t, hub.Config{Surveys: []models.Survey{survey}, UserID: "u1"})

	if err := f.manager.OnAnswered(context.Background(), []models.SurveyAnswer{{Answer: "ok"}}); err != nil {
		t.Fatalf("OnAnswered failed: %v", err)
	}

	if f.client.persisted[0].answers[0].Finished {
		t.Error("expected finished false on non-last question")
	}
	_, questionID, ok := f.manager.Current()
	if !ok || questionID != "q2" {
		t.Fatalf("expected advance to q2, got %q", questionID)
	}
}

func TestManagerTerminateRule(t *testing.T) {
	q1 := textQuestion("q1", 1, models.BranchingRule{
		Conditions:  []models.RuleCondition{{Operator: models.FilterOperatorIs, Value: "no"}},
		Destination: models.DestinationEnd,
	})
	survey := simpleSurvey("s1", q1, textQuestion("q2", 2))
	f := newFixture(t, hub.Config{Surveys: []models.Survey{survey}, UserID: "u1"})

	if err := f.manager.OnAnswered(context.Background(), []models.SurveyAnswer{{Answer: "no"}}); err != nil {
		t.Fatalf("OnAnswered failed: %v", err)
	}

	if f.client.persisted[0].answers[0].Finished {
		t.Error("terminate on a non-last question must not set the finished flag")
	}
	if len(f.client.completed) != 1 {
		t.Fatalf("expected completion record, got %v", f.client.completed)
	}
	if got := f.manager.State(); got != StateReady {
		t.Errorf("expected state %s after terminate, got %s", StateReady, got)
	}
}

func TestManagerDeferredActivation(t *testing.T) {
	delay := 30
	survey := simpleSurvey("s1", textQuestion("q1", 1))
	survey.Trigger = &models.Trigger{DelaySeconds: &delay}
	f := newFixture(t, hub.Config{Surveys: []models.Survey{survey}, UserID: "u1"})

	if got := f.manager.State(); got != StateReady {
		t.Fatalf("expected state %s before timer fires, got %s", StateReady, got)
	}
	if f.timer.pending() != 1 {
		t.Fatalf("expected 1 pending activation timer, got %d", f.timer.pending())
	}

	// Repeated trigger passes must not stack timers.
	f.hub.TrackEvent(models.TrackedEvent{UserID: "u1", Name: "page_view"})
	if f.timer.pending() != 1 {
		t.Fatalf("expected still 1 pending timer, got %d", f.timer.pending())
	}

	f.timer.fireAll()
	if got := f.manager.State(); got != StateRunning {
		t.Fatalf("expected state %s after timer fired, got %s", StateRunning, got)
	}
	if call := f.renderer.last(t); call.surveyID != "s1" {
		t.Errorf("expected survey s1 rendered, got %s", call.surveyID)
	}
}

func TestManagerHideCancelsPendingTimer(t *testing.T) {
	delay := 30
	survey := simpleSurvey("s1", textQuestion("q1", 1))
	survey.Trigger = &models.Trigger{DelaySeconds: &delay}
	f := newFixture(t, hub.Config{Surveys: []models.Survey{survey}, UserID: "u1"})

	if f.timer.pending() != 1 {
		t.Fatalf("expected 1 pending timer, got %d", f.timer.pending())
	}

	f.manager.HideSurvey("s1")

	if f.timer.pending() != 0 {
		t.Fatalf("expected pending timer cancelled, got %d", f.timer.pending())
	}
	if got := f.manager.State(); got != StateReady {
		t.Errorf("expected state %s, got %s", StateReady, got)
	}
}

func TestManagerHideRendersNextInQueue(t *testing.T) {
	a := simpleSurvey("a", textQuestion("q1", 1))
	b := simpleSurvey("b", textQuestion("q1", 1))
	f := newFixture(t, hub.Config{Surveys: []models.Survey{a, b}, UserID: "u1"})

	surveyID, _, ok := f.manager.Current()
	if !ok || surveyID != "a" {
		t.Fatalf("expected a rendered first, got %q", surveyID)
	}

	f.manager.HideSurvey("a")

	surveyID, _, ok = f.manager.Current()
	if !ok || surveyID != "b" {
		t.Fatalf("expected b rendered after hide, got %q (displayed=%v)", surveyID, ok)
	}
	if f.renderer.unmounts == 0 {
		t.Error("expected the surface unmounted on hide")
	}
}

func TestManagerShowSurveyForceClosesCurrent(t *testing.T) {
	a := simpleSurvey("a", textQuestion("q1", 1))
	b := simpleSurvey("b", textQuestion("q1", 1))
	// b never matches on its own, so show must reach into the full pool.
	b.Audience = &models.Audience{
		Conditions: []models.AudienceCondition{
			{Attribute: "plan", Operator: models.FilterOperatorIs, Value: "enterprise"},
		},
	}
	f := newFixture(t, hub.Config{Surveys: []models.Survey{a, b}, UserID: "u1"})

	surveyID, _, _ := f.manager.Current()
	if surveyID != "a" {
		t.Fatalf("expected a rendered first, got %q", surveyID)
	}

	f.manager.ShowSurvey("b")

	surveyID, _, ok := f.manager.Current()
	if !ok || surveyID != "b" {
		t.Fatalf("expected b rendered after show, got %q", surveyID)
	}
	ids := f.manager.ActiveSurveyIDs()
	if len(ids) != 2 || ids[0] != "b" || ids[1] != "a" {
		t.Errorf("expected queue [b a], got %v", ids)
	}
	if len(f.client.closed) != 0 {
		t.Errorf("force-close must not record a dismissal, got %v", f.client.closed)
	}
}

func TestManagerShowSurveyUnknownID(t *testing.T) {
	a := simpleSurvey("a", textQuestion("q1", 1))
	f := newFixture(t, hub.Config{Surveys: []models.Survey{a}, UserID: "u1"})

	f.manager.ShowSurvey("missing")

	surveyID, _, ok := f.manager.Current()
	if !ok || surveyID != "a" {
		t.Fatalf("expected a still rendered, got %q (displayed=%v)", surveyID, ok)
	}
}

func TestManagerDismissRecordsClose(t *testing.T) {
	var closes []string
	survey := simpleSurvey("s1", textQuestion("q1", 1))
	f := newFixture(t, hub.Config{
		Surveys: []models.Survey{survey},
		UserID:  "u1",
		Listeners: hub.Listeners{
			OnSurveyClosed: func(surveyID string) { closes = append(closes, surveyID) },
		},
	})

	if err := f.manager.Dismiss(context.Background()); err != nil {
		t.Fatalf("Dismiss failed: %v", err)
	}

	if len(f.client.closed) != 1 || f.client.closed[0] != "s1" {
		t.Errorf("expected close recorded once, got %v", f.client.closed)
	}
	if len(closes) != 1 {
		t.Errorf("expected close listener invoked once, got %v", closes)
	}
	if got := f.manager.State(); got != StateReady {
		t.Errorf("expected state %s after dismiss, got %s", StateReady, got)
	}
}

func TestManagerSeenGate(t *testing.T) {
	tests := []struct {
		name      string
		status    models.ViewStatus
		statusErr error
		recurring bool
		wantShown bool
	}{
		{name: "completed non-recurring is blocked", status: models.ViewStatusCompleted, wantShown: false},
		{name: "closed non-recurring is blocked", status: models.ViewStatusClosed, wantShown: false},
		{name: "seen only is not blocked", status: models.ViewStatusSeen, wantShown: true},
		{name: "completed recurring is shown again", status: models.ViewStatusCompleted, recurring: true, wantShown: true},
		{name: "status lookup failure fails open", statusErr: errors.New("backend down"), wantShown: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			survey := simpleSurvey("s1", textQuestion("q1", 1))
			survey.Settings.Recurring = tt.recurring
			client := newFakeClient()
			client.statuses["s1"] = tt.status
			client.statusErr = tt.statusErr
			f := newFixtureWithClient(t, hub.Config{Surveys: []models.Survey{survey}, UserID: "u1"}, client)

			shown := f.manager.State() == StateRunning
			if shown != tt.wantShown {
				t.Errorf("shown = %v, want %v", shown, tt.wantShown)
			}
		})
	}
}

func TestManagerActivationIdempotent(t *testing.T) {
	survey := simpleSurvey("s1", textQuestion("q1", 1), textQuestion("q2", 2))
	survey.Trigger = &models.Trigger{
		Conditions: []models.TriggerCondition{
			{Event: "signup", Operator: models.FilterOperatorGreaterEq, Count: 1},
		},
	}
	f := newFixture(t, hub.Config{Surveys: []models.Survey{survey}, UserID: "u1"})

	f.hub.TrackEvent(models.TrackedEvent{UserID: "u1", Name: "signup"})
	f.hub.TrackEvent(models.TrackedEvent{UserID: "u1", Name: "signup"})

	if ids := f.manager.ActiveSurveyIDs(); len(ids) != 1 {
		t.Fatalf("expected one queue entry despite repeated triggers, got %v", ids)
	}
	if f.renderer.count() != 1 {
		t.Errorf("expected exactly one render, got %d", f.renderer.count())
	}
}

func TestManagerPersistFailureDoesNotBlockFlow(t *testing.T) {
	survey := simpleSurvey("s1", textQuestion("q1", 1), textQuestion("q2", 2))
	client := newFakeClient()
	client.persistErr = errors.New("storage offline")
	f := newFixtureWithClient(t, hub.Config{Surveys: []models.Survey{survey}, UserID: "u1"}, client)

	if err := f.manager.OnAnswered(context.Background(), []models.SurveyAnswer{{Answer: "ok"}}); err != nil {
		t.Fatalf("OnAnswered failed: %v", err)
	}

	_, questionID, ok := f.manager.Current()
	if !ok || questionID != "q2" {
		t.Fatalf("expected flow to advance despite persistence failure, got %q", questionID)
	}
}

func TestManagerOnAnsweredWithoutSurvey(t *testing.T) {
	survey := simpleSurvey("s1", textQuestion("q1", 1))
	survey.Audience = &models.Audience{
		Conditions: []models.AudienceCondition{
			{Attribute: "plan", Operator: models.FilterOperatorIs, Value: "pro"},
		},
	}
	f := newFixture(t, hub.Config{Surveys: []models.Survey{survey}, UserID: "u1"})

	if err := f.manager.OnAnswered(context.Background(), []models.SurveyAnswer{{Answer: "x"}}); err == nil {
		t.Fatal("expected error when no survey is displayed")
	}
}

func TestManagerCompletionRendersNextSurvey(t *testing.T) {
	a := simpleSurvey("a", textQuestion("q1", 1))
	b := simpleSurvey("b", textQuestion("q1", 1))
	f := newFixture(t, hub.Config{Surveys: []models.Survey{a, b}, UserID: "u1"})

	if err := f.manager.OnAnswered(context.Background(), []models.SurveyAnswer{{Answer: "done"}}); err != nil {
		t.Fatalf("OnAnswered failed: %v", err)
	}

	surveyID, _, ok := f.manager.Current()
	if !ok || surveyID != "b" {
		t.Fatalf("expected b rendered after a completed, got %q (displayed=%v)", surveyID, ok)
	}
	if len(f.client.completed) != 1 || f.client.completed[0] != "a" {
		t.Errorf("expected only a completed, got %v", f.client.completed)
	}
}
