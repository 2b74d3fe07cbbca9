package compound

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mohitkumar/actionrouter/action"
	"github.com/mohitkumar/actionrouter/analytics"
	"github.com/mohitkumar/actionrouter/modal"
	"github.com/mohitkumar/actionrouter/model"
	"github.com/mohitkumar/actionrouter/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callLog struct {
	mu      sync.Mutex
	calls   []string
	failing map[string]bool
}

func (c *callLog) invoke(ctx context.Context, service string, method string, params map[string]any) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, service+"."+method)
	if c.failing[service+"."+method] {
		return nil, errors.New(service + " unavailable")
	}
	return map[string]any{"status": "ok"}, nil
}

func (c *callLog) fail(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing == nil {
		c.failing = map[string]bool{}
	}
	c.failing[call] = true
}

type manualTimer struct {
	at   time.Time
	fn   func()
	done bool
}

func (t *manualTimer) Stop() bool {
	was := !t.done
	t.done = true
	return was
}

// manualClock runs due timers on the goroutine calling Advance.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, fn func()) modal.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{at: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.done && !t.at.After(c.now) {
			t.done = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.fn()
	}
}

func (c *callLog) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

type fixture struct {
	orchestrator *Orchestrator
	calls        *callLog
	collector    *analytics.MemoryCollector
	clock        *manualClock
}

func signFormModal() model.ModalConfig {
	return model.ModalConfig{
		Id:       "sign_form_v1",
		Version:  1,
		ActionId: "signForm",
		Title:    "Sign",
		Sections: []model.Section{{Id: "main", Fields: []model.Field{
			{Id: "signature", Label: "Signature", Type: model.FIELD_TEXT, Required: true},
		}}},
		PrimaryButton:   model.Button{Label: "Sign", Action: model.ButtonAction{Type: model.BUTTON_SERVICE, Service: "docs", Method: "sign", Params: map[string]any{"signature": "{$.form.signature}"}}},
		SecondaryButton: model.Button{Label: "Cancel"},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	actions := []model.ActionDefinition{
		{Id: "signForm", ApplicabilityMode: model.MODE_MAIL, BasePriority: 60},
		{Id: "addToCalendar", ApplicabilityMode: model.MODE_MAIL, BasePriority: 50},
		{Id: "composeEmail", ApplicabilityMode: model.MODE_MAIL, BasePriority: 40},
		{Id: "payInvoice", ApplicabilityMode: model.MODE_MAIL, BasePriority: 40, RequiredContextKeys: []string{"amount"}},
		{Id: "archiveThread", ApplicabilityMode: model.MODE_MAIL, BasePriority: 30,
			Confirmation: model.ConfirmationPolicy{Type: model.CONFIRMATION_OPTIMISTIC_UNDO, WindowSeconds: 10}},
	}
	flows := []model.FlowDefinition{
		{Id: "sign_and_schedule", StepActionIds: []string{"signForm", "addToCalendar", "composeEmail"}},
		{Id: "sign_and_reply", StepActionIds: []string{"signForm", "composeEmail"}, EndBehavior: model.END_COMPOSE_FOLLOWUP},
		{Id: "optional_reply", StepActionIds: []string{"composeEmail", "signForm"}, OptionalSteps: []int{0}},
		{Id: "pay_then_sign", StepActionIds: []string{"payInvoice", "signForm"}, OptionalSteps: []int{0}},
		{Id: "must_pay", StepActionIds: []string{"payInvoice", "signForm"}},
		{Id: "premium_bundle", StepActionIds: []string{"signForm"}, Premium: true},
		{Id: "archive_then_sign", StepActionIds: []string{"archiveThread", "signForm"}},
		{Id: "sign_then_archive", StepActionIds: []string{"signForm", "archiveThread"}},
		{Id: "archive_then_pay", StepActionIds: []string{"archiveThread", "payInvoice"}},
	}
	snap, err := action.NewSnapshot(actions, []model.ModalConfig{signFormModal()}, flows)
	require.NoError(t, err)
	catalog := action.NewCatalog(snap)
	interpreter, err := schema.NewInterpreter(16)
	require.NoError(t, err)
	registry := modal.NewRegistry(catalog, interpreter)
	calls := &callLog{}
	registry.RegisterCustom("composeEmail", modal.CustomHandler{Name: "Composer", Commit: func(ctx context.Context, item model.ContentItem, form map[string]any) (map[string]any, error) {
		return calls.invoke(ctx, "mail", "send", form)
	}})
	registry.RegisterCustom("payInvoice", modal.CustomHandler{Name: "PaySheet"})
	registry.RegisterCustom("archiveThread", modal.CustomHandler{Name: "ArchiveSheet", Commit: func(ctx context.Context, item model.ContentItem, form map[string]any) (map[string]any, error) {
		return calls.invoke(ctx, "mail", "archive", nil)
	}})
	collector := analytics.NewMemoryCollector()
	clock := &manualClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	resolver := modal.NewResolver(action.NewValidator(catalog, nil), registry, interpreter, modal.InvokerFunc(calls.invoke), collector, modal.WithClock(clock))
	return &fixture{
		orchestrator: NewOrchestrator(catalog, resolver, collector, nil),
		calls:        calls,
		collector:    collector,
		clock:        clock,
	}
}

func (f *fixture) start(t *testing.T, flowId string) *FlowMachine {
	t.Helper()
	m, err := f.orchestrator.Start(context.Background(), StartRequest{
		FlowId: flowId,
		UserId: "u1",
		Tier:   model.TIER_FREE,
		Item:   model.ContentItem{Id: "m1", Mode: model.MODE_MAIL, Context: map[string]model.ContextValue{}},
	})
	require.NoError(t, err)
	return m
}

func statuses(state model.FlowState) []model.StepStatus {
	out := make([]model.StepStatus, 0, len(state.Steps))
	for _, s := range state.Steps {
		out = append(out, s.Status)
	}
	return out
}

func TestMissingHandlerAbortsFlow(t *testing.T) {
	f := newFixture(t)
	m := f.start(t, "sign_and_schedule")
	state := m.State()
	assert.Equal(t, model.FLOW_IN_PROGRESS, state.Status)
	assert.Equal(t, model.STEP_PRESENTED, state.Steps[0].Status)
	assert.NotEmpty(t, state.Steps[0].ModalId)

	state, err := m.CompleteStep(context.Background(), map[string]any{"signature": "AB"})
	require.NoError(t, err)
	assert.Equal(t, model.FLOW_ABORTED, state.Status)
	assert.Equal(t, model.STEP_UNAVAILABLE, state.AbortReason)
	assert.Equal(t, []model.StepStatus{model.STEP_COMPLETED, model.STEP_STATUS_UNAVAILABLE, model.STEP_PENDING}, statuses(state))
	assert.Empty(t, state.Steps[2].ModalId, "step after an unavailable one is never presented")
	assert.Equal(t, []string{"docs.sign"}, f.calls.Calls(), "completed steps are not rolled back")

	_, err = m.CompleteStep(context.Background(), nil)
	assert.True(t, model.IsCode(err, model.INVALID_TRANSITION))
}

func TestComposeFollowup(t *testing.T) {
	f := newFixture(t)
	m := f.start(t, "sign_and_reply")
	_, err := m.CompleteStep(context.Background(), map[string]any{"signature": "AB"})
	require.NoError(t, err)
	current, ok := m.CurrentModal()
	require.True(t, ok)
	assert.Equal(t, "composeEmail", current.ActionId)
	assert.Equal(t, model.PRESENTATION_CUSTOM, current.Presentation)

	state, err := m.CompleteStep(context.Background(), map[string]any{"body": "done"})
	require.NoError(t, err)
	assert.Equal(t, model.FLOW_ALL_STEPS_COMPLETED, state.Status)
	assert.Equal(t, []model.StepStatus{model.STEP_COMPLETED, model.STEP_COMPLETED}, statuses(state))
	require.NotNil(t, state.Followup)
	assert.Equal(t, model.DEFAULT_FOLLOWUP_ACTION, state.Followup.ActionId)
	sign := state.Followup.Context["signForm"].(map[string]any)
	assert.Equal(t, "AB", sign["signature"])
	assert.Equal(t, []string{"docs.sign", "mail.send"}, f.calls.Calls())
	assert.Len(t, f.collector.Of(analytics.EVENT_FLOW_OUTCOME), 1)
}

func TestValidationKeepsStepPresented(t *testing.T) {
	f := newFixture(t)
	m := f.start(t, "sign_and_reply")
	state, err := m.CompleteStep(context.Background(), map[string]any{"signature": ""})
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.VALIDATION_FAILED))
	assert.Equal(t, model.FLOW_IN_PROGRESS, state.Status)
	assert.Equal(t, 0, state.CurrentStep)
	assert.Equal(t, model.STEP_PRESENTED, state.Steps[0].Status)
}

func TestSkipOnlyOptionalSteps(t *testing.T) {
	f := newFixture(t)
	m := f.start(t, "optional_reply")
	state, err := m.SkipStep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.STEP_SKIPPED, state.Steps[0].Status)
	assert.Equal(t, 1, state.CurrentStep)

	_, err = m.SkipStep(context.Background())
	assert.True(t, model.IsCode(err, model.INVALID_TRANSITION))
	assert.Equal(t, model.STEP_PRESENTED, m.State().Steps[1].Status)
}

func TestUnusableOptionalStepIsSkipped(t *testing.T) {
	f := newFixture(t)
	m := f.start(t, "pay_then_sign")
	state := m.State()
	assert.Equal(t, model.STEP_SKIPPED, state.Steps[0].Status)
	assert.Equal(t, model.STEP_PRESENTED, state.Steps[1].Status)

	m = f.start(t, "must_pay")
	state = m.State()
	assert.Equal(t, model.FLOW_ABORTED, state.Status)
	assert.Equal(t, model.MISSING_CONTEXT, state.AbortReason)
	assert.Equal(t, model.STEP_FAILED, state.Steps[0].Status)
}

func TestAbortKeepsCompletedSteps(t *testing.T) {
	f := newFixture(t)
	m := f.start(t, "sign_and_reply")
	_, err := m.CompleteStep(context.Background(), map[string]any{"signature": "AB"})
	require.NoError(t, err)

	state, err := m.Abort("")
	require.NoError(t, err)
	assert.Equal(t, model.FLOW_ABORTED, state.Status)
	assert.Equal(t, []model.StepStatus{model.STEP_COMPLETED, model.STEP_CANCELLED}, statuses(state))

	again, err := m.Abort("")
	require.NoError(t, err)
	assert.Equal(t, state.Status, again.Status)
	_, ok := m.CurrentModal()
	assert.False(t, ok)
}

func TestAbortInsideUndoWindowUndoesStep(t *testing.T) {
	f := newFixture(t)
	m := f.start(t, "archive_then_sign")
	state, err := m.CompleteStep(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []model.StepStatus{model.STEP_COMPLETED, model.STEP_PRESENTED}, statuses(state))

	state, err = m.Abort("")
	require.NoError(t, err)
	assert.Equal(t, model.FLOW_ABORTED, state.Status)
	assert.Equal(t, []model.StepStatus{model.STEP_CANCELLED, model.STEP_CANCELLED}, statuses(state))
	assert.Nil(t, state.Steps[0].CompletedAt)

	f.clock.Advance(time.Minute)
	assert.Empty(t, f.calls.Calls(), "no side effect after the flow is aborted")
}

func TestUnusableStepUndoesOpenUndoWindow(t *testing.T) {
	f := newFixture(t)
	m := f.start(t, "archive_then_pay")
	state, err := m.CompleteStep(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, model.FLOW_ABORTED, state.Status)
	assert.Equal(t, model.MISSING_CONTEXT, state.AbortReason)
	assert.Equal(t, []model.StepStatus{model.STEP_CANCELLED, model.STEP_FAILED}, statuses(state))

	f.clock.Advance(time.Minute)
	assert.Empty(t, f.calls.Calls())
}

func TestFailedDeferredCommitAbortsFlow(t *testing.T) {
	f := newFixture(t)
	f.calls.fail("mail.archive")
	m := f.start(t, "archive_then_sign")
	_, err := m.CompleteStep(context.Background(), nil)
	require.NoError(t, err)

	f.clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool {
		return m.State().Status == model.FLOW_ABORTED
	}, time.Second, time.Millisecond)
	state := m.State()
	assert.Equal(t, model.SERVICE_CALL_FAILED, state.AbortReason)
	assert.Equal(t, []model.StepStatus{model.STEP_FAILED, model.STEP_CANCELLED}, statuses(state))
	_, ok := m.CurrentModal()
	assert.False(t, ok)
}

func TestLastStepUndoWindowHoldsCompletion(t *testing.T) {
	f := newFixture(t)
	m := f.start(t, "sign_then_archive")
	_, err := m.CompleteStep(context.Background(), map[string]any{"signature": "AB"})
	require.NoError(t, err)
	state, err := m.CompleteStep(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, model.FLOW_IN_PROGRESS, state.Status, "flow completes only once the undo window closes")
	assert.Equal(t, []model.StepStatus{model.STEP_COMPLETED, model.STEP_COMPLETED}, statuses(state))

	_, err = m.SkipStep(context.Background())
	assert.True(t, model.IsCode(err, model.INVALID_TRANSITION))

	f.clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool {
		return m.State().Status == model.FLOW_ALL_STEPS_COMPLETED
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"docs.sign", "mail.archive"}, f.calls.Calls())
	assert.Equal(t, "ok", m.State().Steps[1].Output["response"].(map[string]any)["status"])
}

func TestStartErrors(t *testing.T) {
	f := newFixture(t)
	_, err := f.orchestrator.Start(context.Background(), StartRequest{FlowId: "nope", Tier: model.TIER_ADMIN})
	assert.True(t, model.IsCode(err, model.NOT_FOUND))

	_, err = f.orchestrator.Start(context.Background(), StartRequest{FlowId: "premium_bundle", Tier: model.TIER_FREE})
	assert.True(t, model.IsCode(err, model.PERMISSION_DENIED))

	m, err := f.orchestrator.Start(context.Background(), StartRequest{FlowId: "premium_bundle", Tier: model.TIER_PREMIUM,
		Item: model.ContentItem{Id: "m1", Mode: model.MODE_MAIL}})
	require.NoError(t, err)
	assert.Equal(t, model.FLOW_IN_PROGRESS, m.State().Status)
}
