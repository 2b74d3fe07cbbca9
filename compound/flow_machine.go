package compound

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mohitkumar/actionrouter/analytics"
	"github.com/mohitkumar/actionrouter/logger"
	"github.com/mohitkumar/actionrouter/modal"
	"github.com/mohitkumar/actionrouter/model"
	"go.uber.org/zap"
)

// FlowMachine owns one running flow. Operations are serialized by mu.
type FlowMachine struct {
	o     *Orchestrator
	mu    sync.Mutex
	def   model.FlowDefinition
	tier  model.PermissionTier
	item  model.ContentItem
	state model.FlowState
	modal *modal.Session
	// sessions of completed steps whose undo window is still open, by step
	undoing map[int]*modal.Session
	ctx     context.Context
	cancel  context.CancelFunc
}

func (f *FlowMachine) Id() string {
	return f.state.FlowId
}

func (f *FlowMachine) UserId() string {
	return f.state.UserId
}

func (f *FlowMachine) State() model.FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateLocked()
}

func (f *FlowMachine) stateLocked() model.FlowState {
	out := f.state
	out.Steps = append([]model.StepRecord(nil), f.state.Steps...)
	return out
}

// CurrentModal is the modal presenting the current step, if any.
func (f *FlowMachine) CurrentModal() (model.ModalSnapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.modal == nil {
		return model.ModalSnapshot{}, false
	}
	return f.modal.Snapshot(), true
}

func (f *FlowMachine) invalid(op string) error {
	return model.NewActionError(model.INVALID_TRANSITION, "", fmt.Sprintf("can not %s flow %s in status %s", op, f.state.FlowId, f.state.Status))
}

// CompleteStep submits the current step's modal with form.
func (f *FlowMachine) CompleteStep(ctx context.Context, form map[string]any) (model.FlowState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.Status != model.FLOW_IN_PROGRESS || f.modal == nil {
		return f.stateLocked(), f.invalid("complete a step of")
	}
	ctx, stop := f.scoped(ctx)
	defer stop()
	snap, err := f.modal.Submit(ctx, form)
	return f.settle(ctx, snap, err)
}

// ConfirmStep acknowledges a step whose action needs explicit confirmation.
func (f *FlowMachine) ConfirmStep(ctx context.Context) (model.FlowState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.Status != model.FLOW_IN_PROGRESS || f.modal == nil {
		return f.stateLocked(), f.invalid("confirm a step of")
	}
	ctx, stop := f.scoped(ctx)
	defer stop()
	snap, err := f.modal.Confirm(ctx)
	return f.settle(ctx, snap, err)
}

// SkipStep is only allowed for steps the definition marks optional.
func (f *FlowMachine) SkipStep(ctx context.Context) (model.FlowState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.Status != model.FLOW_IN_PROGRESS || f.modal == nil {
		return f.stateLocked(), f.invalid("skip a step of")
	}
	i := f.state.CurrentStep
	if !f.def.IsOptional(i) {
		return f.stateLocked(), model.NewActionError(model.INVALID_TRANSITION, f.def.StepActionIds[i], fmt.Sprintf("step %d is not optional", i))
	}
	if f.modal != nil {
		_, _ = f.modal.Cancel("step skipped")
		f.modal = nil
	}
	f.markStep(i, model.STEP_SKIPPED, "skipped by user")
	f.advance(ctx)
	return f.stateLocked(), nil
}

// Abort cancels the current step and anything it has in flight. Steps whose
// undo window is still open are undone; other completed steps stay completed.
func (f *FlowMachine) Abort(reason string) (model.FlowState, error) {
	f.cancel()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.Terminal() {
		if f.state.Status == model.FLOW_ABORTED {
			return f.stateLocked(), nil
		}
		return f.stateLocked(), f.invalid("abort")
	}
	if reason == "" {
		reason = "aborted by user"
	}
	f.abortLocked("", reason)
	return f.stateLocked(), nil
}

func (f *FlowMachine) abortLocked(code model.ErrorCode, reason string) {
	if f.modal != nil {
		_, _ = f.modal.Cancel(reason)
		f.modal = nil
	}
	i := f.state.CurrentStep
	if i < len(f.state.Steps) && f.state.Steps[i].Status == model.STEP_PRESENTED {
		f.markStep(i, model.STEP_CANCELLED, reason)
	}
	f.markAborted(code, reason)
}

// undoPending cancels every step still inside its undo window. A session whose
// window already closed keeps its step as it is.
func (f *FlowMachine) undoPending(reason string) {
	for i, session := range f.undoing {
		delete(f.undoing, i)
		snap, err := session.Cancel(reason)
		if err == nil && snap.State == model.MODAL_CANCELLED {
			f.markStep(i, model.STEP_CANCELLED, "undone: "+reason)
			f.state.Steps[i].CompletedAt = nil
			continue
		}
		if snap.State == model.MODAL_FAILED {
			f.markStep(i, model.STEP_FAILED, snap.Reason)
		}
	}
}

// watchUndo keeps a step completed inside its undo window tied to the flow
// until the window closes.
func (f *FlowMachine) watchUndo(i int, session *modal.Session) {
	if f.undoing == nil {
		f.undoing = make(map[int]*modal.Session)
	}
	f.undoing[i] = session
	session.OnSettled(func(snap model.ModalSnapshot) {
		f.undoSettled(i, session, snap)
	})
}

func (f *FlowMachine) undoSettled(i int, session *modal.Session, snap model.ModalSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.undoing[i] != session {
		return
	}
	delete(f.undoing, i)
	switch snap.State {
	case model.MODAL_COMPLETED:
		if snap.Outcome != nil && len(snap.Outcome.Response) > 0 {
			if f.state.Steps[i].Output == nil {
				f.state.Steps[i].Output = map[string]any{}
			}
			f.state.Steps[i].Output["response"] = snap.Outcome.Response
		}
		logger.Debug("flow step committed", zap.String("id", f.state.FlowId), zap.Int("step", i))
		if f.state.Status == model.FLOW_IN_PROGRESS && f.modal == nil && len(f.undoing) == 0 && f.state.CurrentStep == len(f.state.Steps)-1 {
			f.markAllStepsCompleted()
		}
	case model.MODAL_FAILED:
		f.markStep(i, model.STEP_FAILED, snap.Reason)
		f.state.Steps[i].CompletedAt = nil
		f.abortLocked(model.SERVICE_CALL_FAILED, snap.Reason)
	case model.MODAL_CANCELLED:
		f.markStep(i, model.STEP_CANCELLED, snap.Reason)
		f.state.Steps[i].CompletedAt = nil
		f.abortLocked("", snap.Reason)
	}
}

// scoped ties a request context to the flow so Abort interrupts it.
func (f *FlowMachine) scoped(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(f.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// settle maps the step modal's state after an operation onto the flow.
func (f *FlowMachine) settle(ctx context.Context, snap model.ModalSnapshot, err error) (model.FlowState, error) {
	i := f.state.CurrentStep
	switch snap.State {
	case model.MODAL_COMPLETED, model.MODAL_UNDO_WINDOW:
		f.state.Steps[i].Output = stepOutput(f.modal.Form(), snap)
		if snap.State == model.MODAL_UNDO_WINDOW {
			f.watchUndo(i, f.modal)
		}
		f.modal = nil
		f.markStep(i, model.STEP_COMPLETED, "")
		f.advance(ctx)
		return f.stateLocked(), nil
	case model.MODAL_FAILED:
		f.modal = nil
		f.markStep(i, model.STEP_FAILED, snap.Reason)
		f.markAborted(model.SERVICE_CALL_FAILED, snap.Reason)
		return f.stateLocked(), err
	case model.MODAL_CANCELLED:
		f.modal = nil
		f.markStep(i, model.STEP_CANCELLED, snap.Reason)
		f.markAborted("", snap.Reason)
		return f.stateLocked(), err
	}
	// still presented or awaiting confirmation; validation and retryable
	// service errors are returned as is
	return f.stateLocked(), err
}

func stepOutput(form map[string]any, snap model.ModalSnapshot) map[string]any {
	out := make(map[string]any, len(form)+1)
	for k, v := range form {
		out[k] = v
	}
	if snap.Outcome != nil && len(snap.Outcome.Response) > 0 {
		out["response"] = snap.Outcome.Response
	}
	return out
}

// advance presents the next step. After the last step the flow completes once
// no undo window is open.
func (f *FlowMachine) advance(ctx context.Context) {
	next := f.state.CurrentStep + 1
	if next >= len(f.state.Steps) {
		if len(f.undoing) == 0 {
			f.markAllStepsCompleted()
		}
		return
	}
	f.present(ctx, next)
}

// present opens the modal for step i. Missing presentation makes the step
// StepUnavailable and aborts the flow.
func (f *FlowMachine) present(ctx context.Context, i int) {
	f.state.CurrentStep = i
	actionId := f.def.StepActionIds[i]
	if !f.o.resolver.Registry().Has(actionId) {
		f.markStepUnavailable(i)
		return
	}
	session, err := f.o.resolver.Open(ctx, modal.OpenRequest{
		ActionId: actionId,
		UserId:   f.state.UserId,
		Tier:     f.tier,
		Item:     f.stepItem(),
	})
	if err != nil {
		code, _ := model.CodeOf(err)
		if code == model.NO_PRESENTATION {
			f.markStepUnavailable(i)
			return
		}
		if f.def.IsOptional(i) {
			f.markStep(i, model.STEP_SKIPPED, err.Error())
			f.advance(ctx)
			return
		}
		f.markStep(i, model.STEP_FAILED, err.Error())
		if code == "" {
			code = model.MISSING_CONTEXT
		}
		f.markAborted(code, err.Error())
		return
	}
	f.modal = session
	f.state.Steps[i].ModalId = session.Id()
	f.markStep(i, model.STEP_PRESENTED, "")
}

// stepItem layers the outputs of completed steps over the item context so
// later steps can require values collected earlier.
func (f *FlowMachine) stepItem() model.ContentItem {
	ctx := make(map[string]model.ContextValue, len(f.item.Context))
	for _, step := range f.state.Steps {
		if step.Status != model.STEP_COMPLETED {
			continue
		}
		for k, v := range step.Output {
			if k == "response" {
				continue
			}
			ctx[k] = model.ContextValue{Type: model.TYPE_STRING, Value: v}
		}
	}
	for k, v := range f.item.Context {
		ctx[k] = v
	}
	return model.ContentItem{Id: f.item.Id, Mode: f.item.Mode, Context: ctx}
}

func (f *FlowMachine) markInProgress() {
	f.state.Status = model.FLOW_IN_PROGRESS
	logFlow("flow started", f)
}

func (f *FlowMachine) markStep(i int, status model.StepStatus, reason string) {
	step := &f.state.Steps[i]
	step.Status = status
	step.Reason = reason
	if status == model.STEP_COMPLETED {
		now := time.Now().UTC()
		step.CompletedAt = &now
	}
	f.o.record(analytics.EVENT_FLOW_STEP, f, string(status), map[string]any{"step": i, "action": step.ActionId, "reason": reason})
	logger.Debug("flow step", zap.String("id", f.state.FlowId), zap.Int("step", i), zap.String("action", step.ActionId), zap.String("status", string(status)))
}

func (f *FlowMachine) markStepUnavailable(i int) {
	actionId := f.def.StepActionIds[i]
	f.markStep(i, model.STEP_STATUS_UNAVAILABLE, "no presentation registered for "+actionId)
	logger.Error("flow step has no implementation", zap.String("flow", f.def.Id), zap.String("action", actionId), zap.String("code", string(model.STEP_UNAVAILABLE)))
	f.markAborted(model.STEP_UNAVAILABLE, "step "+actionId+" unavailable")
}

func (f *FlowMachine) markAborted(code model.ErrorCode, reason string) {
	f.undoPending(reason)
	f.state.Status = model.FLOW_ABORTED
	f.state.AbortReason = code
	f.cancel()
	f.o.metrics.FlowOutcome(string(model.FLOW_ABORTED))
	f.o.record(analytics.EVENT_FLOW_OUTCOME, f, string(model.FLOW_ABORTED), map[string]any{"code": code, "reason": reason})
	logFlow("flow aborted", f, zap.String("code", string(code)), zap.String("reason", reason))
}

func (f *FlowMachine) markAllStepsCompleted() {
	f.state.Status = model.FLOW_ALL_STEPS_COMPLETED
	if f.def.EndBehavior == model.END_COMPOSE_FOLLOWUP {
		f.state.Followup = f.composeFollowup()
	}
	f.cancel()
	f.o.metrics.FlowOutcome(string(model.FLOW_ALL_STEPS_COMPLETED))
	f.o.record(analytics.EVENT_FLOW_OUTCOME, f, string(model.FLOW_ALL_STEPS_COMPLETED), nil)
	logFlow("flow completed", f)
}

// composeFollowup hands every collected step output to the follow-up action,
// keyed by the step's action id.
func (f *FlowMachine) composeFollowup() *model.Followup {
	ctx := map[string]any{"itemId": f.item.Id, "flowId": f.def.Id}
	for _, step := range f.state.Steps {
		if step.Status == model.STEP_COMPLETED {
			ctx[step.ActionId] = step.Output
		}
	}
	return &model.Followup{ActionId: f.def.FollowupAction(), Context: ctx}
}
