package modal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mohitkumar/actionrouter/analytics"
	"github.com/mohitkumar/actionrouter/logger"
	"github.com/mohitkumar/actionrouter/model"
	"github.com/mohitkumar/actionrouter/schema"
	"go.uber.org/zap"
)

// commit is a side effect waiting for confirmation or for its undo window.
type commit struct {
	outcome model.ButtonOutcome
	custom  *CustomHandler
}

// Session is one modal invocation. All methods are safe for concurrent use but
// operations are serialized; Cancel may interrupt an in-flight service call.
type Session struct {
	r      *Resolver
	mu     sync.Mutex
	userId string
	tier   model.PermissionTier
	item   model.ContentItem
	form   map[string]any
	def    model.ActionDefinition

	strategy Strategy
	policy   model.ConfirmationPolicy
	snap     model.ModalSnapshot
	pending  *commit
	undo     Timer
	attempts int
	settled  func(model.ModalSnapshot)

	inflightMu sync.Mutex
	inflight   context.CancelFunc
	cancelled  atomic.Bool
}

func (s *Session) Id() string {
	return s.snap.Id
}

func (s *Session) UserId() string {
	return s.userId
}

func (s *Session) Snapshot() model.ModalSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() model.ModalSnapshot {
	out := s.snap
	out.History = append([]model.ModalState(nil), s.snap.History...)
	if s.snap.Descriptor != nil {
		d := *s.snap.Descriptor
		out.Descriptor = &d
	}
	if s.snap.Outcome != nil {
		o := *s.snap.Outcome
		out.Outcome = &o
	}
	return out
}

// Form returns a copy of the live form state.
func (s *Session) Form() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.form))
	for k, v := range s.form {
		out[k] = v
	}
	return out
}

func (s *Session) scope() schema.Scope {
	return schema.NewScope(s.item, s.form)
}

func (s *Session) transition(to model.ModalState) {
	from := s.snap.State
	s.snap.State = to
	s.snap.History = append(s.snap.History, to)
	logger.Debug("modal transition", zap.String("modal", s.snap.Id), zap.String("from", string(from)), zap.String("to", string(to)))
	if to.Terminal() {
		s.r.metrics.ModalOutcome(string(to))
		s.r.record(analytics.EVENT_MODAL_OUTCOME, s, map[string]any{"reason": s.snap.Reason})
	}
}

func (s *Session) markRejected(err error) {
	code, ok := model.CodeOf(err)
	if !ok {
		code = model.NO_PRESENTATION
	}
	var ae *model.ActionError
	if errors.As(err, &ae) {
		s.snap.Reason = ae.Reason
	} else {
		s.snap.Reason = err.Error()
	}
	s.snap.Rejection = code
	s.transition(model.MODAL_REJECTED)
	logger.Info("modal rejected", zap.String("modal", s.snap.Id), zap.String("action", s.snap.ActionId), zap.String("code", string(code)))
}

func (s *Session) markCompleted() {
	s.snap.UndoDeadline = nil
	s.transition(model.MODAL_COMPLETED)
	logger.Info("modal completed", zap.String("modal", s.snap.Id), zap.String("action", s.snap.ActionId))
}

func (s *Session) markCancelled(reason string) {
	s.snap.Reason = reason
	s.snap.UndoDeadline = nil
	s.transition(model.MODAL_CANCELLED)
	logger.Info("modal cancelled", zap.String("modal", s.snap.Id), zap.String("action", s.snap.ActionId), zap.String("reason", reason))
}

func (s *Session) markFailed(reason string) {
	s.snap.Reason = reason
	s.snap.UndoDeadline = nil
	s.transition(model.MODAL_FAILED)
	logger.Error("modal failed", zap.String("modal", s.snap.Id), zap.String("action", s.snap.ActionId), zap.String("reason", reason))
}

func (s *Session) invalid(op string) error {
	return model.NewActionError(model.INVALID_TRANSITION, s.snap.ActionId, fmt.Sprintf("can not %s a modal in state %s", op, s.snap.State))
}

// UpdateForm merges form into the live state and re-renders the descriptor so
// visibility follows what the user typed.
func (s *Session) UpdateForm(form map[string]any) (model.ModalSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.State != model.MODAL_PRESENTED {
		return s.snapshotLocked(), s.invalid("update")
	}
	for k, v := range form {
		s.form[k] = v
	}
	if cfg, ok := s.strategy.(ConfigDriven); ok {
		desc, err := s.r.interpreter.Render(cfg.Config, s.scope())
		if err != nil {
			return s.snapshotLocked(), err
		}
		s.snap.Descriptor = &desc
	}
	return s.snapshotLocked(), nil
}

// Submit presses the primary button.
func (s *Session) Submit(ctx context.Context, form map[string]any) (model.ModalSnapshot, error) {
	return s.PressButton(ctx, model.BUTTON_PRIMARY, form)
}

func (s *Session) PressButton(ctx context.Context, role model.ButtonRole, form map[string]any) (model.ModalSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.State != model.MODAL_PRESENTED {
		return s.snapshotLocked(), s.invalid("press a button on")
	}
	for k, v := range form {
		s.form[k] = v
	}

	switch st := s.strategy.(type) {
	case CustomHandler:
		if role != model.BUTTON_PRIMARY {
			s.r.record(analytics.EVENT_MODAL_BUTTON, s, map[string]any{"role": role, "type": model.BUTTON_DISMISS})
			s.markCancelled("dismissed")
			return s.snapshotLocked(), nil
		}
		s.r.record(analytics.EVENT_MODAL_BUTTON, s, map[string]any{"role": role, "type": "custom"})
		err := s.gate(ctx, &commit{outcome: model.ButtonOutcome{Role: role}, custom: &st})
		return s.snapshotLocked(), err

	case ConfigDriven:
		button, ok := st.Config.Button(role)
		if !ok {
			return s.snapshotLocked(), model.NewActionError(model.NOT_FOUND, s.snap.ActionId, fmt.Sprintf("modal has no %s button", role))
		}
		resolved := s.r.interpreter.ResolveButton(button, s.scope())
		outcome := model.ButtonOutcome{Role: role, Type: resolved.Type, Service: resolved.Service, Method: resolved.Method, Params: resolved.Params, Url: resolved.Url}
		s.r.record(analytics.EVENT_MODAL_BUTTON, s, map[string]any{"role": role, "type": resolved.Type, "service": resolved.Service, "url": resolved.Url})

		switch resolved.Type {
		case model.BUTTON_DISMISS:
			s.snap.Outcome = &outcome
			s.markCancelled("dismissed")
			return s.snapshotLocked(), nil
		case model.BUTTON_URL:
			s.snap.Outcome = &outcome
			s.markCompleted()
			return s.snapshotLocked(), nil
		}
		desc, err := s.r.interpreter.Submit(st.Config, s.scope())
		s.snap.Descriptor = &desc
		if err != nil {
			return s.snapshotLocked(), err
		}
		err = s.gate(ctx, &commit{outcome: outcome})
		return s.snapshotLocked(), err
	}
	return s.snapshotLocked(), s.invalid("press a button on")
}

// gate applies the confirmation policy to a validated commit.
func (s *Session) gate(ctx context.Context, c *commit) error {
	switch s.policy.Type {
	case model.CONFIRMATION_EXPLICIT:
		s.pending = c
		s.transition(model.MODAL_AWAITING_CONFIRMATION)
		return nil
	case model.CONFIRMATION_OPTIMISTIC_UNDO:
		window := time.Duration(s.policy.WindowSeconds) * time.Second
		deadline := s.r.clock.Now().Add(window)
		s.pending = c
		s.snap.UndoDeadline = &deadline
		s.transition(model.MODAL_UNDO_WINDOW)
		s.undo = s.r.clock.AfterFunc(window, s.finalize)
		logger.Info("modal committed optimistically", zap.String("modal", s.snap.Id), zap.Time("undoDeadline", deadline))
		return nil
	}
	return s.execute(ctx, c, model.MODAL_PRESENTED)
}

// Confirm acknowledges an explicitConfirm action and runs its side effect.
func (s *Session) Confirm(ctx context.Context) (model.ModalSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.State != model.MODAL_AWAITING_CONFIRMATION || s.pending == nil {
		return s.snapshotLocked(), s.invalid("confirm")
	}
	err := s.execute(ctx, s.pending, model.MODAL_AWAITING_CONFIRMATION)
	return s.snapshotLocked(), err
}

// OnSettled registers fn to run once the undo window is left, with the
// snapshot it ended in. fn runs on its own goroutine. A session that is no
// longer in its undo window reports right away.
func (s *Session) OnSettled(fn func(model.ModalSnapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settled = fn
	if s.snap.State != model.MODAL_UNDO_WINDOW {
		s.notifySettled()
	}
}

func (s *Session) notifySettled() {
	if s.settled == nil {
		return
	}
	fn, snap := s.settled, s.snapshotLocked()
	s.settled = nil
	go fn(snap)
}

// finalize runs when the undo window closes without a cancel.
func (s *Session) finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.State != model.MODAL_UNDO_WINDOW || s.pending == nil {
		return
	}
	s.commitDeferred()
}

func (s *Session) commitDeferred() {
	if err := s.execute(context.Background(), s.pending, ""); err != nil {
		logger.Error("error in finalizing optimistic commit", zap.String("modal", s.snap.Id), zap.Error(err))
	}
	s.notifySettled()
}

// execute performs the side effect. On a retryable failure the session goes
// back to retryState; an empty retryState means there is nobody to retry.
func (s *Session) execute(ctx context.Context, c *commit, retryState model.ModalState) error {
	callCtx, cancel := context.WithTimeout(ctx, s.r.callTimeout)
	s.setInflight(cancel)
	defer func() {
		s.setInflight(nil)
		cancel()
	}()

	outcome := c.outcome
	var resp map[string]any
	var err error
	start := time.Now()
	if c.custom != nil {
		if c.custom.Commit != nil {
			resp, err = c.custom.Commit(callCtx, s.item, s.formCopy())
		}
	} else if outcome.Type == model.BUTTON_SERVICE {
		if s.r.invoker == nil {
			err = fmt.Errorf("no service invoker configured for %s.%s", outcome.Service, outcome.Method)
		} else {
			resp, err = s.r.invoker.Invoke(callCtx, outcome.Service, outcome.Method, outcome.Params)
		}
		s.r.metrics.ObserveServiceCall(outcome.Service, err == nil, time.Since(start))
	}

	if s.cancelled.Load() {
		s.pending = nil
		s.markCancelled("cancelled while in flight")
		return context.Canceled
	}
	if err != nil {
		s.attempts++
		serr := model.WrapActionError(model.SERVICE_CALL_FAILED, s.snap.ActionId, err)
		logger.Warn("service call failed", zap.String("modal", s.snap.Id), zap.String("service", outcome.Service), zap.Int("attempt", s.attempts), zap.Error(err))
		if retryState == "" || s.attempts >= MaxServiceAttempts {
			s.pending = nil
			s.markFailed(serr.Error())
			return serr
		}
		s.snap.Reason = serr.Reason
		if s.snap.State != retryState {
			s.transition(retryState)
		}
		return serr
	}
	outcome.Response = resp
	s.snap.Outcome = &outcome
	s.snap.Reason = ""
	s.pending = nil
	s.markCompleted()
	return nil
}

func (s *Session) formCopy() map[string]any {
	out := make(map[string]any, len(s.form))
	for k, v := range s.form {
		out[k] = v
	}
	return out
}

func (s *Session) setInflight(cancel context.CancelFunc) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	s.inflight = cancel
}

// Cancel dismisses the modal. Inside an undo window the pending side effect is
// dropped and never runs. Any in-flight call is interrupted first. Once the
// undo deadline has passed the commit is final: it runs now and Cancel
// reports INVALID_TRANSITION.
func (s *Session) Cancel(reason string) (model.ModalSnapshot, error) {
	s.cancelled.Store(true)
	s.inflightMu.Lock()
	if s.inflight != nil {
		s.inflight()
	}
	s.inflightMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.State == model.MODAL_CANCELLED {
		return s.snapshotLocked(), nil
	}
	if s.snap.State.Terminal() {
		return s.snapshotLocked(), s.invalid("cancel")
	}
	if reason == "" {
		reason = "dismissed"
	}
	if s.snap.State == model.MODAL_UNDO_WINDOW {
		if s.undo != nil {
			s.undo.Stop()
		}
		if s.snap.UndoDeadline != nil && !s.r.clock.Now().Before(*s.snap.UndoDeadline) {
			// nothing is in flight while the window is open
			s.cancelled.Store(false)
			s.commitDeferred()
			return s.snapshotLocked(), model.NewActionError(model.INVALID_TRANSITION, s.snap.ActionId, "undo window closed")
		}
		reason = "undone"
		s.snap.Outcome = nil
		s.pending = nil
		s.markCancelled(reason)
		s.notifySettled()
		return s.snapshotLocked(), nil
	}
	s.pending = nil
	s.markCancelled(reason)
	return s.snapshotLocked(), nil
}
