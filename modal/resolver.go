// Package modal drives one modal invocation from request to a terminal state:
// context validation, presentation lookup, form rendering, confirmation gating
// and the button's side effect.
package modal

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/actionrouter/action"
	"github.com/mohitkumar/actionrouter/analytics"
	"github.com/mohitkumar/actionrouter/logger"
	"github.com/mohitkumar/actionrouter/metrics"
	"github.com/mohitkumar/actionrouter/model"
	"github.com/mohitkumar/actionrouter/schema"
	"go.uber.org/zap"
)

const (
	DefaultCallTimeout = 3 * time.Second
	// a service call that keeps failing ends the modal after this many tries
	MaxServiceAttempts = 3
)

type Resolver struct {
	validator   *action.Validator
	registry    *Registry
	interpreter *schema.Interpreter
	invoker     ServiceInvoker
	collector   analytics.Collector
	metrics     *metrics.Metrics
	callTimeout time.Duration
	clock       Clock
}

type Option func(*Resolver)

func WithClock(c Clock) Option {
	return func(r *Resolver) { r.clock = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

func WithCallTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.callTimeout = d
		}
	}
}

func NewResolver(validator *action.Validator, registry *Registry, interpreter *schema.Interpreter, invoker ServiceInvoker, collector analytics.Collector, opts ...Option) *Resolver {
	if collector == nil {
		collector, _ = analytics.NewCollector(analytics.DataCollectorConfig{})
	}
	r := &Resolver{
		validator:   validator,
		registry:    registry,
		interpreter: interpreter,
		invoker:     invoker,
		collector:   collector,
		callTimeout: DefaultCallTimeout,
		clock:       realClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if invoker != nil {
		registry.UseInvoker(invoker)
	}
	return r
}

func (r *Resolver) Registry() *Registry {
	return r.registry
}

type OpenRequest struct {
	ActionId string               `json:"actionId"`
	UserId   string               `json:"userId"`
	Tier     model.PermissionTier `json:"tier"`
	Item     model.ContentItem    `json:"item"`
	Form     map[string]any       `json:"form,omitempty"`
}

// Open runs validation and presentation lookup. The returned session is never
// nil; when err is set the session is already Rejected or Failed.
func (r *Resolver) Open(ctx context.Context, req OpenRequest) (*Session, error) {
	s := &Session{
		r:      r,
		userId: req.UserId,
		tier:   req.Tier,
		item:   req.Item,
		form:   map[string]any{},
		snap: model.ModalSnapshot{
			Id:       uuid.New().String(),
			ActionId: req.ActionId,
			ItemId:   req.Item.Id,
			State:    model.MODAL_REQUESTED,
			History:  []model.ModalState{model.MODAL_REQUESTED},
		},
	}
	for k, v := range req.Form {
		s.form[k] = v
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		s.markCancelled("request cancelled")
		return s, err
	}
	s.transition(model.MODAL_VALIDATING)
	app, err := r.validator.Check(req.ActionId, req.Item, req.Tier)
	if err != nil {
		s.markRejected(err)
		return s, err
	}
	s.def = app.Action
	s.item = app.Apply(req.Item)
	s.policy = app.Action.Confirmation

	strategy, err := r.registry.Resolve(req.ActionId)
	if err != nil {
		s.markRejected(err)
		return s, err
	}
	s.strategy = strategy
	switch st := strategy.(type) {
	case ConfigDriven:
		s.snap.Presentation = model.PRESENTATION_CONFIG
		if st.Config.ConfirmationRequired && s.policy.Type != model.CONFIRMATION_OPTIMISTIC_UNDO {
			s.policy = model.ConfirmationPolicy{Type: model.CONFIRMATION_EXPLICIT}
		}
		desc, err := r.interpreter.Render(st.Config, s.scope())
		if err != nil {
			s.markFailed(err.Error())
			return s, err
		}
		s.snap.Descriptor = &desc
		s.transition(model.MODAL_CONFIG_RESOLVED)
	case CustomHandler:
		s.snap.Presentation = model.PRESENTATION_CUSTOM
		s.snap.Handler = st.Name
		s.transition(model.MODAL_CUSTOM_RESOLVED)
	}
	s.transition(model.MODAL_PRESENTED)
	logger.Info("modal presented", zap.String("modal", s.snap.Id), zap.String("action", req.ActionId), zap.String("presentation", string(s.snap.Presentation)))
	return s, nil
}

func (r *Resolver) record(kind analytics.EventKind, s *Session, data map[string]any) {
	r.collector.Record(analytics.Event{
		Kind:      kind,
		SessionId: s.snap.Id,
		UserId:    s.userId,
		ActionId:  s.snap.ActionId,
		State:     string(s.snap.State),
		Data:      data,
	})
}
