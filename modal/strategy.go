package modal

import (
	"context"
	"sync"

	"github.com/mohitkumar/actionrouter/action"
	"github.com/mohitkumar/actionrouter/logger"
	"github.com/mohitkumar/actionrouter/model"
	"github.com/mohitkumar/actionrouter/schema"
	"go.uber.org/zap"
)

// Strategy is how an action is presented: either a ConfigDriven schema or a
// CustomHandler registered in code.
type Strategy interface {
	Kind() model.PresentationKind
}

type ConfigDriven struct {
	Config model.ModalConfig
}

func (ConfigDriven) Kind() model.PresentationKind { return model.PRESENTATION_CONFIG }

// CommitFunc performs the side effect of a custom-presented action.
type CommitFunc func(ctx context.Context, item model.ContentItem, form map[string]any) (map[string]any, error)

type CustomHandler struct {
	// Name identifies the client component that renders the action.
	Name   string
	Commit CommitFunc
}

func (CustomHandler) Kind() model.PresentationKind { return model.PRESENTATION_CUSTOM }

// Registry looks up presentation strategies by action id. Modal configs come
// from the live catalog snapshot; custom handlers are registered at startup.
type Registry struct {
	catalog     *action.Catalog
	interpreter *schema.Interpreter
	mu          sync.RWMutex
	custom      map[string]CustomHandler
	invoker     ServiceInvoker
}

func NewRegistry(catalog *action.Catalog, interpreter *schema.Interpreter) *Registry {
	return &Registry{
		catalog:     catalog,
		interpreter: interpreter,
		custom:      make(map[string]CustomHandler),
	}
}

func (r *Registry) RegisterCustom(actionId string, h CustomHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.custom[actionId] = h
}

// UseInvoker lets handlers declared in the catalog commit through inv.
func (r *Registry) UseInvoker(inv ServiceInvoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invoker = inv
}

func (r *Registry) declared(spec model.CustomHandlerSpec) CustomHandler {
	h := CustomHandler{Name: spec.Name}
	if spec.Service == "" || r.invoker == nil {
		return h
	}
	inv := r.invoker
	h.Commit = func(ctx context.Context, item model.ContentItem, form map[string]any) (map[string]any, error) {
		params := item.Values()
		for k, v := range form {
			params[k] = v
		}
		return inv.Invoke(ctx, spec.Service, spec.Method, params)
	}
	return h
}

// Has reports whether Resolve would find a strategy for actionId.
func (r *Registry) Has(actionId string) bool {
	_, err := r.Resolve(actionId)
	return err == nil
}

// Resolve prefers a valid modal config over a custom handler.
func (r *Registry) Resolve(actionId string) (Strategy, error) {
	if cfg, ok := r.catalog.Snapshot().Modal(actionId); ok {
		err := r.interpreter.Lint(cfg)
		if err == nil {
			return ConfigDriven{Config: cfg}, nil
		}
		logger.Error("modal config is invalid, ignoring it", zap.String("action", actionId), zap.String("config", cfg.Id), zap.Error(err))
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.custom[actionId]; ok {
		return h, nil
	}
	if spec, ok := r.catalog.Snapshot().CustomHandler(actionId); ok {
		return r.declared(spec), nil
	}
	logger.Error("no presentation registered for action", zap.String("action", actionId), zap.String("code", string(model.NO_PRESENTATION)))
	return nil, model.NewActionError(model.NO_PRESENTATION, actionId, "no modal config or custom handler registered")
}
