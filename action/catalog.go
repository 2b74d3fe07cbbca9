package action

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/mohitkumar/actionrouter/model"
)

// Snapshot is one immutable generation of the catalog. It is replaced as a unit
// on reload and never edited in place.
type Snapshot struct {
	actions  map[string]model.ActionDefinition
	ordered  []model.ActionDefinition
	modals   map[string]model.ModalConfig
	flows    map[string]model.FlowDefinition
	handlers map[string]model.CustomHandlerSpec
	LoadedAt time.Time
}

func NewSnapshot(actions []model.ActionDefinition, modals []model.ModalConfig, flows []model.FlowDefinition) (*Snapshot, error) {
	s := &Snapshot{
		actions:  make(map[string]model.ActionDefinition, len(actions)),
		modals:   make(map[string]model.ModalConfig, len(modals)),
		flows:    make(map[string]model.FlowDefinition, len(flows)),
		LoadedAt: time.Now(),
	}
	for _, a := range actions {
		if err := a.Validate(); err != nil {
			return nil, err
		}
		if _, ok := s.actions[a.Id]; ok {
			return nil, fmt.Errorf("action id %s is duplicate", a.Id)
		}
		kind, err := model.ToActionKind(string(a.Kind))
		if err != nil {
			return nil, err
		}
		a.Kind = kind
		if a.PermissionTier == "" {
			a.PermissionTier = model.TIER_FREE
		}
		s.actions[a.Id] = a
		s.ordered = append(s.ordered, a)
	}
	sortStatic(s.ordered)
	for _, m := range modals {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if _, ok := s.actions[m.ActionId]; !ok {
			return nil, fmt.Errorf("modal config %s references unknown action %s", m.Id, m.ActionId)
		}
		if _, ok := s.modals[m.ActionId]; ok {
			return nil, fmt.Errorf("action %s has more than one modal config", m.ActionId)
		}
		s.modals[m.ActionId] = m
	}
	for _, f := range flows {
		if err := f.Validate(); err != nil {
			return nil, err
		}
		if _, ok := s.flows[f.Id]; ok {
			return nil, fmt.Errorf("flow id %s is duplicate", f.Id)
		}
		for _, step := range f.StepActionIds {
			if _, ok := s.actions[step]; !ok {
				return nil, fmt.Errorf("flow %s references unknown action %s", f.Id, step)
			}
		}
		s.flows[f.Id] = f
	}
	return s, nil
}

// sortStatic orders by basePriority descending, then id.
func sortStatic(actions []model.ActionDefinition) {
	sort.SliceStable(actions, func(i, j int) bool {
		if actions[i].BasePriority != actions[j].BasePriority {
			return actions[i].BasePriority > actions[j].BasePriority
		}
		return actions[i].Id < actions[j].Id
	})
}

func (s *Snapshot) Action(id string) (model.ActionDefinition, bool) {
	a, ok := s.actions[id]
	return a, ok
}

func (s *Snapshot) Modal(actionId string) (model.ModalConfig, bool) {
	m, ok := s.modals[actionId]
	return m, ok
}

func (s *Snapshot) Flow(id string) (model.FlowDefinition, bool) {
	f, ok := s.flows[id]
	return f, ok
}

// Actions returns every definition in static order.
func (s *Snapshot) Actions() []model.ActionDefinition {
	out := make([]model.ActionDefinition, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// ForMode returns the definitions applicable to mode, in static order.
func (s *Snapshot) ForMode(mode model.Mode) []model.ActionDefinition {
	out := make([]model.ActionDefinition, 0, len(s.ordered))
	for _, a := range s.ordered {
		if a.AppliesTo(mode) {
			out = append(out, a)
		}
	}
	return out
}

func (s *Snapshot) Modals() []model.ModalConfig {
	out := make([]model.ModalConfig, 0, len(s.modals))
	for _, m := range s.modals {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}

func (s *Snapshot) Flows() []model.FlowDefinition {
	out := make([]model.FlowDefinition, 0, len(s.flows))
	for _, f := range s.flows {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}

// WithCustomHandlers attaches handler declarations. Every declaration must name a
// known action.
func (s *Snapshot) WithCustomHandlers(specs []model.CustomHandlerSpec) error {
	handlers := make(map[string]model.CustomHandlerSpec, len(specs))
	for _, h := range specs {
		if _, ok := s.actions[h.ActionId]; !ok {
			return fmt.Errorf("custom handler %s references unknown action %s", h.Name, h.ActionId)
		}
		if _, ok := handlers[h.ActionId]; ok {
			return fmt.Errorf("action %s has more than one custom handler", h.ActionId)
		}
		if h.Method != "" && h.Service == "" {
			return fmt.Errorf("custom handler %s has a method but no service", h.Name)
		}
		handlers[h.ActionId] = h
	}
	s.handlers = handlers
	return nil
}

func (s *Snapshot) CustomHandler(actionId string) (model.CustomHandlerSpec, bool) {
	h, ok := s.handlers[actionId]
	return h, ok
}

func (s *Snapshot) CustomHandlers() []model.CustomHandlerSpec {
	out := make([]model.CustomHandlerSpec, 0, len(s.handlers))
	for _, h := range s.handlers {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActionId < out[j].ActionId })
	return out
}

func (s *Snapshot) Size() int {
	return len(s.actions)
}

// Catalog hands out the current snapshot. Readers never block a reload.
type Catalog struct {
	current atomic.Pointer[Snapshot]
}

func NewCatalog(s *Snapshot) *Catalog {
	c := &Catalog{}
	if s == nil {
		s, _ = NewSnapshot(nil, nil, nil)
	}
	c.current.Store(s)
	return c
}

func (c *Catalog) Snapshot() *Snapshot {
	return c.current.Load()
}

func (c *Catalog) Replace(s *Snapshot) {
	c.current.Store(s)
}

func (c *Catalog) Get(id string) (model.ActionDefinition, bool) {
	return c.Snapshot().Action(id)
}
