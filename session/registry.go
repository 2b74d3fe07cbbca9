// Package session keeps live modal and flow sessions addressable by id.
// Sessions that sit idle past the timeout are evicted and cancelled.
package session

import (
	"strings"
	"time"

	"github.com/mohitkumar/actionrouter/compound"
	"github.com/mohitkumar/actionrouter/logger"
	"github.com/mohitkumar/actionrouter/modal"
	c "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const DefaultIdleTimeout = 30 * time.Minute

const modalPrefix = "modal:"
const flowPrefix = "flow:"

type Registry struct {
	cache *c.Cache
}

func NewRegistry(idle time.Duration) *Registry {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	cleanup := idle / 2
	if cleanup < 10*time.Millisecond {
		cleanup = 10 * time.Millisecond
	}
	r := &Registry{cache: c.New(idle, cleanup)}
	r.cache.OnEvicted(r.evicted)
	return r
}

func (r *Registry) evicted(key string, value any) {
	switch v := value.(type) {
	case *modal.Session:
		if _, err := v.Cancel("session expired"); err == nil {
			logger.Info("modal session evicted", zap.String("modal", v.Id()))
		}
	case *compound.FlowMachine:
		if _, err := v.Abort("session expired"); err == nil {
			logger.Info("flow session evicted", zap.String("flow", v.Id()))
		}
	default:
		logger.Warn("unexpected session type evicted", zap.String("key", key))
	}
}

func (r *Registry) PutModal(s *modal.Session) {
	r.cache.SetDefault(modalPrefix+s.Id(), s)
}

// Modal returns the session and extends its idle deadline.
func (r *Registry) Modal(id string) (*modal.Session, bool) {
	v, ok := r.cache.Get(modalPrefix + id)
	if !ok {
		return nil, false
	}
	s := v.(*modal.Session)
	r.cache.SetDefault(modalPrefix+id, s)
	return s, true
}

func (r *Registry) PutFlow(f *compound.FlowMachine) {
	r.cache.SetDefault(flowPrefix+f.Id(), f)
}

func (r *Registry) Flow(id string) (*compound.FlowMachine, bool) {
	v, ok := r.cache.Get(flowPrefix + id)
	if !ok {
		return nil, false
	}
	f := v.(*compound.FlowMachine)
	r.cache.SetDefault(flowPrefix+id, f)
	return f, true
}

// Close removes a session, cancelling it if it is still live.
func (r *Registry) Close(id string) {
	r.cache.Delete(modalPrefix + id)
	r.cache.Delete(flowPrefix + id)
}

func (r *Registry) Count() (modals int, flows int) {
	for k := range r.cache.Items() {
		if strings.HasPrefix(k, modalPrefix) {
			modals++
		} else {
			flows++
		}
	}
	return modals, flows
}

// Shutdown cancels every live session.
func (r *Registry) Shutdown() {
	for k, item := range r.cache.Items() {
		r.evicted(k, item.Object)
	}
	r.cache.Flush()
}
