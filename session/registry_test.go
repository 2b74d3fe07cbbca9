package session

import (
	"context"
	"testing"
	"time"

	"github.com/mohitkumar/actionrouter/action"
	"github.com/mohitkumar/actionrouter/compound"
	"github.com/mohitkumar/actionrouter/modal"
	"github.com/mohitkumar/actionrouter/model"
	"github.com/mohitkumar/actionrouter/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deps struct {
	resolver     *modal.Resolver
	orchestrator *compound.Orchestrator
}

func newDeps(t *testing.T) deps {
	t.Helper()
	actions := []model.ActionDefinition{{Id: "reply", ApplicabilityMode: model.MODE_MAIL, BasePriority: 50}}
	flows := []model.FlowDefinition{{Id: "reply_flow", StepActionIds: []string{"reply"}}}
	snap, err := action.NewSnapshot(actions, nil, flows)
	require.NoError(t, err)
	catalog := action.NewCatalog(snap)
	interpreter, err := schema.NewInterpreter(8)
	require.NoError(t, err)
	registry := modal.NewRegistry(catalog, interpreter)
	registry.RegisterCustom("reply", modal.CustomHandler{Name: "Composer"})
	resolver := modal.NewResolver(action.NewValidator(catalog, nil), registry, interpreter, nil, nil)
	return deps{resolver: resolver, orchestrator: compound.NewOrchestrator(catalog, resolver, nil, nil)}
}

func item() model.ContentItem {
	return model.ContentItem{Id: "m1", Mode: model.MODE_MAIL}
}

func (d deps) openModal(t *testing.T) *modal.Session {
	s, err := d.resolver.Open(context.Background(), modal.OpenRequest{ActionId: "reply", UserId: "u1", Tier: model.TIER_FREE, Item: item()})
	require.NoError(t, err)
	return s
}

func (d deps) startFlow(t *testing.T) *compound.FlowMachine {
	f, err := d.orchestrator.Start(context.Background(), compound.StartRequest{FlowId: "reply_flow", UserId: "u1", Tier: model.TIER_FREE, Item: item()})
	require.NoError(t, err)
	return f
}

func TestRegistryLookup(t *testing.T) {
	d := newDeps(t)
	r := NewRegistry(time.Minute)
	s := d.openModal(t)
	f := d.startFlow(t)
	r.PutModal(s)
	r.PutFlow(f)

	got, ok := r.Modal(s.Id())
	require.True(t, ok)
	assert.Same(t, s, got)
	gotFlow, ok := r.Flow(f.Id())
	require.True(t, ok)
	assert.Same(t, f, gotFlow)
	_, ok = r.Modal(f.Id())
	assert.False(t, ok)

	modals, flows := r.Count()
	assert.Equal(t, 1, modals)
	assert.Equal(t, 1, flows)
}

func TestIdleSessionsAreCancelled(t *testing.T) {
	d := newDeps(t)
	r := NewRegistry(40 * time.Millisecond)
	s := d.openModal(t)
	f := d.startFlow(t)
	r.PutModal(s)
	r.PutFlow(f)

	require.Eventually(t, func() bool {
		modals, flows := r.Count()
		return modals == 0 && flows == 0
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return s.Snapshot().State == model.MODAL_CANCELLED && f.State().Status == model.FLOW_ABORTED
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "session expired", s.Snapshot().Reason)
}

func TestCloseAndShutdown(t *testing.T) {
	d := newDeps(t)
	r := NewRegistry(time.Minute)
	f := d.startFlow(t)
	r.PutFlow(f)
	r.Close(f.Id())
	assert.Equal(t, model.FLOW_ABORTED, f.State().Status)
	_, ok := r.Flow(f.Id())
	assert.False(t, ok)

	s := d.openModal(t)
	r.PutModal(s)
	r.Shutdown()
	assert.Equal(t, model.MODAL_CANCELLED, s.Snapshot().State)
	modals, _ := r.Count()
	assert.Equal(t, 0, modals)
}
