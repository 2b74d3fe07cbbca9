package action

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mohitkumar/actionrouter/model"
	"github.com/stretchr/testify/require"
)

const catalogYAML = `
actions:
  - id: track_package
    displayName: Track Package
    kind: external
    applicabilityMode: mail
    requiredContextKeys: [trackingNumber, carrier]
    basePriority: 90
    permissionTier: free
  - id: add_to_calendar
    displayName: Add to Calendar
    applicabilityMode: mail
    requiredContextKeys: [eventDate]
    contextTypes: {eventDate: date}
    basePriority: 70
    confirmationPolicy: {type: optimisticWithUndo, windowSeconds: 10}
modals:
  - id: track_package_v1
    version: 1
    actionId: track_package
    title: Track your package
    sections:
      - id: main
        fields:
          - {id: tracking, type: readonly, contextKey: trackingNumber}
    primaryButton: {label: Track, action: {type: url, url: "https://track.example.com/{$.context.trackingNumber}"}}
    secondaryButton: {label: Close, action: {type: dismiss}}
flows:
  - id: plan_event
    stepActionIds: [add_to_calendar, track_package]
    optionalSteps: [1]
    endBehavior: returnToCaller
`

func TestParseCatalog(t *testing.T) {
	snap, err := Parse([]byte(catalogYAML))
	require.NoError(t, err)
	require.Equal(t, 2, snap.Size())

	all := snap.Actions()
	require.Equal(t, "track_package", all[0].Id)
	require.Equal(t, model.ACTION_KIND_INTERACTIVE, all[1].Kind)
	require.Equal(t, model.TIER_FREE, all[1].PermissionTier)

	m, ok := snap.Modal("track_package")
	require.True(t, ok)
	require.Equal(t, "track_package_v1", m.Id)
	_, ok = snap.Modal("add_to_calendar")
	require.False(t, ok)

	f, ok := snap.Flow("plan_event")
	require.True(t, ok)
	require.True(t, f.IsOptional(1))
	require.False(t, f.IsOptional(0))
}

func TestSnapshotRejectsBadDefinitions(t *testing.T) {
	_, err := NewSnapshot([]model.ActionDefinition{{Id: "a", BasePriority: 101}}, nil, nil)
	require.Error(t, err)

	_, err = NewSnapshot([]model.ActionDefinition{{Id: "a"}, {Id: "a"}}, nil, nil)
	require.Error(t, err)

	_, err = NewSnapshot([]model.ActionDefinition{{Id: "a", Fallback: model.FallbackBehavior{Type: model.FALLBACK_SUBSTITUTE}}}, nil, nil)
	require.Error(t, err)

	_, err = NewSnapshot([]model.ActionDefinition{{Id: "a"}}, nil, []model.FlowDefinition{{Id: "f", StepActionIds: []string{"b"}}})
	require.Error(t, err)

	_, err = NewSnapshot([]model.ActionDefinition{{Id: "a"}}, []model.ModalConfig{{Id: "m", ActionId: "zzz"}}, nil)
	require.Error(t, err)
}

func TestWatcherReloadKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0644))
	snap, err := LoadFile(path)
	require.NoError(t, err)
	catalog := NewCatalog(snap)

	reloaded := 0
	var wg sync.WaitGroup
	w, err := NewWatcher(path, catalog, func(*Snapshot) { reloaded++ }, &wg)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("actions: [ {id: only, basePriority: 5} ]"), 0644))
	w.Reload()
	require.Equal(t, 1, catalog.Snapshot().Size())
	require.Equal(t, 1, reloaded)

	require.NoError(t, os.WriteFile(path, []byte("actions: [ {id: bad, basePriority: 500} ]"), 0644))
	w.Reload()
	_, ok := catalog.Get("only")
	require.True(t, ok)
	require.Equal(t, 1, reloaded)
}

func TestParseCustomHandlers(t *testing.T) {
	snap, err := Parse([]byte(catalogYAML + `
customHandlers:
  - {actionId: add_to_calendar, name: CalendarSheet, service: calendar, method: events.insert}
`))
	require.NoError(t, err)
	handlers := snap.CustomHandlers()
	require.Len(t, handlers, 1)
	require.Equal(t, "CalendarSheet", handlers[0].Name)
	require.Equal(t, "calendar", handlers[0].Service)

	_, err = Parse([]byte(catalogYAML + `
customHandlers:
  - {actionId: nope, name: Ghost}
`))
	require.Error(t, err)

	_, err = Parse([]byte(catalogYAML + `
customHandlers:
  - {actionId: add_to_calendar, name: Broken, method: insert}
`))
	require.Error(t, err)
}

func TestBundledCatalogLoads(t *testing.T) {
	snap, err := LoadFile("../catalog.yaml")
	require.NoError(t, err)
	require.Equal(t, 8, snap.Size())
	require.Len(t, snap.Modals(), 3)
	require.Len(t, snap.CustomHandlers(), 2)
	f, ok := snap.Flow("settle_invoice")
	require.True(t, ok)
	require.True(t, f.Premium)
}
