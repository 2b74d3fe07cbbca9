// Package compound runs multi-step flows where every step is a modal
// invocation. A flow only moves forward: steps complete, optional steps may be
// skipped, and any unhandled failure aborts the flow without undoing the steps
// that already committed. Steps still inside an undo window are undone.
package compound

import (
	"context"

	"github.com/google/uuid"
	"github.com/mohitkumar/actionrouter/action"
	"github.com/mohitkumar/actionrouter/analytics"
	"github.com/mohitkumar/actionrouter/logger"
	"github.com/mohitkumar/actionrouter/metrics"
	"github.com/mohitkumar/actionrouter/modal"
	"github.com/mohitkumar/actionrouter/model"
	"go.uber.org/zap"
)

type Orchestrator struct {
	catalog   *action.Catalog
	resolver  *modal.Resolver
	collector analytics.Collector
	metrics   *metrics.Metrics
}

func NewOrchestrator(catalog *action.Catalog, resolver *modal.Resolver, collector analytics.Collector, m *metrics.Metrics) *Orchestrator {
	if collector == nil {
		collector, _ = analytics.NewCollector(analytics.DataCollectorConfig{})
	}
	return &Orchestrator{
		catalog:   catalog,
		resolver:  resolver,
		collector: collector,
		metrics:   m,
	}
}

type StartRequest struct {
	FlowId string               `json:"flowId"`
	UserId string               `json:"userId"`
	Tier   model.PermissionTier `json:"tier"`
	Item   model.ContentItem    `json:"item"`
}

// Start creates the flow and presents its first step. The returned machine is
// nil only when the definition is unknown or the user may not run it.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*FlowMachine, error) {
	def, ok := o.catalog.Snapshot().Flow(req.FlowId)
	if !ok {
		return nil, model.NewActionError(model.NOT_FOUND, "", "unknown flow "+req.FlowId)
	}
	if def.Premium && !req.Tier.Satisfies(model.TIER_PREMIUM) {
		return nil, model.NewActionError(model.PERMISSION_DENIED, "", "flow "+def.Id+" requires tier premium")
	}
	steps := make([]model.StepRecord, len(def.StepActionIds))
	for i, id := range def.StepActionIds {
		steps[i] = model.StepRecord{Index: i, ActionId: id, Status: model.STEP_PENDING}
	}
	flowCtx, cancel := context.WithCancel(context.Background())
	f := &FlowMachine{
		o:      o,
		def:    def,
		tier:   req.Tier,
		item:   req.Item,
		ctx:    flowCtx,
		cancel: cancel,
		state: model.FlowState{
			FlowId:       uuid.New().String(),
			DefinitionId: def.Id,
			ItemId:       req.Item.Id,
			UserId:       req.UserId,
			Steps:        steps,
			Status:       model.FLOW_NOT_STARTED,
		},
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markInProgress()
	f.present(ctx, 0)
	return f, nil
}

func (o *Orchestrator) record(kind analytics.EventKind, f *FlowMachine, state string, data map[string]any) {
	o.collector.Record(analytics.Event{
		Kind:      kind,
		SessionId: f.state.FlowId,
		UserId:    f.state.UserId,
		ActionId:  f.def.Id,
		State:     state,
		Data:      data,
	})
}

func logFlow(msg string, f *FlowMachine, fields ...zap.Field) {
	logger.Info(msg, append([]zap.Field{zap.String("flow", f.def.Id), zap.String("id", f.state.FlowId)}, fields...)...)
}
