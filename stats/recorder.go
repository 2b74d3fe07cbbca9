// Package stats feeds execution events into the stats store. Events for one
// user always land on the same lane and are applied in arrival order.
package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mohitkumar/actionrouter/logger"
	"github.com/mohitkumar/actionrouter/metrics"
	"github.com/mohitkumar/actionrouter/model"
	"github.com/mohitkumar/actionrouter/partition"
	"github.com/mohitkumar/actionrouter/persistence"
	"github.com/mohitkumar/actionrouter/util"
	"go.uber.org/zap"
)

// Invalidator drops cached rankings for a user once their stats change.
type Invalidator interface {
	Invalidate(userId string) int
}

type Recorder struct {
	store       persistence.StatsStore
	invalidator Invalidator
	ring        *partition.Ring
	lanes       []*util.Worker
	wg          *sync.WaitGroup
	timeout     time.Duration
	metrics     *metrics.Metrics
	clock       func() time.Time
}

func NewRecorder(store persistence.StatsStore, invalidator Invalidator, ring *partition.Ring, queueSize int, timeout time.Duration, m *metrics.Metrics) *Recorder {
	if queueSize < 1 {
		queueSize = 1
	}
	r := &Recorder{
		store:       store,
		invalidator: invalidator,
		ring:        ring,
		wg:          &sync.WaitGroup{},
		timeout:     timeout,
		metrics:     m,
		clock:       time.Now,
	}
	for i := 0; i < ring.Lanes(); i++ {
		r.lanes = append(r.lanes, util.NewWorker(fmt.Sprintf("stats-lane-%d", i), r.wg, r.apply, queueSize))
	}
	return r
}

func (r *Recorder) Start() {
	for _, w := range r.lanes {
		w.Start()
	}
	logger.Info("stats recorder started", zap.Int("lanes", len(r.lanes)))
}

// Stop applies everything already accepted and waits for the lanes to exit.
func (r *Recorder) Stop() {
	for _, w := range r.lanes {
		w.Stop()
	}
	r.wg.Wait()
}

// Record queues ev on the user's lane. It blocks while the lane is full.
func (r *Recorder) Record(ctx context.Context, ev model.ExecutionEvent) error {
	if ev.UserId == "" {
		return model.NewActionError(model.VALIDATION_FAILED, ev.ActionId, "userId is required")
	}
	if ev.At.IsZero() {
		ev.At = r.clock()
	}
	ev.Suggested = util.Unique(ev.Suggested)
	return r.lanes[r.ring.Lane(ev.UserId)].Send(ctx, ev)
}

func (r *Recorder) apply(ctx context.Context, task util.Task) error {
	ev, ok := task.(model.ExecutionEvent)
	if !ok {
		return fmt.Errorf("unexpected task %T", task)
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if err := r.store.ApplyEvent(ctx, ev); err != nil {
		r.metrics.EventApplied(false)
		return err
	}
	r.metrics.EventApplied(true)
	if r.invalidator != nil {
		n := r.invalidator.Invalidate(ev.UserId)
		logger.Debug("stats updated", zap.String("user", ev.UserId), zap.String("action", ev.ActionId), zap.Int("invalidated", n))
	}
	return nil
}
