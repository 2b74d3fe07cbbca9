package ranking

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohitkumar/actionrouter/action"
	"github.com/mohitkumar/actionrouter/cache"
	"github.com/mohitkumar/actionrouter/metrics"
	"github.com/mohitkumar/actionrouter/model"
	"github.com/mohitkumar/actionrouter/partition"
	"github.com/mohitkumar/actionrouter/persistence"
	"github.com/mohitkumar/actionrouter/persistence/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// switchableStore fails or blocks on demand and counts reads. When paused is
// set, each stats read announces itself on reading and waits for paused to close.
type switchableStore struct {
	persistence.StatsStore
	fail    atomic.Bool
	block   atomic.Bool
	reads   atomic.Int32
	paused  chan struct{}
	reading chan struct{}
}

func (s *switchableStore) GetUserStats(ctx context.Context, userId string, mode model.Mode, since time.Time) (map[string]model.UserActionStats, error) {
	s.reads.Add(1)
	if s.paused != nil {
		stats, err := s.StatsStore.GetUserStats(ctx, userId, mode, since)
		s.reading <- struct{}{}
		<-s.paused
		return stats, err
	}
	if s.block.Load() {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.fail.Load() {
		return nil, persistence.StorageLayerError{Message: "connection refused"}
	}
	return s.StatsStore.GetUserStats(ctx, userId, mode, since)
}

func (s *switchableStore) CorpusSize(ctx context.Context, userId string, mode model.Mode, since time.Time) (int, error) {
	if s.fail.Load() {
		return 0, persistence.StorageLayerError{Message: "connection refused"}
	}
	return s.StatsStore.CorpusSize(ctx, userId, mode, since)
}

type fixture struct {
	svc      *Service
	store    *switchableStore
	registry *cache.RegistryCache
}

func mailActions() []model.ActionDefinition {
	return []model.ActionDefinition{
		{Id: "track_package", ApplicabilityMode: model.MODE_MAIL, BasePriority: 90, RequiredContextKeys: []string{"trackingNumber"}},
		{Id: "reply", ApplicabilityMode: model.MODE_MAIL, BasePriority: 60},
		{Id: "archive", ApplicabilityMode: model.MODE_ANY, BasePriority: 55},
		{Id: "pay_invoice", ApplicabilityMode: model.MODE_MAIL, BasePriority: 70, RequiredContextKeys: []string{"amount"},
			Fallback: model.FallbackBehavior{Type: model.FALLBACK_SHOW_ERROR}},
		{Id: "shop_deal", ApplicabilityMode: model.MODE_ADS, BasePriority: 50},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	snap, err := action.NewSnapshot(mailActions(), nil, nil)
	require.NoError(t, err)
	catalog := action.NewCatalog(snap)
	store := &switchableStore{StatsStore: memory.NewMemoryStatsStore()}
	registry := cache.NewRegistryCache(time.Hour, partition.NewRing(2), func() time.Time { return now })
	svc := NewService(catalog, action.NewValidator(catalog, nil), store, registry, metrics.MustNewMetrics(prometheus.NewRegistry()), 3*time.Second, func() time.Time { return now })
	return &fixture{svc: svc, store: store, registry: registry}
}

func rankedIds(actions []model.RankedAction) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Action.Id)
	}
	return out
}

func TestQueryMissThenHit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		require.NoError(t, f.store.ApplyEvent(ctx, model.ExecutionEvent{UserId: "u1", Mode: model.MODE_MAIL, Suggested: []string{"reply", "archive"}, ActionId: "archive", At: now}))
	}

	first, err := f.svc.Query(ctx, model.RankingRequest{UserId: "u1", Mode: model.MODE_MAIL, LookbackDays: 7})
	require.NoError(t, err)
	assert.False(t, first.Metadata.FromCache)
	assert.True(t, first.Metadata.PersonalizationApplied)
	assert.Equal(t, 6, first.Metadata.CorpusSize)
	// archive: 55 + 10 (frequency 1.0) + 5 (rate 1.0 over 6) + 3 (recent) = 73
	assert.Equal(t, []string{"track_package", "archive", "pay_invoice", "reply"}, rankedIds(first.Actions))
	assert.Equal(t, 73, first.Actions[1].PersonalizedPriority)

	second, err := f.svc.Query(ctx, model.RankingRequest{UserId: "u1", Mode: model.MODE_MAIL, LookbackDays: 7})
	require.NoError(t, err)
	assert.True(t, second.Metadata.FromCache)
	assert.Equal(t, first.Actions, second.Actions)
	assert.Equal(t, int32(1), f.store.reads.Load())
}

func TestQueryFallsBackToStaticOrder(t *testing.T) {
	f := newFixture(t)
	f.store.fail.Store(true)

	resp, err := f.svc.Query(context.Background(), model.RankingRequest{UserId: "u1", Mode: model.MODE_MAIL})
	require.NoError(t, err)
	assert.False(t, resp.Metadata.PersonalizationApplied)
	assert.False(t, resp.Metadata.FromCache)
	assert.Equal(t, []string{"track_package", "pay_invoice", "reply", "archive"}, rankedIds(resp.Actions))
	assert.Equal(t, 0, f.registry.Stats().Entries, "fallback results are not cached")
}

func TestQueryTimeoutDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	f.store.block.Store(true)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	resp, err := f.svc.Query(ctx, model.RankingRequest{UserId: "u1", Mode: model.MODE_MAIL})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, resp.Metadata.PersonalizationApplied)
	assert.NotEmpty(t, resp.Actions)
}

func TestQueryServesLastKnownWhenStoreDown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := model.RankingRequest{UserId: "u1", Mode: model.MODE_MAIL, LookbackDays: 7}
	good, err := f.svc.Query(ctx, req)
	require.NoError(t, err)

	f.registry.Invalidate("u1")
	f.store.fail.Store(true)
	resp, err := f.svc.Query(ctx, req)
	require.NoError(t, err)
	assert.True(t, resp.Metadata.FromCache)
	assert.True(t, resp.Metadata.PersonalizationApplied)
	assert.Equal(t, good.Actions, resp.Actions)
}

func TestInvalidationDuringComputeIsNotOverwritten(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := model.RankingRequest{UserId: "u1", Mode: model.MODE_MAIL, LookbackDays: 7}
	f.store.paused = make(chan struct{})
	f.store.reading = make(chan struct{}, 1)

	done := make(chan model.RankingResponse, 1)
	go func() {
		resp, err := f.svc.Query(ctx, req)
		assert.NoError(t, err)
		done <- resp
	}()
	<-f.store.reading

	// stats change while the ranking above still holds the old read
	for i := 0; i < 6; i++ {
		require.NoError(t, f.store.ApplyEvent(ctx, model.ExecutionEvent{UserId: "u1", Mode: model.MODE_MAIL, Suggested: []string{"reply", "archive"}, ActionId: "archive", At: now}))
	}
	f.registry.Invalidate("u1")
	close(f.store.paused)

	stale := <-done
	assert.False(t, stale.Metadata.FromCache)
	assert.Equal(t, 0, f.registry.Stats().Entries, "ranking from the old read must not be cached")

	f.store.paused = nil
	fresh, err := f.svc.Query(ctx, req)
	require.NoError(t, err)
	assert.False(t, fresh.Metadata.FromCache)
	assert.Equal(t, 6, fresh.Metadata.CorpusSize)
	assert.Equal(t, []string{"track_package", "archive", "pay_invoice", "reply"}, rankedIds(fresh.Actions))
	assert.Equal(t, int32(2), f.store.reads.Load())
}

func TestQueryValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Query(context.Background(), model.RankingRequest{Mode: model.MODE_MAIL})
	assert.True(t, model.IsCode(err, model.VALIDATION_FAILED))
	_, err = f.svc.Query(context.Background(), model.RankingRequest{UserId: "u1", Mode: "sms"})
	assert.True(t, model.IsCode(err, model.VALIDATION_FAILED))
}

func TestConcurrentQueriesAgree(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	results := make([][]string, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := f.svc.Query(context.Background(), model.RankingRequest{UserId: "u1", Mode: model.MODE_MAIL})
			if assert.NoError(t, err) {
				results[i] = rankedIds(resp.Actions)
			}
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
}

func TestSuggestForItem(t *testing.T) {
	f := newFixture(t)
	item := model.ContentItem{Id: "m1", Mode: model.MODE_MAIL, Context: map[string]model.ContextValue{"trackingNumber": model.Str("1Z999")}}

	resp, err := f.svc.SuggestForItem(context.Background(), "u1", model.TIER_FREE, item)
	require.NoError(t, err)
	require.Len(t, resp.Suggestions, 4)
	got := make([]string, 0)
	for _, s := range resp.Suggestions {
		got = append(got, s.Action.Id)
	}
	assert.Equal(t, []string{"track_package", "reply", "archive", "pay_invoice"}, got)
	last := resp.Suggestions[3]
	assert.True(t, last.Disabled)
	assert.NotEmpty(t, last.Reason)
	assert.Equal(t, "m1", resp.ItemId)

	_, err = f.svc.SuggestForItem(context.Background(), "u1", model.TIER_FREE, model.ContentItem{Id: "m2", Mode: model.MODE_ANY})
	assert.True(t, model.IsCode(err, model.VALIDATION_FAILED))
}

func TestClampTimeout(t *testing.T) {
	assert.Equal(t, MinTimeout, ClampTimeout(0))
	assert.Equal(t, 3*time.Second, ClampTimeout(3*time.Second))
	assert.Equal(t, MaxTimeout, ClampTimeout(time.Minute))
}
