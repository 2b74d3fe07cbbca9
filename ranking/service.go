package ranking

import (
	"context"
	"errors"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mohitkumar/actionrouter/action"
	"github.com/mohitkumar/actionrouter/cache"
	"github.com/mohitkumar/actionrouter/logger"
	"github.com/mohitkumar/actionrouter/metrics"
	"github.com/mohitkumar/actionrouter/model"
	"github.com/mohitkumar/actionrouter/persistence"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultLookbackDays = 30
	MinTimeout          = 2 * time.Second
	MaxTimeout          = 5 * time.Second

	lastKnownSize = 4096
)

// ClampTimeout keeps network-bound ranking work within [MinTimeout, MaxTimeout].
func ClampTimeout(d time.Duration) time.Duration {
	if d < MinTimeout {
		return MinTimeout
	}
	if d > MaxTimeout {
		return MaxTimeout
	}
	return d
}

type computed struct {
	actions    []model.RankedAction
	corpusSize int
}

type Service struct {
	catalog   *action.Catalog
	validator *action.Validator
	store     persistence.StatsStore
	cache     *cache.RegistryCache
	metrics   *metrics.Metrics
	timeout   time.Duration
	clock     func() time.Time
	group     singleflight.Group
	// last good personalized answer per key, served when the store is down
	lastKnown *lru.Cache[string, computed]
}

func NewService(catalog *action.Catalog, validator *action.Validator, store persistence.StatsStore, registry *cache.RegistryCache, m *metrics.Metrics, timeout time.Duration, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	lastKnown, _ := lru.New[string, computed](lastKnownSize)
	return &Service{
		catalog:   catalog,
		validator: validator,
		store:     store,
		cache:     registry,
		metrics:   m,
		timeout:   ClampTimeout(timeout),
		clock:     clock,
		lastKnown: lastKnown,
	}
}

func normalize(req model.RankingRequest) (model.RankingRequest, error) {
	if req.UserId == "" {
		return req, model.NewActionError(model.VALIDATION_FAILED, "", "userId is required")
	}
	if req.Mode == "" {
		req.Mode = model.MODE_ANY
	}
	switch req.Mode {
	case model.MODE_MAIL, model.MODE_ADS, model.MODE_ANY:
	default:
		return req, model.NewActionError(model.VALIDATION_FAILED, "", "unknown mode "+string(req.Mode))
	}
	if req.LookbackDays <= 0 {
		req.LookbackDays = DefaultLookbackDays
	}
	return req, nil
}

// Query answers from the registry cache when it can, otherwise computes a
// personalized ranking. A store failure or timeout never reaches the caller:
// the last known ranking or the static order is returned instead, uncached.
func (s *Service) Query(ctx context.Context, req model.RankingRequest) (model.RankingResponse, error) {
	req, err := normalize(req)
	if err != nil {
		return model.RankingResponse{}, err
	}
	key := cache.Key{UserId: req.UserId, Mode: req.Mode, LookbackDays: req.LookbackDays}
	if entry, ok := s.cache.Get(key); ok {
		s.metrics.CacheHit()
		return model.RankingResponse{
			Actions:  entry.Actions,
			Metadata: model.RankingMetadata{CorpusSize: entry.CorpusSize, FromCache: true, PersonalizationApplied: true},
		}, nil
	}
	s.metrics.CacheMiss()

	// a generation in the flight key keeps callers arriving after an
	// invalidation from joining a computation that read older stats
	gen := s.cache.Generation(req.UserId)
	res, err, _ := s.group.Do(key.String()+"@"+strconv.FormatUint(gen, 10), func() (any, error) {
		return s.compute(ctx, req, key, gen)
	})
	if err != nil {
		return s.fallback(req, key, err), nil
	}
	c := res.(computed)
	return model.RankingResponse{
		Actions:  c.actions,
		Metadata: model.RankingMetadata{CorpusSize: c.corpusSize, PersonalizationApplied: true},
	}, nil
}

func (s *Service) compute(ctx context.Context, req model.RankingRequest, key cache.Key, gen uint64) (computed, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveRanking(time.Since(start)) }()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := s.clock()
	since := persistence.WindowStart(now, req.LookbackDays)
	var stats map[string]model.UserActionStats
	var corpusSize int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats, err = s.store.GetUserStats(gctx, req.UserId, req.Mode, since)
		return err
	})
	g.Go(func() error {
		var err error
		corpusSize, err = s.corpus(gctx, req, since)
		return err
	})
	if err := g.Wait(); err != nil {
		return computed{}, err
	}

	actions := s.catalog.Snapshot().ForMode(req.Mode)
	ranked := Rank(FilterIrrelevant(actions, stats, corpusSize), stats, now)
	c := computed{actions: ranked, corpusSize: corpusSize}
	if _, ok := s.cache.PutIfCurrent(key, ranked, corpusSize, now, gen); ok {
		s.lastKnown.Add(key.String(), c)
	}
	return c, nil
}

func (s *Service) corpus(ctx context.Context, req model.RankingRequest, since time.Time) (int, error) {
	total := 0
	for _, m := range persistence.ModesFor(req.Mode) {
		n, err := s.store.CorpusSize(ctx, req.UserId, m, since)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func (s *Service) fallback(req model.RankingRequest, key cache.Key, cause error) model.RankingResponse {
	reason := "store_error"
	if errors.Is(cause, context.DeadlineExceeded) {
		reason = "timeout"
	}
	logger.Warn("ranking unavailable, falling back",
		zap.String("code", string(model.RANKING_UNAVAILABLE)),
		zap.String("user", req.UserId),
		zap.String("mode", string(req.Mode)),
		zap.String("reason", reason),
		zap.Error(cause))
	s.metrics.RankingFallback(reason)
	if last, ok := s.lastKnown.Get(key.String()); ok {
		return model.RankingResponse{
			Actions:  last.actions,
			Metadata: model.RankingMetadata{CorpusSize: last.corpusSize, FromCache: true, PersonalizationApplied: true},
		}
	}
	return model.RankingResponse{
		Actions:  StaticOrder(s.catalog.Snapshot().ForMode(req.Mode)),
		Metadata: model.RankingMetadata{},
	}
}

// SuggestForItem intersects the actions applicable to item with the user's
// ranking for the item's mode. Disabled entries follow the enabled ones.
func (s *Service) SuggestForItem(ctx context.Context, userId string, tier model.PermissionTier, item model.ContentItem) (model.SuggestionResponse, error) {
	if item.Mode == "" || item.Mode == model.MODE_ANY {
		return model.SuggestionResponse{}, model.NewActionError(model.VALIDATION_FAILED, "", "item mode must be mail or ads")
	}
	applicable := s.validator.ResolveApplicable(item, tier)
	ranking, err := s.Query(ctx, model.RankingRequest{UserId: userId, Mode: item.Mode, LookbackDays: DefaultLookbackDays})
	if err != nil {
		return model.SuggestionResponse{}, err
	}
	byId := make(map[string]action.Applicable, len(applicable))
	for _, a := range applicable {
		byId[a.Action.Id] = a
	}
	resp := model.SuggestionResponse{ItemId: item.Id, Suggestions: []model.Suggestion{}, Metadata: ranking.Metadata}
	for _, r := range ranking.Actions {
		a, ok := byId[r.Action.Id]
		if !ok || a.Disabled {
			continue
		}
		resp.Suggestions = append(resp.Suggestions, model.Suggestion{Action: a.Action, PersonalizedPriority: r.PersonalizedPriority})
	}
	for _, a := range applicable {
		if a.Disabled {
			resp.Suggestions = append(resp.Suggestions, model.Suggestion{
				Action:               a.Action,
				PersonalizedPriority: Score(a.Action, nil, time.Time{}),
				Disabled:             true,
				Reason:               a.Reason,
			})
		}
	}
	return resp, nil
}
