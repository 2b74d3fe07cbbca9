package cache

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mohitkumar/actionrouter/logger"
	"github.com/mohitkumar/actionrouter/model"
	"github.com/mohitkumar/actionrouter/partition"
	c "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const DefaultTTL = 24 * time.Hour

const sep = "\x1f"

type Key struct {
	UserId       string
	Mode         model.Mode
	LookbackDays int
}

func (k Key) String() string {
	return k.UserId + sep + string(k.Mode) + sep + strconv.Itoa(k.LookbackDays)
}

// Entry is one cached ranking. It is never modified after Put.
type Entry struct {
	Actions    []model.RankedAction
	CorpusSize int
	StoredAt   time.Time
	ExpiresAt  time.Time
}

type Stats struct {
	Entries int     `json:"entries"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

// RegistryCache holds ranked results per (user, mode, window). Entries are
// spread over shards by user, so all entries of one user share a shard and
// invalidation touches a single lock.
//
// Every user carries a generation that Invalidate and Clear advance. A ranking
// computed from a read taken at generation g is only stored while the user is
// still at g, so an invalidation racing a computation is never overwritten.
type RegistryCache struct {
	ttl    time.Duration
	clock  func() time.Time
	ring   *partition.Ring
	shards []*c.Cache
	locks  []sync.Mutex
	gens   sync.Map
	epoch  atomic.Uint64
	hits   atomic.Uint64
	misses atomic.Uint64
}

func NewRegistryCache(ttl time.Duration, ring *partition.Ring, clock func() time.Time) *RegistryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = time.Now
	}
	if ring == nil {
		ring = partition.NewRing(1)
	}
	shards := make([]*c.Cache, ring.Lanes())
	for i := range shards {
		// expiry is enforced against clock; go-cache's own expiry only backs up Sweep
		shards[i] = c.New(ttl, 0)
	}
	return &RegistryCache{
		ttl:    ttl,
		clock:  clock,
		ring:   ring,
		shards: shards,
		locks:  make([]sync.Mutex, len(shards)),
	}
}

func (rc *RegistryCache) TTL() time.Duration {
	return rc.ttl
}

func (rc *RegistryCache) shard(userId string) *c.Cache {
	return rc.shards[rc.ring.Lane(userId)]
}

func (rc *RegistryCache) lock(userId string) *sync.Mutex {
	return &rc.locks[rc.ring.Lane(userId)]
}

func (rc *RegistryCache) userGen(userId string) *atomic.Uint64 {
	g, _ := rc.gens.LoadOrStore(userId, new(atomic.Uint64))
	return g.(*atomic.Uint64)
}

// Generation is the user's current generation. It only ever grows.
func (rc *RegistryCache) Generation(userId string) uint64 {
	return rc.epoch.Load() + rc.userGen(userId).Load()
}

// Get returns the entry for key, or false when it is absent or its age reached the TTL.
// Expired entries are dropped on read.
func (rc *RegistryCache) Get(key Key) (Entry, bool) {
	sh := rc.shard(key.UserId)
	k := key.String()
	val, found := sh.Get(k)
	if !found {
		rc.misses.Add(1)
		return Entry{}, false
	}
	entry := val.(Entry)
	if !rc.clock().Before(entry.ExpiresAt) {
		sh.Delete(k)
		rc.misses.Add(1)
		logger.Debug("registry cache entry expired", zap.String("user", key.UserId), zap.String("mode", string(key.Mode)))
		return Entry{}, false
	}
	rc.hits.Add(1)
	entry.Actions = append([]model.RankedAction(nil), entry.Actions...)
	return entry, true
}

// Put stores actions under key with expiry now+TTL.
func (rc *RegistryCache) Put(key Key, actions []model.RankedAction, corpusSize int, now time.Time) Entry {
	mu := rc.lock(key.UserId)
	mu.Lock()
	defer mu.Unlock()
	return rc.put(key, actions, corpusSize, now)
}

// PutIfCurrent stores like Put only while key's user is still at generation gen.
func (rc *RegistryCache) PutIfCurrent(key Key, actions []model.RankedAction, corpusSize int, now time.Time, gen uint64) (Entry, bool) {
	mu := rc.lock(key.UserId)
	mu.Lock()
	defer mu.Unlock()
	if rc.Generation(key.UserId) != gen {
		logger.Debug("registry cache dropped stale ranking", zap.String("user", key.UserId), zap.String("mode", string(key.Mode)))
		return Entry{}, false
	}
	return rc.put(key, actions, corpusSize, now), true
}

func (rc *RegistryCache) put(key Key, actions []model.RankedAction, corpusSize int, now time.Time) Entry {
	stored := make([]model.RankedAction, len(actions))
	copy(stored, actions)
	entry := Entry{
		Actions:    stored,
		CorpusSize: corpusSize,
		StoredAt:   now,
		ExpiresAt:  now.Add(rc.ttl),
	}
	rc.shard(key.UserId).Set(key.String(), entry, c.DefaultExpiration)
	return entry
}

// Invalidate removes every entry of userId, advances its generation and
// returns how many entries were dropped.
func (rc *RegistryCache) Invalidate(userId string) int {
	mu := rc.lock(userId)
	mu.Lock()
	defer mu.Unlock()
	rc.userGen(userId).Add(1)
	sh := rc.shard(userId)
	prefix := userId + sep
	removed := 0
	for k := range sh.Items() {
		if strings.HasPrefix(k, prefix) {
			sh.Delete(k)
			removed++
		}
	}
	logger.Debug("registry cache invalidated", zap.String("user", userId), zap.Int("removed", removed))
	return removed
}

func (rc *RegistryCache) Clear() {
	for i, sh := range rc.shards {
		rc.locks[i].Lock()
		sh.Flush()
	}
	rc.epoch.Add(1)
	for i := range rc.locks {
		rc.locks[i].Unlock()
	}
	rc.hits.Store(0)
	rc.misses.Store(0)
	logger.Info("registry cache cleared")
}

// Sweep drops every entry expired at now and returns how many were removed.
func (rc *RegistryCache) Sweep(now time.Time) int {
	removed := 0
	for _, sh := range rc.shards {
		for k, item := range sh.Items() {
			entry, ok := item.Object.(Entry)
			if !ok || !now.Before(entry.ExpiresAt) {
				sh.Delete(k)
				removed++
			}
		}
		sh.DeleteExpired()
	}
	if removed > 0 {
		logger.Info("registry cache swept", zap.Int("removed", removed))
	}
	return removed
}

func (rc *RegistryCache) Stats() Stats {
	entries := 0
	for _, sh := range rc.shards {
		entries += sh.ItemCount()
	}
	hits := rc.hits.Load()
	misses := rc.misses.Load()
	rate := 0.0
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}
	return Stats{
		Entries: entries,
		Hits:    hits,
		Misses:  misses,
		HitRate: rate,
	}
}
