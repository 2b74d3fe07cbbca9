package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mohitkumar/actionrouter/model"
	"github.com/mohitkumar/actionrouter/persistence"
)

var _ persistence.StatsStore = new(memoryStatsStore)

type corpusKey struct {
	userId string
	mode   model.Mode
	day    string
}

type usageKey struct {
	corpusKey
	actionId string
}

type usage struct {
	suggested int
	used      int
}

type memoryStatsStore struct {
	mu       sync.RWMutex
	usage    map[usageKey]usage
	lastUsed map[string]map[string]time.Time
	corpus   map[corpusKey]int
}

func NewMemoryStatsStore() *memoryStatsStore {
	return &memoryStatsStore{
		usage:    make(map[usageKey]usage),
		lastUsed: make(map[string]map[string]time.Time),
		corpus:   make(map[corpusKey]int),
	}
}

func (m *memoryStatsStore) GetUserStats(ctx context.Context, userId string, mode model.Mode, since time.Time) (map[string]model.UserActionStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	from := persistence.DayKey(since)
	out := make(map[string]model.UserActionStats)
	for k, u := range m.usage {
		if k.userId != userId || k.day < from || !persistence.ModeMatches(mode, k.mode) {
			continue
		}
		s := out[k.actionId]
		s.UserId, s.ActionId = userId, k.actionId
		s.TimesSuggested += u.suggested
		s.TimesUsed += u.used
		out[k.actionId] = s
	}
	items := m.corpusSince(userId, mode, from)
	for id, s := range out {
		s.LastUsedAt = m.lastUsed[userId][id]
		s.Derive(items)
		out[id] = s
	}
	return out, nil
}

func (m *memoryStatsStore) CorpusSize(ctx context.Context, userId string, mode model.Mode, since time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.corpusSince(userId, mode, persistence.DayKey(since)), nil
}

func (m *memoryStatsStore) corpusSince(userId string, mode model.Mode, from string) int {
	total := 0
	for k, n := range m.corpus {
		if k.userId == userId && k.day >= from && persistence.ModeMatches(mode, k.mode) {
			total += n
		}
	}
	return total
}

func (m *memoryStatsStore) ApplyEvent(ctx context.Context, ev model.ExecutionEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	day := corpusKey{userId: ev.UserId, mode: ev.Mode, day: persistence.DayKey(ev.At)}
	for _, id := range ev.Suggested {
		k := usageKey{corpusKey: day, actionId: id}
		u := m.usage[k]
		u.suggested++
		m.usage[k] = u
	}
	if ev.ActionId != "" {
		k := usageKey{corpusKey: day, actionId: ev.ActionId}
		u := m.usage[k]
		u.used++
		m.usage[k] = u
		last, ok := m.lastUsed[ev.UserId]
		if !ok {
			last = make(map[string]time.Time)
			m.lastUsed[ev.UserId] = last
		}
		if ev.At.After(last[ev.ActionId]) {
			last[ev.ActionId] = ev.At
		}
	}
	m.corpus[day]++
	return nil
}

func (m *memoryStatsStore) Close() error {
	return nil
}
