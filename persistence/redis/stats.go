package redis

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	rd "github.com/go-redis/redis/v9"
	"github.com/mohitkumar/actionrouter/logger"
	"github.com/mohitkumar/actionrouter/model"
	"github.com/mohitkumar/actionrouter/persistence"
	"go.uber.org/zap"
)

const (
	fieldSuggested = "suggested"
	fieldUsed      = "used"

	dayRetention = 400 * 24 * time.Hour
)

var _ persistence.StatsStore = new(redisStatsStore)

// redisStatsStore keeps, per (user, mode, day), a hash of "<action>:<counter>"
// fields and an item counter. The latest use of each action lives in one
// hash per user.
type redisStatsStore struct {
	*baseDao
}

func NewRedisStatsStore(conf Config) *redisStatsStore {
	return &redisStatsStore{
		baseDao: newBaseDao(conf),
	}
}

func (r *redisStatsStore) statsKey(userId string, mode model.Mode, day string) string {
	return r.getNamespaceKey(persistence.STATS_PREFIX, userId, string(mode), day)
}

func (r *redisStatsStore) lastUsedKey(userId string) string {
	return r.getNamespaceKey(persistence.LAST_USED_PREFIX, userId)
}

func (r *redisStatsStore) corpusKey(userId string, mode model.Mode, day string) string {
	return r.getNamespaceKey(persistence.CORPUS_PREFIX, userId, string(mode), day)
}

// windowDays lists the day keys from since up to today; since itself is always included.
func windowDays(since time.Time) []string {
	now := time.Now().UTC()
	day := since.UTC().Truncate(24 * time.Hour)
	days := []string{persistence.DayKey(day)}
	for day = day.Add(24 * time.Hour); !day.After(now); day = day.Add(24 * time.Hour) {
		days = append(days, persistence.DayKey(day))
	}
	return days
}

func (r *redisStatsStore) GetUserStats(ctx context.Context, userId string, mode model.Mode, since time.Time) (map[string]model.UserActionStats, error) {
	items, err := r.CorpusSize(ctx, userId, mode, since)
	if err != nil {
		return nil, err
	}
	var dayCmds []*rd.MapStringStringCmd
	var lastCmd *rd.MapStringStringCmd
	_, err = r.redisClient.Pipelined(ctx, func(pipe rd.Pipeliner) error {
		for _, m := range persistence.ModesFor(mode) {
			for _, day := range windowDays(since) {
				dayCmds = append(dayCmds, pipe.HGetAll(ctx, r.statsKey(userId, m, day)))
			}
		}
		lastCmd = pipe.HGetAll(ctx, r.lastUsedKey(userId))
		return nil
	})
	if err != nil {
		logger.Error("error in getting user stats", zap.String("user", userId), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	out := make(map[string]model.UserActionStats)
	for _, cmd := range dayCmds {
		for field, val := range cmd.Val() {
			idx := strings.LastIndex(field, ":")
			if idx <= 0 {
				continue
			}
			actionId, counter := field[:idx], field[idx+1:]
			n, _ := strconv.Atoi(val)
			s := out[actionId]
			s.UserId, s.ActionId = userId, actionId
			switch counter {
			case fieldSuggested:
				s.TimesSuggested += n
			case fieldUsed:
				s.TimesUsed += n
			}
			out[actionId] = s
		}
	}
	last := lastCmd.Val()
	for id, s := range out {
		if ms, err := strconv.ParseInt(last[id], 10, 64); err == nil {
			s.LastUsedAt = time.UnixMilli(ms).UTC()
		}
		s.Derive(items)
		out[id] = s
	}
	return out, nil
}

func (r *redisStatsStore) CorpusSize(ctx context.Context, userId string, mode model.Mode, since time.Time) (int, error) {
	var keys []string
	for _, m := range persistence.ModesFor(mode) {
		for _, day := range windowDays(since) {
			keys = append(keys, r.corpusKey(userId, m, day))
		}
	}
	vals, err := r.redisClient.MGet(ctx, keys...).Result()
	if err != nil {
		logger.Error("error in getting corpus size", zap.String("user", userId), zap.Error(err))
		return 0, persistence.StorageLayerError{Message: err.Error()}
	}
	total := 0
	for _, v := range vals {
		if s, ok := v.(string); ok {
			n, _ := strconv.Atoi(s)
			total += n
		}
	}
	return total, nil
}

func (r *redisStatsStore) ApplyEvent(ctx context.Context, ev model.ExecutionEvent) error {
	lastKey := r.lastUsedKey(ev.UserId)
	// events for one user are applied by a single lane, so read-then-write of the last use is safe
	var lastMs int64
	if ev.ActionId != "" {
		cur, err := r.redisClient.HGet(ctx, lastKey, ev.ActionId).Int64()
		if err != nil && !errors.Is(err, rd.Nil) {
			return persistence.StorageLayerError{Message: err.Error()}
		}
		lastMs = cur
	}
	day := persistence.DayKey(ev.At)
	key := r.statsKey(ev.UserId, ev.Mode, day)
	corpus := r.corpusKey(ev.UserId, ev.Mode, day)
	_, err := r.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		for _, id := range ev.Suggested {
			pipe.HIncrBy(ctx, key, id+":"+fieldSuggested, 1)
		}
		if ev.ActionId != "" {
			pipe.HIncrBy(ctx, key, ev.ActionId+":"+fieldUsed, 1)
			if at := ev.At.UnixMilli(); at > lastMs {
				pipe.HSet(ctx, lastKey, ev.ActionId, strconv.FormatInt(at, 10))
			}
		}
		pipe.Expire(ctx, key, dayRetention)
		pipe.Incr(ctx, corpus)
		pipe.Expire(ctx, corpus, dayRetention)
		return nil
	})
	if err != nil {
		logger.Error("error in applying execution event", zap.String("user", ev.UserId), zap.String("action", ev.ActionId), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *redisStatsStore) Close() error {
	return r.redisClient.Close()
}
