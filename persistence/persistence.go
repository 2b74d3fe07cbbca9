package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/mohitkumar/actionrouter/model"
)

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

const STATS_PREFIX string = "STATS"
const LAST_USED_PREFIX string = "LAST"
const CORPUS_PREFIX string = "CORPUS"

// StatsStore persists UserActionStats. Implementations must be safe for
// concurrent use; ordering of events for one user is the caller's concern.
type StatsStore interface {
	// GetUserStats returns derived stats for every action the user saw in mode on or
	// after since, keyed by action id. Counts and Frequency only cover that window;
	// LastUsedAt is the latest use ever recorded. MODE_ANY spans all modes.
	GetUserStats(ctx context.Context, userId string, mode model.Mode, since time.Time) (map[string]model.UserActionStats, error)
	// CorpusSize counts the items of mode the user processed on or after since; MODE_ANY spans all modes.
	CorpusSize(ctx context.Context, userId string, mode model.Mode, since time.Time) (int, error)
	ApplyEvent(ctx context.Context, ev model.ExecutionEvent) error
	Close() error
}

// DayKey buckets corpus counts per UTC day.
func DayKey(t time.Time) string {
	return t.UTC().Format("20060102")
}

// WindowStart is the first instant counted in a lookbackDays window ending at now.
func WindowStart(now time.Time, lookbackDays int) time.Time {
	if lookbackDays < 1 {
		lookbackDays = 1
	}
	day := now.UTC().Truncate(24 * time.Hour)
	return day.AddDate(0, 0, -(lookbackDays - 1))
}

// ModeMatches reports whether counts recorded under got belong to a query for want.
func ModeMatches(want, got model.Mode) bool {
	return want == model.MODE_ANY || want == "" || want == got
}

// ModesFor expands MODE_ANY into the concrete item modes counts are recorded under.
func ModesFor(mode model.Mode) []model.Mode {
	if mode == model.MODE_ANY || mode == "" {
		return []model.Mode{model.MODE_MAIL, model.MODE_ADS}
	}
	return []model.Mode{mode}
}
