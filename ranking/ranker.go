// Package ranking orders actions for a user. The scoring functions in this file
// are pure and safe to call concurrently for different users.
package ranking

import (
	"sort"
	"time"

	"github.com/mohitkumar/actionrouter/model"
)

const (
	MaxPriority = 100

	highFrequency          = 0.15
	moderateFrequency      = 0.08
	highFrequencyBonus     = 10
	moderateFrequencyBonus = 5

	executionRateThreshold = 0.75
	minSuggestionsForRate  = 5
	executionBonus         = 5

	recencyDays  = 7
	recencyBonus = 3

	// FilterIrrelevant only prunes once the corpus is large enough to trust zero usage.
	MinCorpusForFiltering = 100
	protectedPriority     = 90
)

// Score = min(100, basePriority + frequencyBonus + executionBonus + recencyBonus),
// clamped below at 0. A nil stats scores the base priority alone.
func Score(action model.ActionDefinition, stats *model.UserActionStats, now time.Time) int {
	score := action.BasePriority
	if stats != nil {
		score += frequencyBonus(stats.Frequency)
		if stats.ExecutionRate > executionRateThreshold && stats.TimesSuggested > minSuggestionsForRate {
			score += executionBonus
		}
		if days := stats.DaysSinceLastUse(now); days >= 0 && days < recencyDays {
			score += recencyBonus
		}
	}
	if score > MaxPriority {
		return MaxPriority
	}
	if score < 0 {
		return 0
	}
	return score
}

func frequencyBonus(f float64) int {
	switch {
	case f > highFrequency:
		return highFrequencyBonus
	case f > moderateFrequency:
		return moderateFrequencyBonus
	}
	return 0
}

// FilterIrrelevant drops an action only when the corpus has at least
// MinCorpusForFiltering items, the user never used it, its base priority is
// below 90 and it is not marked always relevant.
func FilterIrrelevant(actions []model.ActionDefinition, stats map[string]model.UserActionStats, corpusSize int) []model.ActionDefinition {
	if corpusSize < MinCorpusForFiltering {
		out := make([]model.ActionDefinition, len(actions))
		copy(out, actions)
		return out
	}
	out := make([]model.ActionDefinition, 0, len(actions))
	for _, a := range actions {
		if a.AlwaysRelevant || a.BasePriority >= protectedPriority {
			out = append(out, a)
			continue
		}
		if s, ok := stats[a.Id]; ok && s.TimesUsed > 0 {
			out = append(out, a)
		}
	}
	return out
}

// Rank scores and sorts actions: score descending, then basePriority descending,
// then id ascending. Identical inputs always give identical order.
func Rank(actions []model.ActionDefinition, stats map[string]model.UserActionStats, now time.Time) []model.RankedAction {
	ranked := make([]model.RankedAction, 0, len(actions))
	for _, a := range actions {
		var st *model.UserActionStats
		if s, ok := stats[a.Id]; ok {
			s := s
			st = &s
		}
		ranked = append(ranked, model.RankedAction{
			Action:               a,
			PersonalizedPriority: Score(a, st, now),
			Stats:                st,
		})
	}
	sortRanked(ranked)
	return ranked
}

// StaticOrder ranks by base priority only, used when stats are unavailable.
func StaticOrder(actions []model.ActionDefinition) []model.RankedAction {
	ranked := make([]model.RankedAction, 0, len(actions))
	for _, a := range actions {
		ranked = append(ranked, model.RankedAction{
			Action:               a,
			PersonalizedPriority: Score(a, nil, time.Time{}),
		})
	}
	sortRanked(ranked)
	return ranked
}

func sortRanked(ranked []model.RankedAction) {
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.PersonalizedPriority != b.PersonalizedPriority {
			return a.PersonalizedPriority > b.PersonalizedPriority
		}
		if a.Action.BasePriority != b.Action.BasePriority {
			return a.Action.BasePriority > b.Action.BasePriority
		}
		return a.Action.Id < b.Action.Id
	})
}
