package model

import "time"

type UserActionStats struct {
	UserId         string    `json:"userId"`
	ActionId       string    `json:"actionId"`
	Frequency      float64   `json:"frequency"`
	ExecutionRate  float64   `json:"executionRate"`
	TimesSuggested int       `json:"timesSuggested"`
	TimesUsed      int       `json:"timesUsed"`
	LastUsedAt     time.Time `json:"lastUsedAt,omitempty"`
}

// DaysSinceLastUse returns -1 when the action was never used.
func (s UserActionStats) DaysSinceLastUse(now time.Time) float64 {
	if s.LastUsedAt.IsZero() {
		return -1
	}
	d := now.Sub(s.LastUsedAt).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

// ExecutionEvent is one suggestion/usage observation for a user.
// Suggested lists every action shown for the item; ActionId is the one executed, if any.
type ExecutionEvent struct {
	UserId    string    `json:"userId"`
	Mode      Mode      `json:"mode"`
	ItemId    string    `json:"itemId"`
	Suggested []string  `json:"suggested"`
	ActionId  string    `json:"actionId,omitempty"`
	At        time.Time `json:"at"`
}

type RankedAction struct {
	Action               ActionDefinition `json:"action"`
	PersonalizedPriority int              `json:"personalizedPriority"`
	Stats                *UserActionStats `json:"stats,omitempty"`
}

type RankingRequest struct {
	UserId       string `json:"userId"`
	Mode         Mode   `json:"mode"`
	LookbackDays int    `json:"lookbackDays"`
}

type RankingMetadata struct {
	CorpusSize             int  `json:"corpusSize"`
	FromCache              bool `json:"fromCache"`
	PersonalizationApplied bool `json:"personalizationApplied"`
}

type RankingResponse struct {
	Actions  []RankedAction  `json:"actions"`
	Metadata RankingMetadata `json:"metadata"`
}

// Suggestion is one action offered for a concrete content item.
type Suggestion struct {
	Action               ActionDefinition `json:"action"`
	PersonalizedPriority int              `json:"personalizedPriority"`
	Disabled             bool             `json:"disabled,omitempty"`
	Reason               string           `json:"reason,omitempty"`
}

type SuggestionResponse struct {
	ItemId      string          `json:"itemId"`
	Suggestions []Suggestion    `json:"suggestions"`
	Metadata    RankingMetadata `json:"metadata"`
}

// Derive fills Frequency and ExecutionRate from the raw counters.
// itemsSeen is how many items the user has processed.
func (s *UserActionStats) Derive(itemsSeen int) {
	s.Frequency = 0
	if itemsSeen > 0 {
		s.Frequency = float64(s.TimesUsed) / float64(itemsSeen)
	}
	s.ExecutionRate = 0
	if s.TimesSuggested > 0 {
		s.ExecutionRate = float64(s.TimesUsed) / float64(s.TimesSuggested)
	}
}
