package model

import (
	"fmt"
	"strings"
)

// ActionKind collapses the "system/user" and "external/interactive" split into one variant.
type ActionKind string

const ACTION_KIND_EXTERNAL ActionKind = "EXTERNAL"
const ACTION_KIND_INTERACTIVE ActionKind = "INTERACTIVE"

func ToActionKind(k string) (ActionKind, error) {
	switch {
	case strings.EqualFold(k, "external"):
		return ACTION_KIND_EXTERNAL, nil
	case strings.EqualFold(k, "interactive"), k == "":
		return ACTION_KIND_INTERACTIVE, nil
	}
	return "", fmt.Errorf("invalid action kind %s", k)
}

type Mode string

const MODE_MAIL Mode = "mail"
const MODE_ADS Mode = "ads"

// MODE_ANY as an applicability mode matches items of every mode.
const MODE_ANY Mode = "any"

type PermissionTier string

const TIER_FREE PermissionTier = "free"
const TIER_PREMIUM PermissionTier = "premium"
const TIER_BETA PermissionTier = "beta"
const TIER_ADMIN PermissionTier = "admin"

var tierRank = map[PermissionTier]int{
	TIER_FREE:    0,
	TIER_PREMIUM: 1,
	TIER_BETA:    2,
	TIER_ADMIN:   3,
}

// Satisfies reports whether a user holding tier t may use an action gated at required.
// Tiers are ordered free < premium < beta < admin.
func (t PermissionTier) Satisfies(required PermissionTier) bool {
	if required == "" {
		return true
	}
	have, ok := tierRank[t]
	if !ok {
		have = tierRank[TIER_FREE]
	}
	need, ok := tierRank[required]
	if !ok {
		return false
	}
	return have >= need
}

func (t PermissionTier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

type ConfirmationType string

const CONFIRMATION_NONE ConfirmationType = "none"
const CONFIRMATION_OPTIMISTIC_UNDO ConfirmationType = "optimisticWithUndo"
const CONFIRMATION_EXPLICIT ConfirmationType = "explicitConfirm"

type ConfirmationPolicy struct {
	Type          ConfirmationType `json:"type" yaml:"type"`
	WindowSeconds int              `json:"windowSeconds,omitempty" yaml:"windowSeconds,omitempty"`
}

type FallbackType string

const FALLBACK_EXCLUDE FallbackType = "exclude"
const FALLBACK_SUBSTITUTE FallbackType = "substitute"
const FALLBACK_SHOW_ERROR FallbackType = "showError"

// FallbackBehavior decides what happens when a required context key does not resolve.
// For substitute, Substitutes maps a required key to its alternate; DefaultKey is
// tried for any required key without its own entry.
type FallbackBehavior struct {
	Type        FallbackType      `json:"type" yaml:"type"`
	DefaultKey  string            `json:"defaultKey,omitempty" yaml:"defaultKey,omitempty"`
	Substitutes map[string]string `json:"substitutes,omitempty" yaml:"substitutes,omitempty"`
}

func (f FallbackBehavior) AlternateFor(key string) string {
	if alt, ok := f.Substitutes[key]; ok {
		return alt
	}
	return f.DefaultKey
}

type ActionDefinition struct {
	Id                  string               `json:"id" yaml:"id"`
	DisplayName         string               `json:"displayName" yaml:"displayName"`
	Kind                ActionKind           `json:"kind" yaml:"kind"`
	ApplicabilityMode   Mode                 `json:"applicabilityMode" yaml:"applicabilityMode"`
	RequiredContextKeys []string             `json:"requiredContextKeys" yaml:"requiredContextKeys"`
	OptionalContextKeys []string             `json:"optionalContextKeys,omitempty" yaml:"optionalContextKeys,omitempty"`
	ContextTypes        map[string]ValueType `json:"contextTypes,omitempty" yaml:"contextTypes,omitempty"`
	BasePriority        int                  `json:"basePriority" yaml:"basePriority"`
	PermissionTier      PermissionTier       `json:"permissionTier" yaml:"permissionTier"`
	Confirmation        ConfirmationPolicy   `json:"confirmationPolicy" yaml:"confirmationPolicy"`
	Fallback            FallbackBehavior     `json:"fallbackBehavior" yaml:"fallbackBehavior"`
	AlwaysRelevant      bool                 `json:"alwaysRelevant,omitempty" yaml:"alwaysRelevant,omitempty"`
	FeatureFlag         string               `json:"featureFlag,omitempty" yaml:"featureFlag,omitempty"`
}

// ExpectedType is the declared type of key, defaulting to TYPE_STRING.
func (a ActionDefinition) ExpectedType(key string) ValueType {
	if t, ok := a.ContextTypes[key]; ok && t != "" {
		return t
	}
	return TYPE_STRING
}

func (a ActionDefinition) AppliesTo(mode Mode) bool {
	return a.ApplicabilityMode == MODE_ANY || a.ApplicabilityMode == "" || a.ApplicabilityMode == mode
}

func (a ActionDefinition) Validate() error {
	if len(a.Id) == 0 {
		return fmt.Errorf("action id can not be empty")
	}
	if a.BasePriority < 0 || a.BasePriority > 100 {
		return fmt.Errorf("action %s, basePriority %d out of range [0,100]", a.Id, a.BasePriority)
	}
	if a.PermissionTier != "" && !a.PermissionTier.Valid() {
		return fmt.Errorf("action %s, invalid permission tier %s", a.Id, a.PermissionTier)
	}
	switch a.Confirmation.Type {
	case "", CONFIRMATION_NONE, CONFIRMATION_EXPLICIT:
	case CONFIRMATION_OPTIMISTIC_UNDO:
		if a.Confirmation.WindowSeconds <= 0 {
			return fmt.Errorf("action %s, undo window must be positive", a.Id)
		}
	default:
		return fmt.Errorf("action %s, invalid confirmation policy %s", a.Id, a.Confirmation.Type)
	}
	switch a.Fallback.Type {
	case "", FALLBACK_EXCLUDE, FALLBACK_SHOW_ERROR:
	case FALLBACK_SUBSTITUTE:
		if a.Fallback.DefaultKey == "" && len(a.Fallback.Substitutes) == 0 {
			return fmt.Errorf("action %s, substitute fallback needs an alternate key", a.Id)
		}
	default:
		return fmt.Errorf("action %s, invalid fallback behavior %s", a.Id, a.Fallback.Type)
	}
	for key, t := range a.ContextTypes {
		if !t.Valid() {
			return fmt.Errorf("action %s, key %s has invalid type %s", a.Id, key, t)
		}
	}
	return nil
}
