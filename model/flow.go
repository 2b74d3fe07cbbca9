package model

import (
	"fmt"
	"time"
)

type EndBehavior string

const END_RETURN_TO_CALLER EndBehavior = "returnToCaller"
const END_COMPOSE_FOLLOWUP EndBehavior = "composeFollowup"

const DEFAULT_FOLLOWUP_ACTION = "compose_email"

type FlowDefinition struct {
	Id            string      `json:"id" yaml:"id"`
	Title         string      `json:"title" yaml:"title"`
	StepActionIds []string    `json:"stepActionIds" yaml:"stepActionIds"`
	OptionalSteps []int       `json:"optionalSteps,omitempty" yaml:"optionalSteps,omitempty"`
	EndBehavior   EndBehavior `json:"endBehavior" yaml:"endBehavior"`
	Premium       bool        `json:"premium,omitempty" yaml:"premium,omitempty"`
	// FollowupActionId is the action a composeFollowup flow hands off to.
	FollowupActionId string `json:"followupActionId,omitempty" yaml:"followupActionId,omitempty"`
}

func (f FlowDefinition) FollowupAction() string {
	if f.FollowupActionId != "" {
		return f.FollowupActionId
	}
	return DEFAULT_FOLLOWUP_ACTION
}

func (f FlowDefinition) IsOptional(step int) bool {
	for _, i := range f.OptionalSteps {
		if i == step {
			return true
		}
	}
	return false
}

func (f FlowDefinition) Validate() error {
	if len(f.Id) == 0 {
		return fmt.Errorf("flow id can not be empty")
	}
	if len(f.StepActionIds) == 0 {
		return fmt.Errorf("flow %s should have at least one step", f.Id)
	}
	for _, i := range f.OptionalSteps {
		if i < 0 || i >= len(f.StepActionIds) {
			return fmt.Errorf("flow %s, optional step %d out of range", f.Id, i)
		}
	}
	switch f.EndBehavior {
	case "", END_RETURN_TO_CALLER, END_COMPOSE_FOLLOWUP:
	default:
		return fmt.Errorf("flow %s, invalid end behavior %s", f.Id, f.EndBehavior)
	}
	return nil
}

type FlowStatus string

const FLOW_NOT_STARTED FlowStatus = "NotStarted"
const FLOW_IN_PROGRESS FlowStatus = "InProgress"
const FLOW_ALL_STEPS_COMPLETED FlowStatus = "AllStepsCompleted"
const FLOW_ABORTED FlowStatus = "Aborted"

type StepStatus string

const STEP_PENDING StepStatus = "Pending"
const STEP_PRESENTED StepStatus = "Presented"
const STEP_COMPLETED StepStatus = "Completed"
const STEP_SKIPPED StepStatus = "Skipped"
const STEP_STATUS_UNAVAILABLE StepStatus = "StepUnavailable"
const STEP_FAILED StepStatus = "Failed"
const STEP_CANCELLED StepStatus = "Cancelled"

type StepRecord struct {
	Index       int            `json:"index"`
	ActionId    string         `json:"actionId"`
	Status      StepStatus     `json:"status"`
	ModalId     string         `json:"modalId,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

// Followup is produced when a flow with END_COMPOSE_FOLLOWUP completes.
type Followup struct {
	ActionId string         `json:"actionId"`
	Context  map[string]any `json:"context"`
}

type FlowState struct {
	FlowId       string       `json:"flowId"`
	DefinitionId string       `json:"definitionId"`
	ItemId       string       `json:"itemId"`
	UserId       string       `json:"userId"`
	CurrentStep  int          `json:"currentStep"`
	Steps        []StepRecord `json:"steps"`
	Status       FlowStatus   `json:"status"`
	AbortReason  ErrorCode    `json:"abortReason,omitempty"`
	Followup     *Followup    `json:"followup,omitempty"`
}

func (s FlowState) Terminal() bool {
	return s.Status == FLOW_ALL_STEPS_COMPLETED || s.Status == FLOW_ABORTED
}
