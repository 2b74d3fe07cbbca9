package model

import (
	"fmt"
	"time"
)

type FieldType string

const FIELD_TEXT FieldType = "text"
const FIELD_TEXTAREA FieldType = "textarea"
const FIELD_NUMBER FieldType = "number"
const FIELD_DATE FieldType = "date"
const FIELD_EMAIL FieldType = "email"
const FIELD_URL FieldType = "url"
const FIELD_SELECT FieldType = "select"
const FIELD_CHECKBOX FieldType = "checkbox"
const FIELD_READONLY FieldType = "readonly"

type ConditionOp string

const OP_EQ ConditionOp = "eq"
const OP_NEQ ConditionOp = "neq"
const OP_PRESENT ConditionOp = "present"
const OP_ABSENT ConditionOp = "absent"

// Condition is a visibility expression over context ∪ form state. Exactly one of
// Key/All/Any/Not/Expr is expected; an empty condition is true.
type Condition struct {
	Key   string      `json:"key,omitempty" yaml:"key,omitempty"`
	Op    ConditionOp `json:"op,omitempty" yaml:"op,omitempty"`
	Value any         `json:"value,omitempty" yaml:"value,omitempty"`
	All   []Condition `json:"all,omitempty" yaml:"all,omitempty"`
	Any   []Condition `json:"any,omitempty" yaml:"any,omitempty"`
	Not   *Condition  `json:"not,omitempty" yaml:"not,omitempty"`
	Expr  string      `json:"expr,omitempty" yaml:"expr,omitempty"`
}

type ValidationRule struct {
	MinLength *int     `json:"minLength,omitempty" yaml:"minLength,omitempty"`
	MaxLength *int     `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
	Pattern   string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Min       *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max       *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Message   string   `json:"message,omitempty" yaml:"message,omitempty"`
}

type Field struct {
	Id                  string          `json:"id" yaml:"id"`
	Label               string          `json:"label,omitempty" yaml:"label,omitempty"`
	Type                FieldType       `json:"type" yaml:"type"`
	ContextKey          string          `json:"contextKey,omitempty" yaml:"contextKey,omitempty"`
	Required            bool            `json:"required,omitempty" yaml:"required,omitempty"`
	Validation          *ValidationRule `json:"validation,omitempty" yaml:"validation,omitempty"`
	VisibilityCondition *Condition      `json:"visibilityCondition,omitempty" yaml:"visibilityCondition,omitempty"`
	Options             []string        `json:"options,omitempty" yaml:"options,omitempty"`
	Placeholder         string          `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
}

type Section struct {
	Id                  string     `json:"id" yaml:"id"`
	Title               string     `json:"title,omitempty" yaml:"title,omitempty"`
	Fields              []Field    `json:"fields" yaml:"fields"`
	VisibilityCondition *Condition `json:"visibilityCondition,omitempty" yaml:"visibilityCondition,omitempty"`
	Collapsible         bool       `json:"collapsible,omitempty" yaml:"collapsible,omitempty"`
}

type ButtonActionType string

const BUTTON_SERVICE ButtonActionType = "service"
const BUTTON_URL ButtonActionType = "url"
const BUTTON_DISMISS ButtonActionType = "dismiss"

// ButtonAction is what pressing a button does. Params and Url may carry
// {$.context.key} / {$.form.field} placeholders.
type ButtonAction struct {
	Type    ButtonActionType `json:"type" yaml:"type"`
	Service string           `json:"service,omitempty" yaml:"service,omitempty"`
	Method  string           `json:"method,omitempty" yaml:"method,omitempty"`
	Params  map[string]any   `json:"params,omitempty" yaml:"params,omitempty"`
	Url     string           `json:"url,omitempty" yaml:"url,omitempty"`
}

type Button struct {
	Label  string       `json:"label" yaml:"label"`
	Action ButtonAction `json:"action" yaml:"action"`
}

type ButtonRole string

const BUTTON_PRIMARY ButtonRole = "primary"
const BUTTON_SECONDARY ButtonRole = "secondary"
const BUTTON_TERTIARY ButtonRole = "tertiary"

type ModalConfig struct {
	Id                   string    `json:"id" yaml:"id"`
	Version              int       `json:"version" yaml:"version"`
	ActionId             string    `json:"actionId" yaml:"actionId"`
	Title                string    `json:"title" yaml:"title"`
	Sections             []Section `json:"sections" yaml:"sections"`
	PrimaryButton        Button    `json:"primaryButton" yaml:"primaryButton"`
	SecondaryButton      Button    `json:"secondaryButton" yaml:"secondaryButton"`
	TertiaryButton       *Button   `json:"tertiaryButton,omitempty" yaml:"tertiaryButton,omitempty"`
	ConfirmationRequired bool      `json:"confirmationRequired" yaml:"confirmationRequired"`
}

func (m ModalConfig) Button(role ButtonRole) (Button, bool) {
	switch role {
	case BUTTON_PRIMARY:
		return m.PrimaryButton, true
	case BUTTON_SECONDARY:
		return m.SecondaryButton, true
	case BUTTON_TERTIARY:
		if m.TertiaryButton != nil {
			return *m.TertiaryButton, true
		}
	}
	return Button{}, false
}

func (m ModalConfig) Validate() error {
	if len(m.Id) == 0 {
		return fmt.Errorf("modal config id can not be empty")
	}
	if len(m.ActionId) == 0 {
		return fmt.Errorf("modal config %s, actionId can not be empty", m.Id)
	}
	seen := make(map[string]bool)
	for _, s := range m.Sections {
		for _, f := range s.Fields {
			if f.Id == "" {
				return fmt.Errorf("modal config %s, section %s has a field without id", m.Id, s.Id)
			}
			if seen[f.Id] {
				return fmt.Errorf("modal config %s, field id %s is duplicate", m.Id, f.Id)
			}
			seen[f.Id] = true
		}
	}
	buttons := []Button{m.PrimaryButton, m.SecondaryButton}
	if m.TertiaryButton != nil {
		buttons = append(buttons, *m.TertiaryButton)
	}
	for _, b := range buttons {
		switch b.Action.Type {
		case BUTTON_DISMISS, "":
		case BUTTON_URL:
			if b.Action.Url == "" {
				return fmt.Errorf("modal config %s, url button %q without url", m.Id, b.Label)
			}
		case BUTTON_SERVICE:
			if b.Action.Service == "" || b.Action.Method == "" {
				return fmt.Errorf("modal config %s, service button %q needs service and method", m.Id, b.Label)
			}
		default:
			return fmt.Errorf("modal config %s, invalid button action %s", m.Id, b.Action.Type)
		}
	}
	return nil
}

type FieldDescriptor struct {
	Id          string    `json:"id"`
	Label       string    `json:"label,omitempty"`
	Type        FieldType `json:"type"`
	Required    bool      `json:"required,omitempty"`
	Value       any       `json:"value,omitempty"`
	Options     []string  `json:"options,omitempty"`
	Placeholder string    `json:"placeholder,omitempty"`
	Error       string    `json:"error,omitempty"`
}

type SectionDescriptor struct {
	Id          string            `json:"id"`
	Title       string            `json:"title,omitempty"`
	Collapsible bool              `json:"collapsible,omitempty"`
	Fields      []FieldDescriptor `json:"fields"`
}

type ButtonDescriptor struct {
	Role       ButtonRole       `json:"role"`
	Label      string           `json:"label"`
	ActionType ButtonActionType `json:"actionType"`
}

// ModalDescriptor is a ModalConfig evaluated against live context and form state.
// Re-evaluation builds a new descriptor; configs are never edited.
type ModalDescriptor struct {
	ConfigId             string              `json:"configId"`
	Version              int                 `json:"version"`
	ActionId             string              `json:"actionId"`
	Title                string              `json:"title"`
	Sections             []SectionDescriptor `json:"sections"`
	Buttons              []ButtonDescriptor  `json:"buttons"`
	ConfirmationRequired bool                `json:"confirmationRequired"`
	Errors               map[string]string   `json:"errors,omitempty"`
}

func (d ModalDescriptor) HasField(id string) bool {
	for _, s := range d.Sections {
		for _, f := range s.Fields {
			if f.Id == id {
				return true
			}
		}
	}
	return false
}

func (d ModalDescriptor) HasSection(id string) bool {
	for _, s := range d.Sections {
		if s.Id == id {
			return true
		}
	}
	return false
}

type ModalState string

const MODAL_REQUESTED ModalState = "Requested"
const MODAL_VALIDATING ModalState = "Validating"
const MODAL_CONFIG_RESOLVED ModalState = "ConfigResolved"
const MODAL_CUSTOM_RESOLVED ModalState = "CustomResolved"
const MODAL_REJECTED ModalState = "Rejected"
const MODAL_PRESENTED ModalState = "Presented"

// MODAL_AWAITING_CONFIRMATION and MODAL_UNDO_WINDOW are sub-states of Presented.
const MODAL_AWAITING_CONFIRMATION ModalState = "AwaitingConfirmation"
const MODAL_UNDO_WINDOW ModalState = "UndoWindow"
const MODAL_COMPLETED ModalState = "Completed"
const MODAL_CANCELLED ModalState = "Cancelled"
const MODAL_FAILED ModalState = "Failed"

func (s ModalState) Terminal() bool {
	switch s {
	case MODAL_REJECTED, MODAL_COMPLETED, MODAL_CANCELLED, MODAL_FAILED:
		return true
	}
	return false
}

type PresentationKind string

const PRESENTATION_CONFIG PresentationKind = "ConfigDriven"
const PRESENTATION_CUSTOM PresentationKind = "CustomHandler"

// ButtonOutcome records which terminal path a button press took.
type ButtonOutcome struct {
	Role     ButtonRole       `json:"role"`
	Type     ButtonActionType `json:"type"`
	Service  string           `json:"service,omitempty"`
	Method   string           `json:"method,omitempty"`
	Params   map[string]any   `json:"params,omitempty"`
	Url      string           `json:"url,omitempty"`
	Response map[string]any   `json:"response,omitempty"`
}

// ModalSnapshot is the externally visible view of a modal invocation.
type ModalSnapshot struct {
	Id           string           `json:"id"`
	ActionId     string           `json:"actionId"`
	ItemId       string           `json:"itemId"`
	State        ModalState       `json:"state"`
	Presentation PresentationKind `json:"presentation,omitempty"`
	Descriptor   *ModalDescriptor `json:"descriptor,omitempty"`
	Handler      string           `json:"handler,omitempty"`
	Rejection    ErrorCode        `json:"rejection,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	Outcome      *ButtonOutcome   `json:"outcome,omitempty"`
	UndoDeadline *time.Time       `json:"undoDeadline,omitempty"`
	History      []ModalState     `json:"history"`
}

// CustomHandlerSpec declares a fixed, non-config presentation for an action.
// When Service is set, committing the handler calls Service/Method with the
// item context and form as params.
type CustomHandlerSpec struct {
	ActionId string `json:"actionId" yaml:"actionId"`
	Name     string `json:"name" yaml:"name"`
	Service  string `json:"service,omitempty" yaml:"service,omitempty"`
	Method   string `json:"method,omitempty" yaml:"method,omitempty"`
}
