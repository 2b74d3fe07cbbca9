package model

import (
	"errors"
	"fmt"
)

type ErrorCode string

const MISSING_CONTEXT ErrorCode = "MissingContext"
const PERMISSION_DENIED ErrorCode = "PermissionDenied"
const FEATURE_DISABLED ErrorCode = "FeatureDisabled"
const NO_PRESENTATION ErrorCode = "NoPresentation"
const VALIDATION_FAILED ErrorCode = "ValidationFailed"
const SERVICE_CALL_FAILED ErrorCode = "ServiceCallFailed"
const RANKING_UNAVAILABLE ErrorCode = "RankingUnavailable"
const STEP_UNAVAILABLE ErrorCode = "StepUnavailable"
const NOT_FOUND ErrorCode = "NotFound"
const INVALID_TRANSITION ErrorCode = "InvalidTransition"

type ActionError struct {
	Code     ErrorCode
	ActionId string
	Reason   string
	Err      error
}

func NewActionError(code ErrorCode, actionId string, reason string) *ActionError {
	return &ActionError{Code: code, ActionId: actionId, Reason: reason}
}

func WrapActionError(code ErrorCode, actionId string, err error) *ActionError {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	return &ActionError{Code: code, ActionId: actionId, Reason: reason, Err: err}
}

func (e *ActionError) Error() string {
	if e.ActionId == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("%s: action=%s %s", e.Code, e.ActionId, e.Reason)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

func CodeOf(err error) (ErrorCode, bool) {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Code, true
	}
	return "", false
}

func IsCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
