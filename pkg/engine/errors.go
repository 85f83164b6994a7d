package engine

import "errors"

// Precondition codes returned to callers. These are expected, recoverable
// outcomes of racing or premature calls, not internal failures.
const (
	CodeTaskNotActionable      = "TASK_NOT_ACTIONABLE"
	CodeTaskNotStarted         = "TASK_NOT_STARTED"
	CodeTaskAlreadyStarted     = "TASK_ALREADY_STARTED"
	CodeOutcomeAlreadyRecorded = "OUTCOME_ALREADY_RECORDED"
	CodeInvalidOutcome         = "INVALID_OUTCOME"
	CodeEvidenceRequired       = "EVIDENCE_REQUIRED"
	CodeInvalidEvidenceFormat  = "INVALID_EVIDENCE_FORMAT"
	CodeFlowNotActive          = "FLOW_NOT_ACTIVE"
	CodeDetourNotActive        = "DETOUR_NOT_ACTIVE"
)

// Error is a precondition violation with a stable caller-facing code. It
// never wraps an internal failure; storage and infrastructure errors travel
// as plain wrapped errors instead.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// NewError creates a precondition error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// AsError extracts a precondition error from an error chain.
func AsError(err error) (*Error, bool) {
	var target *Error

	ok := errors.As(err, &target)

	return target, ok
}

// IsCode checks whether an error carries the given precondition code.
func IsCode(err error, code string) bool {
	precondition, ok := AsError(err)

	return ok && precondition.Code == code
}
