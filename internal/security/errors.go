package security

import "errors"

// Sentinel errors for guarded action authorization.
// Every blocked outcome wraps exactly one of these.
var (
	ErrValidation           = errors.New("validation failed")
	ErrBudgetExceeded       = errors.New("budget limit exceeded")
	ErrBackupMissing        = errors.New("no recent backup")
	ErrConfirmationRequired = errors.New("confirmation required")
	ErrTokenInvalid         = errors.New("confirmation token invalid")
	ErrPreconditionFailed   = errors.New("precondition failed")
	ErrBackendFailure       = errors.New("backend failure")
	ErrInternal             = errors.New("internal error")
)

// Reason is the machine-readable code returned with every blocked outcome.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonValidation           Reason = "validation_error"
	ReasonBudgetExceeded       Reason = "budget_exceeded"
	ReasonBackupMissing        Reason = "backup_missing"
	ReasonConfirmationRequired Reason = "confirmation_required"
	ReasonTokenInvalid         Reason = "token_invalid"
	ReasonPreconditionFailed   Reason = "precondition_failed"
	ReasonBackendFailure       Reason = "backend_failure"
	ReasonInternal             Reason = "internal_error"
)

// ReasonFor maps an error to its reason code by walking the wrap chain.
func ReasonFor(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrValidation):
		return ReasonValidation
	case errors.Is(err, ErrBudgetExceeded):
		return ReasonBudgetExceeded
	case errors.Is(err, ErrBackupMissing):
		return ReasonBackupMissing
	case errors.Is(err, ErrConfirmationRequired):
		return ReasonConfirmationRequired
	case errors.Is(err, ErrTokenInvalid):
		return ReasonTokenInvalid
	case errors.Is(err, ErrPreconditionFailed):
		return ReasonPreconditionFailed
	case errors.Is(err, ErrBackendFailure):
		return ReasonBackendFailure
	default:
		return ReasonInternal
	}
}
