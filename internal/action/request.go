package action

import (
	"time"

	"github.com/jkaninda/warden/internal/backend"
	"github.com/jkaninda/warden/internal/security"
)

// Parameter keys that carry control flags rather than action arguments.
// They are removed from Parameters by Normalize and never bound to tokens.
const (
	ParamConfirmationToken = "confirmation_token"
	ParamSkipBackupCheck   = "skip_backup_check"
	paramSkipBackupAlias   = "skip_backup"
)

// Request is one authorization attempt.
type Request struct {
	Action            string         `json:"action"`
	Parameters        map[string]any `json:"parameters,omitempty"`
	Caller            string         `json:"caller"`
	Query             string         `json:"query,omitempty"` // Free text that produced the request, if any.
	ConfirmationToken string         `json:"confirmation_token,omitempty"`
	SkipBackupCheck   bool           `json:"skip_backup_check,omitempty"`
}

// Normalize moves control keys out of Parameters into the typed fields and
// returns a copy; the receiver is not modified.
func (r *Request) Normalize() *Request {
	out := *r
	params := backend.Params(r.Parameters).Clone()

	if tok := params.String(ParamConfirmationToken); tok != "" && out.ConfirmationToken == "" {
		out.ConfirmationToken = tok
	}
	for _, key := range []string{ParamSkipBackupCheck, paramSkipBackupAlias} {
		if params.Bool(key, false) {
			out.SkipBackupCheck = true
		}
		delete(params, key)
	}
	delete(params, ParamConfirmationToken)

	out.Parameters = params
	return &out
}

// Status is the top-level outcome of an authorization attempt.
type Status string

const (
	StatusExecuted             Status = "executed"
	StatusBlocked              Status = "blocked"
	StatusRequiresConfirmation Status = "requires_confirmation"
)

// Outcome is the engine's answer to one Request.
type Outcome struct {
	Status  Status          `json:"status"`
	Action  string          `json:"action"`
	Reason  security.Reason `json:"reason,omitempty"`
	Detail  string          `json:"detail,omitempty"` // Sub-reason, e.g. "expired" for token_invalid.
	Message string          `json:"message,omitempty"`
	Result  map[string]any  `json:"result,omitempty"`

	// Confirmation handshake.
	Token     string     `json:"confirmation_token,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Summary   string     `json:"summary,omitempty"`

	// Guard reports, when the guard ran.
	Budget *security.BudgetDecision `json:"budget,omitempty"`
	Backup *security.BackupStatus   `json:"backup,omitempty"`

	// LogID is the audit record written for this decision.
	LogID string `json:"log_id,omitempty"`

	// Err wraps the sentinel for blocked outcomes. Not serialized.
	Err error `json:"-"`
}

// Executed reports whether the action ran successfully.
func (o *Outcome) Executed() bool { return o.Status == StatusExecuted }

// RequiresConfirmation reports whether the caller must resubmit with Token.
func (o *Outcome) RequiresConfirmation() bool { return o.Status == StatusRequiresConfirmation }
