// Package security implements the guards consulted before a guarded action
// runs: the budget ceiling, backup recency, and the append-only audit trail
// that records every authorization decision.
package security

import (
	"context"
	"time"
)

// RiskLevel classifies the danger of an action.
type RiskLevel int

const (
	RiskLow      RiskLevel = iota // Read-only, no side effects.
	RiskMedium                    // Reversible writes to scoped resources.
	RiskHigh                      // High impact, requires confirmation.
	RiskCritical                  // Irreversible, always requires confirmation.
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseRiskLevel converts a string to a RiskLevel.
// Unrecognized values default to RiskCritical.
func ParseRiskLevel(s string) RiskLevel {
	switch s {
	case "low":
		return RiskLow
	case "medium":
		return RiskMedium
	case "high":
		return RiskHigh
	default:
		return RiskCritical
	}
}

// RequiresConfirmation reports whether actions at this level must pass the
// confirmation token handshake.
func (r RiskLevel) RequiresConfirmation() bool {
	return r >= RiskHigh
}

// Irreversible reports whether the level marks destructive actions with no undo.
func (r RiskLevel) Irreversible() bool {
	return r == RiskCritical
}

// AuditStatus is the state recorded for one authorization step.
type AuditStatus string

const (
	StatusPending              AuditStatus = "pending"
	StatusRequiresConfirmation AuditStatus = "requires_confirmation"
	StatusSuccess              AuditStatus = "success"
	StatusFailed               AuditStatus = "failed"
)

// AuditRecord is a single immutable entry in the audit trail.
// A later status for the same logical action is a new record.
type AuditRecord struct {
	LogID      string         `json:"log_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Status     AuditStatus    `json:"status"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Caller     string         `json:"caller"`
	Query      string         `json:"query,omitempty"` // Free-text request that produced the action, if any.
	ExpiresAt  time.Time      `json:"expires_at"`
}

// Expired reports whether the record is past its retention window.
func (r *AuditRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

type contextKey int

const callerKey contextKey = iota

// ContextWithCaller returns a new context carrying the caller identity.
// The engine sets it so backends can tag the resources they create.
func ContextWithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFromContext extracts the caller identity, or "" if not set.
func CallerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(callerKey).(string); ok {
		return v
	}
	return ""
}
