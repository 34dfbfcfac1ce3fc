package security

import (
	"context"
	"time"
)

// Query limits for audit reads.
const (
	DefaultAuditQueryLimit = 50
	MaxAuditQueryLimit     = 1000
)

// AuditQuery selects records from the audit trail.
type AuditQuery struct {
	Limit  int    // 0 = DefaultAuditQueryLimit.
	Action string // Empty = all actions.
}

// EffectiveLimit returns the limit clamped to [1, MaxAuditQueryLimit].
func (q AuditQuery) EffectiveLimit() int {
	switch {
	case q.Limit <= 0:
		return DefaultAuditQueryLimit
	case q.Limit > MaxAuditQueryLimit:
		return MaxAuditQueryLimit
	default:
		return q.Limit
	}
}

// AuditLog is the read/write contract the engine depends on.
type AuditLog interface {
	// Append writes a single record. Never updates or deletes.
	Append(ctx context.Context, record AuditRecord) error
	// Query returns records newest first.
	Query(ctx context.Context, q AuditQuery) ([]AuditRecord, error)
}

// AuditStore is the persistence layer behind StoreAuditLog.
// No update method exists; deletion is limited to retention reclamation.
type AuditStore interface {
	Append(ctx context.Context, record AuditRecord) error
	Query(ctx context.Context, q AuditQuery, now time.Time) ([]AuditRecord, error)
	// PurgeExpired removes records whose retention expired before now.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
