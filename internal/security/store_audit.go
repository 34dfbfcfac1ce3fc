package security

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// StoreAuditLog adapts an AuditStore (SQLite or PostgreSQL) to AuditLog and
// exposes retention reclamation for the purge schedule.
type StoreAuditLog struct {
	store  AuditStore
	logger *slog.Logger
	now    func() time.Time
}

// NewStoreAuditLog creates a database-backed audit log.
func NewStoreAuditLog(store AuditStore, logger *slog.Logger) *StoreAuditLog {
	return &StoreAuditLog{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Append writes the record to the database. Failures are returned, not
// logged; the engine reports them.
func (a *StoreAuditLog) Append(ctx context.Context, record AuditRecord) error {
	if err := a.store.Append(ctx, record); err != nil {
		return fmt.Errorf("writing audit record: %w", err)
	}

	a.logger.DebugContext(ctx, "audit record written (db)",
		slog.String("log_id", record.LogID),
		slog.String("action", record.Action),
		slog.String("status", string(record.Status)),
		slog.String("caller", record.Caller),
	)
	return nil
}

// Query returns unexpired records newest first.
func (a *StoreAuditLog) Query(ctx context.Context, q AuditQuery) ([]AuditRecord, error) {
	return a.store.Query(ctx, AuditQuery{Limit: q.EffectiveLimit(), Action: q.Action}, a.now())
}

// PurgeExpired deletes records past their retention window.
func (a *StoreAuditLog) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := a.store.PurgeExpired(ctx, a.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		a.logger.InfoContext(ctx, "expired audit records purged", slog.Int64("count", n))
	}
	return n, nil
}

var _ AuditLog = (*StoreAuditLog)(nil)
