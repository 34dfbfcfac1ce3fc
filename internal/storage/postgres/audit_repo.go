package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jkaninda/warden/internal/security"
)

// AuditRepository implements security.AuditStore over the action_logs table.
// No Update method exists on this type.
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates an AuditRepository.
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts a single record.
func (r *AuditRepository) Append(ctx context.Context, record security.AuditRecord) error {
	model := toActionLogModel(record)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("appending action log: %w", err)
	}
	return nil
}

// Query returns unexpired records newest first, optionally filtered by action.
func (r *AuditRepository) Query(ctx context.Context, q security.AuditQuery, now time.Time) ([]security.AuditRecord, error) {
	tx := r.db.WithContext(ctx).
		Where("expires_at > ?", now.UTC()).
		Order("logged_at DESC").
		Limit(q.EffectiveLimit())
	if q.Action != "" {
		tx = tx.Where("action = ?", q.Action)
	}

	var models []ActionLogModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("querying action logs: %w", err)
	}

	records := make([]security.AuditRecord, len(models))
	for i := range models {
		records[i] = toAuditRecord(&models[i])
	}
	return records, nil
}

// PurgeExpired deletes records whose retention ended at or before now.
func (r *AuditRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", now.UTC()).Delete(&ActionLogModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("purging expired action logs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

var _ security.AuditStore = (*AuditRepository)(nil)
