package postgres

import "time"

// ActionLogModel maps to the "action_logs" table.
// No UpdatedAt or DeletedAt: the action log is append-only. Rows are removed
// only by retention reclamation once expires_at has passed.
type ActionLogModel struct {
	LogID      string         `gorm:"column:log_id;primaryKey;size:64"`
	LoggedAt   time.Time      `gorm:"column:logged_at;not null;index"`
	Action     string         `gorm:"not null;index"`
	Parameters map[string]any `gorm:"type:jsonb;serializer:json"`
	Status     string         `gorm:"not null"`
	Result     map[string]any `gorm:"type:jsonb;serializer:json"`
	Error      string         `gorm:"type:text"`
	Caller     string         `gorm:"index"`
	Query      string         `gorm:"type:text"`
	ExpiresAt  time.Time      `gorm:"not null;index"`
}

func (ActionLogModel) TableName() string { return "action_logs" }

// ConfirmationTokenModel maps to the "confirmation_tokens" table.
// A row exists only while the token is unconsumed.
type ConfirmationTokenModel struct {
	Token      string         `gorm:"primaryKey;size:64"`
	Action     string         `gorm:"not null"`
	Parameters map[string]any `gorm:"type:jsonb;serializer:json"`
	CreatedAt  time.Time      `gorm:"not null"`
	ExpiresAt  time.Time      `gorm:"not null;index"`
}

func (ConfirmationTokenModel) TableName() string { return "confirmation_tokens" }

// Models lists every table in migration order.
func Models() []any {
	return []any{
		&ActionLogModel{},
		&ConfirmationTokenModel{},
	}
}
