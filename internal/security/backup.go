package security

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultBackupFreshness is the age under which a backup counts as recent.
const DefaultBackupFreshness = 7 * 24 * time.Hour

// Backup describes a recoverable snapshot of a resource as reported by the
// resource backend.
type Backup struct {
	ID        string            `json:"id"`
	Name      string            `json:"name,omitempty"`
	State     string            `json:"state,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// BackupLister lists backups tagged as originating from a resource.
type BackupLister interface {
	ListBackups(ctx context.Context, resourceID string) ([]Backup, error)
}

// BackupStatus is the guard's read-only advice for one resource.
type BackupStatus struct {
	ResourceID      string  `json:"resource_id"`
	HasBackup       bool    `json:"has_backup"`
	HasRecentBackup bool    `json:"has_recent_backup"`
	Latest          *Backup `json:"latest_backup,omitempty"`
	LatestAgeDays   int     `json:"latest_age_days,omitempty"`
	TotalCount      int     `json:"total_count"`
	RecentCount     int     `json:"recent_count"`
	Recommendation  string  `json:"recommendation,omitempty"`
}

// Err returns a wrapped ErrBackupMissing when no recent backup exists.
func (s *BackupStatus) Err() error {
	if s.HasRecentBackup {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrBackupMissing, s.Recommendation)
}

// BackupGuard checks backup recency before irreversible actions.
// It never mutates state.
type BackupGuard struct {
	lister    BackupLister
	freshness time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewBackupGuard creates a guard over the given lister. A non-positive
// freshness selects DefaultBackupFreshness.
func NewBackupGuard(lister BackupLister, freshness time.Duration, logger *slog.Logger) *BackupGuard {
	if freshness <= 0 {
		freshness = DefaultBackupFreshness
	}
	return &BackupGuard{
		lister:    lister,
		freshness: freshness,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// Check reports whether resourceID has any backup and a recent one.
func (g *BackupGuard) Check(ctx context.Context, resourceID string) (*BackupStatus, error) {
	backups, err := g.lister.ListBackups(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("listing backups for %s: %w", resourceID, err)
	}

	now := g.now()
	status := &BackupStatus{ResourceID: resourceID, TotalCount: len(backups)}
	for i := range backups {
		b := backups[i]
		if now.Sub(b.CreatedAt) < g.freshness {
			status.RecentCount++
		}
		if status.Latest == nil || b.CreatedAt.After(status.Latest.CreatedAt) {
			status.Latest = &b
		}
	}

	switch {
	case status.Latest == nil:
		status.Recommendation = fmt.Sprintf("No backups found for %s. Create a backup before proceeding.", resourceID)
	default:
		age := now.Sub(status.Latest.CreatedAt)
		status.HasBackup = true
		status.HasRecentBackup = age < g.freshness
		status.LatestAgeDays = int(age / (24 * time.Hour))
		if !status.HasRecentBackup {
			status.Recommendation = fmt.Sprintf("Latest backup of %s is %d days old. Create a fresh backup before proceeding.",
				resourceID, status.LatestAgeDays)
		}
	}

	g.logger.DebugContext(ctx, "backup status checked",
		slog.String("resource_id", resourceID),
		slog.Bool("has_backup", status.HasBackup),
		slog.Bool("has_recent_backup", status.HasRecentBackup),
		slog.Int("total", status.TotalCount),
	)
	return status, nil
}
