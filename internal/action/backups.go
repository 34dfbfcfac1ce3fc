package action

import (
	"context"

	"github.com/jkaninda/warden/internal/backend"
	"github.com/jkaninda/warden/internal/security"
)

// checkBackup reports backup recency without changing anything.
type checkBackup struct {
	base
	backups *security.BackupGuard
}

func newCheckBackup(d Deps) Handler {
	return &checkBackup{
		base: base{
			name:        "check_backup",
			description: "Report whether an instance has a recent backup.",
			risk:        security.RiskLow,
			required:    []string{"instance_id"},
		},
		backups: d.Backups,
	}
}

func (a *checkBackup) Execute(ctx context.Context, p backend.Params) (map[string]any, error) {
	st, err := a.backups.Check(ctx, p.String("instance_id"))
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"resource_id":       st.ResourceID,
		"has_backup":        st.HasBackup,
		"has_recent_backup": st.HasRecentBackup,
		"total_count":       st.TotalCount,
		"recent_count":      st.RecentCount,
	}
	if st.Latest != nil {
		out["latest_backup"] = st.Latest
		out["latest_age_days"] = st.LatestAgeDays
	}
	if st.Recommendation != "" {
		out["recommendation"] = st.Recommendation
	}
	return out, nil
}

func newCreateBackup(d Deps) Handler {
	return &passthrough{
		base: base{
			name:        "create_backup",
			description: "Create an image backup of an instance (name optional).",
			risk:        security.RiskLow,
			required:    []string{"instance_id"},
		},
		be: d.Backend,
	}
}

func newListBackups(d Deps) Handler {
	return &passthrough{
		base: base{
			name:        "list_backups",
			description: "List backups, optionally for one instance.",
			risk:        security.RiskLow,
		},
		be: d.Backend,
	}
}
