package action

import (
	"context"

	"github.com/jkaninda/warden/internal/backend"
	"github.com/jkaninda/warden/internal/security"
)

// HelpAction is the fallback action for unparsable queries.
const HelpAction = "help"

type getActionLogs struct {
	base
	audit security.AuditLog
}

func newGetActionLogs(d Deps) Handler {
	return &getActionLogs{
		base: base{
			name:        "get_action_logs",
			description: "Show recent audit records (limit defaults to 50; action filter optional).",
			risk:        security.RiskLow,
		},
		audit: d.Audit,
	}
}

func (a *getActionLogs) Execute(ctx context.Context, p backend.Params) (map[string]any, error) {
	records, err := a.audit.Query(ctx, security.AuditQuery{
		Limit:  p.Int("limit", security.DefaultAuditQueryLimit),
		Action: p.String("action"),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"logs": records, "count": len(records)}, nil
}

// AuditResult keeps prior records out of the new one.
func (a *getActionLogs) AuditResult(p backend.Params, result map[string]any) map[string]any {
	return map[string]any{
		"count":  result["count"],
		"action": p.String("action"),
		"limit":  p.Int("limit", security.DefaultAuditQueryLimit),
	}
}

type help struct {
	base
	registry *Registry
}

func newHelp(reg *Registry) Handler {
	return &help{
		base: base{
			name:        HelpAction,
			description: "List the supported actions.",
			risk:        security.RiskLow,
		},
		registry: reg,
	}
}

func (a *help) Execute(_ context.Context, _ backend.Params) (map[string]any, error) {
	return map[string]any{
		"message": "Describe what you want to do, or call one of the actions below by name.",
		"actions": a.registry.Describe(),
	}, nil
}
