package action

import (
	"context"
	"errors"
	"fmt"

	"github.com/jkaninda/warden/internal/backend"
	"github.com/jkaninda/warden/internal/security"
)

// Deps are the collaborators handlers call into.
type Deps struct {
	Backend backend.Backend
	Budget  *security.BudgetGuard
	Backups *security.BackupGuard
	Audit   security.AuditLog
}

// NewDefaultRegistry registers the full action catalog.
func NewDefaultRegistry(d Deps) *Registry {
	reg := NewRegistry()

	// Instances.
	reg.Register(newListInstances(d))
	reg.Register(newLaunchInstance(d))
	reg.Register(newStartInstance(d))
	reg.Register(newStopInstance(d))
	reg.Register(newTerminateInstance(d))
	reg.Register(newChangeInstanceType(d))

	// Backups.
	reg.Register(newCheckBackup(d))
	reg.Register(newCreateBackup(d))
	reg.Register(newListBackups(d))

	// Monitoring.
	reg.Register(newCreateCPUAlarm(d))
	reg.Register(newCreateStatusAlarm(d))
	reg.Register(newListAlarms(d))
	reg.Register(newDeleteAlarm(d))

	// Volumes.
	reg.Register(newListVolumes(d))
	reg.Register(newCreateVolume(d))
	reg.Register(newAttachVolume(d))
	reg.Register(newDetachVolume(d))
	reg.Register(newDeleteVolume(d))

	// Meta.
	reg.Register(newGetActionLogs(d))
	reg.Register(newHelp(reg))

	return reg
}

// base carries the static parts of a handler.
type base struct {
	name        string
	description string
	risk        security.RiskLevel
	required    []string
}

func (b base) Name() string { return b.name }

func (b base) Description() string { return b.description }

func (b base) Risk() security.RiskLevel { return b.risk }

func (b base) RequiredParams() []string { return b.required }

func (b base) Validate(_ backend.Params) error { return nil }

// passthrough forwards Execute to the backend operation of the same name,
// after applying defaults to a copy of the parameters.
type passthrough struct {
	base
	be       backend.Backend
	defaults func(p backend.Params)
}

func (a *passthrough) Execute(ctx context.Context, p backend.Params) (map[string]any, error) {
	p = p.Clone()
	if a.defaults != nil {
		a.defaults(p)
	}
	return runBackend(ctx, a.be, a.name, p)
}

func runBackend(ctx context.Context, be backend.Backend, operation string, p backend.Params) (map[string]any, error) {
	res, err := be.Execute(ctx, operation, p)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return map[string]any{}, nil
	}
	return res.Output, nil
}

// describe loads resource state, mapping a missing resource to a failed
// precondition.
func describe(ctx context.Context, be backend.Backend, id string) (*backend.ResourceState, error) {
	st, err := be.Describe(ctx, id)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s does not exist", security.ErrPreconditionFailed, id)
		}
		return nil, err
	}
	return st, nil
}

func setDefault(p backend.Params, key string, value any) {
	if !p.Has(key) {
		p[key] = value
	}
}
