package action

import (
	"context"
	"fmt"
	"math"

	"github.com/jkaninda/warden/internal/backend"
	"github.com/jkaninda/warden/internal/security"
)

const defaultInstanceType = "t3.micro"

func newListInstances(d Deps) Handler {
	return &passthrough{
		base: base{
			name:        "list_instances",
			description: "List compute instances, optionally filtered by state (running, stopped, ...).",
			risk:        security.RiskLow,
		},
		be: d.Backend,
	}
}

func newStartInstance(d Deps) Handler {
	return &passthrough{
		base: base{
			name:        "start_instance",
			description: "Start a stopped instance.",
			risk:        security.RiskMedium,
			required:    []string{"instance_id"},
		},
		be: d.Backend,
	}
}

func newStopInstance(d Deps) Handler {
	return &passthrough{
		base: base{
			name:        "stop_instance",
			description: "Stop a running instance.",
			risk:        security.RiskMedium,
			required:    []string{"instance_id"},
		},
		be: d.Backend,
	}
}

// launchInstance creates a new instance. The class is budget-checked; with
// dry_run it only reports the cost estimate.
type launchInstance struct {
	base
	be     backend.Backend
	budget *security.BudgetGuard
}

func newLaunchInstance(d Deps) Handler {
	return &launchInstance{
		base: base{
			name:        "launch_instance",
			description: "Launch a new instance (instance_type defaults to t3.micro; image_id, name and dry_run optional).",
			risk:        security.RiskMedium,
		},
		be:     d.Backend,
		budget: d.Budget,
	}
}

func (a *launchInstance) ResourceClass(p backend.Params) string {
	return p.StringOr("instance_type", defaultInstanceType)
}

func (a *launchInstance) Execute(ctx context.Context, p backend.Params) (map[string]any, error) {
	p = p.Clone()
	class := a.ResourceClass(p)
	p["instance_type"] = class

	if p.Bool("dry_run", false) {
		hourly, known := a.budget.HourlyCost(class)
		return map[string]any{
			"dry_run":       true,
			"instance_type": class,
			"hourly_cost":   hourly,
			"monthly_cost":  security.MonthlyCost(hourly),
			"price_known":   known,
			"ceiling":       a.budget.Ceiling(),
		}, nil
	}
	return runBackend(ctx, a.be, a.name, p)
}

// terminateInstance is irreversible and gated on a recent backup.
type terminateInstance struct {
	base
	be backend.Backend
}

func newTerminateInstance(d Deps) Handler {
	return &terminateInstance{
		base: base{
			name:        "terminate_instance",
			description: "Permanently terminate an instance. Requires a recent backup and confirmation.",
			risk:        security.RiskCritical,
			required:    []string{"instance_id"},
		},
		be: d.Backend,
	}
}

func (a *terminateInstance) BackupTarget(p backend.Params) string { return p.String("instance_id") }

func (a *terminateInstance) Precheck(ctx context.Context, p backend.Params) error {
	st, err := describe(ctx, a.be, p.String("instance_id"))
	if err != nil {
		return err
	}
	if st.State == backend.StateTerminated {
		return fmt.Errorf("%w: instance %s is already terminated", security.ErrPreconditionFailed, st.ID)
	}
	return nil
}

func (a *terminateInstance) Summary(ctx context.Context, p backend.Params) string {
	id := p.String("instance_id")
	st, err := a.be.Describe(ctx, id)
	if err != nil {
		return fmt.Sprintf("Terminate instance %s. This cannot be undone.", id)
	}
	label := id
	if st.Name != "" {
		label = fmt.Sprintf("%s (%s)", id, st.Name)
	}
	return fmt.Sprintf("Terminate instance %s, type %s, currently %s. This cannot be undone.", label, st.Type, st.State)
}

func (a *terminateInstance) Execute(ctx context.Context, p backend.Params) (map[string]any, error) {
	return runBackend(ctx, a.be, a.name, p)
}

// changeInstanceType resizes a stopped instance, taking a pre-resize
// backup first unless create_backup is false.
type changeInstanceType struct {
	base
	be     backend.Backend
	budget *security.BudgetGuard
}

func newChangeInstanceType(d Deps) Handler {
	return &changeInstanceType{
		base: base{
			name:        "change_instance_type",
			description: "Change the type of a stopped instance (create_backup defaults to true). Requires confirmation.",
			risk:        security.RiskHigh,
			required:    []string{"instance_id", "new_type"},
		},
		be:     d.Backend,
		budget: d.Budget,
	}
}

func (a *changeInstanceType) ResourceClass(p backend.Params) string { return p.String("new_type") }

func (a *changeInstanceType) Precheck(ctx context.Context, p backend.Params) error {
	st, err := describe(ctx, a.be, p.String("instance_id"))
	if err != nil {
		return err
	}
	if st.State != backend.StateStopped {
		return fmt.Errorf("%w: instance %s must be stopped to change type (current state: %s)",
			security.ErrPreconditionFailed, st.ID, st.State)
	}
	if st.Type == p.String("new_type") {
		return fmt.Errorf("%w: instance %s is already %s", security.ErrPreconditionFailed, st.ID, st.Type)
	}
	return nil
}

func (a *changeInstanceType) Summary(ctx context.Context, p backend.Params) string {
	id, newType := p.String("instance_id"), p.String("new_type")
	current := "unknown"
	if st, err := a.be.Describe(ctx, id); err == nil {
		current = st.Type
	}
	diff := a.budget.CostDiff(current, newType)
	direction := "increase"
	if diff < 0 {
		direction = "decrease"
	}
	backupNote := "A backup will be created first."
	if !p.Bool("create_backup", true) {
		backupNote = "No backup will be created."
	}
	return fmt.Sprintf("Change instance %s from %s to %s: $%.2f/month %s. %s",
		id, current, newType, math.Abs(diff), direction, backupNote)
}

func (a *changeInstanceType) Execute(ctx context.Context, p backend.Params) (map[string]any, error) {
	id := p.String("instance_id")
	var backupID any
	if p.Bool("create_backup", true) {
		out, err := runBackend(ctx, a.be, "create_backup", backend.Params{
			"instance_id": id,
			"name":        fmt.Sprintf("%s-pre-resize", id),
		})
		if err != nil {
			return nil, fmt.Errorf("creating pre-resize backup: %w", err)
		}
		backupID = out["backup_id"]
	}

	out, err := runBackend(ctx, a.be, a.name, backend.Params{"instance_id": id, "new_type": p.String("new_type")})
	if err != nil {
		return nil, err
	}
	if backupID != nil {
		out["backup_id"] = backupID
	}
	return out, nil
}
