package action

import (
	"fmt"

	"github.com/jkaninda/warden/internal/backend"
	"github.com/jkaninda/warden/internal/security"
)

type cpuAlarm struct {
	passthrough
}

func newCreateCPUAlarm(d Deps) Handler {
	return &cpuAlarm{passthrough{
		base: base{
			name:        "create_cpu_alarm",
			description: "Create a CPU utilization alarm for an instance (threshold defaults to 80%).",
			risk:        security.RiskLow,
			required:    []string{"instance_id"},
		},
		be: d.Backend,
		defaults: func(p backend.Params) {
			setDefault(p, "threshold", 80)
			setDefault(p, "alarm_name", p.String("instance_id")+"-high-cpu")
		},
	}}
}

func (a *cpuAlarm) Validate(p backend.Params) error {
	if p.Has("threshold") {
		t := p.Float("threshold", -1)
		if t < 0 || t > 100 {
			return fmt.Errorf("threshold must be between 0 and 100, got %v", p["threshold"])
		}
	}
	return nil
}

func newCreateStatusAlarm(d Deps) Handler {
	return &passthrough{
		base: base{
			name:        "create_status_alarm",
			description: "Create a status-check-failed alarm for an instance.",
			risk:        security.RiskLow,
			required:    []string{"instance_id"},
		},
		be: d.Backend,
		defaults: func(p backend.Params) {
			setDefault(p, "alarm_name", p.String("instance_id")+"-status-check-failed")
		},
	}
}

func newListAlarms(d Deps) Handler {
	return &passthrough{
		base: base{
			name:        "list_alarms",
			description: "List monitoring alarms, optionally for one instance.",
			risk:        security.RiskLow,
		},
		be: d.Backend,
	}
}

func newDeleteAlarm(d Deps) Handler {
	return &passthrough{
		base: base{
			name:        "delete_alarm",
			description: "Delete a monitoring alarm by name.",
			risk:        security.RiskMedium,
			required:    []string{"alarm_name"},
		},
		be: d.Backend,
	}
}
