package action

import (
	"context"
	"fmt"

	"github.com/jkaninda/warden/internal/backend"
	"github.com/jkaninda/warden/internal/security"
)

const maxVolumeSizeGiB = 16384

func newListVolumes(d Deps) Handler {
	return &passthrough{
		base: base{
			name:        "list_volumes",
			description: "List storage volumes, optionally those attached to one instance.",
			risk:        security.RiskLow,
		},
		be: d.Backend,
	}
}

type createVolume struct {
	passthrough
}

func newCreateVolume(d Deps) Handler {
	return &createVolume{passthrough{
		base: base{
			name:        "create_volume",
			description: "Create a storage volume (size in GiB; volume_type defaults to gp3).",
			risk:        security.RiskMedium,
			required:    []string{"size"},
		},
		be: d.Backend,
		defaults: func(p backend.Params) {
			setDefault(p, "volume_type", "gp3")
		},
	}}
}

func (a *createVolume) Validate(p backend.Params) error {
	size := p.Int("size", 0)
	if size <= 0 || size > maxVolumeSizeGiB {
		return fmt.Errorf("size must be between 1 and %d GiB, got %v", maxVolumeSizeGiB, p["size"])
	}
	return nil
}

func newAttachVolume(d Deps) Handler {
	return &passthrough{
		base: base{
			name:        "attach_volume",
			description: "Attach a volume to an instance (device defaults to /dev/sdf).",
			risk:        security.RiskMedium,
			required:    []string{"volume_id", "instance_id"},
		},
		be: d.Backend,
		defaults: func(p backend.Params) {
			setDefault(p, "device", "/dev/sdf")
		},
	}
}

func newDetachVolume(d Deps) Handler {
	return &passthrough{
		base: base{
			name:        "detach_volume",
			description: "Detach a volume from its instance.",
			risk:        security.RiskMedium,
			required:    []string{"volume_id"},
		},
		be: d.Backend,
	}
}

// deleteVolume is irreversible. Volumes carry no backup concept here; the
// precheck refuses attached volumes.
type deleteVolume struct {
	base
	be backend.Backend
}

func newDeleteVolume(d Deps) Handler {
	return &deleteVolume{
		base: base{
			name:        "delete_volume",
			description: "Permanently delete a detached volume. Requires confirmation.",
			risk:        security.RiskCritical,
			required:    []string{"volume_id"},
		},
		be: d.Backend,
	}
}

func (a *deleteVolume) Precheck(ctx context.Context, p backend.Params) error {
	st, err := describe(ctx, a.be, p.String("volume_id"))
	if err != nil {
		return err
	}
	if len(st.Attachments) > 0 {
		return fmt.Errorf("%w: volume attached, detach first", security.ErrPreconditionFailed)
	}
	return nil
}

func (a *deleteVolume) Summary(_ context.Context, p backend.Params) string {
	return fmt.Sprintf("Permanently delete volume %s. All data on it will be lost.", p.String("volume_id"))
}

func (a *deleteVolume) Execute(ctx context.Context, p backend.Params) (map[string]any, error) {
	return runBackend(ctx, a.be, a.name, p)
}
