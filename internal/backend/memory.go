package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/warden/internal/security"
)

// Instance states.
const (
	StatePending    = "pending"
	StateRunning    = "running"
	StateStopped    = "stopped"
	StateTerminated = "terminated"
	StateAvailable  = "available"
	StateInUse      = "in-use"
)

// Tag keys written on resources created through the engine.
const (
	TagManagedBy          = "ManagedBy"
	TagLaunchedBy         = "LaunchedBy"
	TagLaunchedAt         = "LaunchedAt"
	TagName               = "Name"
	TagSourceInstanceID   = "SourceInstanceId"
	TagSourceInstanceName = "SourceInstanceName"
	TagBackupType         = "BackupType"
	TagCreatedBy          = "CreatedBy"
	TagCreatedAt          = "CreatedAt"

	ManagedByValue = "warden"
)

type memInstance struct {
	ID         string
	Name       string
	Type       string
	State      string
	ImageID    string
	Zone       string
	LaunchedAt time.Time
	Tags       map[string]string
}

type memVolume struct {
	ID         string
	Size       int
	Type       string
	State      string
	Zone       string
	AttachedTo string
	Device     string
	CreatedAt  time.Time
}

type memAlarm struct {
	Name       string
	Metric     string
	InstanceID string
	Threshold  float64
	Period     int
	State      string
}

type memOp func(ctx context.Context, p Params) (*Result, error)

// MemoryBackend simulates instances, volumes, backups and alarms in process
// memory. Used by the "memory" driver and by tests.
type MemoryBackend struct {
	mu        sync.Mutex
	instances map[string]*memInstance
	volumes   map[string]*memVolume
	backups   map[string]*security.Backup
	alarms    map[string]*memAlarm
	zone      string
	calls     map[string]int
	failures  map[string]error
	ops       map[string]memOp
	now       func() time.Time
	logger    *slog.Logger
}

// NewMemoryBackend creates an empty simulated backend.
func NewMemoryBackend(logger *slog.Logger) *MemoryBackend {
	m := &MemoryBackend{
		instances: make(map[string]*memInstance),
		volumes:   make(map[string]*memVolume),
		backups:   make(map[string]*security.Backup),
		alarms:    make(map[string]*memAlarm),
		zone:      "us-east-1a",
		calls:     make(map[string]int),
		failures:  make(map[string]error),
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
	m.ops = map[string]memOp{
		"list_instances":       m.listInstances,
		"launch_instance":      m.launchInstance,
		"start_instance":       m.startInstance,
		"stop_instance":        m.stopInstance,
		"terminate_instance":   m.terminateInstance,
		"change_instance_type": m.changeInstanceType,
		"create_backup":        m.createBackup,
		"list_backups":         m.listBackups,
		"create_cpu_alarm":     m.createCPUAlarm,
		"create_status_alarm":  m.createStatusAlarm,
		"list_alarms":          m.listAlarms,
		"delete_alarm":         m.deleteAlarm,
		"list_volumes":         m.listVolumes,
		"create_volume":        m.createVolume,
		"attach_volume":        m.attachVolume,
		"detach_volume":        m.detachVolume,
		"delete_volume":        m.deleteVolume,
	}
	return m
}

// Execute runs the named operation. Operations hold the backend lock for
// their full duration.
func (m *MemoryBackend) Execute(ctx context.Context, action string, params map[string]any) (*Result, error) {
	op, ok := m.ops[action]
	if !ok {
		return nil, fmt.Errorf("unsupported operation %q", action)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls[action]++
	if err, fail := m.failures[action]; fail {
		delete(m.failures, action)
		return nil, err
	}
	res, err := op(ctx, Params(params))
	if err != nil {
		m.logger.DebugContext(ctx, "memory backend operation failed",
			slog.String("operation", action),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return res, nil
}

// ListBackups returns backups whose SourceInstanceId tag matches resourceID.
func (m *MemoryBackend) ListBackups(_ context.Context, resourceID string) ([]security.Backup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, fail := m.failures["list_backups"]; fail {
		delete(m.failures, "list_backups")
		return nil, err
	}
	return m.backupsFor(resourceID), nil
}

// Describe reports an instance or volume by ID.
func (m *MemoryBackend) Describe(_ context.Context, resourceID string) (*ResourceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, fail := m.failures["describe"]; fail {
		delete(m.failures, "describe")
		return nil, err
	}

	if inst, ok := m.instances[resourceID]; ok {
		return &ResourceState{
			ID:    inst.ID,
			Kind:  KindInstance,
			State: inst.State,
			Type:  inst.Type,
			Name:  inst.Name,
			Tags:  copyTags(inst.Tags),
		}, nil
	}
	if vol, ok := m.volumes[resourceID]; ok {
		st := &ResourceState{ID: vol.ID, Kind: KindVolume, State: vol.State, Type: vol.Type}
		if vol.AttachedTo != "" {
			st.Attachments = []string{vol.AttachedTo}
		}
		return st, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, resourceID)
}

// FailNext makes the next call of operation return err. The special
// operations "describe" and "list_backups" cover Describe and ListBackups.
func (m *MemoryBackend) FailNext(operation string, err error) {
	m.mu.Lock()
	m.failures[operation] = err
	m.mu.Unlock()
}

// Calls returns how many times Execute was invoked for operation.
func (m *MemoryBackend) Calls(operation string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[operation]
}

// TotalCalls returns the number of Execute invocations across all operations.
func (m *MemoryBackend) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

// AddInstance seeds an instance. Missing fields get defaults.
func (m *MemoryBackend) AddInstance(id, name, instanceType, state string) {
	if state == "" {
		state = StateRunning
	}
	if instanceType == "" {
		instanceType = "t3.micro"
	}
	m.mu.Lock()
	m.instances[id] = &memInstance{
		ID: id, Name: name, Type: instanceType, State: state, Zone: m.zone,
		LaunchedAt: m.now(), Tags: map[string]string{TagName: name},
	}
	m.mu.Unlock()
}

// AddVolume seeds a volume. An empty attachedTo leaves it available.
func (m *MemoryBackend) AddVolume(id string, size int, attachedTo string) {
	vol := &memVolume{ID: id, Size: size, Type: "gp3", State: StateAvailable, Zone: m.zone, CreatedAt: m.now()}
	if attachedTo != "" {
		vol.State = StateInUse
		vol.AttachedTo = attachedTo
		vol.Device = "/dev/sdf"
	}
	m.mu.Lock()
	m.volumes[id] = vol
	m.mu.Unlock()
}

// AddBackup seeds a backup of resourceID created at createdAt.
func (m *MemoryBackend) AddBackup(id, resourceID string, createdAt time.Time) {
	m.mu.Lock()
	m.backups[id] = &security.Backup{
		ID:        id,
		Name:      fmt.Sprintf("%s-backup", resourceID),
		State:     StateAvailable,
		CreatedAt: createdAt.UTC(),
		Tags: map[string]string{
			TagSourceInstanceID: resourceID,
			TagBackupType:       "AMI",
		},
	}
	m.mu.Unlock()
}

func (m *MemoryBackend) backupsFor(resourceID string) []security.Backup {
	out := make([]security.Backup, 0, len(m.backups))
	for _, b := range m.backups {
		if resourceID != "" && b.Tags[TagSourceInstanceID] != resourceID {
			continue
		}
		cp := *b
		cp.Tags = copyTags(b.Tags)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *MemoryBackend) instance(id string) (*memInstance, error) {
	if id == "" {
		return nil, errors.New("instance_id is required")
	}
	inst, ok := m.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: instance %s", ErrNotFound, id)
	}
	return inst, nil
}

func (m *MemoryBackend) volume(id string) (*memVolume, error) {
	if id == "" {
		return nil, errors.New("volume_id is required")
	}
	vol, ok := m.volumes[id]
	if !ok {
		return nil, fmt.Errorf("%w: volume %s", ErrNotFound, id)
	}
	return vol, nil
}

func (m *MemoryBackend) listInstances(_ context.Context, p Params) (*Result, error) {
	filter := p.String("state")
	ids := make([]string, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	list := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		inst := m.instances[id]
		if filter != "" && inst.State != filter {
			continue
		}
		list = append(list, map[string]any{
			"instance_id":       inst.ID,
			"name":              inst.Name,
			"instance_type":     inst.Type,
			"state":             inst.State,
			"availability_zone": inst.Zone,
			"launch_time":       inst.LaunchedAt.Format(time.RFC3339),
		})
	}
	return &Result{Output: map[string]any{"instances": list, "count": len(list)}}, nil
}

func (m *MemoryBackend) launchInstance(ctx context.Context, p Params) (*Result, error) {
	instanceType := p.StringOr("instance_type", "t3.micro")
	if p.Bool("dry_run", false) {
		return &Result{Output: map[string]any{
			"dry_run":       true,
			"instance_type": instanceType,
			"message":       "dry run succeeded, request would have been accepted",
		}}, nil
	}

	id := newResourceID("i")
	now := m.now()
	name := p.StringOr("name", id)
	tags := map[string]string{
		TagName:       name,
		TagManagedBy:  ManagedByValue,
		TagLaunchedBy: callerOrDefault(ctx),
		TagLaunchedAt: now.Format(time.RFC3339),
	}
	m.instances[id] = &memInstance{
		ID:         id,
		Name:       name,
		Type:       instanceType,
		State:      StateRunning,
		ImageID:    p.StringOr("image_id", "ami-default"),
		Zone:       m.zone,
		LaunchedAt: now,
		Tags:       tags,
	}
	return &Result{
		State: StatePending,
		Output: map[string]any{
			"instance_id":   id,
			"instance_type": instanceType,
			"state":         StatePending,
			"name":          name,
		},
	}, nil
}

func (m *MemoryBackend) transition(p Params, to string, allowed ...string) (*Result, error) {
	inst, err := m.instance(p.String("instance_id"))
	if err != nil {
		return nil, err
	}
	if inst.State == StateTerminated {
		return nil, fmt.Errorf("instance %s is terminated", inst.ID)
	}
	if len(allowed) > 0 && !slices.Contains(allowed, inst.State) {
		return nil, fmt.Errorf("instance %s is %s, expected one of %s", inst.ID, inst.State, strings.Join(allowed, ", "))
	}
	previous := inst.State
	inst.State = to
	return &Result{
		State: to,
		Output: map[string]any{
			"instance_id":    inst.ID,
			"previous_state": previous,
			"current_state":  to,
		},
	}, nil
}

func (m *MemoryBackend) startInstance(_ context.Context, p Params) (*Result, error) {
	return m.transition(p, StateRunning, StateStopped, StateRunning)
}

func (m *MemoryBackend) stopInstance(_ context.Context, p Params) (*Result, error) {
	return m.transition(p, StateStopped, StateRunning, StateStopped)
}

func (m *MemoryBackend) terminateInstance(_ context.Context, p Params) (*Result, error) {
	res, err := m.transition(p, StateTerminated)
	if err != nil {
		return nil, err
	}
	for _, vol := range m.volumes {
		if vol.AttachedTo == p.String("instance_id") {
			vol.AttachedTo, vol.Device, vol.State = "", "", StateAvailable
		}
	}
	return res, nil
}

func (m *MemoryBackend) changeInstanceType(_ context.Context, p Params) (*Result, error) {
	inst, err := m.instance(p.String("instance_id"))
	if err != nil {
		return nil, err
	}
	newType := p.String("new_type")
	if newType == "" {
		return nil, errors.New("new_type is required")
	}
	if inst.State != StateStopped {
		return nil, fmt.Errorf("instance %s must be stopped to change type (current state: %s)", inst.ID, inst.State)
	}
	old := inst.Type
	inst.Type = newType
	return &Result{
		State: inst.State,
		Output: map[string]any{
			"instance_id": inst.ID,
			"old_type":    old,
			"new_type":    newType,
		},
	}, nil
}

func (m *MemoryBackend) createBackup(ctx context.Context, p Params) (*Result, error) {
	inst, err := m.instance(p.String("instance_id"))
	if err != nil {
		return nil, err
	}
	now := m.now()
	name := p.StringOr("name", fmt.Sprintf("%s-backup-%s", inst.ID, now.Format("20060102-150405")))
	id := newResourceID("ami")
	m.backups[id] = &security.Backup{
		ID:        id,
		Name:      name,
		State:     StateAvailable,
		CreatedAt: now,
		Tags: map[string]string{
			TagName:               name,
			TagSourceInstanceID:   inst.ID,
			TagSourceInstanceName: inst.Name,
			TagBackupType:         "AMI",
			TagCreatedBy:          callerOrDefault(ctx),
			TagCreatedAt:          now.Format(time.RFC3339),
		},
	}
	return &Result{
		State: StateAvailable,
		Output: map[string]any{
			"backup_id":   id,
			"name":        name,
			"instance_id": inst.ID,
			"state":       StateAvailable,
		},
	}, nil
}

func (m *MemoryBackend) listBackups(_ context.Context, p Params) (*Result, error) {
	backups := m.backupsFor(p.String("instance_id"))
	list := make([]map[string]any, 0, len(backups))
	for _, b := range backups {
		list = append(list, map[string]any{
			"backup_id":   b.ID,
			"name":        b.Name,
			"state":       b.State,
			"created_at":  b.CreatedAt.Format(time.RFC3339),
			"instance_id": b.Tags[TagSourceInstanceID],
		})
	}
	return &Result{Output: map[string]any{"backups": list, "count": len(list)}}, nil
}

func (m *MemoryBackend) putAlarm(p Params, metric string, defThreshold float64, defPeriod int) (*Result, error) {
	inst, err := m.instance(p.String("instance_id"))
	if err != nil {
		return nil, err
	}
	name := p.String("alarm_name")
	if name == "" {
		return nil, errors.New("alarm_name is required")
	}
	alarm := &memAlarm{
		Name:       name,
		Metric:     metric,
		InstanceID: inst.ID,
		Threshold:  p.Float("threshold", defThreshold),
		Period:     p.Int("period", defPeriod),
		State:      "INSUFFICIENT_DATA",
	}
	m.alarms[name] = alarm
	return &Result{Output: map[string]any{
		"alarm_name":  alarm.Name,
		"metric":      alarm.Metric,
		"instance_id": alarm.InstanceID,
		"threshold":   alarm.Threshold,
		"period":      alarm.Period,
	}}, nil
}

func (m *MemoryBackend) createCPUAlarm(_ context.Context, p Params) (*Result, error) {
	return m.putAlarm(p, "CPUUtilization", 80, 300)
}

func (m *MemoryBackend) createStatusAlarm(_ context.Context, p Params) (*Result, error) {
	return m.putAlarm(p, "StatusCheckFailed", 0, 60)
}

func (m *MemoryBackend) listAlarms(_ context.Context, p Params) (*Result, error) {
	instanceID := p.String("instance_id")
	names := make([]string, 0, len(m.alarms))
	for name, a := range m.alarms {
		if instanceID != "" && a.InstanceID != instanceID {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	list := make([]map[string]any, 0, len(names))
	for _, name := range names {
		a := m.alarms[name]
		list = append(list, map[string]any{
			"alarm_name":  a.Name,
			"metric":      a.Metric,
			"instance_id": a.InstanceID,
			"threshold":   a.Threshold,
			"state":       a.State,
		})
	}
	return &Result{Output: map[string]any{"alarms": list, "count": len(list)}}, nil
}

func (m *MemoryBackend) deleteAlarm(_ context.Context, p Params) (*Result, error) {
	name := p.String("alarm_name")
	if _, ok := m.alarms[name]; !ok {
		return nil, fmt.Errorf("%w: alarm %s", ErrNotFound, name)
	}
	delete(m.alarms, name)
	return &Result{Output: map[string]any{"alarm_name": name, "deleted": true}}, nil
}

func (m *MemoryBackend) listVolumes(_ context.Context, p Params) (*Result, error) {
	instanceID := p.String("instance_id")
	ids := make([]string, 0, len(m.volumes))
	for id, v := range m.volumes {
		if instanceID != "" && v.AttachedTo != instanceID {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	list := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		v := m.volumes[id]
		entry := map[string]any{
			"volume_id":         v.ID,
			"size_gb":           v.Size,
			"volume_type":       v.Type,
			"state":             v.State,
			"availability_zone": v.Zone,
		}
		if v.AttachedTo != "" {
			entry["attached_to"] = v.AttachedTo
			entry["device"] = v.Device
		}
		list = append(list, entry)
	}
	return &Result{Output: map[string]any{"volumes": list, "count": len(list)}}, nil
}

func (m *MemoryBackend) createVolume(_ context.Context, p Params) (*Result, error) {
	size := p.Int("size", 0)
	if size <= 0 {
		return nil, errors.New("size must be a positive number of GiB")
	}
	vol := &memVolume{
		ID:        newResourceID("vol"),
		Size:      size,
		Type:      p.StringOr("volume_type", "gp3"),
		State:     StateAvailable,
		Zone:      p.StringOr("availability_zone", m.zone),
		CreatedAt: m.now(),
	}
	m.volumes[vol.ID] = vol
	return &Result{
		State: vol.State,
		Output: map[string]any{
			"volume_id":         vol.ID,
			"size_gb":           vol.Size,
			"volume_type":       vol.Type,
			"availability_zone": vol.Zone,
			"state":             vol.State,
		},
	}, nil
}

func (m *MemoryBackend) attachVolume(_ context.Context, p Params) (*Result, error) {
	vol, err := m.volume(p.String("volume_id"))
	if err != nil {
		return nil, err
	}
	inst, err := m.instance(p.String("instance_id"))
	if err != nil {
		return nil, err
	}
	if vol.AttachedTo != "" {
		return nil, fmt.Errorf("volume %s is already attached to %s", vol.ID, vol.AttachedTo)
	}
	if inst.State == StateTerminated {
		return nil, fmt.Errorf("instance %s is terminated", inst.ID)
	}
	vol.AttachedTo = inst.ID
	vol.Device = p.StringOr("device", "/dev/sdf")
	vol.State = StateInUse
	return &Result{
		State: vol.State,
		Output: map[string]any{
			"volume_id":   vol.ID,
			"instance_id": inst.ID,
			"device":      vol.Device,
			"state":       "attaching",
		},
	}, nil
}

func (m *MemoryBackend) detachVolume(_ context.Context, p Params) (*Result, error) {
	vol, err := m.volume(p.String("volume_id"))
	if err != nil {
		return nil, err
	}
	if vol.AttachedTo == "" {
		return nil, fmt.Errorf("volume %s is not attached", vol.ID)
	}
	from := vol.AttachedTo
	vol.AttachedTo, vol.Device, vol.State = "", "", StateAvailable
	return &Result{
		State: vol.State,
		Output: map[string]any{
			"volume_id":   vol.ID,
			"instance_id": from,
			"state":       "detaching",
		},
	}, nil
}

func (m *MemoryBackend) deleteVolume(_ context.Context, p Params) (*Result, error) {
	vol, err := m.volume(p.String("volume_id"))
	if err != nil {
		return nil, err
	}
	if vol.AttachedTo != "" {
		return nil, fmt.Errorf("volume %s attached, detach first", vol.ID)
	}
	delete(m.volumes, vol.ID)
	return &Result{Output: map[string]any{"volume_id": vol.ID, "deleted": true}}, nil
}

func newResourceID(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:17]
}

func callerOrDefault(ctx context.Context) string {
	if c := security.CallerFromContext(ctx); c != "" {
		return c
	}
	return "unknown"
}

func copyTags(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var _ Backend = (*MemoryBackend)(nil)
