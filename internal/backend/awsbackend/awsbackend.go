// Package awsbackend executes actions against EC2 and CloudWatch using the
// AWS SDK for Go v2.
package awsbackend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"github.com/jkaninda/warden/internal/backend"
	"github.com/jkaninda/warden/internal/security"
)

// EC2API is the subset of the EC2 client used by the backend.
type EC2API interface {
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	RunInstances(ctx context.Context, in *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	StartInstances(ctx context.Context, in *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error)
	StopInstances(ctx context.Context, in *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error)
	TerminateInstances(ctx context.Context, in *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	ModifyInstanceAttribute(ctx context.Context, in *ec2.ModifyInstanceAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifyInstanceAttributeOutput, error)
	CreateImage(ctx context.Context, in *ec2.CreateImageInput, optFns ...func(*ec2.Options)) (*ec2.CreateImageOutput, error)
	DescribeImages(ctx context.Context, in *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error)
	DescribeVolumes(ctx context.Context, in *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
	CreateVolume(ctx context.Context, in *ec2.CreateVolumeInput, optFns ...func(*ec2.Options)) (*ec2.CreateVolumeOutput, error)
	AttachVolume(ctx context.Context, in *ec2.AttachVolumeInput, optFns ...func(*ec2.Options)) (*ec2.AttachVolumeOutput, error)
	DetachVolume(ctx context.Context, in *ec2.DetachVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DetachVolumeOutput, error)
	DeleteVolume(ctx context.Context, in *ec2.DeleteVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error)
}

// CloudWatchAPI is the subset of the CloudWatch client used by the backend.
type CloudWatchAPI interface {
	PutMetricAlarm(ctx context.Context, in *cloudwatch.PutMetricAlarmInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricAlarmOutput, error)
	DescribeAlarms(ctx context.Context, in *cloudwatch.DescribeAlarmsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.DescribeAlarmsOutput, error)
	DeleteAlarms(ctx context.Context, in *cloudwatch.DeleteAlarmsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.DeleteAlarmsOutput, error)
}

// Config holds AWS connection settings.
type Config struct {
	Region        string
	Profile       string
	Endpoint      string // Optional custom endpoint (LocalStack).
	AlarmTopicARN string // Optional SNS topic notified by created alarms.
	DefaultImage  string // AMI used by launch_instance when image_id is omitted.
}

type op func(ctx context.Context, p backend.Params) (*backend.Result, error)

// Backend implements backend.Backend on EC2 and CloudWatch.
type Backend struct {
	ec2    EC2API
	cw     CloudWatchAPI
	cfg    Config
	ops    map[string]op
	now    func() time.Time
	logger *slog.Logger
}

// New loads the default AWS credential chain and builds the clients.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Backend, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	ec2Client := ec2.NewFromConfig(awsCfg, func(o *ec2.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClients(ec2Client, cwClient, cfg, logger), nil
}

// NewWithClients builds a backend over existing clients.
func NewWithClients(ec2Client EC2API, cwClient CloudWatchAPI, cfg Config, logger *slog.Logger) *Backend {
	b := &Backend{
		ec2:    ec2Client,
		cw:     cwClient,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
	b.ops = map[string]op{
		"list_instances":       b.listInstances,
		"launch_instance":      b.launchInstance,
		"start_instance":       b.startInstance,
		"stop_instance":        b.stopInstance,
		"terminate_instance":   b.terminateInstance,
		"change_instance_type": b.changeInstanceType,
		"create_backup":        b.createBackup,
		"list_backups":         b.listBackupsOp,
		"create_cpu_alarm":     b.createCPUAlarm,
		"create_status_alarm":  b.createStatusAlarm,
		"list_alarms":          b.listAlarms,
		"delete_alarm":         b.deleteAlarm,
		"list_volumes":         b.listVolumes,
		"create_volume":        b.createVolume,
		"attach_volume":        b.attachVolume,
		"detach_volume":        b.detachVolume,
		"delete_volume":        b.deleteVolume,
	}
	return b
}

// Execute dispatches one operation. SDK errors are returned unchanged.
func (b *Backend) Execute(ctx context.Context, action string, params map[string]any) (*backend.Result, error) {
	fn, ok := b.ops[action]
	if !ok {
		return nil, fmt.Errorf("unsupported operation %q", action)
	}
	start := time.Now()
	res, err := fn(ctx, backend.Params(params))
	b.logger.DebugContext(ctx, "aws operation finished",
		slog.String("operation", action),
		slog.Duration("duration", time.Since(start)),
		slog.Bool("success", err == nil),
	)
	return res, err
}

// ListBackups returns AMIs owned by the account tagged with SourceInstanceId.
func (b *Backend) ListBackups(ctx context.Context, resourceID string) ([]security.Backup, error) {
	in := &ec2.DescribeImagesInput{Owners: []string{"self"}}
	if resourceID != "" {
		in.Filters = []ec2types.Filter{{
			Name:   aws.String("tag:" + backend.TagSourceInstanceID),
			Values: []string{resourceID},
		}}
	} else {
		in.Filters = []ec2types.Filter{{
			Name:   aws.String("tag:" + backend.TagBackupType),
			Values: []string{"AMI"},
		}}
	}
	out, err := b.ec2.DescribeImages(ctx, in)
	if err != nil {
		return nil, err
	}

	backups := make([]security.Backup, 0, len(out.Images))
	for _, img := range out.Images {
		created, err := time.Parse(time.RFC3339, aws.ToString(img.CreationDate))
		if err != nil {
			b.logger.WarnContext(ctx, "skipping image with unparsable creation date",
				slog.String("image_id", aws.ToString(img.ImageId)),
			)
			continue
		}
		backups = append(backups, security.Backup{
			ID:        aws.ToString(img.ImageId),
			Name:      aws.ToString(img.Name),
			State:     string(img.State),
			CreatedAt: created.UTC(),
			Tags:      tagMap(img.Tags),
		})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].CreatedAt.After(backups[j].CreatedAt) })
	return backups, nil
}

// Describe looks up an instance ("i-" prefix) or volume ("vol-" prefix).
func (b *Backend) Describe(ctx context.Context, resourceID string) (*backend.ResourceState, error) {
	switch {
	case len(resourceID) > 4 && resourceID[:4] == "vol-":
		vol, err := b.describeVolume(ctx, resourceID)
		if err != nil {
			return nil, err
		}
		st := &backend.ResourceState{
			ID:    aws.ToString(vol.VolumeId),
			Kind:  backend.KindVolume,
			State: string(vol.State),
			Type:  string(vol.VolumeType),
			Tags:  tagMap(vol.Tags),
		}
		for _, a := range vol.Attachments {
			st.Attachments = append(st.Attachments, aws.ToString(a.InstanceId))
		}
		return st, nil
	default:
		inst, err := b.describeInstance(ctx, resourceID)
		if err != nil {
			return nil, err
		}
		tags := tagMap(inst.Tags)
		st := &backend.ResourceState{
			ID:   aws.ToString(inst.InstanceId),
			Kind: backend.KindInstance,
			Type: string(inst.InstanceType),
			Name: tags[backend.TagName],
			Tags: tags,
		}
		if inst.State != nil {
			st.State = string(inst.State.Name)
		}
		return st, nil
	}
}

func (b *Backend) describeInstance(ctx context.Context, id string) (*ec2types.Instance, error) {
	out, err := b.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: instance %s", backend.ErrNotFound, id)
		}
		return nil, err
	}
	for _, r := range out.Reservations {
		if len(r.Instances) > 0 {
			return &r.Instances[0], nil
		}
	}
	return nil, fmt.Errorf("%w: instance %s", backend.ErrNotFound, id)
}

func (b *Backend) describeVolume(ctx context.Context, id string) (*ec2types.Volume, error) {
	out, err := b.ec2.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{VolumeIds: []string{id}})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: volume %s", backend.ErrNotFound, id)
		}
		return nil, err
	}
	if len(out.Volumes) == 0 {
		return nil, fmt.Errorf("%w: volume %s", backend.ErrNotFound, id)
	}
	return &out.Volumes[0], nil
}

func (b *Backend) listInstances(ctx context.Context, p backend.Params) (*backend.Result, error) {
	in := &ec2.DescribeInstancesInput{}
	if state := p.String("state"); state != "" {
		in.Filters = []ec2types.Filter{{Name: aws.String("instance-state-name"), Values: []string{state}}}
	}

	list := []map[string]any{}
	paginator := ec2.NewDescribeInstancesPaginator(b.ec2, in)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, r := range page.Reservations {
			for _, inst := range r.Instances {
				list = append(list, instanceSummary(inst))
			}
		}
	}
	return &backend.Result{Output: map[string]any{"instances": list, "count": len(list)}}, nil
}

func (b *Backend) launchInstance(ctx context.Context, p backend.Params) (*backend.Result, error) {
	instanceType := p.StringOr("instance_type", "t3.micro")
	imageID := p.StringOr("image_id", b.cfg.DefaultImage)
	if imageID == "" {
		return nil, errors.New("image_id is required: no default image configured")
	}

	now := b.now()
	tags := []ec2types.Tag{
		tag(backend.TagManagedBy, backend.ManagedByValue),
		tag(backend.TagLaunchedBy, callerOrDefault(ctx)),
		tag(backend.TagLaunchedAt, now.Format(time.RFC3339)),
	}
	if name := p.String("name"); name != "" {
		tags = append(tags, tag(backend.TagName, name))
	}

	in := &ec2.RunInstancesInput{
		ImageId:      aws.String(imageID),
		InstanceType: ec2types.InstanceType(instanceType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		DryRun:       aws.Bool(p.Bool("dry_run", false)),
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeInstance,
			Tags:         tags,
		}},
	}
	out, err := b.ec2.RunInstances(ctx, in)
	if err != nil {
		if isDryRunSuccess(err) {
			return &backend.Result{Output: map[string]any{
				"dry_run":       true,
				"instance_type": instanceType,
				"message":       "dry run succeeded, request would have been accepted",
			}}, nil
		}
		return nil, err
	}
	if len(out.Instances) == 0 {
		return nil, errors.New("run instances returned no instances")
	}
	inst := out.Instances[0]
	summary := instanceSummary(inst)
	return &backend.Result{State: fmt.Sprint(summary["state"]), Output: summary}, nil
}

func (b *Backend) startInstance(ctx context.Context, p backend.Params) (*backend.Result, error) {
	out, err := b.ec2.StartInstances(ctx, &ec2.StartInstancesInput{InstanceIds: []string{p.String("instance_id")}})
	if err != nil {
		return nil, err
	}
	return stateChangeResult(out.StartingInstances)
}

func (b *Backend) stopInstance(ctx context.Context, p backend.Params) (*backend.Result, error) {
	out, err := b.ec2.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: []string{p.String("instance_id")}})
	if err != nil {
		return nil, err
	}
	return stateChangeResult(out.StoppingInstances)
}

func (b *Backend) terminateInstance(ctx context.Context, p backend.Params) (*backend.Result, error) {
	out, err := b.ec2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{p.String("instance_id")}})
	if err != nil {
		return nil, err
	}
	return stateChangeResult(out.TerminatingInstances)
}

func (b *Backend) changeInstanceType(ctx context.Context, p backend.Params) (*backend.Result, error) {
	id := p.String("instance_id")
	inst, err := b.describeInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	newType := p.String("new_type")
	_, err = b.ec2.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
		InstanceId:   aws.String(id),
		InstanceType: &ec2types.AttributeValue{Value: aws.String(newType)},
	})
	if err != nil {
		return nil, err
	}
	return &backend.Result{Output: map[string]any{
		"instance_id": id,
		"old_type":    string(inst.InstanceType),
		"new_type":    newType,
	}}, nil
}

func (b *Backend) createBackup(ctx context.Context, p backend.Params) (*backend.Result, error) {
	id := p.String("instance_id")
	inst, err := b.describeInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	now := b.now()
	name := p.StringOr("name", fmt.Sprintf("%s-backup-%s", id, now.Format("20060102-150405")))
	instName := tagMap(inst.Tags)[backend.TagName]

	out, err := b.ec2.CreateImage(ctx, &ec2.CreateImageInput{
		InstanceId: aws.String(id),
		Name:       aws.String(name),
		NoReboot:   aws.Bool(true),
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeImage,
			Tags: []ec2types.Tag{
				tag(backend.TagName, name),
				tag(backend.TagSourceInstanceID, id),
				tag(backend.TagSourceInstanceName, instName),
				tag(backend.TagBackupType, "AMI"),
				tag(backend.TagCreatedBy, callerOrDefault(ctx)),
				tag(backend.TagCreatedAt, now.Format(time.RFC3339)),
			},
		}},
	})
	if err != nil {
		return nil, err
	}
	return &backend.Result{
		State: "pending",
		Output: map[string]any{
			"backup_id":   aws.ToString(out.ImageId),
			"name":        name,
			"instance_id": id,
			"state":       "pending",
		},
	}, nil
}

func (b *Backend) listBackupsOp(ctx context.Context, p backend.Params) (*backend.Result, error) {
	backups, err := b.ListBackups(ctx, p.String("instance_id"))
	if err != nil {
		return nil, err
	}
	list := make([]map[string]any, 0, len(backups))
	for _, bk := range backups {
		list = append(list, map[string]any{
			"backup_id":   bk.ID,
			"name":        bk.Name,
			"state":       bk.State,
			"created_at":  bk.CreatedAt.Format(time.RFC3339),
			"instance_id": bk.Tags[backend.TagSourceInstanceID],
		})
	}
	return &backend.Result{Output: map[string]any{"backups": list, "count": len(list)}}, nil
}

func (b *Backend) putAlarm(ctx context.Context, p backend.Params, metric string, stat cwtypes.Statistic, threshold float64, period int32) (*backend.Result, error) {
	id := p.String("instance_id")
	name := p.String("alarm_name")
	in := &cloudwatch.PutMetricAlarmInput{
		AlarmName:          aws.String(name),
		AlarmDescription:   aws.String(fmt.Sprintf("%s alarm for %s", metric, id)),
		ComparisonOperator: cwtypes.ComparisonOperatorGreaterThanThreshold,
		EvaluationPeriods:  aws.Int32(2),
		MetricName:         aws.String(metric),
		Namespace:          aws.String("AWS/EC2"),
		Period:             aws.Int32(period),
		Statistic:          stat,
		Threshold:          aws.Float64(threshold),
		ActionsEnabled:     aws.Bool(b.cfg.AlarmTopicARN != ""),
		Dimensions: []cwtypes.Dimension{{
			Name:  aws.String("InstanceId"),
			Value: aws.String(id),
		}},
	}
	if b.cfg.AlarmTopicARN != "" {
		in.AlarmActions = []string{b.cfg.AlarmTopicARN}
	}
	if _, err := b.cw.PutMetricAlarm(ctx, in); err != nil {
		return nil, err
	}
	return &backend.Result{Output: map[string]any{
		"alarm_name":  name,
		"metric":      metric,
		"instance_id": id,
		"threshold":   threshold,
		"period":      int(period),
	}}, nil
}

func (b *Backend) createCPUAlarm(ctx context.Context, p backend.Params) (*backend.Result, error) {
	return b.putAlarm(ctx, p, "CPUUtilization", cwtypes.StatisticAverage,
		p.Float("threshold", 80), int32(p.Int("period", 300)))
}

func (b *Backend) createStatusAlarm(ctx context.Context, p backend.Params) (*backend.Result, error) {
	return b.putAlarm(ctx, p, "StatusCheckFailed", cwtypes.StatisticMaximum,
		p.Float("threshold", 0), int32(p.Int("period", 60)))
}

func (b *Backend) listAlarms(ctx context.Context, p backend.Params) (*backend.Result, error) {
	in := &cloudwatch.DescribeAlarmsInput{}
	if id := p.String("instance_id"); id != "" {
		in.AlarmNamePrefix = aws.String(id)
	}
	out, err := b.cw.DescribeAlarms(ctx, in)
	if err != nil {
		return nil, err
	}
	list := make([]map[string]any, 0, len(out.MetricAlarms))
	for _, a := range out.MetricAlarms {
		list = append(list, map[string]any{
			"alarm_name": aws.ToString(a.AlarmName),
			"metric":     aws.ToString(a.MetricName),
			"threshold":  aws.ToFloat64(a.Threshold),
			"state":      string(a.StateValue),
		})
	}
	return &backend.Result{Output: map[string]any{"alarms": list, "count": len(list)}}, nil
}

func (b *Backend) deleteAlarm(ctx context.Context, p backend.Params) (*backend.Result, error) {
	name := p.String("alarm_name")
	if _, err := b.cw.DeleteAlarms(ctx, &cloudwatch.DeleteAlarmsInput{AlarmNames: []string{name}}); err != nil {
		return nil, err
	}
	return &backend.Result{Output: map[string]any{"alarm_name": name, "deleted": true}}, nil
}

func (b *Backend) listVolumes(ctx context.Context, p backend.Params) (*backend.Result, error) {
	in := &ec2.DescribeVolumesInput{}
	if id := p.String("instance_id"); id != "" {
		in.Filters = []ec2types.Filter{{Name: aws.String("attachment.instance-id"), Values: []string{id}}}
	}
	out, err := b.ec2.DescribeVolumes(ctx, in)
	if err != nil {
		return nil, err
	}
	list := make([]map[string]any, 0, len(out.Volumes))
	for _, v := range out.Volumes {
		entry := map[string]any{
			"volume_id":         aws.ToString(v.VolumeId),
			"size_gb":           int(aws.ToInt32(v.Size)),
			"volume_type":       string(v.VolumeType),
			"state":             string(v.State),
			"availability_zone": aws.ToString(v.AvailabilityZone),
		}
		if len(v.Attachments) > 0 {
			entry["attached_to"] = aws.ToString(v.Attachments[0].InstanceId)
			entry["device"] = aws.ToString(v.Attachments[0].Device)
		}
		list = append(list, entry)
	}
	return &backend.Result{Output: map[string]any{"volumes": list, "count": len(list)}}, nil
}

func (b *Backend) createVolume(ctx context.Context, p backend.Params) (*backend.Result, error) {
	zone := p.String("availability_zone")
	if zone == "" {
		zone = b.cfg.Region + "a"
	}
	out, err := b.ec2.CreateVolume(ctx, &ec2.CreateVolumeInput{
		AvailabilityZone: aws.String(zone),
		Size:             aws.Int32(int32(p.Int("size", 0))),
		VolumeType:       ec2types.VolumeType(p.StringOr("volume_type", "gp3")),
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeVolume,
			Tags: []ec2types.Tag{
				tag(backend.TagManagedBy, backend.ManagedByValue),
				tag(backend.TagCreatedBy, callerOrDefault(ctx)),
			},
		}},
	})
	if err != nil {
		return nil, err
	}
	return &backend.Result{
		State: string(out.State),
		Output: map[string]any{
			"volume_id":         aws.ToString(out.VolumeId),
			"size_gb":           int(aws.ToInt32(out.Size)),
			"volume_type":       string(out.VolumeType),
			"availability_zone": aws.ToString(out.AvailabilityZone),
			"state":             string(out.State),
		},
	}, nil
}

func (b *Backend) attachVolume(ctx context.Context, p backend.Params) (*backend.Result, error) {
	device := p.StringOr("device", "/dev/sdf")
	out, err := b.ec2.AttachVolume(ctx, &ec2.AttachVolumeInput{
		VolumeId:   aws.String(p.String("volume_id")),
		InstanceId: aws.String(p.String("instance_id")),
		Device:     aws.String(device),
	})
	if err != nil {
		return nil, err
	}
	return &backend.Result{
		State: string(out.State),
		Output: map[string]any{
			"volume_id":   aws.ToString(out.VolumeId),
			"instance_id": aws.ToString(out.InstanceId),
			"device":      aws.ToString(out.Device),
			"state":       string(out.State),
		},
	}, nil
}

func (b *Backend) detachVolume(ctx context.Context, p backend.Params) (*backend.Result, error) {
	out, err := b.ec2.DetachVolume(ctx, &ec2.DetachVolumeInput{VolumeId: aws.String(p.String("volume_id"))})
	if err != nil {
		return nil, err
	}
	return &backend.Result{
		State: string(out.State),
		Output: map[string]any{
			"volume_id":   aws.ToString(out.VolumeId),
			"instance_id": aws.ToString(out.InstanceId),
			"state":       string(out.State),
		},
	}, nil
}

func (b *Backend) deleteVolume(ctx context.Context, p backend.Params) (*backend.Result, error) {
	id := p.String("volume_id")
	vol, err := b.describeVolume(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(vol.Attachments) > 0 {
		return nil, fmt.Errorf("volume %s attached, detach first", id)
	}
	if _, err := b.ec2.DeleteVolume(ctx, &ec2.DeleteVolumeInput{VolumeId: aws.String(id)}); err != nil {
		return nil, err
	}
	return &backend.Result{Output: map[string]any{"volume_id": id, "deleted": true}}, nil
}

func instanceSummary(inst ec2types.Instance) map[string]any {
	tags := tagMap(inst.Tags)
	out := map[string]any{
		"instance_id":   aws.ToString(inst.InstanceId),
		"instance_type": string(inst.InstanceType),
		"name":          tags[backend.TagName],
	}
	if inst.State != nil {
		out["state"] = string(inst.State.Name)
	}
	if inst.Placement != nil {
		out["availability_zone"] = aws.ToString(inst.Placement.AvailabilityZone)
	}
	if inst.LaunchTime != nil {
		out["launch_time"] = inst.LaunchTime.UTC().Format(time.RFC3339)
	}
	return out
}

func stateChangeResult(changes []ec2types.InstanceStateChange) (*backend.Result, error) {
	if len(changes) == 0 {
		return nil, errors.New("no instance state change reported")
	}
	c := changes[0]
	out := map[string]any{"instance_id": aws.ToString(c.InstanceId)}
	var current string
	if c.PreviousState != nil {
		out["previous_state"] = string(c.PreviousState.Name)
	}
	if c.CurrentState != nil {
		current = string(c.CurrentState.Name)
		out["current_state"] = current
	}
	return &backend.Result{State: current, Output: out}, nil
}

func isDryRunSuccess(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "DryRunOperation"
}

// isNotFound reports EC2's malformed and unknown ID errors.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "InvalidInstanceID.NotFound", "InvalidInstanceID.Malformed",
		"InvalidVolume.NotFound", "InvalidVolumeID.Malformed":
		return true
	}
	return false
}

func tag(key, value string) ec2types.Tag {
	return ec2types.Tag{Key: aws.String(key), Value: aws.String(value)}
}

func tagMap(tags []ec2types.Tag) map[string]string {
	out := make(map[string]string, len(tags))
	for _, t := range tags {
		out[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return out
}

func callerOrDefault(ctx context.Context) string {
	if c := security.CallerFromContext(ctx); c != "" {
		return c
	}
	return "unknown"
}

var _ backend.Backend = (*Backend)(nil)
