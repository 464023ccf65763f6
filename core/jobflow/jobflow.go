// Package jobflow builds job flow descriptions and compiles them into the
// parameter tree the control plane expects. A JobFlow is not safe for
// concurrent use; each one owns its own Tracker.
package jobflow

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/rslifka/elasticity-sub000/core/canonical"
	"github.com/rslifka/elasticity-sub000/core/models"
	"github.com/rslifka/elasticity-sub000/core/monitoring"
	"github.com/rslifka/elasticity-sub000/providers/emr"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultName is the name of a new job flow
	DefaultName = "Elasticity Job Flow"
	// DefaultAMIVersion asks for the newest AMI when no release label is set
	DefaultAMIVersion = "latest"
	// DefaultPlacement is the availability zone of a new job flow
	DefaultPlacement = "us-east-1a"
)

var regionPattern = regexp.MustCompile(`\w+-\w+-\d+`)

// API is the control plane surface a JobFlow drives. *emr.Client implements it.
type API interface {
	RunJobFlow(ctx context.Context, config canonical.Params) (string, error)
	AddJobFlowSteps(ctx context.Context, jobFlowID string, steps []canonical.Params) ([]string, error)
	AddInstanceGroups(ctx context.Context, jobFlowID string, groups []canonical.Params) ([]string, error)
	DescribeCluster(ctx context.Context, clusterID string) (*models.ClusterStatus, error)
	ListSteps(ctx context.Context, clusterID string) ([]models.StepStatus, error)
	TerminateJobFlows(ctx context.Context, jobFlowIDs ...string) error
}

// State is the local lifecycle state of a JobFlow
type State int

const (
	StateNew State = iota
	StateRunning
	StateTerminated
)

// String returns the upper-case state name
func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateRunning:
		return "RUNNING"
	case StateTerminated:
		return "TERMINATED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// JobFlow describes a cluster and the steps to run on it. Plain attributes
// are fields; attributes with invariants are set through methods.
type JobFlow struct {
	Name                           string
	LogURI                         string
	EC2KeyName                     string
	JobFlowRole                    string
	ServiceRole                    string
	SecurityConfiguration          string
	AMIVersion                     string
	ReleaseLabel                   string
	AdditionalInfo                 string
	KeepJobFlowAliveWhenNoSteps    bool
	VisibleToAllUsers              bool
	Tags                           map[string]string
	AdditionalMasterSecurityGroups []string
	AdditionalSlaveSecurityGroups  []string

	placement       string
	region          string
	ec2SubnetID     string
	enableDebugging bool

	master *InstanceGroup
	core   *InstanceGroup
	task   *InstanceGroup

	steps            []Step
	bootstrapActions []*BootstrapAction
	applications     []*Application

	api       API
	jobFlowID string
	state     State
	tracker   *Tracker
	logger    logrus.FieldLogger
}

// Option configures a JobFlow
type Option func(*JobFlow)

// WithLogger routes job flow logging to logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(jf *JobFlow) { jf.logger = logger }
}

// New creates a job flow with default attributes. api may be nil when the
// job flow is only compiled, never run.
func New(api API, opts ...Option) *JobFlow {
	master := NewInstanceGroup()
	master.SetRole(RoleMaster)

	jf := &JobFlow{
		Name:       DefaultName,
		AMIVersion: DefaultAMIVersion,
		placement:  DefaultPlacement,
		region:     regionPattern.FindString(DefaultPlacement),
		master:     master,
		core:       NewInstanceGroup(),
		api:        api,
		state:      StateNew,
		tracker:    NewTracker(),
	}
	for _, opt := range opts {
		opt(jf)
	}
	if jf.logger == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		jf.logger = logger
	}
	return jf
}

// FromJobFlowID binds to an already running job flow. The installation
// tracker is rebuilt from the installation steps the cluster has run.
func FromJobFlowID(ctx context.Context, api API, jobFlowID string, opts ...Option) (*JobFlow, error) {
	if api == nil {
		return nil, ErrNoAPI
	}
	jf := New(api, opts...)
	jf.jobFlowID = jobFlowID
	jf.state = StateRunning

	statuses, err := jf.ClusterStepStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps of %s: %w", jobFlowID, err)
	}
	jf.tracker = NewTracker(InstalledKinds(statuses)...)
	return jf, nil
}

// JobFlowID returns the remote identifier, empty before Run
func (jf *JobFlow) JobFlowID() string {
	return jf.jobFlowID
}

// State returns the local lifecycle state
func (jf *JobFlow) State() State {
	return jf.state
}

// Tracker returns the installation tracker
func (jf *JobFlow) Tracker() *Tracker {
	return jf.tracker
}

// Placement returns the availability zone, empty when a subnet is set
func (jf *JobFlow) Placement() string {
	return jf.placement
}

// SetPlacement sets the availability zone and clears any subnet
func (jf *JobFlow) SetPlacement(placement string) error {
	region := regionPattern.FindString(placement)
	if region == "" {
		return validationError("placement %q does not name a region", placement)
	}
	jf.placement = placement
	jf.region = region
	jf.ec2SubnetID = ""
	return nil
}

// Region is the region derived from the last placement
func (jf *JobFlow) Region() string {
	return jf.region
}

// EC2SubnetID returns the subnet, empty when a placement is set
func (jf *JobFlow) EC2SubnetID() string {
	return jf.ec2SubnetID
}

// SetEC2SubnetID launches into a VPC subnet and clears the placement
func (jf *JobFlow) SetEC2SubnetID(subnetID string) {
	jf.ec2SubnetID = subnetID
	jf.placement = ""
}

// DebuggingEnabled reports whether the debugging step will be inserted
func (jf *JobFlow) DebuggingEnabled() bool {
	return jf.enableDebugging
}

// SetDebugging toggles the debugging step. Enabling requires LogURI.
func (jf *JobFlow) SetDebugging(enabled bool) error {
	if enabled && jf.LogURI == "" {
		return validationError("to enable debugging, please set a log URI")
	}
	jf.enableDebugging = enabled
	return nil
}

// InstanceCount is the master plus the core instances
func (jf *JobFlow) InstanceCount() int {
	return jf.master.Count() + jf.core.Count()
}

// SetInstanceCount sizes the core group to count-1
func (jf *JobFlow) SetInstanceCount(count int) error {
	if count < 2 {
		return validationError("instance count cannot be set to less than 2 (requested %d)", count)
	}
	return jf.core.SetCount(count - 1)
}

// MasterInstanceType returns the master group machine type
func (jf *JobFlow) MasterInstanceType() string {
	return jf.master.Type()
}

// SetMasterInstanceType changes the master group machine type
func (jf *JobFlow) SetMasterInstanceType(instanceType string) {
	jf.master.SetType(instanceType)
}

// SlaveInstanceType returns the core group machine type
func (jf *JobFlow) SlaveInstanceType() string {
	return jf.core.Type()
}

// SetSlaveInstanceType changes the core group machine type
func (jf *JobFlow) SetSlaveInstanceType(instanceType string) {
	jf.core.SetType(instanceType)
}

// SetMasterInstanceGroup replaces the master group
func (jf *JobFlow) SetMasterInstanceGroup(group *InstanceGroup) error {
	if err := jf.requireNew("replace the master instance group"); err != nil {
		return err
	}
	if err := group.SetRole(RoleMaster); err != nil {
		return err
	}
	jf.master = group
	return nil
}

// SetCoreInstanceGroup replaces the core group
func (jf *JobFlow) SetCoreInstanceGroup(group *InstanceGroup) error {
	if err := jf.requireNew("replace the core instance group"); err != nil {
		return err
	}
	if err := group.SetRole(RoleCore); err != nil {
		return err
	}
	jf.core = group
	return nil
}

// SetTaskInstanceGroup sets the task group. On a running job flow the
// group is added remotely right away.
func (jf *JobFlow) SetTaskInstanceGroup(ctx context.Context, group *InstanceGroup) error {
	if err := group.SetRole(RoleTask); err != nil {
		return err
	}
	switch jf.state {
	case StateTerminated:
		return ErrJobFlowTerminated
	case StateRunning:
		_, err := jf.api.AddInstanceGroups(ctx, jf.jobFlowID, []canonical.Params{group.AWSInstanceConfig()})
		if err != nil {
			return fmt.Errorf("failed to add task instance group: %w", err)
		}
		return nil
	}
	jf.task = group
	return nil
}

// InstanceGroups returns the configured groups: master, core, then task
func (jf *JobFlow) InstanceGroups() []*InstanceGroup {
	groups := []*InstanceGroup{jf.master, jf.core}
	if jf.task != nil {
		groups = append(groups, jf.task)
	}
	return groups
}

// Steps returns the locally accumulated steps in submission order
func (jf *JobFlow) Steps() []Step {
	return append([]Step(nil), jf.steps...)
}

// BootstrapActions returns the configured bootstrap actions
func (jf *JobFlow) BootstrapActions() []*BootstrapAction {
	return append([]*BootstrapAction(nil), jf.bootstrapActions...)
}

// Applications returns the configured applications
func (jf *JobFlow) Applications() []*Application {
	return append([]*Application(nil), jf.applications...)
}

// AddStep queues step before Run. On a running job flow the step is sent
// right away, preceded by its installation steps if its kind is new.
func (jf *JobFlow) AddStep(ctx context.Context, step Step) error {
	switch jf.state {
	case StateNew:
		jf.steps = append(jf.steps, step)
		return nil
	case StateTerminated:
		return ErrJobFlowTerminated
	}

	tracker := jf.tracker.Clone()
	descriptors := tracker.Expand(jf, []Step{step})
	ids, err := jf.api.AddJobFlowSteps(ctx, jf.jobFlowID, descriptors)
	if err != nil {
		return fmt.Errorf("failed to add step to %s: %w", jf.jobFlowID, err)
	}
	jf.tracker = tracker

	jf.logger.WithFields(logrus.Fields{
		"job_flow_id": jf.jobFlowID,
		"step_ids":    ids,
	}).Debug("added step to running job flow")
	return nil
}

// AddBootstrapAction queues a bootstrap action. Only valid before Run.
func (jf *JobFlow) AddBootstrapAction(action *BootstrapAction) error {
	if err := jf.requireNew("add bootstrap actions"); err != nil {
		return err
	}
	jf.bootstrapActions = append(jf.bootstrapActions, action)
	return nil
}

// AddApplication queues an application. Only valid before Run.
func (jf *JobFlow) AddApplication(app *Application) error {
	if err := jf.requireNew("add applications"); err != nil {
		return err
	}
	jf.applications = append(jf.applications, app)
	return nil
}

func (jf *JobFlow) requireNew(action string) error {
	switch jf.state {
	case StateRunning:
		return fmt.Errorf("%w: to %s, please create a new job flow", ErrJobFlowRunning, action)
	case StateTerminated:
		return ErrJobFlowTerminated
	}
	return nil
}

func (jf *JobFlow) requireStarted() error {
	if jf.state == StateNew {
		return ErrJobFlowNotStarted
	}
	if jf.api == nil {
		return ErrNoAPI
	}
	return nil
}

// Compile renders the RunJobFlow parameter tree. It does not modify the
// job flow; installation bookkeeping happens on a copy of the tracker.
func (jf *JobFlow) Compile() (canonical.Params, error) {
	config, _, err := jf.compile()
	return config, err
}

func (jf *JobFlow) compile() (canonical.Params, *Tracker, error) {
	if len(jf.applications) > 0 && jf.ReleaseLabel == "" {
		return nil, nil, validationError("applications require a release label")
	}
	if jf.enableDebugging && jf.LogURI == "" {
		return nil, nil, validationError("to enable debugging, please set a log URI")
	}

	config := canonical.Params{
		"name":                 jf.Name,
		"visible_to_all_users": jf.VisibleToAllUsers,
		"instances":            jf.instancesConfig(),
	}

	if jf.ReleaseLabel != "" {
		config["release_label"] = jf.ReleaseLabel
	} else {
		ami := jf.AMIVersion
		if ami == "" {
			ami = DefaultAMIVersion
		}
		config["ami_version"] = ami
	}

	var steps []Step
	if jf.enableDebugging {
		steps = append(steps, NewSetupHadoopDebuggingStep())
	}
	steps = append(steps, jf.steps...)

	tracker := jf.tracker.Clone()
	if descriptors := tracker.Expand(jf, steps); len(descriptors) > 0 {
		config["steps"] = descriptors
	}

	if jf.LogURI != "" {
		config["log_uri"] = jf.LogURI
	}
	if len(jf.Tags) > 0 {
		config["tags"] = emr.TagList(jf.Tags)
	}
	if jf.JobFlowRole != "" {
		config["job_flow_role"] = jf.JobFlowRole
	}
	if jf.ServiceRole != "" {
		config["service_role"] = jf.ServiceRole
	}
	if jf.SecurityConfiguration != "" {
		config["security_configuration"] = jf.SecurityConfiguration
	}
	if jf.AdditionalInfo != "" {
		config["additional_info"] = jf.AdditionalInfo
	}
	if len(jf.bootstrapActions) > 0 {
		actions := make([]canonical.Params, 0, len(jf.bootstrapActions))
		for _, action := range jf.bootstrapActions {
			actions = append(actions, action.AWSBootstrapAction())
		}
		config["bootstrap_actions"] = actions
	}
	if len(jf.applications) > 0 {
		apps := make([]canonical.Params, 0, len(jf.applications))
		for _, app := range jf.applications {
			apps = append(apps, app.AWSApplication())
		}
		config["applications"] = apps
	}

	return config, tracker, nil
}

func (jf *JobFlow) instancesConfig() canonical.Params {
	instances := canonical.Params{
		"keep_job_flow_alive_when_no_steps": jf.KeepJobFlowAliveWhenNoSteps,
	}

	groups := make([]canonical.Params, 0, 3)
	for _, group := range jf.InstanceGroups() {
		groups = append(groups, group.AWSInstanceConfig())
	}
	instances["instance_groups"] = groups

	if jf.EC2KeyName != "" {
		instances["ec2_key_name"] = jf.EC2KeyName
	}
	if jf.ec2SubnetID != "" {
		instances["ec2_subnet_id"] = jf.ec2SubnetID
	}
	if jf.placement != "" {
		instances["placement"] = canonical.Params{"availability_zone": jf.placement}
	}
	if len(jf.AdditionalMasterSecurityGroups) > 0 {
		instances["additional_master_security_groups"] = append([]string(nil), jf.AdditionalMasterSecurityGroups...)
	}
	if len(jf.AdditionalSlaveSecurityGroups) > 0 {
		instances["additional_slave_security_groups"] = append([]string(nil), jf.AdditionalSlaveSecurityGroups...)
	}
	return instances
}

// Run submits the job flow and returns its remote identifier. A job flow
// runs at most once; afterwards use AddStep to do more work.
func (jf *JobFlow) Run(ctx context.Context) (string, error) {
	switch jf.state {
	case StateRunning:
		return "", fmt.Errorf("%w: cannot run a job flow multiple times, use AddStep to do more with it", ErrJobFlowRunning)
	case StateTerminated:
		return "", ErrJobFlowTerminated
	}
	if jf.api == nil {
		return "", ErrNoAPI
	}

	config, tracker, err := jf.compile()
	if err != nil {
		return "", err
	}

	id, err := jf.api.RunJobFlow(ctx, config)
	if err != nil {
		return "", fmt.Errorf("failed to run job flow: %w", err)
	}

	jf.jobFlowID = id
	jf.state = StateRunning
	jf.tracker = tracker

	jf.logger.WithFields(logrus.Fields{
		"job_flow_id": id,
		"name":        jf.Name,
		"steps":       len(jf.steps),
	}).Info("job flow started")
	return id, nil
}

// Shutdown terminates the remote job flow. It is final.
func (jf *JobFlow) Shutdown(ctx context.Context) error {
	if jf.state == StateTerminated {
		return ErrJobFlowTerminated
	}
	if err := jf.requireStarted(); err != nil {
		return err
	}
	if err := jf.api.TerminateJobFlows(ctx, jf.jobFlowID); err != nil {
		return fmt.Errorf("failed to terminate %s: %w", jf.jobFlowID, err)
	}
	jf.state = StateTerminated
	return nil
}

// ClusterStatus fetches the current remote status
func (jf *JobFlow) ClusterStatus(ctx context.Context) (*models.ClusterStatus, error) {
	if err := jf.requireStarted(); err != nil {
		return nil, err
	}
	return jf.api.DescribeCluster(ctx, jf.jobFlowID)
}

// ClusterStepStatus fetches the status of every remote step
func (jf *JobFlow) ClusterStepStatus(ctx context.Context) ([]models.StepStatus, error) {
	if err := jf.requireStarted(); err != nil {
		return nil, err
	}
	return jf.api.ListSteps(ctx, jf.jobFlowID)
}

// WaitForCompletion polls the cluster every interval until it is no
// longer active, calling onWait (which may be nil) between polls.
func (jf *JobFlow) WaitForCompletion(ctx context.Context, interval time.Duration, onWait func(elapsed time.Duration, status *models.ClusterStatus) error) (*models.ClusterStatus, error) {
	if err := jf.requireStarted(); err != nil {
		return nil, err
	}

	check := func(ctx context.Context) (bool, *models.ClusterStatus, error) {
		status, err := jf.ClusterStatus(ctx)
		if err != nil {
			return false, nil, err
		}
		return status.Active(), status, nil
	}
	return monitoring.NewLooper[*models.ClusterStatus](check, onWait, interval).Go(ctx)
}
