package jobflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rslifka/elasticity-sub000/core/canonical"
	"github.com/rslifka/elasticity-sub000/core/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	runConfigs  []canonical.Params
	runErr      error
	addedSteps  [][]canonical.Params
	addErr      error
	addedGroups [][]canonical.Params
	statuses    []*models.ClusterStatus
	describes   int
	steps       []models.StepStatus
	terminated  []string
}

func (f *fakeAPI) RunJobFlow(_ context.Context, config canonical.Params) (string, error) {
	f.runConfigs = append(f.runConfigs, config)
	if f.runErr != nil {
		return "", f.runErr
	}
	return "j-3T0PHNUXCY7SX", nil
}

func (f *fakeAPI) AddJobFlowSteps(_ context.Context, _ string, steps []canonical.Params) ([]string, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.addedSteps = append(f.addedSteps, steps)
	return []string{"s-1"}, nil
}

func (f *fakeAPI) AddInstanceGroups(_ context.Context, _ string, groups []canonical.Params) ([]string, error) {
	f.addedGroups = append(f.addedGroups, groups)
	return []string{"ig-1"}, nil
}

func (f *fakeAPI) DescribeCluster(_ context.Context, id string) (*models.ClusterStatus, error) {
	status := f.statuses[f.describes]
	if f.describes < len(f.statuses)-1 {
		f.describes++
	}
	return status, nil
}

func (f *fakeAPI) ListSteps(context.Context, string) ([]models.StepStatus, error) {
	return f.steps, nil
}

func (f *fakeAPI) TerminateJobFlows(_ context.Context, ids ...string) error {
	f.terminated = append(f.terminated, ids...)
	return nil
}

func stepNames(t *testing.T, config canonical.Params) []string {
	t.Helper()
	steps, ok := config["steps"].([]canonical.Params)
	require.True(t, ok, "steps missing from config")
	names := make([]string, 0, len(steps))
	for _, s := range steps {
		names = append(names, s["name"].(string))
	}
	return names
}

func TestJobFlow_CompileDefaults(t *testing.T) {
	config, err := New(nil).Compile()
	require.NoError(t, err)

	assert.Equal(t, canonical.Params{
		"name":                 "Elasticity Job Flow",
		"visible_to_all_users": false,
		"ami_version":          "latest",
		"instances": canonical.Params{
			"keep_job_flow_alive_when_no_steps": false,
			"instance_groups": []canonical.Params{
				{"market": "ON_DEMAND", "instance_count": 1, "instance_type": "m1.small", "instance_role": "MASTER"},
				{"market": "ON_DEMAND", "instance_count": 1, "instance_type": "m1.small", "instance_role": "CORE"},
			},
			"placement": canonical.Params{"availability_zone": "us-east-1a"},
		},
	}, config)
}

func TestJobFlow_CompileOptionalFields(t *testing.T) {
	jf := New(nil)
	jf.Name = "nightly"
	jf.LogURI = "s3://bucket/logs"
	jf.EC2KeyName = "deploy"
	jf.JobFlowRole = "EMR_EC2_DefaultRole"
	jf.ServiceRole = "EMR_DefaultRole"
	jf.SecurityConfiguration = "kerberos"
	jf.AdditionalInfo = `{"x":"y"}`
	jf.KeepJobFlowAliveWhenNoSteps = true
	jf.VisibleToAllUsers = true
	jf.Tags = map[string]string{"team": "data", "env": "prod"}
	jf.AdditionalMasterSecurityGroups = []string{"sg-1"}
	jf.AdditionalSlaveSecurityGroups = []string{"sg-2"}
	require.NoError(t, jf.AddBootstrapAction(NewGangliaBootstrapAction()))

	config, err := jf.Compile()
	require.NoError(t, err)

	assert.Equal(t, "nightly", config["name"])
	assert.Equal(t, "s3://bucket/logs", config["log_uri"])
	assert.Equal(t, "EMR_EC2_DefaultRole", config["job_flow_role"])
	assert.Equal(t, "EMR_DefaultRole", config["service_role"])
	assert.Equal(t, "kerberos", config["security_configuration"])
	assert.Equal(t, `{"x":"y"}`, config["additional_info"])
	assert.Equal(t, true, config["visible_to_all_users"])
	assert.Equal(t, []canonical.Params{
		{"key": "env", "value": "prod"},
		{"key": "team", "value": "data"},
	}, config["tags"])
	assert.Equal(t, []canonical.Params{{
		"name":                    "Elasticity Bootstrap Action (Install Ganglia)",
		"script_bootstrap_action": canonical.Params{"path": "s3://elasticmapreduce/bootstrap-actions/install-ganglia"},
	}}, config["bootstrap_actions"])

	instances := config["instances"].(canonical.Params)
	assert.Equal(t, true, instances["keep_job_flow_alive_when_no_steps"])
	assert.Equal(t, "deploy", instances["ec2_key_name"])
	assert.Equal(t, []string{"sg-1"}, instances["additional_master_security_groups"])
	assert.Equal(t, []string{"sg-2"}, instances["additional_slave_security_groups"])

	assert.NotContains(t, config, "steps")
	assert.NotContains(t, config, "applications")
}

func TestJobFlow_OmitsUnsetOptionalFields(t *testing.T) {
	config, err := New(nil).Compile()
	require.NoError(t, err)

	for _, key := range []string{"steps", "log_uri", "tags", "job_flow_role", "service_role", "additional_info", "bootstrap_actions", "applications", "security_configuration", "release_label"} {
		assert.NotContains(t, config, key)
	}
	instances := config["instances"].(canonical.Params)
	assert.NotContains(t, instances, "ec2_key_name")
	assert.NotContains(t, instances, "ec2_subnet_id")
}

func TestJobFlow_InstanceCount(t *testing.T) {
	for _, n := range []int{2, 3, 10} {
		jf := New(nil)
		require.NoError(t, jf.SetInstanceCount(n))
		assert.Equal(t, n, jf.InstanceCount())
		assert.Equal(t, n-1, jf.InstanceGroups()[1].Count())
	}

	for _, n := range []int{1, 0, -3} {
		jf := New(nil)
		err := jf.SetInstanceCount(n)
		assert.ErrorIs(t, err, ErrValidation)
		assert.Equal(t, 2, jf.InstanceCount())
	}
}

func TestJobFlow_InstanceTypes(t *testing.T) {
	jf := New(nil)
	jf.SetMasterInstanceType("m1.large")
	jf.SetSlaveInstanceType("c1.xlarge")

	assert.Equal(t, "m1.large", jf.MasterInstanceType())
	assert.Equal(t, "c1.xlarge", jf.SlaveInstanceType())
}

func TestJobFlow_InstanceGroupsOrderedByRole(t *testing.T) {
	jf := New(nil)
	task := NewInstanceGroup()
	require.NoError(t, task.SetCount(4))
	require.NoError(t, task.SetSpotInstances(0.25))
	require.NoError(t, jf.SetTaskInstanceGroup(context.Background(), task))

	core := NewInstanceGroup()
	core.SetType("m1.xlarge")
	require.NoError(t, core.SetCount(3))
	require.NoError(t, jf.SetCoreInstanceGroup(core))

	config, err := jf.Compile()
	require.NoError(t, err)

	groups := config["instances"].(canonical.Params)["instance_groups"].([]canonical.Params)
	require.Len(t, groups, 3)
	assert.Equal(t, "MASTER", groups[0]["instance_role"])
	assert.Equal(t, "CORE", groups[1]["instance_role"])
	assert.Equal(t, 3, groups[1]["instance_count"])
	assert.Equal(t, canonical.Params{
		"market":         "SPOT",
		"bid_price":      "0.25",
		"instance_count": 4,
		"instance_type":  "m1.small",
		"instance_role":  "TASK",
	}, groups[2])
	assert.Equal(t, 4, jf.InstanceCount())
}

func TestJobFlow_PlacementAndSubnet(t *testing.T) {
	jf := New(nil)
	assert.Equal(t, "us-east-1", jf.Region())

	require.NoError(t, jf.SetPlacement("eu-west-1b"))
	assert.Equal(t, "eu-west-1", jf.Region())

	jf.SetEC2SubnetID("subnet-123")
	assert.Empty(t, jf.Placement())
	config, err := jf.Compile()
	require.NoError(t, err)
	instances := config["instances"].(canonical.Params)
	assert.Equal(t, "subnet-123", instances["ec2_subnet_id"])
	assert.NotContains(t, instances, "placement")

	require.NoError(t, jf.SetPlacement("us-west-2a"))
	assert.Empty(t, jf.EC2SubnetID())
	config, err = jf.Compile()
	require.NoError(t, err)
	instances = config["instances"].(canonical.Params)
	assert.Equal(t, canonical.Params{"availability_zone": "us-west-2a"}, instances["placement"])
	assert.NotContains(t, instances, "ec2_subnet_id")

	err = jf.SetPlacement("nowhere")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "us-west-2a", jf.Placement())
}

func TestJobFlow_Debugging(t *testing.T) {
	jf := New(nil)
	assert.ErrorIs(t, jf.SetDebugging(true), ErrValidation)
	assert.False(t, jf.DebuggingEnabled())

	jf.LogURI = "s3://bucket/logs"
	require.NoError(t, jf.SetDebugging(true))
	require.NoError(t, jf.AddStep(context.Background(), NewHiveStep("s3://bucket/a.q")))

	config, err := jf.Compile()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Elasticity Setup Hadoop Debugging",
		"Elasticity - Install Hive",
		"Elasticity Hive Step (s3://bucket/a.q)",
	}, stepNames(t, config))
}

func TestJobFlow_InstallationOnce(t *testing.T) {
	jf := New(nil)
	ctx := context.Background()
	for _, step := range []Step{
		NewCustomJarStep("s3://bucket/first.jar"),
		NewHiveStep("s3://bucket/1.q"),
		NewPigStep("s3://bucket/1.pig"),
		NewHiveStep("s3://bucket/2.q"),
		NewCustomJarStep("s3://bucket/job.jar"),
		NewPigStep("s3://bucket/2.pig"),
	} {
		require.NoError(t, jf.AddStep(ctx, step))
	}

	config, err := jf.Compile()
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Elasticity Custom Jar Step",
		"Elasticity - Install Hive",
		"Elasticity Hive Step (s3://bucket/1.q)",
		"Elasticity - Install Pig",
		"Elasticity Pig Step (s3://bucket/1.pig)",
		"Elasticity Hive Step (s3://bucket/2.q)",
		"Elasticity Custom Jar Step",
		"Elasticity Pig Step (s3://bucket/2.pig)",
	}, stepNames(t, config))
}

func TestJobFlow_CompileDoesNotMutate(t *testing.T) {
	jf := New(nil)
	require.NoError(t, jf.AddStep(context.Background(), NewHiveStep("s3://bucket/a.q")))

	first, err := jf.Compile()
	require.NoError(t, err)
	second, err := jf.Compile()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Empty(t, jf.Tracker().Kinds())
	assert.Len(t, jf.Steps(), 1)
}

func TestJobFlow_Applications(t *testing.T) {
	t.Run("require a release label", func(t *testing.T) {
		jf := New(nil)
		require.NoError(t, jf.AddApplication(&Application{Name: "Spark"}))

		_, err := jf.Compile()
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("release label replaces the AMI version", func(t *testing.T) {
		jf := New(nil)
		jf.ReleaseLabel = "emr-4.2.0"
		require.NoError(t, jf.AddApplication(&Application{Name: "Spark"}))
		require.NoError(t, jf.AddApplication(&Application{Name: "Hive", Arguments: []string{"-x"}}))

		config, err := jf.Compile()
		require.NoError(t, err)

		assert.Equal(t, "emr-4.2.0", config["release_label"])
		assert.NotContains(t, config, "ami_version")
		assert.Equal(t, []canonical.Params{
			{"name": "Spark"},
			{"name": "Hive", "args": []string{"-x"}},
		}, config["applications"])
	})

	t.Run("release label without applications", func(t *testing.T) {
		jf := New(nil)
		jf.ReleaseLabel = "emr-4.2.0"

		config, err := jf.Compile()
		require.NoError(t, err)
		assert.Equal(t, "emr-4.2.0", config["release_label"])
		assert.NotContains(t, config, "ami_version")
	})

	t.Run("explicit AMI version", func(t *testing.T) {
		jf := New(nil)
		jf.AMIVersion = "3.8.0"

		config, err := jf.Compile()
		require.NoError(t, err)
		assert.Equal(t, "3.8.0", config["ami_version"])
	})
}

func TestJobFlow_Run(t *testing.T) {
	api := &fakeAPI{}
	jf := New(api)
	require.NoError(t, jf.AddStep(context.Background(), NewHiveStep("s3://bucket/a.q")))

	id, err := jf.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "j-3T0PHNUXCY7SX", id)
	assert.Equal(t, id, jf.JobFlowID())
	assert.Equal(t, StateRunning, jf.State())
	assert.True(t, jf.Tracker().Installed(KindHive))
	require.Len(t, api.runConfigs, 1)
	assert.Len(t, api.runConfigs[0]["steps"], 2)
}

func TestJobFlow_RunFailureLeavesJobFlowNew(t *testing.T) {
	boom := errors.New("boom")
	jf := New(&fakeAPI{runErr: boom})
	require.NoError(t, jf.AddStep(context.Background(), NewPigStep("s3://bucket/a.pig")))

	_, err := jf.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateNew, jf.State())
	assert.False(t, jf.Tracker().Installed(KindPig))
}

func TestJobFlow_Preconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("not started", func(t *testing.T) {
		jf := New(&fakeAPI{})
		_, err := jf.ClusterStatus(ctx)
		assert.ErrorIs(t, err, ErrJobFlowNotStarted)
		_, err = jf.ClusterStepStatus(ctx)
		assert.ErrorIs(t, err, ErrJobFlowNotStarted)
		assert.ErrorIs(t, jf.Shutdown(ctx), ErrJobFlowNotStarted)
		_, err = jf.WaitForCompletion(ctx, time.Millisecond, nil)
		assert.ErrorIs(t, err, ErrJobFlowNotStarted)
	})

	t.Run("no client", func(t *testing.T) {
		_, err := New(nil).Run(ctx)
		assert.ErrorIs(t, err, ErrNoAPI)
	})

	t.Run("running", func(t *testing.T) {
		jf := New(&fakeAPI{})
		_, err := jf.Run(ctx)
		require.NoError(t, err)

		_, err = jf.Run(ctx)
		assert.ErrorIs(t, err, ErrJobFlowRunning)
		assert.ErrorIs(t, jf.AddBootstrapAction(NewGangliaBootstrapAction()), ErrJobFlowRunning)
		assert.ErrorIs(t, jf.AddApplication(&Application{Name: "Spark"}), ErrJobFlowRunning)
		assert.ErrorIs(t, jf.SetCoreInstanceGroup(NewInstanceGroup()), ErrJobFlowRunning)
		assert.ErrorIs(t, jf.SetMasterInstanceGroup(NewInstanceGroup()), ErrJobFlowRunning)
	})

	t.Run("terminated", func(t *testing.T) {
		api := &fakeAPI{}
		jf := New(api)
		_, err := jf.Run(ctx)
		require.NoError(t, err)
		require.NoError(t, jf.Shutdown(ctx))

		assert.Equal(t, []string{"j-3T0PHNUXCY7SX"}, api.terminated)
		assert.Equal(t, StateTerminated, jf.State())
		assert.ErrorIs(t, jf.Shutdown(ctx), ErrJobFlowTerminated)
		assert.ErrorIs(t, jf.AddStep(ctx, NewCustomJarStep("x.jar")), ErrJobFlowTerminated)
		_, err = jf.Run(ctx)
		assert.ErrorIs(t, err, ErrJobFlowTerminated)
	})
}

func TestJobFlow_AddStepWhileRunning(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{}
	jf := New(api)
	_, err := jf.Run(ctx)
	require.NoError(t, err)

	require.NoError(t, jf.AddStep(ctx, NewPigStep("s3://bucket/1.pig")))
	require.NoError(t, jf.AddStep(ctx, NewPigStep("s3://bucket/2.pig")))

	require.Len(t, api.addedSteps, 2)
	require.Len(t, api.addedSteps[0], 2)
	assert.Equal(t, "Elasticity - Install Pig", api.addedSteps[0][0]["name"])
	assert.Equal(t, "Elasticity Pig Step (s3://bucket/1.pig)", api.addedSteps[0][1]["name"])
	require.Len(t, api.addedSteps[1], 1)
	assert.Equal(t, "Elasticity Pig Step (s3://bucket/2.pig)", api.addedSteps[1][0]["name"])
	assert.Empty(t, jf.Steps())
}

func TestJobFlow_AddStepFailureKeepsTracker(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{}
	jf := New(api)
	_, err := jf.Run(ctx)
	require.NoError(t, err)

	api.addErr = errors.New("throttled")
	assert.Error(t, jf.AddStep(ctx, NewHiveStep("s3://bucket/a.q")))
	assert.False(t, jf.Tracker().Installed(KindHive))
}

func TestJobFlow_SetTaskInstanceGroupWhileRunning(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{}
	jf := New(api)
	_, err := jf.Run(ctx)
	require.NoError(t, err)

	require.NoError(t, jf.SetTaskInstanceGroup(ctx, NewInstanceGroup()))

	require.Len(t, api.addedGroups, 1)
	assert.Equal(t, "TASK", api.addedGroups[0][0]["instance_role"])
	assert.Len(t, jf.InstanceGroups(), 2)
}

func TestFromJobFlowID(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{steps: []models.StepStatus{
		{Name: "Elasticity Hive Step (s3://bucket/a.q)"},
		{Name: "Elasticity - Install Hive"},
		{Name: "Elasticity Custom Jar Step"},
	}}

	jf, err := FromJobFlowID(ctx, api, "j-1")
	require.NoError(t, err)

	assert.Equal(t, "j-1", jf.JobFlowID())
	assert.Equal(t, StateRunning, jf.State())
	assert.Equal(t, []StepKind{KindHive}, jf.Tracker().Kinds())

	require.NoError(t, jf.AddStep(ctx, NewHiveStep("s3://bucket/b.q")))
	require.Len(t, api.addedSteps[0], 1)

	_, err = FromJobFlowID(ctx, nil, "j-1")
	assert.ErrorIs(t, err, ErrNoAPI)
}

func TestJobFlow_WaitForCompletion(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{statuses: []*models.ClusterStatus{
		{ClusterID: "j-3T0PHNUXCY7SX", State: models.ClusterStarting},
		{ClusterID: "j-3T0PHNUXCY7SX", State: models.ClusterRunning},
		{ClusterID: "j-3T0PHNUXCY7SX", State: models.ClusterTerminated},
	}}
	jf := New(api)
	_, err := jf.Run(ctx)
	require.NoError(t, err)

	var seen []models.ClusterState
	final, err := jf.WaitForCompletion(ctx, time.Millisecond, func(_ time.Duration, status *models.ClusterStatus) error {
		seen = append(seen, status.State)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, models.ClusterTerminated, final.State)
	assert.Equal(t, []models.ClusterState{models.ClusterStarting, models.ClusterRunning}, seen)
}

func TestInstalledKinds(t *testing.T) {
	kinds := InstalledKinds([]models.StepStatus{
		{Name: "Elasticity - Install Pig"},
		{Name: "Elasticity - Install Hive"},
		{Name: "Elasticity - Install Pig"},
		{Name: "something else"},
	})

	assert.Equal(t, []StepKind{KindPig, KindHive}, kinds)
}

func TestTracker(t *testing.T) {
	tracker := NewTracker(KindHive)
	clone := tracker.Clone()
	clone.MarkInstalled(KindPig)

	assert.True(t, tracker.Installed(KindHive))
	assert.False(t, tracker.Installed(KindPig))
	assert.Equal(t, []StepKind{KindHive, KindPig}, clone.Kinds())
}
