package spec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rslifka/elasticity-sub000/core/jobflow"

	"gopkg.in/yaml.v3"
)

// JobFlowSpec is a job flow definition file
type JobFlowSpec struct {
	JobFlow JobFlowSpecBody `yaml:"job_flow"`
}

// JobFlowSpecBody holds the job flow attributes
type JobFlowSpecBody struct {
	Name                           string                `yaml:"name"`
	LogURI                         string                `yaml:"log_uri"`
	Placement                      string                `yaml:"placement"`
	SubnetID                       string                `yaml:"subnet_id"`
	ReleaseLabel                   string                `yaml:"release_label"`
	AMIVersion                     string                `yaml:"ami_version"`
	KeepAlive                      bool                  `yaml:"keep_alive"`
	VisibleToAllUsers              bool                  `yaml:"visible_to_all_users"`
	Debugging                      bool                  `yaml:"debugging"`
	EC2KeyName                     string                `yaml:"ec2_key_name"`
	JobFlowRole                    string                `yaml:"job_flow_role"`
	ServiceRole                    string                `yaml:"service_role"`
	SecurityConfiguration          string                `yaml:"security_configuration"`
	AdditionalInfo                 string                `yaml:"additional_info"`
	Tags                           map[string]string     `yaml:"tags"`
	AdditionalMasterSecurityGroups []string              `yaml:"additional_master_security_groups"`
	AdditionalSlaveSecurityGroups  []string              `yaml:"additional_slave_security_groups"`
	InstanceCount                  int                   `yaml:"instance_count"`
	MasterInstanceType             string                `yaml:"master_instance_type"`
	SlaveInstanceType              string                `yaml:"slave_instance_type"`
	InstanceGroups                 InstanceGroupsSpec    `yaml:"instance_groups"`
	BootstrapActions               []BootstrapActionSpec `yaml:"bootstrap_actions"`
	Applications                   []jobflow.Application `yaml:"applications"`
	Steps                          []StepSpec            `yaml:"steps"`
}

// InstanceGroupsSpec overrides the default instance groups by role
type InstanceGroupsSpec struct {
	Master *InstanceGroupSpec `yaml:"master"`
	Core   *InstanceGroupSpec `yaml:"core"`
	Task   *InstanceGroupSpec `yaml:"task"`
}

// InstanceGroupSpec describes one instance group
type InstanceGroupSpec struct {
	Type     string                    `yaml:"type"`
	Count    int                       `yaml:"count"`
	Market   string                    `yaml:"market"` // ON_DEMAND (default) | SPOT
	BidPrice float64                   `yaml:"bid_price"`
	EBS      *jobflow.EBSConfiguration `yaml:"ebs"`
}

// BootstrapActionSpec is a script bootstrap action, or one of the built-in
// Hadoop configuration and Ganglia actions
type BootstrapActionSpec struct {
	Name       string   `yaml:"name"`
	Script     string   `yaml:"script"`
	Args       []string `yaml:"args"`
	Hadoop     []string `yaml:"hadoop"`      // [option, value]
	HadoopFile string   `yaml:"hadoop_file"` // mapred config file
	Ganglia    bool     `yaml:"ganglia"`
}

// StepSpec describes one step; Type selects the variant
type StepSpec struct {
	Type            string            `yaml:"type"` // custom_jar | hive | pig | streaming | scalding | s3distcp | spark
	Name            string            `yaml:"name"`
	ActionOnFailure string            `yaml:"action_on_failure"`
	Script          string            `yaml:"script"`
	Variables       map[string]string `yaml:"variables"`
	HiveVersion     string            `yaml:"hive_version"`
	Jar             string            `yaml:"jar"`
	MainClass       string            `yaml:"main_class"`
	Args            []string          `yaml:"args"`
	Arguments       map[string]string `yaml:"arguments"`
	Input           string            `yaml:"input"`
	Output          string            `yaml:"output"`
	Mapper          string            `yaml:"mapper"`
	Reducer         string            `yaml:"reducer"`
	SparkArgs       map[string]string `yaml:"spark_args"`
	AppArgs         map[string]string `yaml:"app_args"`
	Legacy          bool              `yaml:"legacy"`
}

// ParseJobFlowSpec parses a YAML job flow definition. Unknown keys are errors.
func ParseJobFlowSpec(specYAML []byte) (*JobFlowSpec, error) {
	var spec JobFlowSpec
	decoder := yaml.NewDecoder(bytes.NewReader(specYAML))
	decoder.KnownFields(true)
	if err := decoder.Decode(&spec); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &spec, nil
}

// ParseJobFlowFile reads and parses a definition file
func ParseJobFlowFile(path string) (*JobFlowSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ParseJobFlowSpec(data)
}

// Build creates a job flow from the definition, bound to api
func (s *JobFlowSpec) Build(api jobflow.API, opts ...jobflow.Option) (*jobflow.JobFlow, error) {
	body := s.JobFlow
	jf := jobflow.New(api, opts...)

	if body.Name != "" {
		jf.Name = body.Name
	}
	if body.AMIVersion != "" {
		jf.AMIVersion = body.AMIVersion
	}
	jf.LogURI = body.LogURI
	jf.ReleaseLabel = body.ReleaseLabel
	jf.KeepJobFlowAliveWhenNoSteps = body.KeepAlive
	jf.VisibleToAllUsers = body.VisibleToAllUsers
	jf.EC2KeyName = body.EC2KeyName
	jf.JobFlowRole = body.JobFlowRole
	jf.ServiceRole = body.ServiceRole
	jf.SecurityConfiguration = body.SecurityConfiguration
	jf.AdditionalInfo = body.AdditionalInfo
	jf.Tags = body.Tags
	jf.AdditionalMasterSecurityGroups = body.AdditionalMasterSecurityGroups
	jf.AdditionalSlaveSecurityGroups = body.AdditionalSlaveSecurityGroups

	if body.Placement != "" && body.SubnetID != "" {
		return nil, fmt.Errorf("placement and subnet_id are mutually exclusive")
	}
	if body.Placement != "" {
		if err := jf.SetPlacement(body.Placement); err != nil {
			return nil, err
		}
	}
	if body.SubnetID != "" {
		jf.SetEC2SubnetID(body.SubnetID)
	}

	if body.MasterInstanceType != "" {
		jf.SetMasterInstanceType(body.MasterInstanceType)
	}
	if body.SlaveInstanceType != "" {
		jf.SetSlaveInstanceType(body.SlaveInstanceType)
	}
	if body.InstanceCount != 0 {
		if err := jf.SetInstanceCount(body.InstanceCount); err != nil {
			return nil, err
		}
	}
	if err := applyInstanceGroups(jf, body.InstanceGroups); err != nil {
		return nil, err
	}

	if body.Debugging {
		if err := jf.SetDebugging(true); err != nil {
			return nil, err
		}
	}

	for i, ba := range body.BootstrapActions {
		action, err := ba.build()
		if err != nil {
			return nil, fmt.Errorf("bootstrap action %d: %w", i+1, err)
		}
		if err := jf.AddBootstrapAction(action); err != nil {
			return nil, err
		}
	}
	for i := range body.Applications {
		if err := jf.AddApplication(&body.Applications[i]); err != nil {
			return nil, err
		}
	}

	steps, err := s.BuildSteps()
	if err != nil {
		return nil, err
	}
	for _, step := range steps {
		// A new job flow only queues steps, so no request is made here.
		if err := jf.AddStep(context.Background(), step); err != nil {
			return nil, err
		}
	}

	return jf, nil
}

// BuildSteps creates the steps of the definition in order
func (s *JobFlowSpec) BuildSteps() ([]jobflow.Step, error) {
	steps := make([]jobflow.Step, 0, len(s.JobFlow.Steps))
	for i, st := range s.JobFlow.Steps {
		step, err := st.build()
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func applyInstanceGroups(jf *jobflow.JobFlow, groups InstanceGroupsSpec) error {
	if groups.Master != nil {
		g, err := groups.Master.build()
		if err != nil {
			return fmt.Errorf("master instance group: %w", err)
		}
		if err := jf.SetMasterInstanceGroup(g); err != nil {
			return err
		}
	}
	if groups.Core != nil {
		g, err := groups.Core.build()
		if err != nil {
			return fmt.Errorf("core instance group: %w", err)
		}
		if err := jf.SetCoreInstanceGroup(g); err != nil {
			return err
		}
	}
	if groups.Task != nil {
		g, err := groups.Task.build()
		if err != nil {
			return fmt.Errorf("task instance group: %w", err)
		}
		if err := jf.SetTaskInstanceGroup(context.Background(), g); err != nil {
			return err
		}
	}
	return nil
}

func (g *InstanceGroupSpec) build() (*jobflow.InstanceGroup, error) {
	group := jobflow.NewInstanceGroup()
	if g.Type != "" {
		group.SetType(g.Type)
	}
	if g.Count != 0 {
		if err := group.SetCount(g.Count); err != nil {
			return nil, err
		}
	}
	switch g.Market {
	case "", "ON_DEMAND":
	case "SPOT":
		if err := group.SetSpotInstances(g.BidPrice); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown market %q", g.Market)
	}
	if g.EBS != nil {
		group.SetEBSConfiguration(g.EBS)
	}
	return group, nil
}

func (b *BootstrapActionSpec) build() (*jobflow.BootstrapAction, error) {
	var action *jobflow.BootstrapAction
	switch {
	case len(b.Hadoop) > 0:
		if len(b.Hadoop) != 2 {
			return nil, fmt.Errorf("hadoop needs [option, value], got %d values", len(b.Hadoop))
		}
		action = jobflow.NewHadoopBootstrapAction(b.Hadoop[0], b.Hadoop[1])
	case b.HadoopFile != "":
		action = jobflow.NewHadoopFileBootstrapAction(b.HadoopFile)
	case b.Ganglia:
		action = jobflow.NewGangliaBootstrapAction()
	case b.Script != "":
		action = jobflow.NewBootstrapAction(b.Script, b.Args...)
	default:
		return nil, fmt.Errorf("script is required")
	}
	if b.Name != "" {
		action.Name = b.Name
	}
	return action, nil
}

func (st *StepSpec) build() (jobflow.Step, error) {
	var step jobflow.Step
	switch jobflow.StepKind(st.Type) {
	case jobflow.KindCustomJar:
		if st.Jar == "" {
			return nil, fmt.Errorf("custom_jar step requires jar")
		}
		s := jobflow.NewCustomJarStep(st.Jar, st.Args...)
		st.named(&s.Name, &s.ActionOnFailure)
		step = s
	case jobflow.KindHive:
		if st.Script == "" {
			return nil, fmt.Errorf("hive step requires script")
		}
		s := jobflow.NewHiveStep(st.Script)
		s.Variables = orEmpty(st.Variables)
		if st.HiveVersion != "" {
			s.HiveVersion = st.HiveVersion
		}
		st.named(&s.Name, &s.ActionOnFailure)
		step = s
	case jobflow.KindPig:
		if st.Script == "" {
			return nil, fmt.Errorf("pig step requires script")
		}
		s := jobflow.NewPigStep(st.Script)
		s.Variables = orEmpty(st.Variables)
		st.named(&s.Name, &s.ActionOnFailure)
		step = s
	case jobflow.KindStreaming:
		s := jobflow.NewStreamingStep(st.Input, st.Output, st.Mapper, st.Reducer, st.Args...)
		st.named(&s.Name, &s.ActionOnFailure)
		step = s
	case jobflow.KindScalding:
		s := jobflow.NewScaldingStep(st.Jar, st.MainClass, st.Arguments)
		st.named(&s.Name, &s.ActionOnFailure)
		step = s
	case jobflow.KindS3DistCp:
		if err := flagPairs(st.Args); err != nil {
			return nil, fmt.Errorf("s3distcp args: %w", err)
		}
		s := jobflow.NewS3DistCpStep()
		s.Arguments = append(s.Arguments, st.Args...)
		s.Legacy = st.Legacy
		st.named(&s.Name, &s.ActionOnFailure)
		step = s
	case jobflow.KindSpark:
		s := jobflow.NewSparkStep(st.Jar, st.MainClass)
		s.SparkArguments = orEmpty(st.SparkArgs)
		s.AppArguments = orEmpty(st.AppArgs)
		st.named(&s.Name, &s.ActionOnFailure)
		step = s
	default:
		return nil, fmt.Errorf("unknown step type %q", st.Type)
	}
	return step, nil
}

func (st *StepSpec) named(name, action *string) {
	if st.Name != "" {
		*name = st.Name
	}
	if st.ActionOnFailure != "" {
		*action = st.ActionOnFailure
	}
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// flagPairs checks that args alternate "--flag", "value"
func flagPairs(args []string) error {
	if len(args)%2 != 0 {
		return fmt.Errorf("expected --flag value pairs, got %d entries", len(args))
	}
	for i := 0; i < len(args); i += 2 {
		if !strings.HasPrefix(args[i], "--") {
			return fmt.Errorf("expected a --flag at position %d, got %q", i+1, args[i])
		}
	}
	return nil
}
