package jobflow

import (
	"fmt"
	"math"

	"github.com/rslifka/elasticity-sub000/core/canonical"
)

const (
	hiveScript   = "s3://elasticmapreduce/libs/hive/hive-script"
	hiveBasePath = "s3://elasticmapreduce/libs/hive/"
	pigScript    = "s3://elasticmapreduce/libs/pig/pig-script"
	pigBasePath  = "s3://elasticmapreduce/libs/pig/"

	// DefaultHiveVersion lets the cluster pick its newest Hive
	DefaultHiveVersion = "latest"

	// Names of the one-time installation steps. They are also used to
	// rebuild a Tracker from a running cluster's step list.
	InstallHiveStepName = "Elasticity - Install Hive"
	InstallPigStepName  = "Elasticity - Install Pig"
)

// HiveStep runs a Hive script through the script runner
type HiveStep struct {
	Name            string
	Script          string
	Variables       map[string]string
	ActionOnFailure string
	HiveVersion     string
}

// NewHiveStep creates a step running script
func NewHiveStep(script string) *HiveStep {
	return &HiveStep{
		Name:            fmt.Sprintf("Elasticity Hive Step (%s)", script),
		Script:          script,
		Variables:       map[string]string{},
		ActionOnFailure: TerminateJobFlow,
		HiveVersion:     DefaultHiveVersion,
	}
}

func (s *HiveStep) version() string {
	if s.HiveVersion == "" {
		return DefaultHiveVersion
	}
	return s.HiveVersion
}

// Kind implements Step
func (s *HiveStep) Kind() StepKind { return KindHive }

// AWSStep runs the script through the hive script runner
func (s *HiveStep) AWSStep(*JobFlow) canonical.Params {
	args := []string{
		hiveScript,
		"--base-path", hiveBasePath,
		"--hive-versions", s.version(),
		"--run-hive-script",
		"--args",
		"-f", s.Script,
	}
	for _, name := range sortedKeys(s.Variables) {
		args = append(args, "-d", name+"="+s.Variables[name])
	}
	return stepDescriptor(s.Name, s.ActionOnFailure, canonical.Params{
		"jar":  scriptRunnerJar,
		"args": args,
	})
}

// RequiresInstallation implements Step
func (s *HiveStep) RequiresInstallation() bool { return true }

// InstallationSteps implements Step
func (s *HiveStep) InstallationSteps() []canonical.Params {
	return []canonical.Params{
		stepDescriptor(InstallHiveStepName, TerminateJobFlow, canonical.Params{
			"jar": scriptRunnerJar,
			"args": []string{
				hiveScript,
				"--base-path", hiveBasePath,
				"--install-hive",
				"--hive-versions", s.version(),
			},
		}),
	}
}

// ReduceSlots maps machine types to the reduce slots each instance offers.
// Types missing from the table count as FallbackReduceSlots.
type ReduceSlots map[string]int

// FallbackReduceSlots is used for machine types missing from a ReduceSlots table
const FallbackReduceSlots = 1

// DefaultReduceSlots covers the first-generation machine types
var DefaultReduceSlots = ReduceSlots{
	"m1.small":  1,
	"m1.large":  2,
	"m1.xlarge": 4,
	"c1.medium": 2,
	"c1.xlarge": 4,
}

// For returns the reduce slots of instanceType
func (r ReduceSlots) For(instanceType string) int {
	if slots, ok := r[instanceType]; ok {
		return slots
	}
	return FallbackReduceSlots
}

// PigStep runs a Pig script through the script runner
type PigStep struct {
	Name            string
	Script          string
	Variables       map[string]string
	ActionOnFailure string
	// ReduceSlots overrides DefaultReduceSlots for the parallelism estimate
	ReduceSlots ReduceSlots
}

// NewPigStep creates a step running script
func NewPigStep(script string) *PigStep {
	return &PigStep{
		Name:            fmt.Sprintf("Elasticity Pig Step (%s)", script),
		Script:          script,
		Variables:       map[string]string{},
		ActionOnFailure: TerminateJobFlow,
	}
}

// Parallels estimates E_PARALLELS: 1.75 reducers per reduce slot on every
// non-master instance.
func (s *PigStep) Parallels(slaveInstanceType string, instanceCount int) int {
	slots := s.ReduceSlots
	if slots == nil {
		slots = DefaultReduceSlots
	}
	return int(math.Ceil(float64(instanceCount-1) * float64(slots.For(slaveInstanceType)) * 1.75))
}

// Kind implements Step
func (s *PigStep) Kind() StepKind { return KindPig }

// AWSStep runs the script through the pig script runner with the parallelism for jf
func (s *PigStep) AWSStep(jf *JobFlow) canonical.Params {
	args := []string{pigScript, "--run-pig-script", "--args"}
	for _, name := range sortedKeys(s.Variables) {
		args = append(args, "-p", name+"="+s.Variables[name])
	}
	args = append(args, "-p", fmt.Sprintf("E_PARALLELS=%d", s.Parallels(jf.SlaveInstanceType(), jf.InstanceCount())))
	args = append(args, s.Script)

	return stepDescriptor(s.Name, s.ActionOnFailure, canonical.Params{
		"jar":  scriptRunnerJar,
		"args": args,
	})
}

// RequiresInstallation implements Step
func (s *PigStep) RequiresInstallation() bool { return true }

// InstallationSteps implements Step
func (s *PigStep) InstallationSteps() []canonical.Params {
	return []canonical.Params{
		stepDescriptor(InstallPigStepName, TerminateJobFlow, canonical.Params{
			"jar":  scriptRunnerJar,
			"args": []string{pigScript, "--base-path", pigBasePath, "--install-pig"},
		}),
	}
}
