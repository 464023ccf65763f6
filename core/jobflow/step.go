package jobflow

import (
	"sort"

	"github.com/rslifka/elasticity-sub000/core/canonical"
)

// StepKind identifies a step variant. Installation is tracked per kind.
type StepKind string

const (
	KindCustomJar   StepKind = "custom_jar"
	KindHive        StepKind = "hive"
	KindPig         StepKind = "pig"
	KindStreaming   StepKind = "streaming"
	KindScalding    StepKind = "scalding"
	KindS3DistCp    StepKind = "s3distcp"
	KindHadoopDebug StepKind = "setup_hadoop_debugging"
	KindSpark       StepKind = "spark"
)

// Values accepted for a step's ActionOnFailure
const (
	TerminateJobFlow = "TERMINATE_JOB_FLOW"
	CancelAndWait    = "CANCEL_AND_WAIT"
	Continue         = "CONTINUE"
)

const (
	scriptRunnerJar  = "s3://elasticmapreduce/libs/script-runner/script-runner.jar"
	commandRunnerJar = "command-runner.jar"
)

// Step is one unit of work in a job flow
type Step interface {
	// Kind groups steps that share a one-time installation
	Kind() StepKind
	// AWSStep renders the step descriptor in the context of jf
	AWSStep(jf *JobFlow) canonical.Params
	// RequiresInstallation reports whether InstallationSteps must run first
	RequiresInstallation() bool
	// InstallationSteps are emitted once per job flow before the first step of this kind
	InstallationSteps() []canonical.Params
}

// noInstallation is embedded by steps that need no setup
type noInstallation struct{}

// RequiresInstallation implements Step
func (noInstallation) RequiresInstallation() bool { return false }

// InstallationSteps implements Step
func (noInstallation) InstallationSteps() []canonical.Params { return nil }

func actionOrDefault(action string) string {
	if action == "" {
		return TerminateJobFlow
	}
	return action
}

func stepDescriptor(name, action string, jarStep canonical.Params) canonical.Params {
	return canonical.Params{
		"name":              name,
		"action_on_failure": actionOrDefault(action),
		"hadoop_jar_step":   jarStep,
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CustomJarStep runs an arbitrary jar
type CustomJarStep struct {
	noInstallation
	Name            string
	Jar             string
	Arguments       []string
	ActionOnFailure string
}

// NewCustomJarStep creates a step running jar
func NewCustomJarStep(jar string, args ...string) *CustomJarStep {
	return &CustomJarStep{
		Name:            "Elasticity Custom Jar Step",
		Jar:             jar,
		Arguments:       args,
		ActionOnFailure: TerminateJobFlow,
	}
}

// Kind implements Step
func (s *CustomJarStep) Kind() StepKind { return KindCustomJar }

// AWSStep renders the jar, main class and arguments as given
func (s *CustomJarStep) AWSStep(*JobFlow) canonical.Params {
	jarStep := canonical.Params{"jar": s.Jar}
	if len(s.Arguments) > 0 {
		jarStep["args"] = append([]string(nil), s.Arguments...)
	}
	return stepDescriptor(s.Name, s.ActionOnFailure, jarStep)
}

// SetupHadoopDebuggingStep enables the debugging console. JobFlow inserts it
// first when debugging is enabled.
type SetupHadoopDebuggingStep struct {
	noInstallation
	Name            string
	ActionOnFailure string
}

// NewSetupHadoopDebuggingStep creates the debugging setup step
func NewSetupHadoopDebuggingStep() *SetupHadoopDebuggingStep {
	return &SetupHadoopDebuggingStep{
		Name:            "Elasticity Setup Hadoop Debugging",
		ActionOnFailure: TerminateJobFlow,
	}
}

// Kind implements Step
func (s *SetupHadoopDebuggingStep) Kind() StepKind { return KindHadoopDebug }

// AWSStep runs the debugging state pusher
func (s *SetupHadoopDebuggingStep) AWSStep(*JobFlow) canonical.Params {
	return stepDescriptor(s.Name, s.ActionOnFailure, canonical.Params{
		"jar":  scriptRunnerJar,
		"args": []string{"s3://elasticmapreduce/libs/state-pusher/0.1/fetch"},
	})
}
