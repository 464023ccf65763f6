package jobflow

import (
	"fmt"

	"github.com/rslifka/elasticity-sub000/core/canonical"
)

const (
	streamingJar      = "/home/hadoop/contrib/streaming/hadoop-streaming.jar"
	legacyS3DistCpJar = "/home/hadoop/lib/emr-s3distcp-1.0.jar"
)

// StreamingStep runs a Hadoop streaming job
type StreamingStep struct {
	noInstallation
	Name            string
	Input           string
	Output          string
	Mapper          string
	Reducer         string
	Arguments       []string
	ActionOnFailure string
}

// NewStreamingStep creates a streaming step
func NewStreamingStep(input, output, mapper, reducer string, args ...string) *StreamingStep {
	return &StreamingStep{
		Name:            fmt.Sprintf("Elasticity Streaming Step (%s)", mapper),
		Input:           input,
		Output:          output,
		Mapper:          mapper,
		Reducer:         reducer,
		Arguments:       args,
		ActionOnFailure: TerminateJobFlow,
	}
}

// Kind implements Step
func (s *StreamingStep) Kind() StepKind { return KindStreaming }

// AWSStep renders a hadoop-streaming jar invocation
func (s *StreamingStep) AWSStep(*JobFlow) canonical.Params {
	args := []string{"-input", s.Input, "-output", s.Output, "-mapper", s.Mapper, "-reducer", s.Reducer}
	args = append(args, s.Arguments...)
	return stepDescriptor(s.Name, s.ActionOnFailure, canonical.Params{
		"jar":  streamingJar,
		"args": args,
	})
}

// ScaldingStep runs a Scalding job from a fat jar
type ScaldingStep struct {
	noInstallation
	Name            string
	Jar             string
	MainClass       string
	Arguments       map[string]string
	ActionOnFailure string
}

// NewScaldingStep creates a Scalding step
func NewScaldingStep(jar, mainClass string, args map[string]string) *ScaldingStep {
	if args == nil {
		args = map[string]string{}
	}
	return &ScaldingStep{
		Name:            "Elasticity Scalding Step",
		Jar:             jar,
		MainClass:       mainClass,
		Arguments:       args,
		ActionOnFailure: TerminateJobFlow,
	}
}

// Kind implements Step
func (s *ScaldingStep) Kind() StepKind { return KindScalding }

// AWSStep runs the job jar with its main class and --hdfs arguments
func (s *ScaldingStep) AWSStep(*JobFlow) canonical.Params {
	args := []string{s.MainClass, "--hdfs"}
	for _, k := range sortedKeys(s.Arguments) {
		args = append(args, "--"+k, s.Arguments[k])
	}
	return stepDescriptor(s.Name, s.ActionOnFailure, canonical.Params{
		"jar":  s.Jar,
		"args": args,
	})
}

// S3DistCpStep copies data between S3 and HDFS. Its argument list is the
// only copy of the options and holds "--flag", "value" pairs; Option and
// SetOption read and edit it in place.
type S3DistCpStep struct {
	noInstallation
	Name            string
	Arguments       []string
	ActionOnFailure string
	// Legacy runs the pre-4.x s3distcp jar instead of command-runner
	Legacy bool
}

// NewS3DistCpStep creates a copy step from "name", "value" option pairs,
// for example NewS3DistCpStep("src", "s3://a/", "dest", "hdfs:///b/").
func NewS3DistCpStep(options ...string) *S3DistCpStep {
	s := &S3DistCpStep{
		Name:            "Elasticity S3DistCp Step",
		ActionOnFailure: TerminateJobFlow,
	}
	for i := 0; i+1 < len(options); i += 2 {
		s.SetOption(options[i], options[i+1])
	}
	return s
}

// Option returns the value following --name, if present
func (s *S3DistCpStep) Option(name string) (string, bool) {
	flag := "--" + name
	for i := 0; i+1 < len(s.Arguments); i += 2 {
		if s.Arguments[i] == flag {
			return s.Arguments[i+1], true
		}
	}
	return "", false
}

// SetOption replaces the value following --name or appends the pair
func (s *S3DistCpStep) SetOption(name, value string) {
	flag := "--" + name
	for i := 0; i+1 < len(s.Arguments); i += 2 {
		if s.Arguments[i] == flag {
			s.Arguments[i+1] = value
			return
		}
	}
	s.Arguments = append(s.Arguments, flag, value)
}

// Kind implements Step
func (s *S3DistCpStep) Kind() StepKind { return KindS3DistCp }

// AWSStep runs the S3DistCp jar with the option list
func (s *S3DistCpStep) AWSStep(*JobFlow) canonical.Params {
	jar := commandRunnerJar
	args := append([]string{"s3-dist-cp"}, s.Arguments...)
	if s.Legacy {
		jar = legacyS3DistCpJar
		args = append([]string(nil), s.Arguments...)
	}
	return stepDescriptor(s.Name, s.ActionOnFailure, canonical.Params{
		"jar":  jar,
		"args": args,
	})
}

// SparkStep submits a Spark application through command-runner
type SparkStep struct {
	noInstallation
	Name            string
	Jar             string
	MainClass       string
	SparkArguments  map[string]string
	AppArguments    map[string]string
	ActionOnFailure string
}

// NewSparkStep creates a Spark step
func NewSparkStep(jar, mainClass string) *SparkStep {
	return &SparkStep{
		Name:            "Elasticity Spark Step",
		Jar:             jar,
		MainClass:       mainClass,
		SparkArguments:  map[string]string{},
		AppArguments:    map[string]string{},
		ActionOnFailure: TerminateJobFlow,
	}
}

// Kind implements Step
func (s *SparkStep) Kind() StepKind { return KindSpark }

// AWSStep wraps spark-submit in command-runner
func (s *SparkStep) AWSStep(*JobFlow) canonical.Params {
	args := []string{"spark-submit", "--class", s.MainClass}
	for _, k := range sortedKeys(s.SparkArguments) {
		args = append(args, "--"+k, s.SparkArguments[k])
	}
	args = append(args, s.Jar)
	for _, k := range sortedKeys(s.AppArguments) {
		args = append(args, "--"+k, s.AppArguments[k])
	}
	return stepDescriptor(s.Name, s.ActionOnFailure, canonical.Params{
		"jar":  commandRunnerJar,
		"args": args,
	})
}
