package jobflow

import (
	"github.com/rslifka/elasticity-sub000/core/canonical"
)

const (
	configureHadoopScript = "s3n://elasticmapreduce/bootstrap-actions/configure-hadoop"
	installGangliaScript  = "s3://elasticmapreduce/bootstrap-actions/install-ganglia"
	mapredConfigFileFlag  = "--mapred-config-file"
)

// BootstrapAction is a script run on every node before Hadoop starts
type BootstrapAction struct {
	Name      string
	Script    string
	Arguments []string
}

// NewBootstrapAction creates an action running script with args
func NewBootstrapAction(script string, args ...string) *BootstrapAction {
	return &BootstrapAction{
		Name:      "Elasticity Bootstrap Action",
		Script:    script,
		Arguments: args,
	}
}

// NewHadoopBootstrapAction configures a single Hadoop setting, for example
// NewHadoopBootstrapAction("-m", "mapred.map.tasks=101").
func NewHadoopBootstrapAction(option, value string) *BootstrapAction {
	return &BootstrapAction{
		Name:      "Elasticity Bootstrap Action (Configure Hadoop)",
		Script:    configureHadoopScript,
		Arguments: []string{option, value},
	}
}

// NewHadoopFileBootstrapAction configures Hadoop from an XML file in S3
func NewHadoopFileBootstrapAction(configFile string) *BootstrapAction {
	return &BootstrapAction{
		Name:      "Elasticity Bootstrap Action (Configure Hadoop via File)",
		Script:    configureHadoopScript,
		Arguments: []string{mapredConfigFileFlag, configFile},
	}
}

// NewGangliaBootstrapAction installs Ganglia monitoring
func NewGangliaBootstrapAction() *BootstrapAction {
	return &BootstrapAction{
		Name:   "Elasticity Bootstrap Action (Install Ganglia)",
		Script: installGangliaScript,
	}
}

// Option is the first argument, the option flag of a Hadoop action
func (b *BootstrapAction) Option() string {
	if len(b.Arguments) < 1 {
		return ""
	}
	return b.Arguments[0]
}

// Value is the second argument, the setting of a Hadoop action
func (b *BootstrapAction) Value() string {
	if len(b.Arguments) < 2 {
		return ""
	}
	return b.Arguments[1]
}

// AWSBootstrapAction renders the bootstrap action descriptor
func (b *BootstrapAction) AWSBootstrapAction() canonical.Params {
	script := canonical.Params{"path": b.Script}
	if len(b.Arguments) > 0 {
		script["args"] = append([]string(nil), b.Arguments...)
	}
	return canonical.Params{
		"name":                    b.Name,
		"script_bootstrap_action": script,
	}
}

// Application is a release-label application such as Hive or Spark
type Application struct {
	Name           string            `yaml:"name"`
	Arguments      []string          `yaml:"args"`
	Version        string            `yaml:"version"`
	AdditionalInfo map[string]string `yaml:"additional_info"`
}

// AWSApplication renders the application descriptor; empty fields are omitted
func (a *Application) AWSApplication() canonical.Params {
	app := canonical.Params{}
	if a.Name != "" {
		app["name"] = a.Name
	}
	if len(a.Arguments) > 0 {
		app["args"] = append([]string(nil), a.Arguments...)
	}
	if a.Version != "" {
		app["version"] = a.Version
	}
	if len(a.AdditionalInfo) > 0 {
		info := make(canonical.Verbatim, len(a.AdditionalInfo))
		for k, v := range a.AdditionalInfo {
			info[k] = v
		}
		app["additional_info"] = info
	}
	return app
}
