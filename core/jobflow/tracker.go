package jobflow

import (
	"sort"

	"github.com/rslifka/elasticity-sub000/core/canonical"
	"github.com/rslifka/elasticity-sub000/core/models"
)

// Tracker remembers which step kinds have had their one-time installation
// emitted for one job flow. It is not safe for concurrent use.
type Tracker struct {
	installed map[StepKind]bool
}

// NewTracker returns a tracker with nothing installed
func NewTracker(kinds ...StepKind) *Tracker {
	t := &Tracker{installed: make(map[StepKind]bool)}
	for _, k := range kinds {
		t.MarkInstalled(k)
	}
	return t
}

// Installed reports whether kind has been installed
func (t *Tracker) Installed(kind StepKind) bool {
	return t.installed[kind]
}

// MarkInstalled records kind as installed
func (t *Tracker) MarkInstalled(kind StepKind) {
	t.installed[kind] = true
}

// Kinds lists the installed kinds in sorted order
func (t *Tracker) Kinds() []StepKind {
	kinds := make([]StepKind, 0, len(t.installed))
	for k := range t.installed {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Clone returns an independent copy
func (t *Tracker) Clone() *Tracker {
	return NewTracker(t.Kinds()...)
}

// Expand renders steps in order, inserting each kind's installation steps
// immediately before its first step not yet installed, and marks those
// kinds installed.
func (t *Tracker) Expand(jf *JobFlow, steps []Step) []canonical.Params {
	var out []canonical.Params
	for _, step := range steps {
		if step.RequiresInstallation() && !t.Installed(step.Kind()) {
			out = append(out, step.InstallationSteps()...)
			t.MarkInstalled(step.Kind())
		}
		out = append(out, step.AWSStep(jf))
	}
	return out
}

var installationStepKinds = map[string]StepKind{
	InstallHiveStepName: KindHive,
	InstallPigStepName:  KindPig,
}

// InstalledKinds maps the installation steps found in a cluster's step
// list back to the kinds they installed.
func InstalledKinds(statuses []models.StepStatus) []StepKind {
	seen := make(map[StepKind]bool)
	var kinds []StepKind
	for _, status := range statuses {
		kind, ok := installationStepKinds[status.Name]
		if !ok || seen[kind] {
			continue
		}
		seen[kind] = true
		kinds = append(kinds, kind)
	}
	return kinds
}
