package models

import "time"

// JobFlowRecord is the locally persisted history of a submitted job flow
type JobFlowRecord struct {
	ID               string
	JobFlowID        string
	Name             string
	Region           string
	ReleaseLabel     string
	AMIVersion       string
	InstanceCount    int
	MasterType       string
	SlaveType        string
	State            ClusterState
	DefinitionYAML   string // Source definition for replay/debug
	CostEstimatedUSD *float64
	CreatedAt        time.Time
	EndedAt          *time.Time
	UpdatedAt        time.Time
}

// Finished reports whether the recorded job flow has left the active states
func (r *JobFlowRecord) Finished() bool {
	status := ClusterStatus{State: r.State}
	return r.State != "" && !status.Active()
}
