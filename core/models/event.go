package models

import "time"

// JobFlowEvent represents a state transition observed for a job flow
type JobFlowEvent struct {
	ID        int64
	RecordID  string
	At        time.Time
	FromState *ClusterState
	ToState   ClusterState
	Reason    string
	MetaJSON  map[string]interface{} // Additional metadata
}
