package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// ClusterState is the lifecycle state reported by the control plane
type ClusterState string

const (
	ClusterStarting      ClusterState = "STARTING"
	ClusterBootstrapping ClusterState = "BOOTSTRAPPING"
	ClusterRunning       ClusterState = "RUNNING"
	ClusterWaiting       ClusterState = "WAITING"
	ClusterTerminating   ClusterState = "TERMINATING"
	ClusterTerminated    ClusterState = "TERMINATED"
	ClusterTerminatedErr ClusterState = "TERMINATED_WITH_ERRORS"
)

// EpochTime decodes the fractional epoch seconds used in API timelines
type EpochTime struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler
func (e *EpochTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("failed to parse epoch time %s: %w", data, err)
	}
	whole, frac := math.Modf(secs)
	e.Time = time.Unix(int64(whole), int64(frac*1e9)).UTC()
	return nil
}

// StateChangeReason explains the most recent state transition
type StateChangeReason struct {
	Code    string `json:"Code"`
	Message string `json:"Message"`
}

// Timeline holds the lifecycle timestamps of a cluster or step
type Timeline struct {
	CreationDateTime EpochTime `json:"CreationDateTime"`
	ReadyDateTime    EpochTime `json:"ReadyDateTime"`
	StartDateTime    EpochTime `json:"StartDateTime"`
	EndDateTime      EpochTime `json:"EndDateTime"`
}

type statusJSON struct {
	State             string            `json:"State"`
	StateChangeReason StateChangeReason `json:"StateChangeReason"`
	Timeline          Timeline          `json:"Timeline"`
}

type clusterJSON struct {
	ID                      string     `json:"Id"`
	Name                    string     `json:"Name"`
	Status                  statusJSON `json:"Status"`
	MasterPublicDNSName     string     `json:"MasterPublicDnsName"`
	NormalizedInstanceHours int        `json:"NormalizedInstanceHours"`
	ReleaseLabel            string     `json:"ReleaseLabel"`
	AutoTerminate           bool       `json:"AutoTerminate"`
	TerminationProtected    bool       `json:"TerminationProtected"`
	LogURI                  string     `json:"LogUri"`
	Tags                    []struct {
		Key   string `json:"Key"`
		Value string `json:"Value"`
	} `json:"Tags"`
}

// ClusterStatus is a point-in-time view of a running job flow
type ClusterStatus struct {
	ClusterID               string
	Name                    string
	State                   ClusterState
	CreatedAt               time.Time
	ReadyAt                 time.Time
	EndedAt                 time.Time
	LastStateChangeReason   string
	LastStateChangeMessage  string
	MasterPublicDNSName     string
	NormalizedInstanceHours int
	ReleaseLabel            string
	AutoTerminate           bool
	TerminationProtected    bool
	LogURI                  string
	Tags                    map[string]string
}

// Active reports whether the cluster is still changing or accepting work.
// See the EMR cluster lifecycle: STARTING, BOOTSTRAPPING, RUNNING and
// WAITING are active, everything else is on its way out.
func (c *ClusterStatus) Active() bool {
	switch c.State {
	case ClusterStarting, ClusterBootstrapping, ClusterRunning, ClusterWaiting:
		return true
	}
	return false
}

// Duration returns how long the cluster ran, or zero if it has not ended
func (c *ClusterStatus) Duration() time.Duration {
	if c.CreatedAt.IsZero() || c.EndedAt.IsZero() {
		return 0
	}
	return c.EndedAt.Sub(c.CreatedAt)
}

// ParseClusterStatus decodes a DescribeCluster response body
func ParseClusterStatus(body []byte) (*ClusterStatus, error) {
	var resp struct {
		Cluster *clusterJSON `json:"Cluster"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse cluster description: %w", err)
	}
	if resp.Cluster == nil {
		return nil, fmt.Errorf("cluster description missing from response")
	}
	return resp.Cluster.toStatus(), nil
}

func (c *clusterJSON) toStatus() *ClusterStatus {
	status := &ClusterStatus{
		ClusterID:               c.ID,
		Name:                    c.Name,
		State:                   ClusterState(c.Status.State),
		CreatedAt:               c.Status.Timeline.CreationDateTime.Time,
		ReadyAt:                 c.Status.Timeline.ReadyDateTime.Time,
		EndedAt:                 c.Status.Timeline.EndDateTime.Time,
		LastStateChangeReason:   c.Status.StateChangeReason.Code,
		LastStateChangeMessage:  c.Status.StateChangeReason.Message,
		MasterPublicDNSName:     c.MasterPublicDNSName,
		NormalizedInstanceHours: c.NormalizedInstanceHours,
		ReleaseLabel:            c.ReleaseLabel,
		AutoTerminate:           c.AutoTerminate,
		TerminationProtected:    c.TerminationProtected,
		LogURI:                  c.LogURI,
	}
	if len(c.Tags) > 0 {
		status.Tags = make(map[string]string, len(c.Tags))
		for _, tag := range c.Tags {
			status.Tags[tag.Key] = tag.Value
		}
	}
	return status
}

// ClusterSummary is one entry of a ListClusters page
type ClusterSummary struct {
	ClusterID               string
	Name                    string
	State                   ClusterState
	CreatedAt               time.Time
	EndedAt                 time.Time
	NormalizedInstanceHours int
}

// ParseClusterList decodes a ListClusters page and its continuation marker
func ParseClusterList(body []byte) ([]ClusterSummary, string, error) {
	var resp struct {
		Clusters []clusterJSON `json:"Clusters"`
		Marker   string        `json:"Marker"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", fmt.Errorf("failed to parse cluster list: %w", err)
	}
	summaries := make([]ClusterSummary, 0, len(resp.Clusters))
	for _, c := range resp.Clusters {
		summaries = append(summaries, ClusterSummary{
			ClusterID:               c.ID,
			Name:                    c.Name,
			State:                   ClusterState(c.Status.State),
			CreatedAt:               c.Status.Timeline.CreationDateTime.Time,
			EndedAt:                 c.Status.Timeline.EndDateTime.Time,
			NormalizedInstanceHours: c.NormalizedInstanceHours,
		})
	}
	return summaries, resp.Marker, nil
}
