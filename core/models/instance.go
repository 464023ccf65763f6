package models

import (
	"encoding/json"
	"fmt"
)

// InstanceGroupStatus is one entry of a ListInstanceGroups page
type InstanceGroupStatus struct {
	InstanceGroupID        string
	Name                   string
	Market                 string
	Role                   string
	BidPrice               string
	InstanceType           string
	RequestedInstanceCount int
	RunningInstanceCount   int
	State                  string
}

// ParseInstanceGroupList decodes a ListInstanceGroups page
func ParseInstanceGroupList(body []byte) ([]InstanceGroupStatus, string, error) {
	var resp struct {
		InstanceGroups []struct {
			ID                     string `json:"Id"`
			Name                   string `json:"Name"`
			Market                 string `json:"Market"`
			InstanceGroupType      string `json:"InstanceGroupType"`
			BidPrice               string `json:"BidPrice"`
			InstanceType           string `json:"InstanceType"`
			RequestedInstanceCount int    `json:"RequestedInstanceCount"`
			RunningInstanceCount   int    `json:"RunningInstanceCount"`
			Status                 struct {
				State string `json:"State"`
			} `json:"Status"`
		} `json:"InstanceGroups"`
		Marker string `json:"Marker"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", fmt.Errorf("failed to parse instance group list: %w", err)
	}
	groups := make([]InstanceGroupStatus, 0, len(resp.InstanceGroups))
	for _, g := range resp.InstanceGroups {
		groups = append(groups, InstanceGroupStatus{
			InstanceGroupID:        g.ID,
			Name:                   g.Name,
			Market:                 g.Market,
			Role:                   g.InstanceGroupType,
			BidPrice:               g.BidPrice,
			InstanceType:           g.InstanceType,
			RequestedInstanceCount: g.RequestedInstanceCount,
			RunningInstanceCount:   g.RunningInstanceCount,
			State:                  g.Status.State,
		})
	}
	return groups, resp.Marker, nil
}

// BootstrapActionStatus is one entry of a ListBootstrapActions page
type BootstrapActionStatus struct {
	Name       string
	ScriptPath string
	Args       []string
}

// ParseBootstrapActionList decodes a ListBootstrapActions page
func ParseBootstrapActionList(body []byte) ([]BootstrapActionStatus, string, error) {
	var resp struct {
		BootstrapActions []struct {
			Name       string   `json:"Name"`
			ScriptPath string   `json:"ScriptPath"`
			Args       []string `json:"Args"`
		} `json:"BootstrapActions"`
		Marker string `json:"Marker"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", fmt.Errorf("failed to parse bootstrap action list: %w", err)
	}
	actions := make([]BootstrapActionStatus, 0, len(resp.BootstrapActions))
	for _, a := range resp.BootstrapActions {
		actions = append(actions, BootstrapActionStatus{Name: a.Name, ScriptPath: a.ScriptPath, Args: a.Args})
	}
	return actions, resp.Marker, nil
}
