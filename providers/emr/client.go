package emr

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rslifka/elasticity-sub000/core/canonical"
	"github.com/rslifka/elasticity-sub000/core/models"
)

// Submitter sends one logical request and returns the raw response body
type Submitter interface {
	Submit(ctx context.Context, params canonical.Params) ([]byte, error)
}

// Client exposes the control plane operations on top of a Submitter
type Client struct {
	submitter Submitter
}

// NewClient creates a new operations client. Sessions signed with
// SignatureV2 are rejected by every operation with ErrUnsupportedSignature;
// use Session.Submit directly for raw legacy requests.
func NewClient(submitter Submitter) *Client {
	return &Client{submitter: submitter}
}

type versioned interface {
	SignatureVersion() SignatureVersion
}

func (c *Client) submit(ctx context.Context, params canonical.Params) ([]byte, error) {
	if v, ok := c.submitter.(versioned); ok && v.SignatureVersion() == SignatureV2 {
		return nil, ErrUnsupportedSignature
	}
	return c.submitter.Submit(ctx, params)
}

func (c *Client) call(ctx context.Context, operation string, params canonical.Params, out any) error {
	req := canonical.Params{operationKey: operation}.Merge(params)
	body, err := c.submit(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", operation, err)
	}
	return nil
}

// RunJobFlow starts a cluster from a compiled job flow and returns its ID
func (c *Client) RunJobFlow(ctx context.Context, config canonical.Params) (string, error) {
	var resp struct {
		JobFlowID string `json:"JobFlowId"`
	}
	if err := c.call(ctx, "RunJobFlow", config, &resp); err != nil {
		return "", err
	}
	if resp.JobFlowID == "" {
		return "", fmt.Errorf("RunJobFlow response carried no job flow id")
	}
	return resp.JobFlowID, nil
}

// AddJobFlowSteps appends steps to a running job flow and returns their IDs
func (c *Client) AddJobFlowSteps(ctx context.Context, jobFlowID string, steps []canonical.Params) ([]string, error) {
	var resp struct {
		StepIDs []string `json:"StepIds"`
	}
	err := c.call(ctx, "AddJobFlowSteps", canonical.Params{
		"job_flow_id": jobFlowID,
		"steps":       steps,
	}, &resp)
	return resp.StepIDs, err
}

// DescribeCluster returns the current status of a cluster
func (c *Client) DescribeCluster(ctx context.Context, clusterID string) (*models.ClusterStatus, error) {
	body, err := c.submit(ctx, canonical.Params{operationKey: "DescribeCluster", "cluster_id": clusterID})
	if err != nil {
		return nil, err
	}
	return models.ParseClusterStatus(body)
}

// DescribeStep returns the status of one step
func (c *Client) DescribeStep(ctx context.Context, clusterID, stepID string) (*models.StepStatus, error) {
	body, err := c.submit(ctx, canonical.Params{
		operationKey: "DescribeStep",
		"cluster_id": clusterID,
		"step_id":    stepID,
	})
	if err != nil {
		return nil, err
	}
	return models.ParseStep(body)
}

// paginate follows Marker continuation until the last page
func (c *Client) paginate(ctx context.Context, params canonical.Params, page func(body []byte) (string, error)) error {
	marker := ""
	for {
		req := params
		if marker != "" {
			req = params.Merge(canonical.Params{"marker": marker})
		}
		body, err := c.submit(ctx, req)
		if err != nil {
			return err
		}
		next, err := page(body)
		if err != nil {
			return err
		}
		if next == "" {
			return nil
		}
		marker = next
	}
}

// ListSteps returns every step of a cluster, most recent first
func (c *Client) ListSteps(ctx context.Context, clusterID string) ([]models.StepStatus, error) {
	var steps []models.StepStatus
	err := c.paginate(ctx, canonical.Params{operationKey: "ListSteps", "cluster_id": clusterID}, func(body []byte) (string, error) {
		page, marker, err := models.ParseStepList(body)
		steps = append(steps, page...)
		return marker, err
	})
	return steps, err
}

// ListClustersInput filters ListClusters. Zero values are omitted.
type ListClustersInput struct {
	States        []string
	CreatedAfter  time.Time
	CreatedBefore time.Time
}

func (in ListClustersInput) params() canonical.Params {
	params := canonical.Params{operationKey: "ListClusters"}
	if len(in.States) > 0 {
		params["cluster_states"] = in.States
	}
	if !in.CreatedAfter.IsZero() {
		params["created_after"] = in.CreatedAfter.Unix()
	}
	if !in.CreatedBefore.IsZero() {
		params["created_before"] = in.CreatedBefore.Unix()
	}
	return params
}

// ListClusters returns every cluster matching in
func (c *Client) ListClusters(ctx context.Context, in ListClustersInput) ([]models.ClusterSummary, error) {
	var clusters []models.ClusterSummary
	err := c.paginate(ctx, in.params(), func(body []byte) (string, error) {
		page, marker, err := models.ParseClusterList(body)
		clusters = append(clusters, page...)
		return marker, err
	})
	return clusters, err
}

// ListInstanceGroups returns every instance group of a cluster
func (c *Client) ListInstanceGroups(ctx context.Context, clusterID string) ([]models.InstanceGroupStatus, error) {
	var groups []models.InstanceGroupStatus
	err := c.paginate(ctx, canonical.Params{operationKey: "ListInstanceGroups", "cluster_id": clusterID}, func(body []byte) (string, error) {
		page, marker, err := models.ParseInstanceGroupList(body)
		groups = append(groups, page...)
		return marker, err
	})
	return groups, err
}

// ListBootstrapActions returns every bootstrap action of a cluster
func (c *Client) ListBootstrapActions(ctx context.Context, clusterID string) ([]models.BootstrapActionStatus, error) {
	var actions []models.BootstrapActionStatus
	err := c.paginate(ctx, canonical.Params{operationKey: "ListBootstrapActions", "cluster_id": clusterID}, func(body []byte) (string, error) {
		page, marker, err := models.ParseBootstrapActionList(body)
		actions = append(actions, page...)
		return marker, err
	})
	return actions, err
}

// AddInstanceGroups adds instance groups to a running job flow
func (c *Client) AddInstanceGroups(ctx context.Context, jobFlowID string, groups []canonical.Params) ([]string, error) {
	var resp struct {
		InstanceGroupIDs []string `json:"InstanceGroupIds"`
	}
	err := c.call(ctx, "AddInstanceGroups", canonical.Params{
		"job_flow_id":     jobFlowID,
		"instance_groups": groups,
	}, &resp)
	return resp.InstanceGroupIDs, err
}

// ModifyInstanceGroups resizes instance groups, keyed by instance group ID
func (c *Client) ModifyInstanceGroups(ctx context.Context, counts map[string]int) error {
	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	groups := make([]canonical.Params, 0, len(ids))
	for _, id := range ids {
		groups = append(groups, canonical.Params{"instance_group_id": id, "instance_count": counts[id]})
	}
	return c.call(ctx, "ModifyInstanceGroups", canonical.Params{"instance_groups": groups}, nil)
}

// TerminateJobFlows shuts down the given job flows
func (c *Client) TerminateJobFlows(ctx context.Context, jobFlowIDs ...string) error {
	return c.call(ctx, "TerminateJobFlows", canonical.Params{"job_flow_ids": jobFlowIDs}, nil)
}

// SetTerminationProtection locks or unlocks job flows against termination
func (c *Client) SetTerminationProtection(ctx context.Context, jobFlowIDs []string, protected bool) error {
	return c.call(ctx, "SetTerminationProtection", canonical.Params{
		"job_flow_ids":          jobFlowIDs,
		"termination_protected": protected,
	}, nil)
}

// SetVisibleToAllUsers toggles job flow visibility to every IAM user of the account
func (c *Client) SetVisibleToAllUsers(ctx context.Context, jobFlowIDs []string, visible bool) error {
	return c.call(ctx, "SetVisibleToAllUsers", canonical.Params{
		"job_flow_ids":         jobFlowIDs,
		"visible_to_all_users": visible,
	}, nil)
}

// AddTags attaches tags to a cluster
func (c *Client) AddTags(ctx context.Context, resourceID string, tags map[string]string) error {
	return c.call(ctx, "AddTags", canonical.Params{
		"resource_id": resourceID,
		"tags":        TagList(tags),
	}, nil)
}

// RemoveTags detaches tags from a cluster by key
func (c *Client) RemoveTags(ctx context.Context, resourceID string, keys []string) error {
	return c.call(ctx, "RemoveTags", canonical.Params{
		"resource_id": resourceID,
		"tag_keys":    keys,
	}, nil)
}

// TagList renders tags as [{key, value}] sorted by key
func TagList(tags map[string]string) []canonical.Params {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	list := make([]canonical.Params, 0, len(keys))
	for _, k := range keys {
		list = append(list, canonical.Params{"key": k, "value": tags[k]})
	}
	return list
}
