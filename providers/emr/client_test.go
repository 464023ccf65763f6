package emr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rslifka/elasticity-sub000/core/canonical"
	"github.com/rslifka/elasticity-sub000/core/models"
	"github.com/rslifka/elasticity-sub000/providers/emr/emrtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSubmitter answers every call with the next queued body
type recordingSubmitter struct {
	requests  []canonical.Params
	responses []string
	err       error
}

func (r *recordingSubmitter) Submit(_ context.Context, params canonical.Params) ([]byte, error) {
	r.requests = append(r.requests, params)
	if r.err != nil {
		return nil, r.err
	}
	if len(r.responses) == 0 {
		return []byte(`{}`), nil
	}
	body := r.responses[0]
	r.responses = r.responses[1:]
	return []byte(body), nil
}

func TestClient_RequestShapes(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		call func(c *Client) error
		want canonical.Params
	}{
		{
			name: "terminate",
			call: func(c *Client) error { return c.TerminateJobFlows(ctx, "j-1") },
			want: canonical.Params{"operation": "TerminateJobFlows", "job_flow_ids": []string{"j-1"}},
		},
		{
			name: "termination protection",
			call: func(c *Client) error { return c.SetTerminationProtection(ctx, []string{"j-1"}, true) },
			want: canonical.Params{"operation": "SetTerminationProtection", "job_flow_ids": []string{"j-1"}, "termination_protected": true},
		},
		{
			name: "visibility",
			call: func(c *Client) error { return c.SetVisibleToAllUsers(ctx, []string{"j-1"}, false) },
			want: canonical.Params{"operation": "SetVisibleToAllUsers", "job_flow_ids": []string{"j-1"}, "visible_to_all_users": false},
		},
		{
			name: "add tags sorted by key",
			call: func(c *Client) error {
				return c.AddTags(ctx, "j-1", map[string]string{"team": "data", "env": "prod"})
			},
			want: canonical.Params{"operation": "AddTags", "resource_id": "j-1", "tags": []canonical.Params{
				{"key": "env", "value": "prod"},
				{"key": "team", "value": "data"},
			}},
		},
		{
			name: "remove tags",
			call: func(c *Client) error { return c.RemoveTags(ctx, "j-1", []string{"env"}) },
			want: canonical.Params{"operation": "RemoveTags", "resource_id": "j-1", "tag_keys": []string{"env"}},
		},
		{
			name: "modify instance groups",
			call: func(c *Client) error {
				return c.ModifyInstanceGroups(ctx, map[string]int{"ig-2": 4, "ig-1": 2})
			},
			want: canonical.Params{"operation": "ModifyInstanceGroups", "instance_groups": []canonical.Params{
				{"instance_group_id": "ig-1", "instance_count": 2},
				{"instance_group_id": "ig-2", "instance_count": 4},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &recordingSubmitter{}
			require.NoError(t, tt.call(NewClient(sub)))
			require.Len(t, sub.requests, 1)
			assert.Equal(t, tt.want, sub.requests[0])
		})
	}
}

func TestClient_RunJobFlow(t *testing.T) {
	sub := &recordingSubmitter{responses: []string{`{"JobFlowId":"j-3T0PHNUXCY7SX"}`}}

	id, err := NewClient(sub).RunJobFlow(context.Background(), canonical.Params{"name": "flow"})
	require.NoError(t, err)

	assert.Equal(t, "j-3T0PHNUXCY7SX", id)
	assert.Equal(t, canonical.Params{"operation": "RunJobFlow", "name": "flow"}, sub.requests[0])
}

func TestClient_RunJobFlowWithoutID(t *testing.T) {
	_, err := NewClient(&recordingSubmitter{}).RunJobFlow(context.Background(), canonical.Params{})
	assert.Error(t, err)
}

func TestClient_AddJobFlowSteps(t *testing.T) {
	sub := &recordingSubmitter{responses: []string{`{"StepIds":["s-1","s-2"]}`}}
	steps := []canonical.Params{{"name": "a"}, {"name": "b"}}

	ids, err := NewClient(sub).AddJobFlowSteps(context.Background(), "j-1", steps)
	require.NoError(t, err)

	assert.Equal(t, []string{"s-1", "s-2"}, ids)
	assert.Equal(t, canonical.Params{"operation": "AddJobFlowSteps", "job_flow_id": "j-1", "steps": steps}, sub.requests[0])
}

func TestClient_ListStepsFollowsMarkers(t *testing.T) {
	sub := &recordingSubmitter{responses: []string{
		`{"Steps":[{"Id":"s-3","Name":"c","Status":{"State":"PENDING"}}],"Marker":"m1"}`,
		`{"Steps":[{"Id":"s-2","Name":"b","Status":{"State":"RUNNING"}},{"Id":"s-1","Name":"a","Status":{"State":"COMPLETED"}}]}`,
	}}

	steps, err := NewClient(sub).ListSteps(context.Background(), "j-1")
	require.NoError(t, err)

	require.Len(t, steps, 3)
	assert.Equal(t, "s-3", steps[0].StepID)
	assert.Equal(t, models.StepCompleted, steps[2].State)

	require.Len(t, sub.requests, 2)
	assert.NotContains(t, sub.requests[0], "marker")
	assert.Equal(t, "m1", sub.requests[1]["marker"])
}

func TestClient_ListClustersFilters(t *testing.T) {
	sub := &recordingSubmitter{responses: []string{`{"Clusters":[{"Id":"j-1","Status":{"State":"WAITING"}}]}`}}
	after := time.Unix(1436788464, 0)

	clusters, err := NewClient(sub).ListClusters(context.Background(), ListClustersInput{
		States:       []string{"WAITING", "RUNNING"},
		CreatedAfter: after,
	})
	require.NoError(t, err)

	require.Len(t, clusters, 1)
	assert.Equal(t, canonical.Params{
		"operation":      "ListClusters",
		"cluster_states": []string{"WAITING", "RUNNING"},
		"created_after":  int64(1436788464),
	}, sub.requests[0])
}

func TestClient_ErrorsPropagate(t *testing.T) {
	boom := errors.New("boom")
	c := NewClient(&recordingSubmitter{err: boom})

	_, err := c.DescribeCluster(context.Background(), "j-1")
	assert.ErrorIs(t, err, boom)

	_, err = c.ListSteps(context.Background(), "j-1")
	assert.ErrorIs(t, err, boom)

	assert.ErrorIs(t, c.TerminateJobFlows(context.Background(), "j-1"), boom)
}

func TestClient_AgainstFakeControlPlane(t *testing.T) {
	srv := emrtest.NewServer()
	defer srv.Close()

	srv.Respond("DescribeCluster", map[string]any{
		"Cluster": map[string]any{
			"Id":     "j-1",
			"Name":   "flow",
			"Status": map[string]any{"State": "WAITING"},
		},
	})
	srv.Respond("ListInstanceGroups", map[string]any{
		"InstanceGroups": []map[string]any{{"Id": "ig-1", "InstanceGroupType": "MASTER", "RequestedInstanceCount": 1}},
	})
	srv.Respond("ListBootstrapActions", map[string]any{
		"BootstrapActions": []map[string]any{{"Name": "ba", "ScriptPath": "s3://b/ba.sh"}},
	})
	srv.Respond("DescribeStep", map[string]any{
		"Step": map[string]any{"Id": "s-1", "Status": map[string]any{"State": "RUNNING"}},
	})
	srv.Respond("AddInstanceGroups", map[string]any{"InstanceGroupIds": []string{"ig-9"}})

	c := NewClient(newTestSession(t, srv))
	ctx := context.Background()

	status, err := c.DescribeCluster(ctx, "j-1")
	require.NoError(t, err)
	assert.True(t, status.Active())
	assert.Equal(t, map[string]any{"ClusterId": "j-1"}, srv.RequestsFor("DescribeCluster")[0].JSON)

	groups, err := c.ListInstanceGroups(ctx, "j-1")
	require.NoError(t, err)
	assert.Equal(t, "MASTER", groups[0].Role)

	actions, err := c.ListBootstrapActions(ctx, "j-1")
	require.NoError(t, err)
	assert.Equal(t, "s3://b/ba.sh", actions[0].ScriptPath)

	step, err := c.DescribeStep(ctx, "j-1", "s-1")
	require.NoError(t, err)
	assert.Equal(t, models.StepRunning, step.State)

	ids, err := c.AddInstanceGroups(ctx, "j-1", []canonical.Params{{"instance_role": "TASK", "instance_count": 2}})
	require.NoError(t, err)
	assert.Equal(t, []string{"ig-9"}, ids)
	assert.Equal(t, map[string]any{
		"JobFlowId":      "j-1",
		"InstanceGroups": []any{map[string]any{"InstanceRole": "TASK", "InstanceCount": float64(2)}},
	}, srv.RequestsFor("AddInstanceGroups")[0].JSON)
}

func TestClient_RefusesLegacySignedSession(t *testing.T) {
	srv := emrtest.NewServer()
	defer srv.Close()
	srv.Respond("RunJobFlow", map[string]any{"JobFlowId": "j-1"})
	srv.Respond("DescribeCluster", map[string]any{"Cluster": map[string]any{"Id": "j-1"}})

	c := NewClient(newTestSession(t, srv, WithSignatureVersion(SignatureV2)))
	ctx := context.Background()

	_, err := c.RunJobFlow(ctx, canonical.Params{"name": "flow"})
	assert.ErrorIs(t, err, ErrUnsupportedSignature)
	_, err = c.DescribeCluster(ctx, "j-1")
	assert.ErrorIs(t, err, ErrUnsupportedSignature)
	_, err = c.ListSteps(ctx, "j-1")
	assert.ErrorIs(t, err, ErrUnsupportedSignature)
	assert.ErrorIs(t, c.TerminateJobFlows(ctx, "j-1"), ErrUnsupportedSignature)

	// nothing reaches the control plane, so no cluster is started
	assert.Empty(t, srv.Requests())
}
