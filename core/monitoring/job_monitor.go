package monitoring

import (
	"context"
	"io"
	"math"
	"time"

	"github.com/rslifka/elasticity-sub000/core/models"

	"github.com/sirupsen/logrus"
)

// StatusSource reports the current state of one job flow
type StatusSource interface {
	ClusterStatus(ctx context.Context) (*models.ClusterStatus, error)
}

// DescribeAPI is the part of the control plane client a ClusterSource needs
type DescribeAPI interface {
	DescribeCluster(ctx context.Context, clusterID string) (*models.ClusterStatus, error)
}

// ClusterSource adapts a control plane client and a cluster ID into a StatusSource
type ClusterSource struct {
	API       DescribeAPI
	ClusterID string
}

// ClusterStatus implements StatusSource
func (s ClusterSource) ClusterStatus(ctx context.Context) (*models.ClusterStatus, error) {
	return s.API.DescribeCluster(ctx, s.ClusterID)
}

// StateRecorder persists observed state transitions
type StateRecorder interface {
	RecordState(ctx context.Context, jobFlowID string, state models.ClusterState, reason string) error
}

// JobFlowMonitor waits for a job flow to finish, logging progress and
// recording every state change it observes
type JobFlowMonitor struct {
	source   StatusSource
	recorder StateRecorder
	costs    *CostTracker
	interval time.Duration
	logger   logrus.FieldLogger
}

// MonitorOption configures a JobFlowMonitor
type MonitorOption func(*JobFlowMonitor)

// WithInterval sets the poll interval
func WithInterval(interval time.Duration) MonitorOption {
	return func(m *JobFlowMonitor) { m.interval = interval }
}

// WithRecorder records state transitions, e.g. into the history store
func WithRecorder(recorder StateRecorder) MonitorOption {
	return func(m *JobFlowMonitor) { m.recorder = recorder }
}

// WithCostTracker adds the accrued cost of tracked job flows to progress logging
func WithCostTracker(costs *CostTracker) MonitorOption {
	return func(m *JobFlowMonitor) { m.costs = costs }
}

// WithLogger routes progress logging to logger
func WithLogger(logger logrus.FieldLogger) MonitorOption {
	return func(m *JobFlowMonitor) { m.logger = logger }
}

// NewJobFlowMonitor creates a new job flow monitor
func NewJobFlowMonitor(source StatusSource, opts ...MonitorOption) *JobFlowMonitor {
	m := &JobFlowMonitor{
		source:   source,
		interval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		m.logger = logger
	}
	return m
}

// Wait blocks until the job flow leaves the active states and returns its
// final status
func (m *JobFlowMonitor) Wait(ctx context.Context) (*models.ClusterStatus, error) {
	var last models.ClusterState

	check := func(ctx context.Context) (bool, *models.ClusterStatus, error) {
		status, err := m.source.ClusterStatus(ctx)
		if err != nil {
			return false, nil, err
		}
		if status.State != last {
			if err := m.record(ctx, status); err != nil {
				return false, status, err
			}
			last = status.State
		}
		return status.Active(), status, nil
	}

	onWait := func(elapsed time.Duration, status *models.ClusterStatus) error {
		m.progress(status).WithField("elapsed", elapsed.Round(time.Second)).Info("waiting for job flow")
		return nil
	}

	status, err := NewLooper[*models.ClusterStatus](check, onWait, m.interval).Go(ctx)
	if err != nil {
		return status, err
	}

	m.progress(status).WithField("reason", status.LastStateChangeReason).Info("job flow finished")
	return status, nil
}

func (m *JobFlowMonitor) progress(status *models.ClusterStatus) logrus.FieldLogger {
	fields := logrus.Fields{
		"job_flow_id": status.ClusterID,
		"state":       status.State,
	}
	if m.costs != nil {
		fields["cost_usd"] = math.Round(m.costs.Observe(status)*100) / 100
	}
	return m.logger.WithFields(fields)
}

func (m *JobFlowMonitor) record(ctx context.Context, status *models.ClusterStatus) error {
	m.logger.WithFields(logrus.Fields{
		"job_flow_id": status.ClusterID,
		"state":       status.State,
	}).Debug("job flow state changed")

	if m.recorder == nil {
		return nil
	}
	return m.recorder.RecordState(ctx, status.ClusterID, status.State, status.LastStateChangeReason)
}
