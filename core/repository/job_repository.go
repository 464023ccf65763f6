package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rslifka/elasticity-sub000/core/jobflow"
	"github.com/rslifka/elasticity-sub000/core/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ErrNotFound is returned when no history record matches
var ErrNotFound = errors.New("job flow record not found")

// JobFlowRepository stores submitted job flows and their state transitions
type JobFlowRepository struct {
	db  *DB
	now func() time.Time
}

// NewJobFlowRepository creates a new job flow repository
func NewJobFlowRepository(db *DB) *JobFlowRepository {
	return &JobFlowRepository{db: db, now: time.Now}
}

// NewRecord snapshots a job flow that has just been submitted
func NewRecord(jf *jobflow.JobFlow, definitionYAML string) *models.JobFlowRecord {
	record := &models.JobFlowRecord{
		JobFlowID:      jf.JobFlowID(),
		Name:           jf.Name,
		Region:         jf.Region(),
		InstanceCount:  jf.InstanceCount(),
		MasterType:     jf.MasterInstanceType(),
		SlaveType:      jf.SlaveInstanceType(),
		DefinitionYAML: definitionYAML,
	}
	if jf.ReleaseLabel != "" {
		record.ReleaseLabel = jf.ReleaseLabel
	} else {
		record.AMIVersion = jf.AMIVersion
	}
	return record
}

// CreateJobFlow inserts a record and its initial "submitted" event
func (r *JobFlowRepository) CreateJobFlow(ctx context.Context, record *models.JobFlowRecord) error {
	query := `
		INSERT INTO job_flows (
			id, job_flow_id, name, region, release_label, ami_version, instance_count,
			master_type, slave_type, state, definition_yaml, cost_estimated_usd,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`

	recordID := uuid.New()
	if record.ID != "" {
		var err error
		recordID, err = uuid.Parse(record.ID)
		if err != nil {
			return fmt.Errorf("invalid record id %q: %w", record.ID, err)
		}
	}

	var jobFlowID sql.NullString
	if record.JobFlowID != "" {
		jobFlowID = sql.NullString{String: record.JobFlowID, Valid: true}
	}

	now := r.now().UTC()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, query,
		recordID,
		jobFlowID,
		record.Name,
		record.Region,
		record.ReleaseLabel,
		record.AMIVersion,
		record.InstanceCount,
		record.MasterType,
		record.SlaveType,
		record.State,
		record.DefinitionYAML,
		record.CostEstimatedUSD,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job flow %s: %w", record.JobFlowID, err)
	}

	err = createEventTx(ctx, tx, recordID.String(), nil, record.State, "submitted", nil)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	record.ID = recordID.String()
	record.CreatedAt = now
	record.UpdatedAt = now
	return nil
}

const selectJobFlow = `
	SELECT id, job_flow_id, name, region, release_label, ami_version, instance_count,
		master_type, slave_type, state, definition_yaml, cost_estimated_usd,
		created_at, ended_at, updated_at
	FROM job_flows
`

type scanner interface {
	Scan(dest ...any) error
}

func scanJobFlow(row scanner) (*models.JobFlowRecord, error) {
	var record models.JobFlowRecord
	var jobFlowID sql.NullString
	var costEstimatedUSD sql.NullFloat64
	var endedAt sql.NullTime

	err := row.Scan(
		&record.ID,
		&jobFlowID,
		&record.Name,
		&record.Region,
		&record.ReleaseLabel,
		&record.AMIVersion,
		&record.InstanceCount,
		&record.MasterType,
		&record.SlaveType,
		&record.State,
		&record.DefinitionYAML,
		&costEstimatedUSD,
		&record.CreatedAt,
		&endedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if jobFlowID.Valid {
		record.JobFlowID = jobFlowID.String
	}
	if costEstimatedUSD.Valid {
		record.CostEstimatedUSD = &costEstimatedUSD.Float64
	}
	if endedAt.Valid {
		record.EndedAt = &endedAt.Time
	}
	return &record, nil
}

// GetJobFlow retrieves a record by its local ID
func (r *JobFlowRepository) GetJobFlow(ctx context.Context, id string) (*models.JobFlowRecord, error) {
	return r.getOne(ctx, selectJobFlow+" WHERE id = $1", id)
}

// GetByJobFlowID retrieves a record by the remote job flow ID
func (r *JobFlowRepository) GetByJobFlowID(ctx context.Context, jobFlowID string) (*models.JobFlowRecord, error) {
	return r.getOne(ctx, selectJobFlow+" WHERE job_flow_id = $1", jobFlowID)
}

func (r *JobFlowRepository) getOne(ctx context.Context, query string, arg string) (*models.JobFlowRecord, error) {
	record, err := scanJobFlow(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, arg)
	}
	return record, err
}

// ListJobFlows lists the most recent records, optionally limited to states
func (r *JobFlowRepository) ListJobFlows(ctx context.Context, states []models.ClusterState, limit int) ([]*models.JobFlowRecord, error) {
	query := selectJobFlow
	var args []interface{}
	if len(states) > 0 {
		names := make([]string, len(states))
		for i, s := range states {
			names[i] = string(s)
		}
		query += " WHERE state = ANY($1)"
		args = append(args, pq.Array(names))
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.JobFlowRecord
	for rows.Next() {
		record, err := scanJobFlow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// UpdateState moves a record to toState atomically with event logging.
// Leaving the active states stamps ended_at.
func (r *JobFlowRepository) UpdateState(ctx context.Context, id string, toState models.ClusterState, reason string, meta map[string]interface{}) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var fromState models.ClusterState
	err = tx.QueryRowContext(ctx, `SELECT state FROM job_flows WHERE id = $1 FOR UPDATE`, id).Scan(&fromState)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return err
	}

	var endedAt sql.NullTime
	if (&models.JobFlowRecord{State: toState}).Finished() {
		endedAt = sql.NullTime{Time: r.now().UTC(), Valid: true}
	}

	updateQuery := `
		UPDATE job_flows
		SET state = $1, ended_at = COALESCE(ended_at, $2), updated_at = NOW()
		WHERE id = $3
	`
	if _, err := tx.ExecContext(ctx, updateQuery, toState, endedAt, id); err != nil {
		return err
	}

	var from *models.ClusterState
	if fromState != "" {
		from = &fromState
	}
	if err := createEventTx(ctx, tx, id, from, toState, reason, meta); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordState records a state observed for a remote job flow. Job flows
// that were never recorded locally are ignored, as are repeated states.
func (r *JobFlowRepository) RecordState(ctx context.Context, jobFlowID string, state models.ClusterState, reason string) error {
	record, err := r.GetByJobFlowID(ctx, jobFlowID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if record.State == state {
		return nil
	}
	return r.UpdateState(ctx, record.ID, state, reason, nil)
}

// SetCostEstimate stores the estimated total cost of a record
func (r *JobFlowRepository) SetCostEstimate(ctx context.Context, id string, cost float64) error {
	query := `UPDATE job_flows SET cost_estimated_usd = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, cost, id)
	return err
}

func createEventTx(ctx context.Context, tx *sql.Tx, recordID string, fromState *models.ClusterState, toState models.ClusterState, reason string, meta map[string]interface{}) error {
	query := `
		INSERT INTO job_flow_events (record_id, from_state, to_state, reason, meta_json)
		VALUES ($1, $2, $3, $4, $5)
	`

	var fromStateStr *string
	if fromState != nil {
		s := string(*fromState)
		fromStateStr = &s
	}

	metaJSON := []byte("{}")
	if meta != nil {
		var err error
		metaJSON, err = json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to encode event metadata: %w", err)
		}
	}

	_, err := tx.ExecContext(ctx, query, recordID, fromStateStr, toState, reason, string(metaJSON))
	return err
}
