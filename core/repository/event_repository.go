package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rslifka/elasticity-sub000/core/models"
)

// EventRepository reads the state transition log of job flows
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// GetEvents retrieves the events of a record, oldest first
func (r *EventRepository) GetEvents(ctx context.Context, recordID string, limit int) ([]models.JobFlowEvent, error) {
	query := `
		SELECT id, record_id, at, from_state, to_state, reason, meta_json
		FROM job_flow_events
		WHERE record_id = $1
		ORDER BY at ASC, id ASC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, recordID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.JobFlowEvent
	for rows.Next() {
		var event models.JobFlowEvent
		var fromState sql.NullString
		var metaJSON string

		err := rows.Scan(
			&event.ID,
			&event.RecordID,
			&event.At,
			&fromState,
			&event.ToState,
			&event.Reason,
			&metaJSON,
		)
		if err != nil {
			return nil, err
		}

		if fromState.Valid {
			state := models.ClusterState(fromState.String)
			event.FromState = &state
		}
		if metaJSON != "" {
			if err := json.Unmarshal([]byte(metaJSON), &event.MetaJSON); err != nil {
				return nil, fmt.Errorf("failed to decode metadata of event %d: %w", event.ID, err)
			}
		}

		events = append(events, event)
	}
	return events, rows.Err()
}
