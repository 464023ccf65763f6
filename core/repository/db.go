package repository

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// DB wraps the history database connection pool
type DB struct {
	*sql.DB
}

// NewDB opens and pings a Postgres database
func NewDB(databaseURL string) (*DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &DB{DB: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS job_flows (
	id                 UUID PRIMARY KEY,
	job_flow_id        TEXT UNIQUE,
	name               TEXT NOT NULL,
	region             TEXT NOT NULL,
	release_label      TEXT NOT NULL DEFAULT '',
	ami_version        TEXT NOT NULL DEFAULT '',
	instance_count     INTEGER NOT NULL,
	master_type        TEXT NOT NULL,
	slave_type         TEXT NOT NULL,
	state              TEXT NOT NULL DEFAULT '',
	definition_yaml    TEXT NOT NULL DEFAULT '',
	cost_estimated_usd DOUBLE PRECISION,
	created_at         TIMESTAMPTZ NOT NULL,
	ended_at           TIMESTAMPTZ,
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS job_flow_events (
	id          BIGSERIAL PRIMARY KEY,
	record_id   UUID NOT NULL REFERENCES job_flows(id) ON DELETE CASCADE,
	at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	from_state  TEXT,
	to_state    TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	meta_json   JSONB NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS job_flow_events_record_id ON job_flow_events(record_id, at);
`

// Migrate creates the history tables if they do not exist
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
