package repository

import (
	"context"
	"fmt"
)

const parsesTable = "parses"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS parses (
	id                       TEXT PRIMARY KEY,
	owner_id                 TEXT NOT NULL,
	file_name                TEXT NOT NULL,
	format                   TEXT NOT NULL,
	size_bytes               BIGINT NOT NULL DEFAULT 0,
	status                   TEXT NOT NULL,
	page_count               BIGINT NOT NULL DEFAULT 0,
	critical_pages           TEXT,
	raw_document_key         TEXT,
	classification_cache_key TEXT,
	raw_extractions          TEXT,
	canonical                TEXT,
	confidence               TEXT,
	provenance               TEXT,
	merge_log                TEXT,
	preview_keys             TEXT,
	error_message            TEXT,
	active_run               TEXT NOT NULL DEFAULT '',
	attempts                 BIGINT NOT NULL DEFAULT 0,
	version                  BIGINT NOT NULL DEFAULT 1,
	created_at               TEXT NOT NULL,
	updated_at               TEXT NOT NULL,
	finalized_at             TEXT,
	cleaned_at               TEXT
)`,
	`CREATE INDEX IF NOT EXISTS parses_owner_created_idx ON parses (owner_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS parses_status_idx ON parses (status)`,
}

// Migrate creates the tables and indexes the repository needs. The DDL is valid on postgres and sqlite.
func (d *DB) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := d.SQL.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
