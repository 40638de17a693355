// ABOUTME: Database schema definitions and migrations
// ABOUTME: Handles SQLite table creation for mirrored entities and sync bookkeeping
package db

import (
	"database/sql"
)

const schema = `
CREATE TABLE IF NOT EXISTS companies (
	id TEXT PRIMARY KEY,
	external_id TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	document TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	raw TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_companies_name ON companies(name);
CREATE INDEX IF NOT EXISTS idx_companies_document ON companies(document);

CREATE TABLE IF NOT EXISTS processes (
	id TEXT PRIMARY KEY,
	external_id TEXT NOT NULL UNIQUE,
	company_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	department TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	status_raw TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'OTHER' CHECK(status IN ('IN_PROGRESS', 'DONE', 'OTHER')),
	progress REAL NOT NULL DEFAULT 0,
	started_at DATETIME,
	finished_at DATETIME,
	changed_at DATETIME,
	responsible TEXT NOT NULL DEFAULT '',
	steps TEXT NOT NULL DEFAULT '',
	history TEXT NOT NULL DEFAULT '',
	attachments TEXT NOT NULL DEFAULT '',
	raw TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	FOREIGN KEY (company_id) REFERENCES companies(id)
);

CREATE INDEX IF NOT EXISTS idx_processes_company_id ON processes(company_id);
CREATE INDEX IF NOT EXISTS idx_processes_status ON processes(status);
CREATE INDEX IF NOT EXISTS idx_processes_changed_at ON processes(changed_at DESC);

CREATE TABLE IF NOT EXISTS deliveries (
	id TEXT PRIMARY KEY,
	external_id TEXT NOT NULL UNIQUE,
	process_id TEXT,
	company_id TEXT,
	type TEXT NOT NULL DEFAULT '',
	status_raw TEXT NOT NULL DEFAULT '',
	occurred_at DATETIME,
	due_at DATETIME,
	raw TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	FOREIGN KEY (process_id) REFERENCES processes(id),
	FOREIGN KEY (company_id) REFERENCES companies(id)
);

CREATE INDEX IF NOT EXISTS idx_deliveries_process_id ON deliveries(process_id);
CREATE INDEX IF NOT EXISTS idx_deliveries_company_id ON deliveries(company_id);
CREATE INDEX IF NOT EXISTS idx_deliveries_occurred_at ON deliveries(occurred_at DESC);

CREATE TABLE IF NOT EXISTS sync_state (
	resource TEXT PRIMARY KEY,
	watermark DATETIME,
	token TEXT,
	last_run_at DATETIME,
	status TEXT NOT NULL DEFAULT 'idle' CHECK(status IN ('idle', 'syncing', 'error')),
	error_message TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sync_runs (
	id TEXT PRIMARY KEY,
	trigger_source TEXT NOT NULL,
	full_resync INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL CHECK(status IN ('running', 'ok', 'partial', 'failed')),
	started_at DATETIME NOT NULL,
	finished_at DATETIME,
	summary TEXT,
	error TEXT
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at DESC);

CREATE TABLE IF NOT EXISTS sync_lock (
	name TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	acquired_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);
`

func InitSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
