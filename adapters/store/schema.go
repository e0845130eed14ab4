package store

import (
	"database/sql"
	"fmt"
)

// schemaVersion is the current schema generation. bump together with a new
// entry in migrations.
const schemaVersion = 1

// schemaDDL creates the v1 schema. Artifact tables are append-only; only
// workflow_states is updated in place.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS structures (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	revision   INTEGER NOT NULL,
	payload    TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS displacement_sets (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	revision     INTEGER NOT NULL,
	structure_id INTEGER NOT NULL REFERENCES structures(id),
	payload      TEXT NOT NULL,
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS force_sets (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	revision            INTEGER NOT NULL,
	structure_id        INTEGER NOT NULL,
	displacement_set_id INTEGER NOT NULL,
	complete            INTEGER NOT NULL,
	payload             TEXT NOT NULL,
	created_at          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS force_constants (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	revision      INTEGER NOT NULL,
	force_sets_id INTEGER NOT NULL,
	payload       TEXT NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS nac_terms (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	revision     INTEGER NOT NULL,
	structure_id INTEGER NOT NULL,
	payload      TEXT NOT NULL,
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS property_results (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	workflow_id        TEXT NOT NULL,
	kind               TEXT NOT NULL,
	status             TEXT NOT NULL,
	error              TEXT NOT NULL DEFAULT '',
	force_constants_id INTEGER NOT NULL DEFAULT 0,
	nac_id             INTEGER NOT NULL DEFAULT 0,
	payload            TEXT NOT NULL DEFAULT '',
	created_at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_property_results_workflow
	ON property_results(workflow_id);

CREATE TABLE IF NOT EXISTS workflow_states (
	id         TEXT PRIMARY KEY,
	stage      TEXT NOT NULL,
	status     TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// migrations holds one DDL batch per schema generation > 1, applied in
// order on open.
var migrations = map[int]string{}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	var current int
	err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&current)
	if err == sql.ErrNoRows {
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, schemaVersion); err != nil {
			return fmt.Errorf("seed schema version: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for v := current + 1; v <= schemaVersion; v++ {
		ddl, ok := migrations[v]
		if !ok {
			return fmt.Errorf("no migration to schema version %d", v)
		}
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("migrate to v%d: %w", v, err)
		}
		if _, err := db.Exec(`UPDATE schema_version SET version = ?`, v); err != nil {
			return fmt.Errorf("record schema version %d: %w", v, err)
		}
	}
	return nil
}
