package db

import (
	"database/sql"
	"fmt"
)

// SchemaVersion is the latest schema version supported by the migrator.
const SchemaVersion = 2

var migrations = map[int]string{
	1: schemaV1,
	2: schemaV2,
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS users (
	id            SERIAL PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS locations (
	id               SERIAL PRIMARY KEY,
	user_id          INT NOT NULL REFERENCES users(id),
	kind             TEXT NOT NULL,
	latitude         DOUBLE PRECISION,
	longitude        DOUBLE PRECISION,
	address          TEXT NOT NULL DEFAULT '',
	category         TEXT NOT NULL DEFAULT '',
	search_radius_km DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS time_windows (
	id        SERIAL PRIMARY KEY,
	user_id   INT NOT NULL REFERENCES users(id),
	name      TEXT NOT NULL,
	active    BOOLEAN NOT NULL DEFAULT FALSE,
	opens_at  TIMESTAMPTZ,
	closes_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS weather_conditions (
	id        SERIAL PRIMARY KEY,
	user_id   INT NOT NULL REFERENCES users(id),
	kind      TEXT NOT NULL,
	threshold DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS tasks (
	id                   SERIAL PRIMARY KEY,
	user_id              INT NOT NULL REFERENCES users(id),
	title                TEXT NOT NULL,
	description          TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL DEFAULT 'pending',
	base_priority        INT NOT NULL DEFAULT 50 CHECK (base_priority BETWEEN 0 AND 100),
	calculated_priority  INT NOT NULL DEFAULT 50,
	urgency_multiplier   DOUBLE PRECISION NOT NULL DEFAULT 1.0 CHECK (urgency_multiplier >= 0),
	deadline             TIMESTAMPTZ,
	estimated_minutes    INT NOT NULL DEFAULT 0,
	category             TEXT NOT NULL DEFAULT '',
	location_id          INT REFERENCES locations(id),
	time_window_id       INT REFERENCES time_windows(id),
	weather_condition_id INT REFERENCES weather_conditions(id),
	requires_weather     BOOLEAN NOT NULL DEFAULT FALSE,
	tc_kind              TEXT NOT NULL DEFAULT '',
	tc_start_at          TIMESTAMPTZ,
	tc_end_at            TIMESTAMPTZ,
	tc_bucket            TEXT NOT NULL DEFAULT '',
	tc_after_task_id     INT REFERENCES tasks(id),
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS task_dependencies (
	task_id       INT NOT NULL REFERENCES tasks(id),
	depends_on_id INT NOT NULL REFERENCES tasks(id),
	PRIMARY KEY (task_id, depends_on_id),
	CHECK (task_id <> depends_on_id)
);

CREATE TABLE IF NOT EXISTS recurring_schedules (
	id              SERIAL PRIMARY KEY,
	task_id         INT NOT NULL REFERENCES tasks(id),
	kind            TEXT NOT NULL,
	interval_days   INT NOT NULL DEFAULT 0,
	next_occurrence TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS task_assignments (
	id           SERIAL PRIMARY KEY,
	user_id      INT NOT NULL REFERENCES users(id),
	task_id      INT NOT NULL REFERENCES tasks(id),
	active       BOOLEAN NOT NULL DEFAULT TRUE,
	assigned_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);

-- Storage-level defense for the one-active-assignment invariant; the
-- lifecycle serializes per user on top of this.
CREATE UNIQUE INDEX IF NOT EXISTS task_assignments_one_active
	ON task_assignments (user_id) WHERE active;

CREATE TABLE IF NOT EXISTS blockers (
	id               SERIAL PRIMARY KEY,
	task_id          INT NOT NULL REFERENCES tasks(id),
	description      TEXT NOT NULL,
	resolved         BOOLEAN NOT NULL DEFAULT FALSE,
	resolution_notes TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS task_history (
	id            SERIAL PRIMARY KEY,
	event_key     TEXT NOT NULL UNIQUE,
	task_id       INT NOT NULL REFERENCES tasks(id),
	user_id       INT NOT NULL REFERENCES users(id),
	event         TEXT NOT NULL,
	blocker_id    INT REFERENCES blockers(id),
	gratification TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS task_categories (
	id    SERIAL PRIMARY KEY,
	label TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS task_category_assignments (
	task_id     INT NOT NULL REFERENCES tasks(id),
	category_id INT NOT NULL REFERENCES task_categories(id),
	confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (task_id, category_id)
);
`

// History rows now name the assignment they touched, so the audit trail can
// reconstruct which slot a completion, cancellation, or blocker released.
const schemaV2 = `
ALTER TABLE task_history
	ADD COLUMN IF NOT EXISTS assignment_id INT REFERENCES task_assignments(id);
`

// Migrate ensures the schema exists and is upgraded to SchemaVersion.
func Migrate(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("migrate: db is nil")
	}

	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY);`)
	if err != nil {
		return fmt.Errorf("migrate: create schema_migrations: %w", err)
	}

	var current int
	err = db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&current)
	if err != nil {
		return fmt.Errorf("migrate: read current version: %w", err)
	}

	for v := current + 1; v <= SchemaVersion; v++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migrate: begin v%d: %w", v, err)
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate: apply v%d: %w", v, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES ($1)`, v); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate: record v%d: %w", v, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate: commit v%d: %w", v, err)
		}
	}
	return nil
}
