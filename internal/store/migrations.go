package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

// Profile and memory rows keep the full record as JSON next to the columns
// needed for lookups; schema_version is the record format, not the table's.
var migrations = []migration{
	{
		Version:     1,
		Description: "profiles: one record per user identity",
		SQL: `
CREATE TABLE profiles (
    id             TEXT PRIMARY KEY,
    record         TEXT NOT NULL,
    schema_version INTEGER NOT NULL,
    last_seen      INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL
);

CREATE INDEX idx_profiles_last_seen ON profiles(last_seen DESC);
`,
	},
	{
		Version:     2,
		Description: "memories: decayed-relevance memory entries",
		SQL: `
CREATE TABLE memories (
    id             TEXT PRIMARY KEY,
    owner_id       TEXT NOT NULL,
    record         TEXT NOT NULL,
    schema_version INTEGER NOT NULL,
    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL
);

CREATE INDEX idx_memories_owner   ON memories(owner_id);
CREATE INDEX idx_memories_created ON memories(created_at DESC);
`,
	},
	{
		Version:     3,
		Description: "utterances: per-profile utterance log",
		SQL: `
CREATE TABLE utterances (
    id         INTEGER PRIMARY KEY,
    profile_id TEXT NOT NULL,
    text       TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX idx_utterances_profile ON utterances(profile_id, created_at);
`,
	},
	{
		Version:     4,
		Description: "actions: host command/action log",
		SQL: `
CREATE TABLE actions (
    id         INTEGER PRIMARY KEY,
    profile_id TEXT NOT NULL,
    action     TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX idx_actions_profile ON actions(profile_id, created_at);
`,
	},
	{
		Version:     5,
		Description: "state: small key/value pairs (current profile pointer)",
		SQL: `
CREATE TABLE state (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`,
	},
}

// migrate applies every migration newer than the recorded schema version,
// each in its own transaction.
func (db *DB) migrate() error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`); err != nil {
		return fmt.Errorf("schema_versions table: %w", err)
	}

	current, err := db.SchemaVersion()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := db.apply(m); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) apply(m migration) (err error) {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migration %d: begin: %w", m.Version, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
	}
	if _, err = tx.Exec(`INSERT INTO schema_versions (version, description) VALUES (?, ?)`, m.Version, m.Description); err != nil {
		return fmt.Errorf("migration %d: record: %w", m.Version, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("migration %d: commit: %w", m.Version, err)
	}
	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
