package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lazypower/familiar/internal/errs"
)

// Record format versions. Rows carrying a newer version than the binary
// understands are reported as corrupt rather than half-decoded.
const (
	ProfileSchemaVersion = 1
	MemorySchemaVersion  = 1
)

// ProfileRecord is the persisted form of a user profile.
type ProfileRecord struct {
	ID               string            `json:"id"`
	CanonicalName    string            `json:"canonical_name"`
	Aliases          []string          `json:"aliases"`
	Aggregate        AggregateRecord   `json:"aggregate_fingerprint"`
	Facts            map[string]string `json:"facts,omitempty"`
	Placeholder      bool              `json:"placeholder,omitempty"`
	CreatedAt        int64             `json:"created_at"`
	LastSeen         int64             `json:"last_seen"`
	InteractionCount int               `json:"interaction_count"`
	SchemaVersion    int               `json:"schema_version"`
}

// AggregateRecord is a profile's averaged fingerprint.
type AggregateRecord struct {
	Topics      map[string]float64 `json:"topics,omitempty"`
	Formality   float64            `json:"formality"`
	Emotions    map[string]float64 `json:"emotions,omitempty"`
	Punctuation float64            `json:"punctuation"`
}

// MemoryRecord is the persisted form of a memory entry.
type MemoryRecord struct {
	ID            string   `json:"id"`
	OwnerID       string   `json:"owner_id"`
	Content       string   `json:"content"`
	Type          string   `json:"type"`
	Importance    string   `json:"importance"`
	Tags          []string `json:"tags,omitempty"`
	CreatedAt     int64    `json:"created_at"`
	LastAccessed  int64    `json:"last_accessed"`
	AccessCount   int      `json:"access_count"`
	DecayFactor   float64  `json:"decay_factor"`
	Associations  []string `json:"associations,omitempty"`
	MergedFrom    []string `json:"merged_from,omitempty"`
	SchemaVersion int      `json:"schema_version"`
}

// UpsertProfile inserts or replaces a profile record.
func (db *DB) UpsertProfile(rec ProfileRecord) error {
	if rec.ID == "" {
		return errs.E(errs.InvalidArgument, "upsert profile", "", "id required")
	}
	rec.SchemaVersion = ProfileSchemaVersion
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", rec.ID, err)
	}
	_, err = db.Exec(`
		INSERT INTO profiles (id, record, schema_version, last_seen, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			record = excluded.record,
			schema_version = excluded.schema_version,
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at
	`, rec.ID, string(data), rec.SchemaVersion, rec.LastSeen, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", rec.ID, err)
	}
	return nil
}

// DeleteProfile removes a profile record. Deleting a missing id is not an error.
func (db *DB) DeleteProfile(id string) error {
	if _, err := db.Exec("DELETE FROM profiles WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete profile %s: %w", id, err)
	}
	return nil
}

// LoadProfiles decodes every profile row. Rows that cannot be decoded are
// returned as CorruptRecord errors in skipped; err is only set when the
// table itself cannot be read.
func (db *DB) LoadProfiles() (records []ProfileRecord, skipped []error, err error) {
	rows, err := db.Query("SELECT id, record, schema_version FROM profiles ORDER BY last_seen DESC")
	if err != nil {
		return nil, nil, fmt.Errorf("load profiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, data string
		var version int
		if err := rows.Scan(&id, &data, &version); err != nil {
			return nil, nil, fmt.Errorf("scan profile: %w", err)
		}
		var rec ProfileRecord
		if err := decodeRecord(id, data, version, ProfileSchemaVersion, &rec); err != nil {
			skipped = append(skipped, err)
			continue
		}
		if rec.ID != id {
			skipped = append(skipped, errs.E(errs.CorruptRecord, "load profile", id, "record id mismatch"))
			continue
		}
		records = append(records, rec)
	}
	return records, skipped, rows.Err()
}

// UpsertMemory inserts or replaces a memory record.
func (db *DB) UpsertMemory(rec MemoryRecord) error {
	return upsertMemory(db, rec, time.Now().UnixMilli())
}

// UpsertMemories writes recs in one transaction. Either all land or none.
func (db *DB) UpsertMemories(recs []MemoryRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin upsert memories: %w", err)
	}
	now := time.Now().UnixMilli()
	for _, rec := range recs {
		if err := upsertMemory(tx, rec, now); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// DeleteMemory removes a memory record.
func (db *DB) DeleteMemory(id string) error {
	if _, err := db.Exec("DELETE FROM memories WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}
	return nil
}

// DeleteMemories removes every record in ids in one transaction.
func (db *DB) DeleteMemories(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete memories: %w", err)
	}
	for _, id := range ids {
		if _, err := tx.Exec("DELETE FROM memories WHERE id = ?", id); err != nil {
			tx.Rollback()
			return fmt.Errorf("delete memory %s: %w", id, err)
		}
	}
	return tx.Commit()
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertMemory(ex execer, rec MemoryRecord, now int64) error {
	if rec.ID == "" {
		return errs.E(errs.InvalidArgument, "upsert memory", "", "id required")
	}
	rec.SchemaVersion = MemorySchemaVersion
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode memory %s: %w", rec.ID, err)
	}
	_, err = ex.Exec(`
		INSERT INTO memories (id, owner_id, record, schema_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			record = excluded.record,
			schema_version = excluded.schema_version,
			updated_at = excluded.updated_at
	`, rec.ID, rec.OwnerID, string(data), rec.SchemaVersion, rec.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("upsert memory %s: %w", rec.ID, err)
	}
	return nil
}

// LoadMemories decodes every memory row, oldest first. Corrupt rows are
// reported in skipped, as in LoadProfiles.
func (db *DB) LoadMemories() (records []MemoryRecord, skipped []error, err error) {
	rows, err := db.Query("SELECT id, record, schema_version FROM memories ORDER BY created_at, id")
	if err != nil {
		return nil, nil, fmt.Errorf("load memories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, data string
		var version int
		if err := rows.Scan(&id, &data, &version); err != nil {
			return nil, nil, fmt.Errorf("scan memory: %w", err)
		}
		var rec MemoryRecord
		if err := decodeRecord(id, data, version, MemorySchemaVersion, &rec); err != nil {
			skipped = append(skipped, err)
			continue
		}
		if rec.ID != id || rec.Content == "" {
			skipped = append(skipped, errs.E(errs.CorruptRecord, "load memory", id, "missing id or content"))
			continue
		}
		records = append(records, rec)
	}
	return records, skipped, rows.Err()
}

func decodeRecord(id, data string, version, supported int, v any) error {
	if version < 1 || version > supported {
		return errs.E(errs.CorruptRecord, "load record", id, fmt.Sprintf("unsupported schema version %d", version))
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return errs.Wrap(errs.CorruptRecord, "load record", id, err)
	}
	return nil
}

// SetState stores a key/value pair.
func (db *DB) SetState(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

// GetState returns the value for key, or "" if it is unset.
func (db *DB) GetState(key string) (string, error) {
	var value string
	err := db.QueryRow("SELECT value FROM state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get state %s: %w", key, err)
	}
	return value, nil
}

// DeleteState removes key.
func (db *DB) DeleteState(key string) error {
	if _, err := db.Exec("DELETE FROM state WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete state %s: %w", key, err)
	}
	return nil
}
