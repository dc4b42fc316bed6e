package store

import (
	"fmt"
)

// maxUtteranceSize bounds stored utterance text.
const maxUtteranceSize = 4 * 1024

// Utterance is one attributed utterance.
type Utterance struct {
	ID        int64
	ProfileID string
	Text      string
	CreatedAt int64
}

// Action is one entry of the host's command/action log.
type Action struct {
	ID        int64
	ProfileID string
	Action    string
	CreatedAt int64
}

// AddUtterance records an utterance attributed to profileID. Text over 4KB
// is truncated.
func (db *DB) AddUtterance(profileID, text string, at int64) error {
	if len(text) > maxUtteranceSize {
		text = text[:maxUtteranceSize]
	}
	_, err := db.Exec(`
		INSERT INTO utterances (profile_id, text, created_at) VALUES (?, ?, ?)
	`, profileID, text, at)
	if err != nil {
		return fmt.Errorf("add utterance: %w", err)
	}
	return nil
}

// AddAction records a host action attributed to profileID.
func (db *DB) AddAction(profileID, action string, at int64) error {
	_, err := db.Exec(`
		INSERT INTO actions (profile_id, action, created_at) VALUES (?, ?, ?)
	`, profileID, action, at)
	if err != nil {
		return fmt.Errorf("add action: %w", err)
	}
	return nil
}

// RecentUtterances returns up to limit of the most recent utterances per
// profile, oldest first within a profile.
func (db *DB) RecentUtterances(limit int) ([]Utterance, error) {
	rows, err := db.Query(`
		SELECT id, profile_id, text, created_at FROM (
			SELECT id, profile_id, text, created_at,
				ROW_NUMBER() OVER (PARTITION BY profile_id ORDER BY created_at DESC, id DESC) AS rn
			FROM utterances
		) WHERE rn <= ? ORDER BY profile_id, created_at, id
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent utterances: %w", err)
	}
	defer rows.Close()

	var out []Utterance
	for rows.Next() {
		var u Utterance
		if err := rows.Scan(&u.ID, &u.ProfileID, &u.Text, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan utterance: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// RecentActions returns up to limit of the most recent actions per profile,
// oldest first within a profile.
func (db *DB) RecentActions(limit int) ([]Action, error) {
	rows, err := db.Query(`
		SELECT id, profile_id, action, created_at FROM (
			SELECT id, profile_id, action, created_at,
				ROW_NUMBER() OVER (PARTITION BY profile_id ORDER BY created_at DESC, id DESC) AS rn
			FROM actions
		) WHERE rn <= ? ORDER BY profile_id, created_at, id
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent actions: %w", err)
	}
	defer rows.Close()

	var out []Action
	for rows.Next() {
		var a Action
		if err := rows.Scan(&a.ID, &a.ProfileID, &a.Action, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ReassignActivity moves utterances and actions from one profile to another.
func (db *DB) ReassignActivity(from, to string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin reassign: %w", err)
	}
	for _, table := range []string{"utterances", "actions"} {
		if _, err := tx.Exec("UPDATE "+table+" SET profile_id = ? WHERE profile_id = ?", to, from); err != nil {
			tx.Rollback()
			return fmt.Errorf("reassign %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// DeleteActivity removes a profile's utterances and actions.
func (db *DB) DeleteActivity(profileID string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete activity: %w", err)
	}
	for _, table := range []string{"utterances", "actions"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE profile_id = ?", profileID); err != nil {
			tx.Rollback()
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	return tx.Commit()
}
