// Package ledger provides an append-only history of reconciliation
// outcomes. It supports invocation deduplication and auditing.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventReconcileStarted   EventType = "reconcile_started"
	EventReconcileRetry     EventType = "reconcile_retry"
	EventReconcileCompleted EventType = "reconcile_completed"
	EventReconcileFailed    EventType = "reconcile_failed"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID           int64
	EventType    EventType
	Timestamp    time.Time
	InvocationID string
	Rule         string
	Payload      map[string]any
}

// Ledger provides append-only event logging with deduplication
type Ledger struct {
	db *sql.DB
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append adds a new event to the ledger.
// For reconcile_completed events, uses INSERT OR IGNORE so only the first
// completion per invocation id is recorded (enforced by unique partial index).
func (l *Ledger) Append(eventType EventType, invocationID, rule string, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	now := time.Now().UTC().Unix()

	insertSQL := `INSERT INTO reconcile_ledger (event_type, timestamp, invocation_id, rule, payload) VALUES (?, ?, ?, ?, ?)`
	if eventType == EventReconcileCompleted && invocationID != "" {
		insertSQL = `INSERT OR IGNORE INTO reconcile_ledger (event_type, timestamp, invocation_id, rule, payload) VALUES (?, ?, ?, ?, ?)`
	}

	_, err = l.db.Exec(insertSQL, string(eventType), now, invocationID, rule, string(payloadJSON))

	return err
}

// HasCompleted checks if an invocation has already completed successfully
func (l *Ledger) HasCompleted(invocationID string) bool {
	if invocationID == "" {
		return false // Empty id = no dedupe
	}

	var exists int
	err := l.db.QueryRow(`
		SELECT 1 FROM reconcile_ledger
		WHERE invocation_id = ? AND event_type = ?
		LIMIT 1
	`, invocationID, string(EventReconcileCompleted)).Scan(&exists)

	return err == nil && exists == 1
}

// ByRule returns the most recent entries for a rule
func (l *Ledger) ByRule(rule string, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, invocation_id, rule, payload
		FROM reconcile_ledger
		WHERE rule = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, rule, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// Cleanup removes entries older than the given retention period.
// Returns the number of entries removed.
func (l *Ledger) Cleanup(retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UTC().Unix()

	result, err := l.db.Exec(`
		DELETE FROM reconcile_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup ledger: %w", err)
	}

	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry

	for rows.Next() {
		var entry Entry
		var timestamp int64
		var payloadStr sql.NullString
		var invocationID, rule sql.NullString

		if err := rows.Scan(&entry.ID, &entry.EventType, &timestamp, &invocationID, &rule, &payloadStr); err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		entry.InvocationID = invocationID.String
		entry.Rule = rule.String

		if payloadStr.Valid && payloadStr.String != "" {
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
