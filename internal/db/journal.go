package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const timeLayout = time.RFC3339Nano

// RecordTransition appends a transition and its audit entry in one transaction.
// It reports false without writing anything when the entry id was already recorded,
// which makes retries of the same commit idempotent. When the persisted history of
// the decision no longer ends in tr.From (another writer moved it first) nothing is
// written and an *InvalidTransitionError carrying the persisted status is returned.
func (db *DB) RecordTransition(ctx context.Context, tr Transition, entry AuditEntry) (bool, error) {
	snapshot, err := json.Marshal(tr.Decision)
	if err != nil {
		return false, fmt.Errorf("encoding decision snapshot: %w", err)
	}
	body, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("encoding audit entry: %w", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transition tx: %w", err)
	}
	defer tx.Rollback()

	inserted, err := insertAudit(ctx, tx, entry, body)
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}

	// The audit insert above holds the write lock, so the guard below sees
	// every transition committed by other connections to this file.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO decision_transitions (decision_id, from_status, to_status, occurred_at, entry_id, snapshot_json)
		SELECT ?, ?, ?, ?, ?, ?
		WHERE COALESCE((
			SELECT to_status FROM decision_transitions
			WHERE decision_id = ? ORDER BY seq DESC LIMIT 1
		), '') = ?
	`, tr.DecisionID, string(tr.From), string(tr.To), tr.At.UTC().Format(timeLayout), entry.ID, string(snapshot),
		tr.DecisionID, expectedTail(tr.From))
	if err != nil {
		return false, fmt.Errorf("appending transition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition rows affected: %w", err)
	}
	if n == 0 {
		current, err := latestStatus(ctx, tx, tr.DecisionID)
		if err != nil {
			return false, err
		}
		return false, &InvalidTransitionError{DecisionID: tr.DecisionID, From: current, To: tr.To}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transition: %w", err)
	}
	return true, nil
}

// expectedTail is the persisted status a transition out of from must follow.
// A decision leaving pending must have no persisted history at all.
func expectedTail(from Status) string {
	if from == StatusPending {
		return ""
	}
	return string(from)
}

func latestStatus(ctx context.Context, tx *sql.Tx, decisionID string) (Status, error) {
	var to string
	err := tx.QueryRowContext(ctx, `
		SELECT to_status FROM decision_transitions
		WHERE decision_id = ? ORDER BY seq DESC LIMIT 1
	`, decisionID).Scan(&to)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return StatusPending, nil
	case err != nil:
		return "", fmt.Errorf("reading latest transition: %w", err)
	}
	return Status(to), nil
}

// RecordAudit appends an audit entry that has no accompanying transition
// (for example a refused transition attempt).
func (db *DB) RecordAudit(ctx context.Context, entry AuditEntry) (bool, error) {
	body, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("encoding audit entry: %w", err)
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin audit tx: %w", err)
	}
	defer tx.Rollback()

	inserted, err := insertAudit(ctx, tx, entry, body)
	if err != nil || !inserted {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit audit: %w", err)
	}
	return true, nil
}

func insertAudit(ctx context.Context, tx *sql.Tx, entry AuditEntry, body []byte) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO audit_entries (entry_id, decision_id, event_type, actor, occurred_at, entry_json)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(entry_id) DO NOTHING
	`, entry.ID, entry.DecisionID, string(entry.EventType), entry.Actor, entry.Timestamp.UTC().Format(timeLayout), string(body))
	if err != nil {
		return false, fmt.Errorf("appending audit entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("audit rows affected: %w", err)
	}
	return n == 1, nil
}

// ListTransitions returns the full transition log in commit order.
func (db *DB) ListTransitions(ctx context.Context) ([]Transition, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT seq, decision_id, from_status, to_status, occurred_at, entry_id, snapshot_json
		FROM decision_transitions ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("listing transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var (
			tr       Transition
			from, to string
			at       string
			snapshot string
		)
		if err := rows.Scan(&tr.Seq, &tr.DecisionID, &from, &to, &at, &tr.EntryID, &snapshot); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}
		tr.From, tr.To = Status(from), Status(to)
		if tr.At, err = time.Parse(timeLayout, at); err != nil {
			return nil, fmt.Errorf("transition %d: parsing time: %w", tr.Seq, err)
		}
		if err := json.Unmarshal([]byte(snapshot), &tr.Decision); err != nil {
			return nil, fmt.Errorf("transition %d: decoding snapshot: %w", tr.Seq, err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// ListAuditEntries returns every audit entry in append order.
func (db *DB) ListAuditEntries(ctx context.Context) ([]AuditEntry, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT seq, entry_json FROM audit_entries ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			seq  int64
			body string
			e    AuditEntry
		)
		if err := rows.Scan(&seq, &body); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		if err := json.Unmarshal([]byte(body), &e); err != nil {
			return nil, fmt.Errorf("audit entry %d: decoding: %w", seq, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
