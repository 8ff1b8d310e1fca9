package store

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

const checkpointEventsAcked = "events.acked"

// AppendEvent stores an opaque socket frame in the inbox and returns its id.
func (db *DB) AppendEvent(ctx context.Context, payload []byte, receivedAt time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `INSERT INTO events (received_at, payload) VALUES (?, ?)`,
		receivedAt.UnixMilli(), payload)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// EventsAfter returns up to limit inbox events with id greater than afterID.
func (db *DB) EventsAfter(ctx context.Context, afterID int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, received_at, payload FROM events
		WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var e Event
		var ts int64
		if err := rows.Scan(&e.ID, &ts, &e.Payload); err != nil {
			return nil, err
		}
		e.ReceivedAt = time.UnixMilli(ts)
		events = append(events, e)
	}
	return events, rows.Err()
}

// AckEvents marks every event up to and including upTo as consumed and
// deletes them from the inbox. Acks never move backwards.
func (db *DB) AckEvents(ctx context.Context, upTo int64) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, checkpointEventsAcked).Scan(&current)
	if err == nil {
		if prev, perr := strconv.ParseInt(current, 10, 64); perr == nil && prev >= upTo {
			return 0, nil
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		checkpointEventsAcked, strconv.FormatInt(upTo, 10), time.Now().UnixMilli()); err != nil {
		return 0, fmt.Errorf("update checkpoint: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id <= ?`, upTo)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return res.RowsAffected()
}

// AckedEventID returns the last acknowledged event id, zero when nothing was
// acknowledged yet.
func (db *DB) AckedEventID(ctx context.Context) (int64, error) {
	v, err := db.Checkpoint(ctx, checkpointEventsAcked)
	if err != nil || v == "" {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

// PendingEventCount returns how many events wait in the inbox.
func (db *DB) PendingEventCount(ctx context.Context) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count)
	return count, err
}
