package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// UpsertAccount stores a session account. LastEventAt is left untouched on
// update.
func (db *DB) UpsertAccount(ctx context.Context, a *Account) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO accounts (user_id, client_id, persistent_websocket)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			client_id = excluded.client_id,
			persistent_websocket = excluded.persistent_websocket`,
		a.UserID, a.ClientID, a.PersistentWebSocket)
	return err
}

// Accounts returns every session account.
func (db *DB) Accounts(ctx context.Context) ([]Account, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT user_id, client_id, persistent_websocket, last_event_at
		FROM accounts ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// AccountByUserID returns an account or ErrNotFound.
func (db *DB) AccountByUserID(ctx context.Context, userID string) (*Account, error) {
	row := db.QueryRowContext(ctx, `
		SELECT user_id, client_id, persistent_websocket, last_event_at
		FROM accounts WHERE user_id = ?`, userID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// SetPersistentWebSocket toggles an account's persistent socket preference.
func (db *DB) SetPersistentWebSocket(ctx context.Context, userID string, enabled bool) error {
	res, err := db.ExecContext(ctx, `UPDATE accounts SET persistent_websocket = ? WHERE user_id = ?`, enabled, userID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// TouchLastEvent records the instant of the latest socket event for an
// account. Older instants never overwrite newer ones.
func (db *DB) TouchLastEvent(ctx context.Context, userID string, at time.Time) error {
	_, err := db.ExecContext(ctx, `
		UPDATE accounts SET last_event_at = MAX(COALESCE(last_event_at, 0), ?)
		WHERE user_id = ?`, at.UnixMilli(), userID)
	return err
}

func scanAccount(r rowScanner) (*Account, error) {
	var a Account
	var last sql.NullInt64
	if err := r.Scan(&a.UserID, &a.ClientID, &a.PersistentWebSocket, &last); err != nil {
		return nil, err
	}
	if last.Valid {
		t := time.UnixMilli(last.Int64)
		a.LastEventAt = &t
	}
	return &a, nil
}
