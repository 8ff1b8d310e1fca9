package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const upsertConversationSQL = `
	INSERT INTO conversations (id, name, type, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		type = excluded.type,
		updated_at = excluded.updated_at`

// InsertConversation inserts or updates a conversation. An update keeps the
// conversation's original position in the list ordering.
func (db *DB) InsertConversation(ctx context.Context, c *Conversation) error {
	_, err := db.ExecContext(ctx, upsertConversationSQL, c.ID, c.Name, c.Type, time.Now().UnixMilli())
	return err
}

// InsertConversations inserts or updates conversations in one transaction.
func (db *DB) InsertConversations(ctx context.Context, conversations []Conversation) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, c := range conversations {
		if _, err := tx.ExecContext(ctx, upsertConversationSQL, c.ID, c.Name, c.Type, now); err != nil {
			return fmt.Errorf("insert conversation %q: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// ConversationByID returns a conversation or ErrNotFound.
func (db *DB) ConversationByID(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRowContext(ctx, `SELECT id, name, type FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Type)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Conversations returns all conversations in insertion order.
func (db *DB) Conversations(ctx context.Context) ([]Conversation, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name, type FROM conversations ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	return scanConversations(rows)
}

// UpdateConversationName renames a conversation. Returns ErrNotFound when
// no conversation has the given id.
func (db *DB) UpdateConversationName(ctx context.Context, id, name string) error {
	res, err := db.ExecContext(ctx, `UPDATE conversations SET name = ?, updated_at = ? WHERE id = ?`,
		name, time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// DeleteConversation removes a conversation together with its members and
// messages.
func (db *DB) DeleteConversation(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// ConversationCount returns the total number of conversations.
func (db *DB) ConversationCount(ctx context.Context) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}

func scanConversations(rows *sql.Rows) ([]Conversation, error) {
	defer func() { _ = rows.Close() }()

	var conversations []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Name, &c.Type); err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
