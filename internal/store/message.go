package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SaveMessage inserts or updates a message (idempotent on id).
func (db *DB) SaveMessage(ctx context.Context, m *Message) error {
	if m.State == "" {
		m.State = MessagePending
	}
	if m.Type == "" {
		m.Type = "text"
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_user_id, client_id, type, content, state, time, is_read, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			state = excluded.state,
			error_message = excluded.error_message`,
		m.ID, m.ConversationID, m.SenderUserID, m.ClientID, m.Type, m.Content, m.State,
		m.Time.UnixMilli(), m.IsRead, m.ErrorMessage)
	return err
}

// MessageByID returns a message or ErrNotFound.
func (db *DB) MessageByID(ctx context.Context, id string) (*Message, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, conversation_id, sender_user_id, client_id, type, content, state, time, is_read, error_message
		FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// MessagesByConversationID returns a conversation's messages oldest first,
// each with its sender's contact when cached.
func (db *DB) MessagesByConversationID(ctx context.Context, conversationID string, limit int) ([]MessageWithContact, error) {
	if limit <= 0 {
		limit = 50
	}
	return db.queryMessagesWithContact(ctx, `
		SELECT * FROM (
			SELECT m.id, m.conversation_id, m.sender_user_id, m.client_id, m.type, m.content, m.state,
				m.time AS sent_at, m.is_read, m.error_message,
				c.id AS contact_id, c.name AS contact_name, c.asset_key AS contact_asset_key
			FROM messages m
			LEFT JOIN contacts c ON c.id = m.sender_user_id
			WHERE m.conversation_id = ?
			ORDER BY m.time DESC
			LIMIT ?
		) ORDER BY sent_at ASC`, conversationID, limit)
}

// LatestUnreadMessages returns up to size unread messages of a conversation,
// newest first.
func (db *DB) LatestUnreadMessages(ctx context.Context, conversationID string, size int) ([]MessageWithContact, error) {
	if size <= 0 {
		size = 10
	}
	return db.queryMessagesWithContact(ctx, `
		SELECT m.id, m.conversation_id, m.sender_user_id, m.client_id, m.type, m.content, m.state,
			m.time, m.is_read, m.error_message, c.id, c.name, c.asset_key
		FROM messages m
		LEFT JOIN contacts c ON c.id = m.sender_user_id
		WHERE m.conversation_id = ? AND m.is_read = 0
		ORDER BY m.time DESC
		LIMIT ?`, conversationID, size)
}

// MarkConversationRead flags every message of a conversation as read.
func (db *DB) MarkConversationRead(ctx context.Context, conversationID string) (int64, error) {
	res, err := db.ExecContext(ctx, `UPDATE messages SET is_read = 1 WHERE conversation_id = ? AND is_read = 0`, conversationID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PendingOutgoing returns messages still waiting to be sent, oldest first.
func (db *DB) PendingOutgoing(ctx context.Context) ([]Message, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_user_id, client_id, type, content, state, time, is_read, error_message
		FROM messages WHERE state = ? ORDER BY time ASC`, MessagePending)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// UpdateMessageState moves a message to a new state, recording errMsg for
// failures. Returns ErrNotFound for unknown ids.
func (db *DB) UpdateMessageState(ctx context.Context, id string, state MessageState, errMsg string) error {
	res, err := db.ExecContext(ctx, `UPDATE messages SET state = ?, error_message = ? WHERE id = ?`, state, errMsg, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount(ctx context.Context) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(r rowScanner) (*Message, error) {
	var m Message
	var ts int64
	if err := r.Scan(&m.ID, &m.ConversationID, &m.SenderUserID, &m.ClientID, &m.Type, &m.Content,
		&m.State, &ts, &m.IsRead, &m.ErrorMessage); err != nil {
		return nil, err
	}
	m.Time = time.UnixMilli(ts)
	return &m, nil
}

func (db *DB) queryMessagesWithContact(ctx context.Context, query string, args ...any) ([]MessageWithContact, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []MessageWithContact
	for rows.Next() {
		var (
			m         Message
			ts        int64
			contactID sql.NullString
			name      sql.NullString
			assetKey  *string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderUserID, &m.ClientID, &m.Type, &m.Content,
			&m.State, &ts, &m.IsRead, &m.ErrorMessage, &contactID, &name, &assetKey); err != nil {
			return nil, err
		}
		m.Time = time.UnixMilli(ts)
		item := MessageWithContact{Message: m}
		if contactID.Valid {
			item.Contact = &Contact{ID: contactID.String, Name: name.String, AssetKey: assetKey}
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
