package store

import (
	"context"
	"fmt"
)

const insertMemberSQL = `INSERT OR IGNORE INTO conversation_members (conversation_id, contact_id) VALUES (?, ?)`

// InsertMember adds a member to a conversation. The conversation must exist;
// the contact need not.
func (db *DB) InsertMember(ctx context.Context, m *ConversationMember) error {
	_, err := db.ExecContext(ctx, insertMemberSQL, m.ConversationID, m.ContactID)
	return err
}

// InsertMembers adds members in one transaction.
func (db *DB) InsertMembers(ctx context.Context, members []ConversationMember) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range members {
		if _, err := tx.ExecContext(ctx, insertMemberSQL, m.ConversationID, m.ContactID); err != nil {
			return fmt.Errorf("insert member %q of %q: %w", m.ContactID, m.ConversationID, err)
		}
	}
	return tx.Commit()
}

// RemoveMember drops a member from a conversation.
func (db *DB) RemoveMember(ctx context.Context, m *ConversationMember) error {
	_, err := db.ExecContext(ctx, `DELETE FROM conversation_members WHERE conversation_id = ? AND contact_id = ?`,
		m.ConversationID, m.ContactID)
	return err
}

// MembersOf returns the raw member rows of a conversation, including those
// whose contact is not cached.
func (db *DB) MembersOf(ctx context.Context, conversationID string) ([]ConversationMember, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT conversation_id, contact_id FROM conversation_members
		WHERE conversation_id = ?
		ORDER BY rowid`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var members []ConversationMember
	for rows.Next() {
		var m ConversationMember
		if err := rows.Scan(&m.ConversationID, &m.ContactID); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// MemberContacts returns the contacts of a conversation's members. Members
// without a contact record are dropped.
func (db *DB) MemberContacts(ctx context.Context, conversationID string) ([]Contact, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT c.id, c.name, c.asset_key
		FROM conversation_members cm
		JOIN contacts c ON c.id = cm.contact_id
		WHERE cm.conversation_id = ?
		ORDER BY cm.rowid`, conversationID)
	if err != nil {
		return nil, err
	}
	return scanContacts(rows)
}
