package store

import (
	"context"
	"fmt"
)

// ConversationListItemsInBatch returns count conversations starting at the
// zero-based position start, in insertion order, each joined with the
// contacts of its members. A window past the end yields an empty slice.
func (db *DB) ConversationListItemsInBatch(ctx context.Context, start, count int) ([]ConversationListItem, error) {
	if start < 0 || count < 0 {
		return nil, fmt.Errorf("%w: start=%d count=%d", ErrInvalidWindow, start, count)
	}
	items := []ConversationListItem{}
	if count == 0 {
		return items, nil
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, name, type FROM conversations
		ORDER BY rowid
		LIMIT ? OFFSET ?`, count, start)
	if err != nil {
		return nil, err
	}
	conversations, err := scanConversations(rows)
	if err != nil {
		return nil, err
	}
	if len(conversations) == 0 {
		return items, nil
	}

	ids := make([]string, len(conversations))
	index := make(map[string]int, len(conversations))
	for i, c := range conversations {
		ids[i] = c.ID
		index[c.ID] = i
		items = append(items, ConversationListItem{Conversation: c, Members: []Contact{}})
	}

	in, args := inClause(ids)
	memberRows, err := db.QueryContext(ctx, `
		SELECT cm.conversation_id, c.id, c.name, c.asset_key
		FROM conversation_members cm
		JOIN contacts c ON c.id = cm.contact_id
		WHERE cm.conversation_id IN (`+in+`)
		ORDER BY cm.rowid`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = memberRows.Close() }()

	for memberRows.Next() {
		var conversationID string
		var c Contact
		if err := memberRows.Scan(&conversationID, &c.ID, &c.Name, &c.AssetKey); err != nil {
			return nil, err
		}
		i := index[conversationID]
		items[i].Members = append(items[i].Members, c)
	}
	return items, memberRows.Err()
}
