package api

import (
	"context"

	"github.com/matheus3301/wirego/internal/outbox"
	"github.com/matheus3301/wirego/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	defaultPageSize     = 20
	defaultMessageLimit = 50
)

// Sender identifies the local user and device that authors outgoing
// messages.
type Sender struct {
	UserID   string
	ClientID string
}

// ConversationService implements wire.v1.ConversationService over the
// local store.
type ConversationService struct {
	db     *store.DB
	outbox *outbox.Sender
	sender Sender
}

// NewConversationService creates a new conversation service backed by the store.
func NewConversationService(db *store.DB, ob *outbox.Sender, sender Sender) *ConversationService {
	return &ConversationService{db: db, outbox: ob, sender: sender}
}

func (s *ConversationService) ListConversations(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	start, err := intField(req, "start", 0)
	if err != nil {
		return nil, err
	}
	count, err := intField(req, "count", defaultPageSize)
	if err != nil {
		return nil, err
	}
	items, err := s.db.ConversationListItemsInBatch(ctx, start, count)
	if err != nil {
		return nil, toStatus("list conversations", err)
	}

	out := make([]any, 0, len(items))
	for _, item := range items {
		members := make([]any, 0, len(item.Members))
		for _, c := range item.Members {
			members = append(members, contactToMap(c))
		}
		out = append(out, map[string]any{
			"id":      item.Conversation.ID,
			"name":    item.Conversation.Name,
			"type":    int(item.Conversation.Type),
			"members": members,
		})
	}
	return response(map[string]any{
		"conversations": out,
		"has_more":      len(items) == count && count > 0,
	})
}

// ListClients returns the clients of the given users, or every known client
// when user_ids is empty.
func (s *ConversationService) ListClients(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var (
		clients []store.ContactClient
		err     error
	)
	if ids := stringListField(req, "user_ids"); len(ids) > 0 {
		clients, err = s.db.ClientsByUserID(ctx, ids)
	} else {
		clients, err = s.db.Clients(ctx)
	}
	if err != nil {
		return nil, toStatus("list clients", err)
	}

	out := make([]any, 0, len(clients))
	for _, c := range clients {
		out = append(out, map[string]any{"user_id": c.UserID, "id": c.ID})
	}
	return response(map[string]any{"clients": out})
}

func (s *ConversationService) ListMessages(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	conversationID, err := requireString(req, "conversation_id")
	if err != nil {
		return nil, err
	}
	limit, err := intField(req, "limit", defaultMessageLimit)
	if err != nil {
		return nil, err
	}
	msgs, err := s.db.MessagesByConversationID(ctx, conversationID, limit)
	if err != nil {
		return nil, toStatus("list messages", err)
	}

	out := make([]any, 0, len(msgs))
	for _, m := range msgs {
		entry := messageToMap(&m.Message)
		if m.Contact != nil {
			entry["sender"] = contactToMap(*m.Contact)
		}
		out = append(out, entry)
	}
	return response(map[string]any{"messages": out})
}

// SendText queues a text message; the outbox delivers it once the socket is
// connected.
func (s *ConversationService) SendText(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.outbox == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "outbox not initialized")
	}
	conversationID, err := requireString(req, "conversation_id")
	if err != nil {
		return nil, err
	}
	text, err := requireString(req, "text")
	if err != nil {
		return nil, err
	}
	msg, err := s.outbox.Queue(ctx, conversationID, s.sender.UserID, s.sender.ClientID, text)
	if err != nil {
		return nil, toStatus("send text", err)
	}
	return response(map[string]any{
		"accepted":   true,
		"message_id": msg.ID,
		"state":      string(msg.State),
	})
}

func contactToMap(c store.Contact) map[string]any {
	m := map[string]any{"id": c.ID, "name": c.Name}
	if c.AssetKey != nil {
		m["asset_key"] = *c.AssetKey
	}
	return m
}

func messageToMap(m *store.Message) map[string]any {
	out := map[string]any{
		"id":              m.ID,
		"conversation_id": m.ConversationID,
		"sender_user_id":  m.SenderUserID,
		"client_id":       m.ClientID,
		"type":            m.Type,
		"content":         m.Content,
		"state":           string(m.State),
		"time_unix_ms":    m.Time.UnixMilli(),
		"is_read":         m.IsRead,
	}
	if m.ErrorMessage != "" {
		out["error"] = m.ErrorMessage
	}
	return out
}
