package store

import "time"

// Contact is a locally cached user profile.
type Contact struct {
	ID       string
	Name     string
	AssetKey *string
}

// ContactClient is a device belonging to a contact.
type ContactClient struct {
	UserID string
	ID     string
}

// ConversationType mirrors the backend conversation kinds.
type ConversationType int

const (
	ConversationGroup ConversationType = iota
	ConversationSelf
	ConversationOneToOne
	ConversationConnectionRequest
)

// Conversation is a locally cached conversation summary.
type Conversation struct {
	ID   string
	Name string
	Type ConversationType
}

// ConversationMember associates a contact with a conversation.
type ConversationMember struct {
	ConversationID string
	ContactID      string
}

// ConversationListItem is a conversation joined with the contacts of its
// members. Members without a contact record are omitted.
type ConversationListItem struct {
	Conversation Conversation
	Members      []Contact
}

// MessageState tracks an outgoing or incoming message's delivery.
type MessageState string

const (
	MessagePending  MessageState = "pending"
	MessageSent     MessageState = "sent"
	MessageFailed   MessageState = "failed"
	MessageReceived MessageState = "received"
)

// Message is a stored conversation message. Content is opaque to this module.
type Message struct {
	ID             string
	ConversationID string
	SenderUserID   string
	ClientID       string
	Type           string
	Content        string
	State          MessageState
	Time           time.Time
	IsRead         bool
	ErrorMessage   string
}

// MessageWithContact is a message paired with its sender's contact, if known.
type MessageWithContact struct {
	Message Message
	Contact *Contact
}

// Account is a user signed in on this session.
type Account struct {
	UserID              string
	ClientID            string
	PersistentWebSocket bool
	LastEventAt         *time.Time
}

// Event is an opaque socket frame waiting in the inbox.
type Event struct {
	ID         int64
	ReceivedAt time.Time
	Payload    []byte
}
