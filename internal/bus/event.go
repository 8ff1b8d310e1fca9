package bus

import "time"

// Event kinds published inside the daemon. Subscribers filter by prefix, so
// "socket." receives every socket event.
const (
	KindSocketConnected    = "socket.connected"
	KindSocketDisconnected = "socket.disconnected"
	KindSocketFailure      = "socket.failure"

	KindWorkStateChanged = "work.state_changed"

	KindForegroundChanged = "app.foreground_changed"

	KindEventReceived = "event.received"
	KindEventsAcked   = "event.acked"

	KindMessageUpserted   = "message.upserted"
	KindMessageSendAck    = "message.send_ack"
	KindMessageSendFailed = "message.send_failed"

	KindStatusChanged = "session.status_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event of the given kind with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
