package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/wirego/internal/bus"
	"github.com/matheus3301/wirego/internal/logging"
	"github.com/matheus3301/wirego/internal/metrics"
	"github.com/matheus3301/wirego/internal/socket"
	"github.com/matheus3301/wirego/internal/store"
	"go.uber.org/zap"
)

// MessageSource yields socket messages until the connection is closed.
type MessageSource interface {
	Messages() <-chan socket.Message
}

// EventReceived is the payload of bus.KindEventReceived.
type EventReceived struct {
	ID         int64     `json:"id"`
	Size       int       `json:"size"`
	ReceivedAt time.Time `json:"received_at"`
}

// EventsAcked is the payload of bus.KindEventsAcked.
type EventsAcked struct {
	UpTo   int64 `json:"up_to"`
	Pruned int64 `json:"pruned"`
}

// Engine drains socket frames into the event inbox and keeps the account's
// last event instant current.
type Engine struct {
	db      *store.DB
	source  MessageSource
	userID  string
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewEngine creates a new sync engine. userID is the account whose
// last_event_at is stamped on every frame; empty disables stamping.
func NewEngine(db *store.DB, source MessageSource, userID string, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Engine {
	return &Engine{
		db:      db,
		source:  source,
		userID:  userID,
		bus:     b,
		metrics: m,
		logger:  logging.OrNop(logger).Named("sync"),
	}
}

// Start begins draining the message stream.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	messages := e.source.Messages()

	go func() {
		defer close(e.done)
		for {
			select {
			case msg, ok := <-messages:
				if !ok {
					e.logger.Debug("message stream closed")
					return
				}
				e.handle(ctx, msg)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and waits for the drain loop to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handle(ctx context.Context, msg socket.Message) {
	if msg.IsFailure() {
		e.logger.Info("socket stream failure", zap.String("failure", string(msg.Failure)), zap.Error(msg.Err))
		return
	}
	if _, err := e.Ingest(ctx, msg.Payload, msg.ReceivedAt); err != nil {
		e.logger.Error("failed to ingest event", zap.Error(err), zap.Int("size", len(msg.Payload)))
	}
}

// Ingest stores one frame in the inbox, stamps the account and publishes
// event.received. It returns the inbox id.
func (e *Engine) Ingest(ctx context.Context, payload []byte, receivedAt time.Time) (int64, error) {
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	id, err := e.db.AppendEvent(ctx, payload, receivedAt)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	if e.userID != "" {
		if err := e.db.TouchLastEvent(ctx, e.userID, receivedAt); err != nil {
			return id, fmt.Errorf("touch last event: %w", err)
		}
	}
	e.metrics.EventReceived()
	if e.bus != nil {
		e.bus.Emit(bus.KindEventReceived, EventReceived{ID: id, Size: len(payload), ReceivedAt: receivedAt})
	}
	return id, nil
}

// AckEvents records that every event up to upTo was consumed and prunes them
// from the inbox. Acks behind the checkpoint prune nothing.
func (e *Engine) AckEvents(ctx context.Context, upTo int64) (int64, error) {
	pruned, err := e.db.AckEvents(ctx, upTo)
	if err != nil {
		return 0, fmt.Errorf("ack events: %w", err)
	}
	if pruned > 0 {
		e.logger.Debug("events acknowledged", zap.Int64("up_to", upTo), zap.Int64("pruned", pruned))
	}
	if e.bus != nil {
		e.bus.Emit(bus.KindEventsAcked, EventsAcked{UpTo: upTo, Pruned: pruned})
	}
	return pruned, nil
}
