package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wirego/internal/bus"
	"github.com/matheus3301/wirego/internal/metrics"
	"github.com/matheus3301/wirego/internal/socket"
	"github.com/matheus3301/wirego/internal/store"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultSendTimeout  = 10 * time.Second
)

// FrameSender writes frames to the backend socket.
type FrameSender interface {
	IsConnected() bool
	Send(ctx context.Context, payload []byte) error
}

// Frame is the envelope written to the socket for an outgoing message.
type Frame struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderUserID   string `json:"sender_user_id"`
	ClientID       string `json:"client_id"`
	Type           string `json:"type"`
	Content        string `json:"content"`
	Time           int64  `json:"time"`
}

// SendResult is the payload of message.send_ack and message.send_failed.
type SendResult struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Error          string `json:"error,omitempty"`
}

// Options configures a Sender.
type Options struct {
	PollInterval time.Duration
	// Limiter bounds the frame rate; nil allows 10 frames/s with bursts of 5.
	Limiter *rate.Limiter
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Sender drains pending outgoing messages through the socket.
type Sender struct {
	db       *store.DB
	sender   FrameSender
	bus      *bus.Bus
	metrics  *metrics.Metrics
	limiter  *rate.Limiter
	interval time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, sender FrameSender, b *bus.Bus, opts Options) *Sender {
	s := &Sender{
		db:       db,
		sender:   sender,
		bus:      b,
		metrics:  opts.Metrics,
		limiter:  opts.Limiter,
		interval: opts.PollInterval,
		logger:   opts.Logger,
	}
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Limit(10), 5)
	}
	if s.interval <= 0 {
		s.interval = defaultPollInterval
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("outbox")
	return s
}

// Queue stores a new pending text message and returns it. The send loop
// picks it up on its next pass.
func (s *Sender) Queue(ctx context.Context, conversationID, senderUserID, clientID, content string) (*store.Message, error) {
	if _, err := s.db.ConversationByID(ctx, conversationID); err != nil {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, err)
	}
	msg := &store.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderUserID:   senderUserID,
		ClientID:       clientID,
		Type:           "text",
		Content:        content,
		State:          store.MessagePending,
		Time:           time.Now(),
		IsRead:         true,
	}
	if err := s.db.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	s.emit(bus.KindMessageUpserted, SendResult{MessageID: msg.ID, ConversationID: conversationID})
	return msg, nil
}

// Start begins polling the outbox for pending messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the sender loop and waits for the current pass to finish.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.ProcessPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// ProcessPending sends every pending message once. Messages stay pending
// while the socket is down, including when it drops during a send.
func (s *Sender) ProcessPending(ctx context.Context) {
	if !s.sender.IsConnected() {
		return
	}
	pending, err := s.db.PendingOutgoing(ctx)
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for i := range pending {
		msg := &pending[i]
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		err := s.send(ctx, msg)
		if err != nil && (errors.Is(err, socket.ErrNotConnected) || !s.sender.IsConnected()) {
			s.logger.Debug("socket went away, keeping messages pending",
				zap.String("message_id", msg.ID), zap.Error(err))
			return
		}
		if err != nil {
			s.fail(ctx, msg, err)
			continue
		}

		if err := s.db.UpdateMessageState(ctx, msg.ID, store.MessageSent, ""); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("message_id", msg.ID))
		}
		s.metrics.OutboxSend(true)
		s.logger.Info("message sent", zap.String("message_id", msg.ID))
		s.emit(bus.KindMessageSendAck, SendResult{MessageID: msg.ID, ConversationID: msg.ConversationID})
	}
}

func (s *Sender) send(ctx context.Context, msg *store.Message) error {
	frame, err := json.Marshal(Frame{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderUserID:   msg.SenderUserID,
		ClientID:       msg.ClientID,
		Type:           msg.Type,
		Content:        msg.Content,
		Time:           msg.Time.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, defaultSendTimeout)
	defer cancel()
	return s.sender.Send(ctx, frame)
}

func (s *Sender) fail(ctx context.Context, msg *store.Message, cause error) {
	s.logger.Error("failed to send message", zap.Error(cause), zap.String("message_id", msg.ID))
	if err := s.db.UpdateMessageState(ctx, msg.ID, store.MessageFailed, cause.Error()); err != nil {
		s.logger.Error("failed to mark failed", zap.Error(err), zap.String("message_id", msg.ID))
	}
	s.metrics.OutboxSend(false)
	s.emit(bus.KindMessageSendFailed, SendResult{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		Error:          cause.Error(),
	})
}

func (s *Sender) emit(kind string, payload any) {
	if s.bus != nil {
		s.bus.Emit(kind, payload)
	}
}
