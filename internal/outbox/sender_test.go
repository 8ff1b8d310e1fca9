package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/wirego/internal/bus"
	"github.com/matheus3301/wirego/internal/socket"
	"github.com/matheus3301/wirego/internal/store"
	"golang.org/x/time/rate"
)

// mockSocket records frames and returns configurable results.
type mockSocket struct {
	mu        sync.Mutex
	frames    [][]byte
	err       error
	connected bool
	// dropOnErr marks the socket disconnected when a send fails.
	dropOnErr bool
}

func (m *mockSocket) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockSocket) Send(_ context.Context, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		if m.dropOnErr {
			m.connected = false
		}
		return m.err
	}
	m.frames = append(m.frames, payload)
	return nil
}

func (m *mockSocket) sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.frames...)
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.InsertConversation(context.Background(), &store.Conversation{ID: "conv-1", Name: "team"}); err != nil {
		t.Fatal(err)
	}
	return db
}

func newSender(db *store.DB, sock FrameSender, b *bus.Bus) *Sender {
	return NewSender(db, sock, b, Options{
		PollInterval: 20 * time.Millisecond,
		Limiter:      rate.NewLimiter(rate.Inf, 1),
	})
}

func messageState(t *testing.T, db *store.DB, id string) store.MessageState {
	t.Helper()
	m, err := db.MessageByID(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return m.State
}

func TestQueueRequiresConversation(t *testing.T) {
	db := testDB(t)
	s := newSender(db, &mockSocket{}, nil)

	if _, err := s.Queue(context.Background(), "missing", "u1", "c1", "hi"); err == nil {
		t.Fatal("expected error for unknown conversation")
	}
}

func TestSenderProcessesPendingMessages(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	sock := &mockSocket{connected: true}
	s := newSender(db, sock, b)

	ch, unsub := b.Subscribe(bus.KindMessageSendAck, 10)
	defer unsub()

	msg, err := s.Queue(context.Background(), "conv-1", "u1", "c1", "hello")
	if err != nil {
		t.Fatal(err)
	}

	s.Start(context.Background())
	defer s.Stop()

	select {
	case evt := <-ch:
		if got := evt.Payload.(SendResult); got.MessageID != msg.ID {
			t.Errorf("ack for %q, want %q", got.MessageID, msg.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for send_ack event")
	}

	frames := sock.sent()
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	var f Frame
	if err := json.Unmarshal(frames[0], &f); err != nil {
		t.Fatal(err)
	}
	if f.ID != msg.ID || f.ConversationID != "conv-1" || f.Content != "hello" {
		t.Errorf("frame = %+v", f)
	}
	if state := messageState(t, db, msg.ID); state != store.MessageSent {
		t.Errorf("state = %q, want sent", state)
	}
}

func TestSenderHandlesFailure(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	sock := &mockSocket{connected: true, err: fmt.Errorf("write frame: broken pipe")}
	s := newSender(db, sock, b)

	ch, unsub := b.Subscribe(bus.KindMessageSendFailed, 10)
	defer unsub()

	msg, err := s.Queue(context.Background(), "conv-1", "u1", "c1", "hello")
	if err != nil {
		t.Fatal(err)
	}
	s.ProcessPending(context.Background())

	select {
	case evt := <-ch:
		if got := evt.Payload.(SendResult); got.Error == "" {
			t.Error("send_failed without error text")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for send_failed event")
	}

	m, err := db.MessageByID(context.Background(), msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if m.State != store.MessageFailed || m.ErrorMessage == "" {
		t.Errorf("message = %+v, want failed with error", m)
	}
}

func TestSenderKeepsPendingWhileDisconnected(t *testing.T) {
	db := testDB(t)
	sock := &mockSocket{}
	s := newSender(db, sock, nil)

	msg, err := s.Queue(context.Background(), "conv-1", "u1", "c1", "later")
	if err != nil {
		t.Fatal(err)
	}
	s.ProcessPending(context.Background())

	if len(sock.sent()) != 0 {
		t.Fatal("frame sent while disconnected")
	}
	if state := messageState(t, db, msg.ID); state != store.MessagePending {
		t.Errorf("state = %q, want pending", state)
	}

	sock.mu.Lock()
	sock.connected = true
	sock.mu.Unlock()
	s.ProcessPending(context.Background())

	if state := messageState(t, db, msg.ID); state != store.MessageSent {
		t.Errorf("state = %q, want sent after reconnect", state)
	}
}

func TestSenderKeepsPendingWhenSocketDrops(t *testing.T) {
	db := testDB(t)
	sock := &mockSocket{connected: true, err: socket.ErrNotConnected}
	s := newSender(db, sock, nil)

	msg, err := s.Queue(context.Background(), "conv-1", "u1", "c1", "racy")
	if err != nil {
		t.Fatal(err)
	}
	s.ProcessPending(context.Background())

	if state := messageState(t, db, msg.ID); state != store.MessagePending {
		t.Errorf("state = %q, want pending", state)
	}
}

func TestSenderKeepsPendingWhenWriteFailsOnDroppedSocket(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	sock := &mockSocket{connected: true, err: fmt.Errorf("write frame: broken pipe"), dropOnErr: true}
	s := newSender(db, sock, b)

	ch, unsub := b.Subscribe(bus.KindMessageSendFailed, 10)
	defer unsub()

	msg, err := s.Queue(context.Background(), "conv-1", "u1", "c1", "mid-send")
	if err != nil {
		t.Fatal(err)
	}
	s.ProcessPending(context.Background())

	if state := messageState(t, db, msg.ID); state != store.MessagePending {
		t.Errorf("state = %q, want pending", state)
	}
	select {
	case evt := <-ch:
		t.Fatalf("unexpected send_failed: %+v", evt.Payload)
	default:
	}

	sock.mu.Lock()
	sock.connected = true
	sock.err = nil
	sock.mu.Unlock()
	s.ProcessPending(context.Background())

	if state := messageState(t, db, msg.ID); state != store.MessageSent {
		t.Errorf("state = %q, want sent after reconnect", state)
	}
}

func TestSenderSendsInOrder(t *testing.T) {
	db := testDB(t)
	sock := &mockSocket{connected: true}
	s := newSender(db, sock, nil)

	var ids []string
	for i := 0; i < 3; i++ {
		msg, err := s.Queue(context.Background(), "conv-1", "u1", "c1", fmt.Sprintf("m%d", i))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, msg.ID)
		time.Sleep(2 * time.Millisecond)
	}
	s.ProcessPending(context.Background())

	frames := sock.sent()
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	for i, raw := range frames {
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatal(err)
		}
		if f.ID != ids[i] {
			t.Errorf("frame %d = %s, want %s", i, f.ID, ids[i])
		}
	}
}
