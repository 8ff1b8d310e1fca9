package socket

import (
	"context"
	"sync"

	"github.com/matheus3301/wirego/internal/bus"
	"github.com/matheus3301/wirego/internal/status"
	"github.com/matheus3301/wirego/internal/work"
	"go.uber.org/zap"
)

// ReconnectWorkName is the unique work name shared by every reconnect
// request, so at most one is ever pending.
const ReconnectWorkName = "websocket-reconnect"

// Connector is the part of a Connection the reconnect worker drives.
type Connector interface {
	Connect(ctx context.Context) error
}

// ForegroundChecker reports whether the client is in the foreground.
type ForegroundChecker interface {
	IsForeground() bool
}

// Enqueuer schedules unique work.
type Enqueuer interface {
	EnqueueUnique(name string, policy work.Policy, req work.Request) (work.Info, bool, error)
}

// ReconnectWorker reopens the socket unless the client is backgrounded.
type ReconnectWorker struct {
	conn   Connector
	app    ForegroundChecker
	logger *zap.Logger
}

// NewReconnectWorker creates a worker reconnecting conn.
func NewReconnectWorker(conn Connector, app ForegroundChecker, logger *zap.Logger) *ReconnectWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconnectWorker{conn: conn, app: app, logger: logger}
}

// DoWork fails without reconnecting while backgrounded, retries on a
// connect error and succeeds once the socket is open.
func (w *ReconnectWorker) DoWork(ctx context.Context) work.Result {
	if !w.app.IsForeground() {
		w.logger.Info("app in background, skipping websocket reconnect")
		return work.Failure
	}
	if err := w.conn.Connect(ctx); err != nil {
		w.logger.Warn("websocket reconnect failed", zap.Error(err))
		return work.Retry
	}
	return work.Success
}

// WorkHandler turns socket failures published on the bus into unique,
// network-constrained reconnect work.
type WorkHandler struct {
	bus       *bus.Bus
	scheduler Enqueuer
	worker    work.Worker
	backoff   work.Backoff
	attempts  int
	machine   *status.Machine
	logger    *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorkHandler creates a handler scheduling worker on failures.
func NewWorkHandler(b *bus.Bus, scheduler Enqueuer, worker work.Worker, backoff work.Backoff, logger *zap.Logger) *WorkHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkHandler{
		bus:       b,
		scheduler: scheduler,
		worker:    worker,
		backoff:   backoff,
		logger:    logger,
	}
}

// WithMaxAttempts caps the attempts of each reconnect unit; zero retries
// until the work succeeds or fails.
func (h *WorkHandler) WithMaxAttempts(n int) *WorkHandler {
	h.attempts = n
	return h
}

// WithMachine lets the handler move machine from RECONNECTING to
// DISCONNECTED when a reconnect unit ends without reconnecting.
func (h *WorkHandler) WithMachine(m *status.Machine) *WorkHandler {
	h.machine = m
	return h
}

// Start subscribes to socket failures and, with a machine, to reconnect
// work state changes.
func (h *WorkHandler) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})
	ch, unsub := h.bus.Subscribe(bus.KindSocketFailure, 16)
	var workCh <-chan bus.Event
	unsubWork := func() {}
	if h.machine != nil {
		workCh, unsubWork = h.bus.Subscribe(bus.KindWorkStateChanged, 16)
	}

	go func() {
		defer close(h.done)
		defer unsub()
		defer unsubWork()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-workCh:
				if info, ok := evt.Payload.(work.Info); ok {
					h.settle(info)
				}
			case evt := <-ch:
				if f, ok := evt.Payload.(FailureEvent); ok {
					h.logger.Info("socket failure, scheduling reconnect",
						zap.String("failure", string(f.Failure)), zap.Int("code", f.Code))
				}
				if _, _, err := h.Schedule(); err != nil {
					h.logger.Error("schedule reconnect", zap.Error(err))
				}
			}
		}
	}()
}

// settle leaves RECONNECTING once the reconnect unit failed or was
// cancelled; a running or retrying unit keeps it.
func (h *WorkHandler) settle(info work.Info) {
	if info.Name != ReconnectWorkName || (info.State != work.Failed && info.State != work.Cancelled) {
		return
	}
	moved, err := h.machine.TransitionFrom(status.Reconnecting, status.Disconnected)
	if err != nil {
		h.logger.Warn("settle status after reconnect work", zap.Error(err))
		return
	}
	if moved {
		h.logger.Info("reconnect work ended without a socket",
			zap.String("state", string(info.State)), zap.String("result", info.LastResult))
	}
}

// Stop unsubscribes and waits for the handler loop.
func (h *WorkHandler) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel = nil
	h.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Schedule enqueues the reconnect work, keeping any pending one. It reports
// whether a new unit was enqueued.
func (h *WorkHandler) Schedule() (work.Info, bool, error) {
	return h.scheduler.EnqueueUnique(ReconnectWorkName, work.Keep, work.Request{
		Worker:      h.worker,
		Constraints: work.Constraints{Network: work.NetworkConnected},
		Backoff:     h.backoff,
		MaxAttempts: h.attempts,
	})
}
