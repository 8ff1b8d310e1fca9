package socket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/wirego/internal/bus"
	"github.com/matheus3301/wirego/internal/metrics"
	"github.com/matheus3301/wirego/internal/status"
	"go.uber.org/zap"
)

const (
	closeWriteTimeout = time.Second
	// closeDrainTimeout bounds how long Close keeps undelivered messages
	// for a consumer that stopped reading.
	closeDrainTimeout = 5 * time.Second
)

// Options configures a Connection.
type Options struct {
	BaseURL          string
	ClientID         string
	AccessToken      string
	HandshakeTimeout time.Duration

	Bus     *bus.Bus
	Machine *status.Machine
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Connection maintains a single websocket to the event endpoint and exposes
// its frames as a stream of Messages.
type Connection struct {
	url         string
	accessToken string
	dialer      *websocket.Dialer

	// dialMu serializes Connect and Disconnect.
	dialMu  sync.Mutex
	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	closed  bool

	queue   *queue
	bus     *bus.Bus
	machine *status.Machine
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewConnection creates a disconnected connection to BaseURL+ClientID.
func NewConnection(opts Options) *Connection {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	handshake := opts.HandshakeTimeout
	if handshake <= 0 {
		handshake = 15 * time.Second
	}
	return &Connection{
		url:         opts.BaseURL + opts.ClientID,
		accessToken: opts.AccessToken,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshake,
		},
		queue:   newQueue(closeDrainTimeout),
		bus:     opts.Bus,
		machine: opts.Machine,
		metrics: opts.Metrics,
		logger:  logger.Named("socket"),
	}
}

// URL returns the endpoint this connection dials.
func (c *Connection) URL() string {
	return c.url
}

// Messages returns the stream of frames and failure markers. Consumers must
// keep reading it; after Close the channel is closed once the remaining
// messages were delivered, or after a short drain window when nobody reads.
func (c *Connection) Messages() <-chan Message {
	return c.queue.out
}

// Pending returns how many messages wait in the queue.
func (c *Connection) Pending() int {
	return c.queue.len()
}

// IsConnected reports whether a socket is open.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect opens the socket. It is a no-op when already connected.
func (c *Connection) Connect(ctx context.Context) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.transition(status.Connecting)
	c.logger.Info("connecting websocket", zap.String("url", c.url))

	header := http.Header{}
	if c.accessToken != "" {
		header.Set("Authorization", "Bearer "+c.accessToken)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.metrics.SocketConnect(false)
		c.transition(status.Disconnected)
		c.logger.Warn("websocket dial failed", zap.Error(err))
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.mu.Unlock()

	c.metrics.SocketConnect(true)
	c.transition(status.Connected)
	c.emit(bus.KindSocketConnected, c.url)
	c.logger.Info("websocket connected")

	go c.listen(conn)
	return nil
}

// Disconnect closes the socket normally. The stream receives a Closed
// marker and no reconnect is scheduled. It is a no-op when not connected.
func (c *Connection) Disconnect() error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()
	return c.disconnect()
}

// Close disconnects and ends the message stream. A closed connection cannot
// be reconnected.
func (c *Connection) Close() error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	err := c.disconnect()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.queue.close()
	return err
}

func (c *Connection) disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	writeErr := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeWriteTimeout))
	closeErr := conn.Close()

	c.queue.push(Message{Failure: Closed, ReceivedAt: time.Now()})
	c.metrics.SocketClosed()
	c.transition(status.Disconnected)
	c.emit(bus.KindSocketDisconnected, FailureEvent{URL: c.url, Failure: Closed, Code: websocket.CloseNormalClosure})
	c.logger.Info("websocket disconnected")

	if writeErr != nil && !errors.Is(writeErr, websocket.ErrCloseSent) {
		return fmt.Errorf("send close frame: %w", errors.Join(writeErr, closeErr))
	}
	if closeErr != nil {
		return fmt.Errorf("close socket: %w", closeErr)
	}
	return nil
}

// Send writes one binary frame.
func (c *Connection) Send(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	// A zero deadline clears any previous one.
	deadline, _ := ctx.Deadline()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// listen forwards frames from conn into the queue until the socket ends.
func (c *Connection) listen(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(conn, err)
			return
		}
		c.queue.push(Message{Payload: data, ReceivedAt: time.Now()})
	}
}

func (c *Connection) handleReadError(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// Disconnect already replaced or cleared this socket.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()
	_ = conn.Close()

	evt := FailureEvent{URL: c.url, Failure: Errored}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		evt.Code = closeErr.Code
		evt.Reason = closeErr.Text
		if closeErr.Code == websocket.CloseNormalClosure {
			evt.Failure = Closed
		} else {
			evt.Failure = Aborted
		}
	}

	c.queue.push(Message{Failure: evt.Failure, Err: err, ReceivedAt: time.Now()})
	c.metrics.SocketFailure(string(evt.Failure))
	c.emit(bus.KindSocketDisconnected, evt)

	if evt.Failure.ShouldReconnect() {
		c.logger.Warn("websocket failed", zap.String("failure", string(evt.Failure)),
			zap.Int("code", evt.Code), zap.Error(err))
		c.transition(status.Reconnecting)
		c.emit(bus.KindSocketFailure, evt)
		return
	}
	c.logger.Info("websocket closed by peer", zap.Int("code", evt.Code))
	c.transition(status.Disconnected)
}

func (c *Connection) transition(to status.State) {
	if c.machine == nil {
		return
	}
	if err := c.machine.Transition(to); err != nil {
		c.logger.Debug("state transition skipped", zap.Error(err))
	}
}

func (c *Connection) emit(kind string, payload any) {
	if c.bus != nil {
		c.bus.Emit(kind, payload)
	}
}
