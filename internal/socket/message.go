package socket

import (
	"errors"
	"sync"
	"time"
)

// Failure tags a message that reports the end of a socket instead of data.
type Failure string

const (
	// Aborted means the peer closed with a non-normal close code.
	Aborted Failure = "aborted"
	// Closed means a normal closure (1000) or a local disconnect.
	Closed Failure = "closed"
	// Errored means the transport failed without a close frame.
	Errored Failure = "error"
)

// ShouldReconnect reports whether the failure warrants scheduling a
// reconnect.
func (f Failure) ShouldReconnect() bool {
	return f == Aborted || f == Errored
}

var (
	// ErrNotConnected is returned by Send while no socket is open.
	ErrNotConnected = errors.New("socket: not connected")
	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("socket: connection closed")
)

// Message is one element of a connection's stream: either a data frame or a
// failure marker.
type Message struct {
	Payload    []byte
	Failure    Failure
	Err        error
	ReceivedAt time.Time
}

// IsFailure reports whether m is a failure marker.
func (m Message) IsFailure() bool {
	return m.Failure != ""
}

// FailureEvent is the payload of socket.failure and socket.disconnected bus
// events.
type FailureEvent struct {
	URL     string  `json:"url"`
	Failure Failure `json:"failure"`
	Code    int     `json:"code,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

// queue is an unbounded FIFO feeding a channel. push never blocks; after
// close() the consumer has drainTimeout to take what is left, then the
// remainder is dropped and the output channel is closed.
type queue struct {
	mu           sync.Mutex
	items        []Message
	closed       bool
	signal       chan struct{}
	done         chan struct{}
	out          chan Message
	drainTimeout time.Duration
}

func newQueue(drainTimeout time.Duration) *queue {
	q := &queue{
		signal:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		out:          make(chan Message),
		drainTimeout: drainTimeout,
	}
	go q.pump()
	return q
}

func (q *queue) push(m Message) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, m)
	q.mu.Unlock()
	q.wake()
	return true
}

func (q *queue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()
	q.wake()
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *queue) pump() {
	defer close(q.out)
	var abandon <-chan time.Time
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.signal
			continue
		}
		m := q.items[0]
		q.items[0] = Message{}
		q.items = q.items[1:]
		q.mu.Unlock()

		if !q.deliver(m, &abandon) {
			q.mu.Lock()
			q.items = nil
			q.mu.Unlock()
			return
		}
	}
}

// deliver blocks until m is consumed. It returns false once the drain
// window after close() has run out.
func (q *queue) deliver(m Message, abandon *<-chan time.Time) bool {
	for {
		done := q.done
		if *abandon != nil {
			done = nil
		}
		select {
		case q.out <- m:
			return true
		case <-done:
			*abandon = time.After(q.drainTimeout)
		case <-*abandon:
			return false
		}
	}
}
