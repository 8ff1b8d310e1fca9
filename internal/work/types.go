package work

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknownWork is returned for a unique name that was never enqueued.
	ErrUnknownWork = errors.New("work: unknown unique work")
	// ErrStopped is returned when enqueueing on a stopped scheduler.
	ErrStopped = errors.New("work: scheduler stopped")
)

// Result is what a worker reports after one attempt.
type Result int

const (
	Success Result = iota
	Failure
	Retry
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Retry:
		return "retry"
	default:
		return "unknown"
	}
}

// State is the lifecycle state of a unit of work.
type State string

const (
	Enqueued  State = "ENQUEUED"
	Running   State = "RUNNING"
	Succeeded State = "SUCCEEDED"
	Failed    State = "FAILED"
	Blocked   State = "BLOCKED"
	Cancelled State = "CANCELLED"
)

// IsFinished reports whether the state is terminal.
func (s State) IsFinished() bool {
	return s == Succeeded || s == Failed || s == Cancelled
}

// Policy decides what happens when unique work with the same name is
// already pending.
type Policy int

const (
	// Keep leaves pending work alone and drops the new request.
	Keep Policy = iota
	// Replace cancels pending work and enqueues the new request.
	Replace
)

// NetworkType is the network requirement of a request.
type NetworkType int

const (
	NetworkNotRequired NetworkType = iota
	NetworkConnected
)

// Constraints must hold before an attempt starts. Work waiting on them is
// Blocked.
type Constraints struct {
	Network NetworkType
}

// Backoff is the exponential retry policy: Initial doubled per attempt,
// capped at Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff is used when a request leaves Backoff zero.
var DefaultBackoff = Backoff{Initial: 10 * time.Second, Max: 5 * time.Minute}

// Delay returns the wait before the next attempt after attempt number
// attempts (1-based) asked to retry.
func (b Backoff) Delay(attempts int) time.Duration {
	if b.Initial <= 0 {
		b = DefaultBackoff
	}
	d := b.Initial
	for i := 1; i < attempts; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// Worker performs one attempt of a unit of work. ctx is cancelled when the
// work is cancelled or replaced.
type Worker interface {
	DoWork(ctx context.Context) Result
}

// WorkerFunc adapts a function to Worker.
type WorkerFunc func(ctx context.Context) Result

func (f WorkerFunc) DoWork(ctx context.Context) Result { return f(ctx) }

// Request is a one-time unit of work.
type Request struct {
	Worker       Worker
	Constraints  Constraints
	InitialDelay time.Duration
	Backoff      Backoff
	// MaxAttempts caps the attempts before the work fails; zero retries
	// forever.
	MaxAttempts int
}

// Info is a snapshot of a unit of work.
type Info struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	State      State     `json:"state"`
	Attempts   int       `json:"attempts"`
	NextRunAt  time.Time `json:"next_run_at"`
	LastResult string    `json:"last_result,omitempty"`
}
