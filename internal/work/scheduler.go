package work

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wirego/internal/bus"
	"github.com/matheus3301/wirego/internal/metrics"
	"go.uber.org/zap"
)

const defaultPollInterval = 2 * time.Second

// Options configures a Scheduler. Zero values pick defaults.
type Options struct {
	Network      NetworkMonitor
	Bus          *bus.Bus
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
	PollInterval time.Duration
}

// Scheduler runs one-time units of work identified by unique names. Each
// name has at most one pending unit; pending units run in their own
// goroutine, waiting for constraints and backing off on Retry.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*job
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
	wg      sync.WaitGroup

	network NetworkMonitor
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
	poll    time.Duration
}

type job struct {
	id         uuid.UUID
	name       string
	req        Request
	state      State
	attempts   int
	nextRunAt  time.Time
	lastResult string
	// rerun is a Keep request that arrived while the unit was running; it is
	// enqueued once the unit finishes.
	rerun  *Request
	cancel context.CancelFunc
	done       chan struct{}
}

// NewScheduler creates a scheduler. Work enqueued before Start waits until
// Start is called.
func NewScheduler(opts Options) *Scheduler {
	s := &Scheduler{
		jobs:    make(map[string]*job),
		network: opts.Network,
		bus:     opts.Bus,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		poll:    opts.PollInterval,
	}
	if s.network == nil {
		s.network = InterfaceMonitor{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.poll <= 0 {
		s.poll = defaultPollInterval
	}
	return s
}

// Start launches every pending unit and accepts new ones.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	for _, j := range s.jobs {
		if !j.state.IsFinished() {
			s.launchLocked(j)
		}
	}
}

// Stop cancels every pending unit and waits for their goroutines.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	var changed []Info
	for _, j := range s.jobs {
		if !j.state.IsFinished() {
			j.cancelLocked()
			changed = append(changed, j.info())
		}
	}
	s.mu.Unlock()

	for _, info := range changed {
		s.publish(info)
	}
	s.wg.Wait()
}

// EnqueueUnique enqueues req under name. With Keep, pending work of the same
// name wins and the request is dropped, except that a request arriving
// while the unit is already running is held and enqueued when that unit
// finishes. With Replace, pending work is cancelled first. It returns the info of the unit now owning the name and
// whether req was enqueued.
func (s *Scheduler) EnqueueUnique(name string, policy Policy, req Request) (Info, bool, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return Info{}, false, ErrStopped
	}

	if existing, ok := s.jobs[name]; ok && !existing.state.IsFinished() {
		if policy == Keep {
			info := existing.info()
			if existing.state == Running {
				r := req
				existing.rerun = &r
			}
			s.mu.Unlock()
			s.logger.Debug("unique work already pending, keeping it",
				zap.String("name", name), zap.Stringer("id", info.ID),
				zap.String("state", string(info.State)))
			return info, false, nil
		}
		existing.cancelLocked()
		s.publish(existing.info())
	}

	j := &job{
		id:    uuid.New(),
		name:  name,
		req:   req,
		state: Enqueued,
		done:  make(chan struct{}),
	}
	if req.InitialDelay > 0 {
		j.nextRunAt = time.Now().Add(req.InitialDelay)
	}
	s.jobs[name] = j
	info := j.info()
	// Published before launch so ENQUEUED always precedes RUNNING.
	s.publish(info)
	if s.started {
		s.launchLocked(j)
	}
	s.mu.Unlock()

	s.logger.Info("work enqueued", zap.String("name", name), zap.Stringer("id", info.ID))
	return info, true, nil
}

// Info returns the latest unit enqueued under name.
func (s *Scheduler) Info(name string) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return Info{}, ErrUnknownWork
	}
	return j.info(), nil
}

// Infos returns a snapshot of every known unique name.
func (s *Scheduler) Infos() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.info())
	}
	return out
}

// Cancel cancels pending work under name. Cancelling finished work is a
// no-op.
func (s *Scheduler) Cancel(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownWork
	}
	if j.state.IsFinished() {
		s.mu.Unlock()
		return nil
	}
	j.cancelLocked()
	info := j.info()
	s.mu.Unlock()

	s.publish(info)
	return nil
}

// Wait blocks until the unit currently under name finishes or ctx ends.
func (s *Scheduler) Wait(ctx context.Context, name string) (Info, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return Info{}, ErrUnknownWork
	}
	select {
	case <-j.done:
	case <-ctx.Done():
		return Info{}, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return j.info(), nil
}

func (s *Scheduler) launchLocked(j *job) {
	ctx, cancel := context.WithCancel(s.ctx)
	j.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx, j)
}

func (s *Scheduler) run(ctx context.Context, j *job) {
	defer s.wg.Done()
	defer close(j.done)
	defer j.cancel()

	for {
		if wait := time.Until(s.nextRunAt(j)); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		if !s.awaitConstraints(ctx, j) {
			return
		}

		if !s.transition(j, Running, func(j *job) { j.attempts++ }) {
			return
		}
		result := s.attempt(ctx, j)
		if ctx.Err() != nil {
			return
		}
		s.metrics.WorkRun(j.name, result.String())

		switch result {
		case Success:
			s.finish(j, Succeeded, result)
			return
		case Failure:
			s.finish(j, Failed, result)
			return
		default:
			attempts := s.attemptsOf(j)
			if j.req.MaxAttempts > 0 && attempts >= j.req.MaxAttempts {
				s.logger.Warn("work gave up after max attempts",
					zap.String("name", j.name), zap.Int("attempts", attempts))
				s.finish(j, Failed, result)
				return
			}
			delay := j.req.Backoff.Delay(attempts)
			s.logger.Info("work will retry",
				zap.String("name", j.name), zap.Int("attempts", attempts), zap.Duration("delay", delay))
			if !s.transition(j, Enqueued, func(j *job) {
				j.lastResult = result.String()
				j.nextRunAt = time.Now().Add(delay)
			}) {
				return
			}
		}
	}
}

// finish records the final state of j and enqueues the request held while
// it was running, if any.
func (s *Scheduler) finish(j *job, state State, result Result) {
	if !s.transition(j, state, func(j *job) { j.lastResult = result.String() }) {
		return
	}
	s.mu.Lock()
	req := j.rerun
	j.rerun = nil
	s.mu.Unlock()
	if req == nil {
		return
	}
	s.logger.Info("re-enqueueing work requested while running", zap.String("name", j.name))
	if _, _, err := s.EnqueueUnique(j.name, Keep, *req); err != nil && !errors.Is(err, ErrStopped) {
		s.logger.Error("re-enqueue work", zap.String("name", j.name), zap.Error(err))
	}
}

// awaitConstraints blocks until j's constraints hold, marking it Blocked
// meanwhile. It returns false when the work was cancelled.
func (s *Scheduler) awaitConstraints(ctx context.Context, j *job) bool {
	if j.req.Constraints.Network == NetworkNotRequired || s.network.IsConnected() {
		return true
	}
	if !s.transition(j, Blocked, nil) {
		return false
	}
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if s.network.IsConnected() {
				return true
			}
		}
	}
}

func (s *Scheduler) attempt(ctx context.Context, j *job) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("worker panicked", zap.String("name", j.name), zap.Any("panic", r))
			result = Failure
		}
	}()
	return j.req.Worker.DoWork(ctx)
}

// transition moves j to state unless it was cancelled meanwhile. mutate runs
// under the lock before publishing.
func (s *Scheduler) transition(j *job, state State, mutate func(*job)) bool {
	s.mu.Lock()
	if j.state == Cancelled {
		s.mu.Unlock()
		return false
	}
	j.state = state
	if mutate != nil {
		mutate(j)
	}
	info := j.info()
	s.mu.Unlock()

	s.publish(info)
	return true
}

func (s *Scheduler) nextRunAt(j *job) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return j.nextRunAt
}

func (s *Scheduler) attemptsOf(j *job) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return j.attempts
}

func (s *Scheduler) publish(info Info) {
	if s.bus != nil {
		s.bus.Emit(bus.KindWorkStateChanged, info)
	}
}

// cancelLocked marks j cancelled. A launched unit closes done when its
// goroutine exits; an unlaunched one is closed here.
func (j *job) cancelLocked() {
	j.state = Cancelled
	if j.cancel != nil {
		j.cancel()
	} else {
		close(j.done)
	}
}

func (j *job) info() Info {
	return Info{
		ID:         j.id,
		Name:       j.name,
		State:      j.state,
		Attempts:   j.attempts,
		NextRunAt:  j.nextRunAt,
		LastResult: j.lastResult,
	}
}
