package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/wirego/internal/store"
	"go.uber.org/zap"
)

const (
	DefaultUnhealthyAfter     = 12 * time.Hour
	DefaultObservationTimeout = time.Second
)

// ErrObservationTimeout is returned when the account observation did not
// complete in time.
var ErrObservationTimeout = errors.New("health: account observation timed out")

// AccountSource lists the session accounts with their socket preferences.
type AccountSource interface {
	Accounts(ctx context.Context) ([]store.Account, error)
}

// Options configures a Checker.
type Options struct {
	// Enforced reports whether managed configuration forces the persistent
	// socket on regardless of user preferences.
	Enforced           func() bool
	UnhealthyAfter     time.Duration
	ObservationTimeout time.Duration
	Now                func() time.Time
	Logger             *zap.Logger
}

// Checker answers whether the persistent socket should run and whether it
// still looks alive.
type Checker struct {
	accounts AccountSource
	enforced func() bool
	after    time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewChecker creates a Checker over the given accounts.
func NewChecker(accounts AccountSource, opts Options) *Checker {
	c := &Checker{
		accounts: accounts,
		enforced: opts.Enforced,
		after:    opts.UnhealthyAfter,
		timeout:  opts.ObservationTimeout,
		now:      opts.Now,
		logger:   opts.Logger,
	}
	if c.enforced == nil {
		c.enforced = func() bool { return false }
	}
	if c.after <= 0 {
		c.after = DefaultUnhealthyAfter
	}
	if c.timeout <= 0 {
		c.timeout = DefaultObservationTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// ShouldStartPersistentSocket reports whether a persistent socket should be
// kept open. Managed enforcement wins; otherwise any account with the
// persistent flag on is enough. A timed out observation yields false.
func (c *Checker) ShouldStartPersistentSocket(ctx context.Context) (bool, error) {
	if c.enforced() {
		return true, nil
	}
	accounts, err := c.observe(ctx)
	if errors.Is(err, ErrObservationTimeout) {
		c.logger.Warn("persistent socket observation timed out", zap.Duration("timeout", c.timeout))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, a := range accounts {
		if a.PersistentWebSocket {
			return true, nil
		}
	}
	return false, nil
}

// IsConnectionUnhealthy reports whether some persistent-enabled account has
// not seen a socket event for longer than the unhealthy threshold. Accounts
// that never received an event are considered healthy.
func (c *Checker) IsConnectionUnhealthy(ctx context.Context) (bool, error) {
	accounts, err := c.observe(ctx)
	if err != nil {
		return false, err
	}
	now := c.now()
	for _, a := range accounts {
		if !a.PersistentWebSocket || a.LastEventAt == nil {
			continue
		}
		if now.Sub(*a.LastEventAt) > c.after {
			c.logger.Info("socket looks unhealthy",
				zap.String("user_id", a.UserID),
				zap.Time("last_event_at", *a.LastEventAt))
			return true, nil
		}
	}
	return false, nil
}

func (c *Checker) observe(ctx context.Context) ([]store.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		accounts []store.Account
		err      error
	}
	done := make(chan result, 1)
	go func() {
		accounts, err := c.accounts.Accounts(ctx)
		done <- result{accounts, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				return nil, ErrObservationTimeout
			}
			return nil, fmt.Errorf("list accounts: %w", r.err)
		}
		return r.accounts, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrObservationTimeout
		}
		return nil, ctx.Err()
	}
}
