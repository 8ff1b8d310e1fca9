package health

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/wirego/internal/store"
	"github.com/stretchr/testify/require"
)

type fakeAccounts struct {
	accounts []store.Account
	err      error
	block    bool
}

func (f *fakeAccounts) Accounts(ctx context.Context) ([]store.Account, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.accounts, f.err
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ago(d time.Duration) *time.Time {
	t := now.Add(-d)
	return &t
}

func checker(src AccountSource, enforced bool) *Checker {
	return NewChecker(src, Options{
		Enforced:           func() bool { return enforced },
		ObservationTimeout: 50 * time.Millisecond,
		Now:                func() time.Time { return now },
	})
}

func TestShouldStartPersistentSocket(t *testing.T) {
	tests := []struct {
		name     string
		accounts []store.Account
		enforced bool
		want     bool
	}{
		{"flag on", []store.Account{{UserID: "u1", PersistentWebSocket: true}}, false, true},
		{"flag off", []store.Account{{UserID: "u1"}}, false, false},
		{"no accounts", nil, false, false},
		{"one of many", []store.Account{{UserID: "u1"}, {UserID: "u2", PersistentWebSocket: true}}, false, true},
		{"enforced", nil, true, true},
		{"enforced overrides preference", []store.Account{{UserID: "u1"}}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := checker(&fakeAccounts{accounts: tt.accounts}, tt.enforced).ShouldStartPersistentSocket(context.Background())
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestShouldStartTimeoutIsFalse(t *testing.T) {
	got, err := checker(&fakeAccounts{block: true}, false).ShouldStartPersistentSocket(context.Background())
	require.NoError(t, err)
	require.False(t, got)
}

func TestShouldStartStoreFailure(t *testing.T) {
	boom := errors.New("boom")
	_, err := checker(&fakeAccounts{err: boom}, false).ShouldStartPersistentSocket(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestIsConnectionUnhealthy(t *testing.T) {
	tests := []struct {
		name     string
		accounts []store.Account
		want     bool
	}{
		{"no accounts", nil, false},
		{"no event yet", []store.Account{{UserID: "u1", PersistentWebSocket: true}}, false},
		{"recent event", []store.Account{{UserID: "u1", PersistentWebSocket: true, LastEventAt: ago(time.Hour)}}, false},
		{"old event", []store.Account{{UserID: "u1", PersistentWebSocket: true, LastEventAt: ago(13 * time.Hour)}}, true},
		{"one of many old", []store.Account{
			{UserID: "u1", PersistentWebSocket: true, LastEventAt: ago(time.Hour)},
			{UserID: "u2", PersistentWebSocket: true, LastEventAt: ago(13 * time.Hour)},
		}, true},
		{"all recent", []store.Account{
			{UserID: "u1", PersistentWebSocket: true, LastEventAt: ago(time.Hour)},
			{UserID: "u2", PersistentWebSocket: true, LastEventAt: ago(6 * time.Hour)},
		}, false},
		{"old event only on disabled account", []store.Account{
			{UserID: "u1", PersistentWebSocket: true, LastEventAt: ago(time.Hour)},
			{UserID: "u2", LastEventAt: ago(13 * time.Hour)},
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := checker(&fakeAccounts{accounts: tt.accounts}, false).IsConnectionUnhealthy(context.Background())
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestIsConnectionUnhealthyTimeout(t *testing.T) {
	_, err := checker(&fakeAccounts{block: true}, false).IsConnectionUnhealthy(context.Background())
	require.ErrorIs(t, err, ErrObservationTimeout)
}

func TestCheckerOverStore(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Migrate()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, db.UpsertAccount(ctx, &store.Account{UserID: "u1", ClientID: "c1", PersistentWebSocket: true}))
	require.NoError(t, db.TouchLastEvent(ctx, "u1", now.Add(-13*time.Hour)))

	c := NewChecker(db, Options{Now: func() time.Time { return now }})
	start, err := c.ShouldStartPersistentSocket(ctx)
	require.NoError(t, err)
	require.True(t, start)

	unhealthy, err := c.IsConnectionUnhealthy(ctx)
	require.NoError(t, err)
	require.True(t, unhealthy)

	require.NoError(t, db.TouchLastEvent(ctx, "u1", now))
	unhealthy, err = c.IsConnectionUnhealthy(ctx)
	require.NoError(t, err)
	require.False(t, unhealthy)
}
