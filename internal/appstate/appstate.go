package appstate

import (
	"sync"

	"github.com/matheus3301/wirego/internal/bus"
)

// Tracker holds whether the client is in the foreground. A new tracker
// starts in the background.
type Tracker struct {
	mu         sync.RWMutex
	foreground bool
	bus        *bus.Bus
}

// ForegroundChange is the payload for app.foreground_changed events.
type ForegroundChange struct {
	Foreground bool `json:"foreground"`
}

// New creates a tracker in the background state.
func New(b *bus.Bus) *Tracker {
	return &Tracker{bus: b}
}

// IsForeground reports the current flag.
func (t *Tracker) IsForeground() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.foreground
}

// SetForeground updates the flag and publishes a change event when the
// value actually changed. It returns whether it changed.
func (t *Tracker) SetForeground(foreground bool) bool {
	t.mu.Lock()
	changed := t.foreground != foreground
	t.foreground = foreground
	t.mu.Unlock()

	if changed && t.bus != nil {
		t.bus.Emit(bus.KindForegroundChanged, ForegroundChange{Foreground: foreground})
	}
	return changed
}
