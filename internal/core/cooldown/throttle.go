package cooldown

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Throttle defaults, matching the channel gate's one-action-per-second
// posture and a coarse once-a-minute table wipe.
const (
	DefaultUserWindow    = time.Second
	DefaultResetInterval = time.Minute
)

// Throttle limits how often a single user may act, independent of the
// channel-level gate. Instead of expiring entries individually, the
// whole table is wiped on a fixed interval to bound memory; the brief
// window after a wipe where a recent offender is unthrottled is an
// accepted trade-off.
type Throttle struct {
	mu     sync.Mutex
	window time.Duration
	clock  Clock
	next   map[string]time.Time
	cron   *cron.Cron
}

// NewThrottle creates a throttle with the given per-user window.
func NewThrottle(window time.Duration, clock Clock) *Throttle {
	if window <= 0 {
		window = DefaultUserWindow
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Throttle{
		window: window,
		clock:  clock,
		next:   make(map[string]time.Time),
	}
}

// CheckAndMark reports whether the subject is currently throttled.
// A subject that is not throttled is marked for the next window as a
// side effect.
func (t *Throttle) CheckAndMark(subjectID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	if until, ok := t.next[subjectID]; ok && now.Before(until) {
		return true
	}
	t.next[subjectID] = now.Add(t.window)
	return false
}

// Reset wipes the entire throttle table.
func (t *Throttle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next = make(map[string]time.Time)
}

// Start schedules the periodic table wipe. A non-positive interval
// falls back to DefaultResetInterval.
func (t *Throttle) Start(resetInterval time.Duration) error {
	if resetInterval <= 0 {
		resetInterval = DefaultResetInterval
	}

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", resetInterval), t.Reset); err != nil {
		return fmt.Errorf("schedule throttle reset: %w", err)
	}
	c.Start()

	t.mu.Lock()
	t.cron = c
	t.mu.Unlock()
	return nil
}

// Stop halts the periodic wipe. Safe to call when Start never ran.
func (t *Throttle) Stop() {
	t.mu.Lock()
	c := t.cron
	t.cron = nil
	t.mu.Unlock()

	if c != nil {
		c.Stop()
	}
}
