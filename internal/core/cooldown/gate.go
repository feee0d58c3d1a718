// Package cooldown enforces the per-channel relay rate limit and the
// per-user action throttle.
//
// The gate guarantees two things under burst load: no channel ever
// receives more than one relayed delivery per window, and the last
// update inside a window always reaches viewers. Intermediate states
// are dropped on purpose; this feeds a live display, not an event log.
package cooldown

import (
	"sync"
	"time"
)

// DefaultWindow is the minimum interval between two deliveries for the
// same channel.
const DefaultWindow = time.Second

// record tracks one channel's cooldown state. The pending flag is the
// single deferred-send slot: while it is set, new updates never
// schedule a second task, they only change the state the scheduled
// task will read when it fires.
type record struct {
	nextAllowed time.Time
	pending     bool
}

// Gate is the per-channel rate limiter with single-slot coalescing.
type Gate struct {
	mu      sync.Mutex
	window  time.Duration
	clock   Clock
	records map[string]*record
}

// NewGate creates a gate with the given window. A non-positive window
// falls back to DefaultWindow; a nil clock falls back to the system
// clock.
func NewGate(window time.Duration, clock Clock) *Gate {
	if window <= 0 {
		window = DefaultWindow
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Gate{
		window:  window,
		clock:   clock,
		records: make(map[string]*record),
	}
}

// Attempt relays through send either now or at the end of the current
// cooldown window. send must read current channel state when invoked,
// never captured state; that contract is what makes coalescing drop
// only intermediate values.
//
// Attempt returns immediately: an allowed send runs on its own
// goroutine so an I/O-latent delivery never blocks request handling.
func (g *Gate) Attempt(channelID string, send func()) {
	g.mu.Lock()

	rec, ok := g.records[channelID]
	if !ok {
		rec = &record{}
		g.records[channelID] = rec
	}

	now := g.clock.Now()
	if !now.Before(rec.nextAllowed) {
		rec.nextAllowed = now.Add(g.window)
		g.mu.Unlock()
		go send()
		return
	}

	if rec.pending {
		g.mu.Unlock()
		return
	}

	fireAt := rec.nextAllowed
	rec.pending = true
	rec.nextAllowed = fireAt.Add(g.window)
	g.mu.Unlock()

	g.clock.AfterFunc(fireAt.Sub(now), func() {
		g.mu.Lock()
		rec.pending = false
		g.mu.Unlock()
		send()
	})
}
