package cooldown

import (
	"testing"
	"time"
)

func TestThrottleMarksSubjectOnFirstAction(t *testing.T) {
	clock := newFakeClock()
	throttle := NewThrottle(time.Second, clock)

	if throttle.CheckAndMark("U1") {
		t.Fatal("first action should not be throttled")
	}
	if !throttle.CheckAndMark("U1") {
		t.Fatal("second action inside the window should be throttled")
	}
}

func TestThrottleExpiresAfterWindow(t *testing.T) {
	clock := newFakeClock()
	throttle := NewThrottle(time.Second, clock)

	throttle.CheckAndMark("U1")
	clock.Advance(time.Second)

	if throttle.CheckAndMark("U1") {
		t.Fatal("action after the window should not be throttled")
	}
}

func TestThrottleTracksSubjectsIndependently(t *testing.T) {
	clock := newFakeClock()
	throttle := NewThrottle(time.Second, clock)

	throttle.CheckAndMark("U1")
	if throttle.CheckAndMark("U2") {
		t.Fatal("a different subject should not be throttled")
	}
}

func TestThrottleResetWipesWholeTable(t *testing.T) {
	clock := newFakeClock()
	throttle := NewThrottle(time.Hour, clock)

	throttle.CheckAndMark("U1")
	throttle.CheckAndMark("U2")
	throttle.Reset()

	if throttle.CheckAndMark("U1") || throttle.CheckAndMark("U2") {
		t.Fatal("no subject should be throttled after a reset")
	}
}

func TestThrottleStartAndStop(t *testing.T) {
	throttle := NewThrottle(time.Second, newFakeClock())

	if err := throttle.Start(time.Minute); err != nil {
		t.Fatalf("Start: %v", err)
	}
	throttle.Stop()

	// Stop without Start must not panic.
	NewThrottle(time.Second, nil).Stop()
}
