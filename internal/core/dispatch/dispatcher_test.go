package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pollcast/pollcast/internal/core"
	"github.com/pollcast/pollcast/internal/core/cooldown"
	"github.com/pollcast/pollcast/internal/core/state"
	"github.com/pollcast/pollcast/internal/core/token"
)

var testSecret = []byte("dispatch-test-secret")

// capturePublisher hands every envelope to the test goroutine.
type capturePublisher struct {
	ch chan Envelope
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{ch: make(chan Envelope, 16)}
}

func (p *capturePublisher) Publish(ctx context.Context, channelID, credential string, env Envelope) error {
	p.ch <- env
	return nil
}

func (p *capturePublisher) next(t *testing.T) Envelope {
	t.Helper()
	select {
	case env := <-p.ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery arrived")
		return Envelope{}
	}
}

func (p *capturePublisher) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case env := <-p.ch:
		t.Fatalf("unexpected delivery %+v", env)
	case <-time.After(wait):
	}
}

func newTestDispatcher(window time.Duration) (*Dispatcher, *capturePublisher) {
	publisher := newCapturePublisher()
	clock := cooldown.SystemClock()
	d := New(
		state.NewMemory(),
		cooldown.NewGate(window, clock),
		cooldown.NewThrottle(time.Hour, clock),
		token.NewSigner(testSecret, "100000001", 30*time.Second),
		publisher,
	)
	return d, publisher
}

func broadcaster(channelID string) core.Claims {
	return core.Claims{ChannelID: channelID, Role: core.RoleBroadcaster, OpaqueUserID: "U1"}
}

func viewer(channelID string) core.Claims {
	return core.Claims{ChannelID: channelID, Role: core.RoleViewer, OpaqueUserID: "U2"}
}

func TestCreatePollStoresAndRelays(t *testing.T) {
	ctx := context.Background()
	d, publisher := newTestDispatcher(10 * time.Millisecond)

	poll := core.Poll{Text: "Best map?", Options: []string{"Dust", "Mirage"}}
	created, err := d.CreatePoll(ctx, broadcaster("123"), poll)
	if err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}
	if created.Text != poll.Text {
		t.Fatalf("unexpected poll %+v", created)
	}

	env := publisher.next(t)
	if env.ContentType != "application/json" {
		t.Fatalf("unexpected content type %q", env.ContentType)
	}
	if env.Message.Kind != KindPoll {
		t.Fatalf("unexpected kind %q", env.Message.Kind)
	}
	if len(env.Targets) != 1 || env.Targets[0] != BroadcastTarget {
		t.Fatalf("unexpected targets %v", env.Targets)
	}
	relayed, ok := env.Message.Content.(*core.Poll)
	if !ok || relayed.Text != poll.Text {
		t.Fatalf("unexpected content %+v", env.Message.Content)
	}

	stored, err := d.QueryPoll(ctx, viewer("123"))
	if err != nil {
		t.Fatalf("QueryPoll: %v", err)
	}
	if stored == nil || stored.Text != poll.Text {
		t.Fatalf("unexpected stored poll %+v", stored)
	}
}

func TestCreatePollRejectsNonBroadcaster(t *testing.T) {
	ctx := context.Background()
	d, publisher := newTestDispatcher(10 * time.Millisecond)

	_, err := d.CreatePoll(ctx, viewer("123"), core.Poll{Text: "Q"})
	if !errors.Is(err, core.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	publisher.expectNone(t, 50*time.Millisecond)
}

func TestResetPollRelaysAbsentState(t *testing.T) {
	ctx := context.Background()
	d, publisher := newTestDispatcher(10 * time.Millisecond)

	if _, err := d.CreatePoll(ctx, broadcaster("123"), core.Poll{Text: "Q", Options: []string{"A"}}); err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}
	publisher.next(t)
	time.Sleep(20 * time.Millisecond) // let the window close

	if err := d.ResetPoll(ctx, broadcaster("123")); err != nil {
		t.Fatalf("ResetPoll: %v", err)
	}

	env := publisher.next(t)
	if env.Message.Kind != KindPoll {
		t.Fatalf("unexpected kind %q", env.Message.Kind)
	}
	if env.Message.Content != nil {
		t.Fatalf("expected null content after reset, got %+v", env.Message.Content)
	}

	// Resetting an absent poll still succeeds.
	time.Sleep(20 * time.Millisecond)
	if err := d.ResetPoll(ctx, broadcaster("123")); err != nil {
		t.Fatalf("ResetPoll (again): %v", err)
	}
	publisher.next(t)
}

func TestBurstRelaysOnlyNewestState(t *testing.T) {
	ctx := context.Background()
	d, publisher := newTestDispatcher(100 * time.Millisecond)

	if _, err := d.CreatePoll(ctx, broadcaster("123"), core.Poll{Text: "first"}); err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}
	first := publisher.next(t)
	if relayed, ok := first.Message.Content.(*core.Poll); !ok || relayed.Text != "first" {
		t.Fatalf("unexpected first content %+v", first.Message.Content)
	}

	// Two more updates inside the window coalesce into one deferred
	// delivery carrying the newest poll.
	if _, err := d.CreatePoll(ctx, broadcaster("123"), core.Poll{Text: "second"}); err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}
	if _, err := d.CreatePoll(ctx, broadcaster("123"), core.Poll{Text: "third"}); err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}

	deferred := publisher.next(t)
	relayed, ok := deferred.Message.Content.(*core.Poll)
	if !ok || relayed.Text != "third" {
		t.Fatalf("expected newest poll relayed, got %+v", deferred.Message.Content)
	}
	publisher.expectNone(t, 150*time.Millisecond)
}

func TestUpdateSettingsRelays(t *testing.T) {
	ctx := context.Background()
	d, publisher := newTestDispatcher(10 * time.Millisecond)

	if _, err := d.UpdateSettings(ctx, viewer("123"), core.Settings{"theme": "dark"}); !errors.Is(err, core.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	updated, err := d.UpdateSettings(ctx, broadcaster("123"), core.Settings{"theme": "dark"})
	if err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if updated["theme"] != "dark" {
		t.Fatalf("unexpected settings %+v", updated)
	}

	env := publisher.next(t)
	if env.Message.Kind != KindSettings {
		t.Fatalf("unexpected kind %q", env.Message.Kind)
	}
	relayed, ok := env.Message.Content.(core.Settings)
	if !ok || relayed["theme"] != "dark" {
		t.Fatalf("unexpected content %+v", env.Message.Content)
	}
}

func TestSubmitResponseThrottlesRepeatActions(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDispatcher(10 * time.Millisecond)

	if _, err := d.CreatePoll(ctx, broadcaster("123"), core.Poll{Text: "Q", Options: []string{"A", "B"}}); err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}

	if err := d.SubmitResponse(ctx, viewer("123"), 0); err != nil {
		t.Fatalf("SubmitResponse: %v", err)
	}
	if err := d.SubmitResponse(ctx, viewer("123"), 0); !errors.Is(err, core.ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}

	// A different user is not affected.
	other := core.Claims{ChannelID: "123", Role: core.RoleViewer, OpaqueUserID: "U3"}
	if err := d.SubmitResponse(ctx, other, 1); err != nil {
		t.Fatalf("SubmitResponse (other user): %v", err)
	}

	tally, err := d.Results(ctx, broadcaster("123"))
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if tally.Total != 2 || tally.Counts[0] != 1 || tally.Counts[1] != 1 {
		t.Fatalf("unexpected tally %+v", tally)
	}

	if _, err := d.Results(ctx, viewer("123")); !errors.Is(err, core.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for viewer results, got %v", err)
	}
}

func TestDeliverWhisperTargetsSingleUser(t *testing.T) {
	ctx := context.Background()
	d, publisher := newTestDispatcher(10 * time.Millisecond)

	d.deliver(ctx, "123", KindPoll, nil, "U42")

	env := publisher.next(t)
	if len(env.Targets) != 1 || env.Targets[0] != "U42" {
		t.Fatalf("unexpected targets %v", env.Targets)
	}
}
