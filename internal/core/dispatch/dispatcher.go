// Package dispatch orchestrates the relay: it authorizes verified
// callers, applies mutations to the channel state store, and fans the
// resulting state out through the cooldown gate to the external
// delivery API, minting a fresh short-lived credential per send.
package dispatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/pollcast/pollcast/internal/core"
	"github.com/pollcast/pollcast/internal/core/cooldown"
	"github.com/pollcast/pollcast/internal/core/state"
	"github.com/pollcast/pollcast/internal/core/token"
	"github.com/pollcast/pollcast/internal/metrics"
	"github.com/pollcast/pollcast/internal/observability"
)

// Message kinds carried in the delivery envelope.
const (
	KindPoll     = "poll"
	KindSettings = "settings"
)

// BroadcastTarget addresses every viewer on the channel.
const BroadcastTarget = "broadcast"

// Message is the typed payload inside a delivery envelope.
type Message struct {
	Kind    string `json:"kind"`
	Content any    `json:"content"`
}

// Envelope is the body of one fan-out API call.
type Envelope struct {
	ContentType string   `json:"content_type"`
	Message     Message  `json:"message"`
	Targets     []string `json:"targets"`
}

// Publisher is the external delivery collaborator. The credential is
// freshly signed for each call and scoped to the channel.
type Publisher interface {
	Publish(ctx context.Context, channelID, credential string, env Envelope) error
}

// Dispatcher wires the verified request path to the store, the
// cooldown gate and the delivery interface.
type Dispatcher struct {
	store     state.Store
	gate      *cooldown.Gate
	throttle  *cooldown.Throttle
	signer    *token.Signer
	publisher Publisher
}

// New creates a dispatcher over the given collaborators.
func New(store state.Store, gate *cooldown.Gate, throttle *cooldown.Throttle, signer *token.Signer, publisher Publisher) *Dispatcher {
	return &Dispatcher{
		store:     store,
		gate:      gate,
		throttle:  throttle,
		signer:    signer,
		publisher: publisher,
	}
}

// QueryPoll returns the caller's channel poll, or nil when none is
// active. Any valid token may read.
func (d *Dispatcher) QueryPoll(ctx context.Context, claims core.Claims) (*core.Poll, error) {
	return d.store.Poll(ctx, claims.ChannelID)
}

// CreatePoll replaces the channel's poll and relays it to viewers.
// Broadcaster only.
func (d *Dispatcher) CreatePoll(ctx context.Context, claims core.Claims, poll core.Poll) (core.Poll, error) {
	if err := d.requireBroadcaster(claims); err != nil {
		return core.Poll{}, err
	}
	if err := d.store.SetPoll(ctx, claims.ChannelID, poll); err != nil {
		return core.Poll{}, err
	}

	d.logInfo("poll created",
		zap.String("channel_id", claims.ChannelID),
		zap.String("text", poll.Text))
	d.publishPoll(claims.ChannelID)
	return poll, nil
}

// ResetPoll clears the channel's poll and relays the absent state so
// viewers fall back to the default display. Idempotent; broadcaster
// only.
func (d *Dispatcher) ResetPoll(ctx context.Context, claims core.Claims) error {
	if err := d.requireBroadcaster(claims); err != nil {
		return err
	}
	if err := d.store.ClearPoll(ctx, claims.ChannelID); err != nil {
		return err
	}

	d.logInfo("poll cleared", zap.String("channel_id", claims.ChannelID))
	d.publishPoll(claims.ChannelID)
	return nil
}

// QuerySettings returns the caller's channel settings mapping.
func (d *Dispatcher) QuerySettings(ctx context.Context, claims core.Claims) (core.Settings, error) {
	return d.store.Settings(ctx, claims.ChannelID)
}

// UpdateSettings replaces the channel's settings and relays them to
// viewers. Broadcaster only.
func (d *Dispatcher) UpdateSettings(ctx context.Context, claims core.Claims, settings core.Settings) (core.Settings, error) {
	if err := d.requireBroadcaster(claims); err != nil {
		return nil, err
	}
	if err := d.store.SetSettings(ctx, claims.ChannelID, settings); err != nil {
		return nil, err
	}

	d.logInfo("settings updated", zap.String("channel_id", claims.ChannelID))
	d.publishSettings(claims.ChannelID)
	return settings, nil
}

// SubmitResponse records one viewer answer to the active poll, subject
// to the per-user throttle.
func (d *Dispatcher) SubmitResponse(ctx context.Context, claims core.Claims, option int) error {
	if d.throttle.CheckAndMark(claims.OpaqueUserID) {
		metrics.RecordThrottled()
		return core.ErrThrottled
	}
	return d.store.AddResponse(ctx, claims.ChannelID, option)
}

// Results returns the response tally for the active poll. Broadcaster
// only.
func (d *Dispatcher) Results(ctx context.Context, claims core.Claims) (core.Tally, error) {
	if err := d.requireBroadcaster(claims); err != nil {
		return core.Tally{}, err
	}
	return d.store.Responses(ctx, claims.ChannelID)
}

func (d *Dispatcher) requireBroadcaster(claims core.Claims) error {
	if claims.IsBroadcaster() {
		return nil
	}
	// The subject id is logged server-side only; the response stays
	// generic.
	d.logWarn("non-broadcaster attempted mutation",
		zap.String("channel_id", claims.ChannelID),
		zap.String("opaque_user_id", claims.OpaqueUserID),
		zap.String("role", claims.Role.String()))
	return core.ErrForbidden
}

// publishPoll relays the channel's poll state through the cooldown
// gate. The send callback reads the store when it fires, not when it
// is scheduled, so a deferred send always carries the newest state.
func (d *Dispatcher) publishPoll(channelID string) {
	d.gate.Attempt(channelID, func() {
		ctx := context.Background()
		poll, err := d.store.Poll(ctx, channelID)
		if err != nil {
			d.logWarn("skipping poll relay, store read failed",
				zap.String("channel_id", channelID), zap.Error(err))
			return
		}
		var content any
		if poll != nil {
			content = poll
		}
		d.deliver(ctx, channelID, KindPoll, content, "")
	})
}

// publishSettings relays the channel's settings through the same gate,
// reading live state at fire time.
func (d *Dispatcher) publishSettings(channelID string) {
	d.gate.Attempt(channelID, func() {
		ctx := context.Background()
		settings, err := d.store.Settings(ctx, channelID)
		if err != nil {
			d.logWarn("skipping settings relay, store read failed",
				zap.String("channel_id", channelID), zap.Error(err))
			return
		}
		d.deliver(ctx, channelID, KindSettings, settings, "")
	})
}

// deliver performs one fan-out call. targetUserID selects a single
// recipient; empty addresses the broadcast group. Failures are logged
// and dropped: the mutation already succeeded locally and the next
// update or window is the recovery path.
func (d *Dispatcher) deliver(ctx context.Context, channelID, kind string, content any, targetUserID string) {
	credential, err := d.signer.ServerToken(channelID)
	if err != nil {
		metrics.RecordRelay(kind, false)
		d.logWarn("failed to sign server token",
			zap.String("channel_id", channelID), zap.Error(err))
		return
	}

	targets := []string{BroadcastTarget}
	if targetUserID != "" {
		targets = []string{targetUserID}
	}

	env := Envelope{
		ContentType: "application/json",
		Message:     Message{Kind: kind, Content: content},
		Targets:     targets,
	}

	if err := d.publisher.Publish(ctx, channelID, credential, env); err != nil {
		metrics.RecordRelay(kind, false)
		d.logWarn("message delivery failed",
			zap.String("channel_id", channelID),
			zap.String("kind", kind),
			zap.Error(err))
		return
	}

	metrics.RecordRelay(kind, true)
	d.logInfo("message relayed",
		zap.String("channel_id", channelID),
		zap.String("kind", kind),
		zap.Strings("targets", targets))
}

func (d *Dispatcher) logInfo(msg string, fields ...zap.Field) {
	if observability.ServerLogger != nil {
		observability.ServerLogger.Info(msg, fields...)
	}
}

func (d *Dispatcher) logWarn(msg string, fields ...zap.Field) {
	if observability.ServerLogger != nil {
		observability.ServerLogger.Warn(msg, fields...)
	}
}
