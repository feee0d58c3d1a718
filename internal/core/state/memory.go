package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/pollcast/pollcast/internal/core"
)

// channelState is the in-memory record for a single channel. Created
// lazily on first write; a poll reset clears the poll and tally but the
// entry (and its settings) survives.
type channelState struct {
	poll     *core.Poll
	settings core.Settings
	counts   []int
	total    int
}

// Memory is the default in-process store.
type Memory struct {
	mu       sync.RWMutex
	channels map[string]*channelState
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{channels: make(map[string]*channelState)}
}

func (m *Memory) channel(channelID string) *channelState {
	ch, ok := m.channels[channelID]
	if !ok {
		ch = &channelState{}
		m.channels[channelID] = ch
	}
	return ch
}

// Poll returns the channel's active poll, or nil when absent.
func (m *Memory) Poll(ctx context.Context, channelID string) (*core.Poll, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ch, ok := m.channels[channelID]
	if !ok || ch.poll == nil {
		return nil, nil
	}
	poll := *ch.poll
	poll.Options = append([]string(nil), ch.poll.Options...)
	return &poll, nil
}

// SetPoll replaces the channel's poll and resets the response tally.
func (m *Memory) SetPoll(ctx context.Context, channelID string, poll core.Poll) error {
	if err := validatePoll(poll); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := poll
	stored.Options = append([]string(nil), poll.Options...)

	ch := m.channel(channelID)
	ch.poll = &stored
	ch.counts = make([]int, len(stored.Options))
	ch.total = 0
	return nil
}

// ClearPoll removes the active poll and tally. Clearing an absent poll
// is a no-op success.
func (m *Memory) ClearPoll(ctx context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ch, ok := m.channels[channelID]; ok {
		ch.poll = nil
		ch.counts = nil
		ch.total = 0
	}
	return nil
}

// Settings returns the channel's settings mapping, empty when unset.
func (m *Memory) Settings(ctx context.Context, channelID string) (core.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := core.Settings{}
	if ch, ok := m.channels[channelID]; ok {
		for k, v := range ch.settings {
			out[k] = v
		}
	}
	return out, nil
}

// SetSettings replaces the channel's settings mapping entirely.
func (m *Memory) SetSettings(ctx context.Context, channelID string, settings core.Settings) error {
	if err := validateSettings(settings); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	copied := core.Settings{}
	for k, v := range settings {
		copied[k] = v
	}
	m.channel(channelID).settings = copied
	return nil
}

// AddResponse records one viewer answer for the active poll.
func (m *Memory) AddResponse(ctx context.Context, channelID string, option int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[channelID]
	if !ok || ch.poll == nil {
		return fmt.Errorf("%w: no active poll", core.ErrInvalidArgument)
	}
	if option < 0 || option >= len(ch.counts) {
		return fmt.Errorf("%w: option %d out of range", core.ErrInvalidArgument, option)
	}
	ch.counts[option]++
	ch.total++
	return nil
}

// Responses returns the current tally for the channel's active poll.
func (m *Memory) Responses(ctx context.Context, channelID string) (core.Tally, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ch, ok := m.channels[channelID]
	if !ok || ch.poll == nil {
		return core.Tally{Counts: []int{}}, nil
	}
	return core.Tally{
		Counts: append([]int(nil), ch.counts...),
		Total:  ch.total,
	}, nil
}

// Close implements Store; the memory driver holds no resources.
func (m *Memory) Close() error {
	return nil
}
