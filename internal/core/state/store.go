// Package state owns per-channel mutable state: the optional active
// poll, the settings mapping, and the response tally. It carries no
// relay policy; callers serialize writes per channel through the
// dispatcher.
package state

import (
	"context"
	"fmt"
	"strings"

	"github.com/pollcast/pollcast/internal/config"
	"github.com/pollcast/pollcast/internal/core"
)

const (
	driverMemory = "memory"
	driverLibsql = "libsql"
)

// Store is the keyed channel-state contract the dispatcher depends on.
//
// Poll returns nil when the channel has no active poll. SetPoll
// replaces the channel's poll entirely and resets the response tally;
// it rejects empty poll text with core.ErrInvalidArgument. ClearPoll is
// idempotent and never touches the channel's settings. Settings returns
// an empty mapping when none was ever set; SetSettings replaces the
// whole mapping and rejects a nil payload.
type Store interface {
	Poll(ctx context.Context, channelID string) (*core.Poll, error)
	SetPoll(ctx context.Context, channelID string, poll core.Poll) error
	ClearPoll(ctx context.Context, channelID string) error
	Settings(ctx context.Context, channelID string) (core.Settings, error)
	SetSettings(ctx context.Context, channelID string, settings core.Settings) error
	AddResponse(ctx context.Context, channelID string, option int) error
	Responses(ctx context.Context, channelID string) (core.Tally, error)
	Close() error
}

// Open initializes a store for the configured driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	driver := strings.TrimSpace(cfg.Driver)
	if driver == "" {
		driver = driverMemory
	}

	if ctx == nil {
		ctx = context.Background()
	}

	switch driver {
	case driverMemory:
		return NewMemory(), nil
	case driverLibsql:
		return openLibsql(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
}

// validatePoll applies the write-side invariants shared by all drivers.
func validatePoll(poll core.Poll) error {
	if strings.TrimSpace(poll.Text) == "" {
		return fmt.Errorf("%w: poll text may not be empty", core.ErrInvalidArgument)
	}
	return nil
}

func validateSettings(settings core.Settings) error {
	if settings == nil {
		return fmt.Errorf("%w: settings may not be null", core.ErrInvalidArgument)
	}
	return nil
}
