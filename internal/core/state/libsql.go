package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/pollcast/pollcast/internal/config"
	"github.com/pollcast/pollcast/internal/core"
)

// Libsql persists channel state in a libsql/Turso database. It mirrors
// the two keyed tables of the hosted document store (polls and
// settings) plus a per-option response tally.
type Libsql struct {
	db *sql.DB
}

func openLibsql(ctx context.Context, cfg config.StoreConfig) (*Libsql, error) {
	dsn, err := buildLibsqlDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverLibsql, dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping libsql store: %w", err)
	}

	s := &Libsql{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Libsql) ensureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS channel_poll (
	channel_id TEXT PRIMARY KEY,
	poll TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS channel_settings (
	channel_id TEXT PRIMARY KEY,
	settings TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS channel_response (
	channel_id TEXT NOT NULL,
	option_idx INTEGER NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (channel_id, option_idx)
);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create store schema: %w", err)
	}
	return nil
}

// Poll returns the channel's active poll, or nil when absent.
func (s *Libsql) Poll(ctx context.Context, channelID string) (*core.Poll, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT poll FROM channel_poll WHERE channel_id = ?`, channelID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read poll: %w", err)
	}

	var poll core.Poll
	if err := json.Unmarshal([]byte(raw), &poll); err != nil {
		return nil, fmt.Errorf("decode stored poll: %w", err)
	}
	return &poll, nil
}

// SetPoll replaces the channel's poll and resets the response tally.
func (s *Libsql) SetPoll(ctx context.Context, channelID string, poll core.Poll) error {
	if err := validatePoll(poll); err != nil {
		return err
	}

	raw, err := json.Marshal(poll)
	if err != nil {
		return fmt.Errorf("encode poll: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write poll: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO channel_poll (channel_id, poll) VALUES (?, ?)
		 ON CONFLICT (channel_id) DO UPDATE SET poll = excluded.poll`,
		channelID, string(raw)); err != nil {
		return fmt.Errorf("write poll: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM channel_response WHERE channel_id = ?`, channelID); err != nil {
		return fmt.Errorf("reset tally: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write poll: %w", err)
	}
	return nil
}

// ClearPoll removes the active poll and tally; idempotent.
func (s *Libsql) ClearPoll(ctx context.Context, channelID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clear poll: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM channel_poll WHERE channel_id = ?`, channelID); err != nil {
		return fmt.Errorf("clear poll: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM channel_response WHERE channel_id = ?`, channelID); err != nil {
		return fmt.Errorf("clear tally: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("clear poll: %w", err)
	}
	return nil
}

// Settings returns the channel's settings mapping, empty when unset.
func (s *Libsql) Settings(ctx context.Context, channelID string) (core.Settings, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT settings FROM channel_settings WHERE channel_id = ?`, channelID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Settings{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	settings := core.Settings{}
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return nil, fmt.Errorf("decode stored settings: %w", err)
	}
	return settings, nil
}

// SetSettings replaces the channel's settings mapping entirely.
func (s *Libsql) SetSettings(ctx context.Context, channelID string, settings core.Settings) error {
	if err := validateSettings(settings); err != nil {
		return err
	}

	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_settings (channel_id, settings) VALUES (?, ?)
		 ON CONFLICT (channel_id) DO UPDATE SET settings = excluded.settings`,
		channelID, string(raw)); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// AddResponse records one viewer answer for the active poll.
func (s *Libsql) AddResponse(ctx context.Context, channelID string, option int) error {
	poll, err := s.Poll(ctx, channelID)
	if err != nil {
		return err
	}
	if poll == nil {
		return fmt.Errorf("%w: no active poll", core.ErrInvalidArgument)
	}
	if option < 0 || option >= len(poll.Options) {
		return fmt.Errorf("%w: option %d out of range", core.ErrInvalidArgument, option)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_response (channel_id, option_idx, count) VALUES (?, ?, 1)
		 ON CONFLICT (channel_id, option_idx) DO UPDATE SET count = count + 1`,
		channelID, option); err != nil {
		return fmt.Errorf("record response: %w", err)
	}
	return nil
}

// Responses returns the current tally for the channel's active poll.
func (s *Libsql) Responses(ctx context.Context, channelID string) (core.Tally, error) {
	poll, err := s.Poll(ctx, channelID)
	if err != nil {
		return core.Tally{}, err
	}
	if poll == nil {
		return core.Tally{Counts: []int{}}, nil
	}

	tally := core.Tally{Counts: make([]int, len(poll.Options))}

	rows, err := s.db.QueryContext(ctx,
		`SELECT option_idx, count FROM channel_response WHERE channel_id = ?`, channelID)
	if err != nil {
		return core.Tally{}, fmt.Errorf("read tally: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var idx, count int
		if err := rows.Scan(&idx, &count); err != nil {
			return core.Tally{}, fmt.Errorf("read tally: %w", err)
		}
		if idx >= 0 && idx < len(tally.Counts) {
			tally.Counts[idx] = count
			tally.Total += count
		}
	}
	if err := rows.Err(); err != nil {
		return core.Tally{}, fmt.Errorf("read tally: %w", err)
	}
	return tally, nil
}

// Close releases database resources.
func (s *Libsql) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildLibsqlDSN(cfg config.StoreConfig) (string, error) {
	if dsn := strings.TrimSpace(cfg.URL); dsn != "" {
		return addAuthToken(dsn, cfg.AuthToken)
	}

	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", errors.New("store path or url is required")
	}

	if path == ":memory:" {
		return path, nil
	}

	if strings.HasPrefix(path, "file:") || strings.HasPrefix(path, "libsql:") {
		return path, nil
	}

	if err := ensureStoreDir(path); err != nil {
		return "", err
	}
	return "file:" + filepath.Clean(path), nil
}

func addAuthToken(dsn string, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return dsn, nil
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}

	query := parsed.Query()
	if query.Get("authToken") == "" {
		query.Set("authToken", token)
		parsed.RawQuery = query.Encode()
	}

	return parsed.String(), nil
}

func ensureStoreDir(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}

	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}
