// Package core holds the domain types shared by the poll relay:
// decoded token claims, per-channel poll and settings state, and the
// sentinel errors the HTTP layer translates into response codes.
package core

import (
	"errors"
	"time"
)

// Role is the closed set of roles a verified token can carry.
// It is decoded exactly once by the token verifier; downstream code
// never compares raw role strings.
type Role int

const (
	RoleUnknown     Role = 0
	RoleBroadcaster Role = 1
	RoleViewer      Role = 2
	RoleExternal    Role = 3
)

// ParseRole maps the wire-level role string to a Role.
// Unrecognized values map to RoleUnknown, which no authorization
// check accepts.
func ParseRole(s string) Role {
	switch s {
	case "broadcaster":
		return RoleBroadcaster
	case "viewer":
		return RoleViewer
	case "external":
		return RoleExternal
	default:
		return RoleUnknown
	}
}

// String returns the wire-level representation of the role.
func (r Role) String() string {
	switch r {
	case RoleBroadcaster:
		return "broadcaster"
	case RoleViewer:
		return "viewer"
	case RoleExternal:
		return "external"
	default:
		return "unknown"
	}
}

// Claims is the verified claim set extracted from an extension token.
// Instances are produced only by successful verification.
type Claims struct {
	ChannelID    string
	Role         Role
	OpaqueUserID string
	ExpiresAt    time.Time
}

// IsBroadcaster reports whether the claims authorize channel mutations.
func (c Claims) IsBroadcaster() bool {
	return c.Role == RoleBroadcaster
}

// Poll is the broadcaster-defined poll shown to viewers.
// Options may be empty; Text may not.
type Poll struct {
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
}

// Settings is the per-channel flat key/value settings mapping.
type Settings map[string]string

// Tally holds response counts aligned with the active poll's options.
type Tally struct {
	Counts []int `json:"counts"`
	Total  int   `json:"total"`
}

// Sentinel errors for the relay core. Handlers map these onto the
// HTTP error envelope; everything else becomes a 5xx.
var (
	// ErrUnauthorized covers every token failure: missing Bearer
	// prefix, bad signature, expired or malformed token. The message
	// is deliberately opaque so callers cannot tell which check failed.
	ErrUnauthorized = errors.New("invalid token")

	// ErrForbidden means the token was valid but the role does not
	// permit the operation.
	ErrForbidden = errors.New("only the broadcaster can update the poll")

	// ErrInvalidArgument means the mutation payload was malformed.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrThrottled means the per-user action window has not elapsed.
	ErrThrottled = errors.New("please wait before clicking again")
)
