// Package token verifies inbound extension tokens and mints the
// short-lived service tokens used to authenticate outbound deliveries.
//
// Both directions use HS256 with the shared extension secret. Every
// verification failure is collapsed into core.ErrUnauthorized so the
// response never reveals which check failed.
package token

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pollcast/pollcast/internal/core"
)

// BearerPrefix is the expected scheme prefix on the Authorization header.
const BearerPrefix = "Bearer "

// DefaultServerTokenTTL bounds the blast radius of a leaked outbound token.
const DefaultServerTokenTTL = 30 * time.Second

// DecodeSecret decodes the base64-encoded extension secret from config.
func DecodeSecret(encoded string) ([]byte, error) {
	secret, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode extension secret: %w", err)
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("extension secret is empty")
	}
	return secret, nil
}

// extensionClaims is the wire shape of an inbound extension token.
type extensionClaims struct {
	ChannelID    string `json:"channel_id"`
	Role         string `json:"role"`
	OpaqueUserID string `json:"opaque_user_id"`
	jwt.RegisteredClaims
}

// Verifier validates Authorization headers against the extension secret.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier creates a verifier for the given decoded secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret, now: time.Now}
}

// WithTimeFunc overrides the clock used for expiry validation (tests).
func (v *Verifier) WithTimeFunc(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify checks the full Authorization header value and returns the
// decoded claim set. Any failure returns core.ErrUnauthorized.
func (v *Verifier) Verify(header string) (core.Claims, error) {
	if !strings.HasPrefix(header, BearerPrefix) {
		return core.Claims{}, core.ErrUnauthorized
	}
	raw := header[len(BearerPrefix):]

	claims := &extensionClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (any, error) {
			return v.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil || !tok.Valid {
		return core.Claims{}, core.ErrUnauthorized
	}

	decoded := core.Claims{
		ChannelID:    claims.ChannelID,
		Role:         core.ParseRole(claims.Role),
		OpaqueUserID: claims.OpaqueUserID,
	}
	if claims.ExpiresAt != nil {
		decoded.ExpiresAt = claims.ExpiresAt.Time
	}
	if decoded.ChannelID == "" {
		return core.Claims{}, core.ErrUnauthorized
	}
	return decoded, nil
}

// pubSubPerms mirrors the permission scope the fan-out API expects.
type pubSubPerms struct {
	Send []string `json:"send"`
}

// serverClaims is the wire shape of an outbound service token.
type serverClaims struct {
	ChannelID   string      `json:"channel_id"`
	UserID      string      `json:"user_id"`
	Role        string      `json:"role"`
	PubSubPerms pubSubPerms `json:"pubsub_perms"`
	jwt.RegisteredClaims
}

// Signer mints the ephemeral tokens this service uses to call the
// fan-out API. A fresh token is signed for every delivery; tokens are
// never cached or reused.
type Signer struct {
	secret  []byte
	ownerID string
	ttl     time.Duration
	now     func() time.Time
}

// NewSigner creates a signer using the extension owner identity.
// A non-positive ttl falls back to DefaultServerTokenTTL.
func NewSigner(secret []byte, ownerID string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = DefaultServerTokenTTL
	}
	return &Signer{secret: secret, ownerID: ownerID, ttl: ttl, now: time.Now}
}

// WithTimeFunc overrides the clock used for expiry stamping (tests).
func (s *Signer) WithTimeFunc(now func() time.Time) *Signer {
	s.now = now
	return s
}

// ServerToken signs a token scoped to the given channel with broadcast
// send permission.
func (s *Signer) ServerToken(channelID string) (string, error) {
	claims := serverClaims{
		ChannelID:   channelID,
		UserID:      s.ownerID,
		Role:        core.RoleExternal.String(),
		PubSubPerms: pubSubPerms{Send: []string{"*"}},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(s.now().Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign server token: %w", err)
	}
	return signed, nil
}
