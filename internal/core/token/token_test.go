package token

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pollcast/pollcast/internal/core"
)

var testSecret = []byte("token-test-secret")

func signRaw(t *testing.T, secret []byte, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestDecodeSecret(t *testing.T) {
	decoded, err := DecodeSecret(base64.StdEncoding.EncodeToString([]byte("hello")))
	if err != nil {
		t.Fatalf("DecodeSecret: %v", err)
	}
	if string(decoded) != "hello" {
		t.Fatalf("unexpected secret %q", decoded)
	}

	if _, err := DecodeSecret("not!!base64"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
	if _, err := DecodeSecret(""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestVerifyAcceptsValidToken(t *testing.T) {
	raw := signRaw(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{
		"channel_id":     "123",
		"role":           "broadcaster",
		"opaque_user_id": "U1",
		"exp":            time.Now().Add(time.Hour).Unix(),
	})

	claims, err := NewVerifier(testSecret).Verify(BearerPrefix + raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.ChannelID != "123" {
		t.Fatalf("unexpected channel id %q", claims.ChannelID)
	}
	if !claims.IsBroadcaster() {
		t.Fatal("expected broadcaster role")
	}
	if claims.OpaqueUserID != "U1" {
		t.Fatalf("unexpected opaque user id %q", claims.OpaqueUserID)
	}
}

func TestVerifyRejectsBadHeaders(t *testing.T) {
	verifier := NewVerifier(testSecret)
	valid := signRaw(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{
		"channel_id": "123",
		"role":       "viewer",
		"exp":        time.Now().Add(time.Hour).Unix(),
	})

	cases := map[string]string{
		"empty header":   "",
		"missing scheme": valid,
		"wrong scheme":   "Basic " + valid,
		"garbage token":  BearerPrefix + "not.a.jwt",
	}
	for name, header := range cases {
		if _, err := verifier.Verify(header); !errors.Is(err, core.ErrUnauthorized) {
			t.Fatalf("%s: expected ErrUnauthorized, got %v", name, err)
		}
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	raw := signRaw(t, []byte("other-secret"), jwt.SigningMethodHS256, jwt.MapClaims{
		"channel_id": "123",
		"role":       "viewer",
		"exp":        time.Now().Add(time.Hour).Unix(),
	})

	if _, err := NewVerifier(testSecret).Verify(BearerPrefix + raw); !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	raw := signRaw(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{
		"channel_id": "123",
		"role":       "viewer",
		"exp":        time.Now().Add(-time.Minute).Unix(),
	})

	if _, err := NewVerifier(testSecret).Verify(BearerPrefix + raw); !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestVerifyRejectsMissingChannel(t *testing.T) {
	raw := signRaw(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{
		"role": "viewer",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	if _, err := NewVerifier(testSecret).Verify(BearerPrefix + raw); !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestServerTokenShape(t *testing.T) {
	now := time.Unix(1700000000, 0)
	signer := NewSigner(testSecret, "100000001", 30*time.Second).
		WithTimeFunc(func() time.Time { return now })

	raw, err := signer.ServerToken("123")
	if err != nil {
		t.Fatalf("ServerToken: %v", err)
	}

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return testSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("parse server token: %v", err)
	}

	if claims["channel_id"] != "123" {
		t.Fatalf("unexpected channel_id %v", claims["channel_id"])
	}
	if claims["user_id"] != "100000001" {
		t.Fatalf("unexpected user_id %v", claims["user_id"])
	}
	if claims["role"] != "external" {
		t.Fatalf("unexpected role %v", claims["role"])
	}

	perms, ok := claims["pubsub_perms"].(map[string]any)
	if !ok {
		t.Fatalf("missing pubsub_perms: %v", claims)
	}
	send, ok := perms["send"].([]any)
	if !ok || len(send) != 1 || send[0] != "*" {
		t.Fatalf("unexpected send perms %v", perms["send"])
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		t.Fatalf("missing exp: %v", claims)
	}
	if int64(exp) != now.Add(30*time.Second).Unix() {
		t.Fatalf("unexpected expiry %v", int64(exp))
	}
}

func TestSignerNonPositiveTTLFallsBack(t *testing.T) {
	signer := NewSigner(testSecret, "100000001", 0)
	if signer.ttl != DefaultServerTokenTTL {
		t.Fatalf("expected default ttl %v, got %v", DefaultServerTokenTTL, signer.ttl)
	}
}
