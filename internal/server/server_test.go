package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pollcast/pollcast/internal/config"
	"github.com/pollcast/pollcast/internal/core/cooldown"
	"github.com/pollcast/pollcast/internal/core/dispatch"
	"github.com/pollcast/pollcast/internal/core/state"
	"github.com/pollcast/pollcast/internal/core/token"
	apperrors "github.com/pollcast/pollcast/internal/errors"
)

var testSecret = []byte("server-test-secret")

// recordingPublisher captures deliveries instead of calling out.
type recordingPublisher struct {
	mu        sync.Mutex
	envelopes []dispatch.Envelope
}

func (p *recordingPublisher) Publish(ctx context.Context, channelID, credential string, env dispatch.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envelopes = append(p.envelopes, env)
	return nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	clock := cooldown.SystemClock()
	dispatcher := dispatch.New(
		state.NewMemory(),
		cooldown.NewGate(time.Second, clock),
		cooldown.NewThrottle(time.Hour, clock),
		token.NewSigner(testSecret, "100000001", 30*time.Second),
		&recordingPublisher{},
	)

	return New(
		config.ServerConfig{Host: "127.0.0.1", Port: 0},
		token.NewVerifier(testSecret),
		dispatcher,
	)
}

func signTestToken(t *testing.T, channelID, role, opaqueUserID string) string {
	t.Helper()

	claims := jwt.MapClaims{
		"channel_id":     channelID,
		"role":           role,
		"opaque_user_id": opaqueUserID,
		"exp":            time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

func doRequest(t *testing.T, srv *Server, method, path, bearer, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var body apperrors.HTTPErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return body.Error.Code
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/does-not-exist", "", "")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "NOT_FOUND" {
		t.Fatalf("expected error code NOT_FOUND, got %s", code)
	}
}

func TestExtensionEndpointsRejectMissingToken(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/poll/query", "/settings/query"} {
		rec := doRequest(t, srv, http.MethodGet, path, "", "")

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected status 401, got %d", path, rec.Code)
		}
		if code := decodeErrorCode(t, rec); code != "UNAUTHORIZED" {
			t.Fatalf("%s: expected error code UNAUTHORIZED, got %s", path, code)
		}
	}
}

func TestExtensionEndpointsRejectForgedToken(t *testing.T) {
	srv := newTestServer(t)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"channel_id": "123",
		"role":       "broadcaster",
		"exp":        time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("some-other-secret"))
	if err != nil {
		t.Fatalf("failed to sign forged token: %v", err)
	}

	rec := doRequest(t, srv, http.MethodGet, "/poll/query", forged, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestPollLifecycle(t *testing.T) {
	srv := newTestServer(t)
	broadcaster := signTestToken(t, "123", "broadcaster", "U1")
	viewer := signTestToken(t, "123", "viewer", "U2")

	// No poll yet
	rec := doRequest(t, srv, http.MethodGet, "/poll/query", viewer, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	// The body is the poll itself, null when absent.
	var poll *struct {
		Text    string   `json:"text"`
		Options []string `json:"options"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&poll); err != nil {
		t.Fatalf("failed to decode query response: %v", err)
	}
	if poll != nil {
		t.Fatalf("expected no active poll, got %+v", poll)
	}

	// Viewer cannot create
	rec = doRequest(t, srv, http.MethodPost, "/poll/create", viewer,
		`{"text":"Best map?","options":["Dust","Mirage"]}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "FORBIDDEN" {
		t.Fatalf("expected error code FORBIDDEN, got %s", code)
	}

	// Broadcaster creates
	rec = doRequest(t, srv, http.MethodPost, "/poll/create", broadcaster,
		`{"text":"Best map?","options":["Dust","Mirage"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// Viewer sees it
	rec = doRequest(t, srv, http.MethodGet, "/poll/query", viewer, "")
	if err := json.NewDecoder(rec.Body).Decode(&poll); err != nil {
		t.Fatalf("failed to decode query response: %v", err)
	}
	if poll == nil || poll.Text != "Best map?" {
		t.Fatalf("expected active poll, got %+v", poll)
	}

	// Reset clears it and echoes null
	rec = doRequest(t, srv, http.MethodPost, "/poll/reset", broadcaster, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "null" {
		t.Fatalf("expected null reset body, got %q", body)
	}
	rec = doRequest(t, srv, http.MethodGet, "/poll/query", viewer, "")
	if err := json.NewDecoder(rec.Body).Decode(&poll); err != nil {
		t.Fatalf("failed to decode query response: %v", err)
	}
	if poll != nil {
		t.Fatalf("expected poll cleared after reset, got %+v", poll)
	}
}

func TestPollResponsesAndResults(t *testing.T) {
	srv := newTestServer(t)
	broadcaster := signTestToken(t, "123", "broadcaster", "U1")
	viewer := signTestToken(t, "123", "viewer", "U2")

	rec := doRequest(t, srv, http.MethodPost, "/poll/create", broadcaster,
		`{"text":"Next game?","options":["A","B","C"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	// Viewer answers once
	rec = doRequest(t, srv, http.MethodPost, "/poll/response", viewer, `{"option":1}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d: %s", rec.Code, rec.Body.String())
	}

	// Second immediate answer is throttled
	rec = doRequest(t, srv, http.MethodPost, "/poll/response", viewer, `{"option":1}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "RATE_LIMITED" {
		t.Fatalf("expected error code RATE_LIMITED, got %s", code)
	}

	// Out-of-range option
	rec = doRequest(t, srv, http.MethodPost, "/poll/response",
		signTestToken(t, "123", "viewer", "U3"), `{"option":7}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}

	// Viewer cannot read results
	rec = doRequest(t, srv, http.MethodGet, "/poll/results", viewer, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rec.Code)
	}

	// Broadcaster tallies
	rec = doRequest(t, srv, http.MethodGet, "/poll/results", broadcaster, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var results struct {
		Counts []int `json:"counts"`
		Total  int   `json:"total"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&results); err != nil {
		t.Fatalf("failed to decode results: %v", err)
	}
	if results.Total != 1 || len(results.Counts) != 3 || results.Counts[1] != 1 {
		t.Fatalf("unexpected tally: %+v", results)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	broadcaster := signTestToken(t, "456", "broadcaster", "U1")
	viewer := signTestToken(t, "456", "viewer", "U2")

	// Empty mapping before any update; the body is the mapping itself.
	rec := doRequest(t, srv, http.MethodGet, "/settings/query", viewer, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "{}" {
		t.Fatalf("expected empty settings object, got %q", body)
	}

	// Viewer cannot update
	rec = doRequest(t, srv, http.MethodPost, "/settings/update", viewer,
		`{"theme":"dark"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rec.Code)
	}

	// Broadcaster posts the raw mapping and gets it echoed back
	rec = doRequest(t, srv, http.MethodPost, "/settings/update", broadcaster,
		`{"theme":"dark","position":"left"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var settings map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&settings); err != nil {
		t.Fatalf("failed to decode settings: %v", err)
	}
	if settings["theme"] != "dark" || settings["position"] != "left" {
		t.Fatalf("unexpected update echo: %+v", settings)
	}

	rec = doRequest(t, srv, http.MethodGet, "/settings/query", viewer, "")
	if err := json.NewDecoder(rec.Body).Decode(&settings); err != nil {
		t.Fatalf("failed to decode settings: %v", err)
	}
	if settings["theme"] != "dark" || settings["position"] != "left" {
		t.Fatalf("unexpected settings: %+v", settings)
	}

	// A null body is rejected, not stored
	rec = doRequest(t, srv, http.MethodPost, "/settings/update", broadcaster, `null`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for null settings, got %d", rec.Code)
	}
}
