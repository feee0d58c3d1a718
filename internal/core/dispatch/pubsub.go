package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pollcast/pollcast/internal/core/token"
)

// DefaultAPIBaseURL is the production fan-out API host.
const DefaultAPIBaseURL = "https://api.twitch.tv"

// PubSub publishes envelopes to the extension messaging endpoint of
// the fan-out API.
type PubSub struct {
	baseURL  string
	clientID string
	client   *http.Client
}

// NewPubSub creates a publisher for the given API host (production or
// local developer rig) and extension client id.
func NewPubSub(baseURL, clientID string) *PubSub {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultAPIBaseURL
	}
	return &PubSub{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Publish sends one envelope to the channel's message endpoint with
// the freshly signed credential. At-most-once: any error is returned
// to the dispatcher, which logs and drops it.
func (p *PubSub) Publish(ctx context.Context, channelID, credential string, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	url := fmt.Sprintf("%s/extensions/message/%s", p.baseURL, channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build publish request: %w", err)
	}
	req.Header.Set("Client-Id", p.clientID)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", token.BearerPrefix+credential)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("publish to channel %s: %w", channelID, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("publish to channel %s: unexpected status %d", channelID, resp.StatusCode)
	}
	return nil
}
