// ABOUTME: HTTP client for the external system of record holding session status.
// ABOUTME: Lists active sessions at bootstrap and pushes per-transition updates.

package record

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Session status values understood by the system of record.
const (
	StatusPending      = "pending"
	StatusConnected    = "connected"
	StatusAuthFailed   = "auth_failed"
	StatusDisconnected = "disconnected"
)

// SessionEntry is one row from the system of record's session listing.
type SessionEntry struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// Client talks to the system of record over its small HTTP contract:
// GET /api/sessions and PUT /api/sessions/{id}/status.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the given base URL. The timeout bounds
// every request; zero means no timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// ListSessions fetches all known sessions and their last recorded status.
// Consumed once at process start to restore previously active sessions.
func (c *Client) ListSessions(ctx context.Context) ([]SessionEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/sessions", nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing sessions: unexpected status %d", resp.StatusCode)
	}

	var entries []SessionEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decoding session list: %w", err)
	}
	return entries, nil
}

// UpdateStatus records a session's new status.
func (c *Client) UpdateStatus(ctx context.Context, sessionID, status string) error {
	body, err := json.Marshal(map[string]string{"status": status})
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/sessions/%s/status", c.baseURL, url.PathEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("updating status: unexpected status %d", resp.StatusCode)
	}
	return nil
}
