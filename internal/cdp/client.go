// Package cdp talks to a Chrome DevTools Protocol endpoint: the HTTP target
// directory (/json) for discovery and liveness, and a transient WebSocket
// channel for Runtime.evaluate calls against individual targets.
package cdp

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Target is one debuggable target as reported by /json/list.
type Target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Version is the browser identity reported by /json/version. Fetching it is
// the liveness probe shared by the daemon's health loop and the daemon
// client.
type Version struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Client queries one browser's debug endpoint, e.g. "http://127.0.0.1:9222".
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient returns a client for the given HTTP debug endpoint.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 3 * time.Second},
	}
}

// Endpoint returns the HTTP debug endpoint this client is bound to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Version fetches /json/version.
func (c *Client) Version() (*Version, error) {
	var v Version
	if err := c.getJSON("/json/version", &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Alive reports whether the endpoint answers the version probe.
func (c *Client) Alive() bool {
	_, err := c.Version()
	return err == nil
}

// Targets lists the live debuggable targets from /json/list.
func (c *Client) Targets() ([]Target, error) {
	var targets []Target
	if err := c.getJSON("/json/list", &targets); err != nil {
		return nil, err
	}
	return targets, nil
}

func (c *Client) getJSON(path string, out interface{}) error {
	resp, err := c.http.Get(c.endpoint + path)
	if err != nil {
		return &TransportError{Op: "get " + path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: "read " + path, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &TransportError{Op: "get " + path, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", path, err)
	}
	return nil
}
