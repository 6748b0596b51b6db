// Package cdptest provides an in-process fake of a browser's DevTools
// endpoint for tests: the /json directory plus per-target WebSocket
// connections answering Runtime.evaluate.
package cdptest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// Exception makes an Eval func report a JavaScript exception instead of a
// value.
type Exception struct {
	Text        string
	Description string
}

func (e *Exception) Error() string {
	return e.Text
}

// EvalFunc answers one Runtime.evaluate expression. Returning an *Exception
// produces exceptionDetails; any other error produces a CDP protocol error.
type EvalFunc func(expression string) (interface{}, error)

// Target is one fake debuggable target.
type Target struct {
	ID    string
	Type  string
	Title string
	URL   string
	Eval  EvalFunc
}

// Browser is a fake DevTools endpoint.
type Browser struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	targets []*Target
}

// New starts a fake browser; it is shut down with the test.
func New(t *testing.T) *Browser {
	t.Helper()

	b := &Browser{}
	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", b.handleVersion)
	mux.HandleFunc("/json/list", b.handleList)
	mux.HandleFunc("/devtools/page/", b.handleWebSocket)
	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

// Endpoint returns the HTTP debug endpoint URL.
func (b *Browser) Endpoint() string {
	return b.srv.URL
}

// AddTarget makes a target visible in /json/list and connectable.
func (b *Browser) AddTarget(tgt *Target) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.targets = append(b.targets, tgt)
}

// RemoveTarget drops a target from the directory.
func (b *Browser) RemoveTarget(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.targets[:0]
	for _, tgt := range b.targets {
		if tgt.ID != id {
			kept = append(kept, tgt)
		}
	}
	b.targets = kept
}

func (b *Browser) lookup(id string) *Target {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, tgt := range b.targets {
		if tgt.ID == id {
			return tgt
		}
	}
	return nil
}

func (b *Browser) wsURL(id string) string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/devtools/page/" + id
}

func (b *Browser) handleVersion(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"Browser":              "FakeChrome/1.0",
		"Protocol-Version":     "1.3",
		"webSocketDebuggerUrl": b.wsURL("browser"),
	})
}

func (b *Browser) handleList(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := make([]map[string]string, 0, len(b.targets))
	for _, tgt := range b.targets {
		list = append(list, map[string]string{
			"id":                   tgt.ID,
			"type":                 tgt.Type,
			"title":                tgt.Title,
			"url":                  tgt.URL,
			"webSocketDebuggerUrl": b.wsURL(tgt.ID),
		})
	}
	json.NewEncoder(w).Encode(list)
}

func (b *Browser) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/devtools/page/")
	tgt := b.lookup(id)
	if tgt == nil {
		http.Error(w, "no such target", http.StatusNotFound)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var req struct {
			ID     int64  `json:"id"`
			Method string `json:"method"`
			Params struct {
				Expression string `json:"expression"`
			} `json:"params"`
		}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		if req.Method != "Runtime.evaluate" {
			conn.WriteJSON(map[string]interface{}{
				"id":    req.ID,
				"error": map[string]interface{}{"code": -32601, "message": "method not supported: " + req.Method},
			})
			continue
		}

		var value interface{}
		var evalErr error
		if tgt.Eval != nil {
			value, evalErr = tgt.Eval(req.Params.Expression)
		}

		switch e := evalErr.(type) {
		case nil:
			raw, _ := json.Marshal(value)
			conn.WriteJSON(map[string]interface{}{
				"id": req.ID,
				"result": map[string]interface{}{
					"result": map[string]interface{}{"type": "object", "value": json.RawMessage(raw)},
				},
			})
		case *Exception:
			conn.WriteJSON(map[string]interface{}{
				"id": req.ID,
				"result": map[string]interface{}{
					"result": map[string]interface{}{"type": "undefined"},
					"exceptionDetails": map[string]interface{}{
						"exceptionId": 1,
						"text":        e.Text,
						"exception":   map[string]interface{}{"type": "object", "description": e.Description},
					},
				},
			})
		default:
			conn.WriteJSON(map[string]interface{}{
				"id":    req.ID,
				"error": map[string]interface{}{"code": -32000, "message": evalErr.Error()},
			})
		}
	}
}

// ExtensionOrigin builds a chrome-extension:// URL for a fake extension id.
func ExtensionOrigin(extID string) string {
	return fmt.Sprintf("chrome-extension://%s/background.js", extID)
}
