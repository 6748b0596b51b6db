package cdp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/runtime"
	"github.com/gorilla/websocket"
)

// DefaultEvaluateTimeout bounds a single Runtime.evaluate round trip.
const DefaultEvaluateTimeout = 10 * time.Second

// ErrEvaluateTimeout reports that the evaluate exceeded its bound. Callers
// retry only at the next natural opportunity, never in a tight loop.
var ErrEvaluateTimeout = errors.New("evaluate timed out")

// TransportError is a socket or connection failure talking to the browser.
// Visual operations degrade to a no-op on it; core tab operations treat it as
// fatal.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("cdp transport failure (%s): %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ExceptionError is a JavaScript exception thrown inside the evaluated
// target, as opposed to a protocol or transport failure.
type ExceptionError struct {
	Text    string
	Details string
}

func (e *ExceptionError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("evaluate threw: %s: %s", e.Text, e.Details)
	}
	return fmt.Sprintf("evaluate threw: %s", e.Text)
}

// request is the CDP message envelope for a single command over a fresh
// connection, so the id sequence always starts at 1.
type request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type response struct {
	ID     int64           `json:"id"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *cdproto.Error  `json:"error,omitempty"`
}

// Evaluate opens a transient debug connection to the target behind wsURL,
// runs one Runtime.evaluate with returnByValue and awaitPromise, and returns
// the resulting value as raw JSON. The whole round trip is bounded by
// timeout; there is no cancellation beyond that.
func Evaluate(wsURL, expression string, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultEvaluateTimeout
	}
	deadline := time.Now().Add(timeout)

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		return nil, &TransportError{Op: "dial " + wsURL, Err: err}
	}
	defer conn.Close()

	params, err := json.Marshal(&runtime.EvaluateParams{
		Expression:    expression,
		ReturnByValue: true,
		AwaitPromise:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal evaluate params: %w", err)
	}

	conn.SetWriteDeadline(deadline)
	req := request{ID: 1, Method: runtime.CommandEvaluate, Params: params}
	if err := conn.WriteJSON(req); err != nil {
		return nil, &TransportError{Op: "write", Err: err}
	}

	// Events and unrelated messages may arrive first; read until our id.
	conn.SetReadDeadline(deadline)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, fmt.Errorf("%w after %v", ErrEvaluateTimeout, timeout)
			}
			return nil, &TransportError{Op: "read", Err: err}
		}

		var resp response
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		if resp.ID != req.ID {
			continue
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("cdp error: %w", resp.Error)
		}

		var ret runtime.EvaluateReturns
		if err := json.Unmarshal(resp.Result, &ret); err != nil {
			return nil, fmt.Errorf("failed to parse evaluate result: %w", err)
		}
		if ret.ExceptionDetails != nil {
			exc := &ExceptionError{Text: ret.ExceptionDetails.Text}
			if ret.ExceptionDetails.Exception != nil {
				exc.Details = ret.ExceptionDetails.Exception.Description
			}
			return nil, exc
		}
		if ret.Result == nil {
			return nil, nil
		}
		return json.RawMessage(ret.Result.Value), nil
	}
}
