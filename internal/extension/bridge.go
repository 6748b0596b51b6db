// Package extension locates the companion extension inside the shared
// browser and executes RPCs against it over the CDP evaluate channel. The
// extension's background context is a service worker the browser may park at
// any time, so discovery includes a wake protocol for dormant instances.
package extension

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/corralhq/corral/internal/cdp"
	"github.com/corralhq/corral/internal/registry"
)

const (
	// bridgeGlobal is the capability object the companion extension exports
	// in its background context. Probing for it is how a bridge target is
	// told apart from every other extension's background worker.
	bridgeGlobal = "corralBridge"

	// wakeMessageType tags the cross-extension wake message. The payload is
	// irrelevant: receiving any inbound message force-starts a dormant MV3
	// service worker.
	wakeMessageType = "corral-wake"

	probeTimeout = 2 * time.Second

	// wakeSettleDelay is how long a woken service worker gets to register
	// its target before the rescan.
	wakeSettleDelay = 500 * time.Millisecond

	cacheTTL = 5 * time.Minute
)

// probeExpr evaluates to true only inside the companion extension's
// background context.
var probeExpr = fmt.Sprintf("typeof %s === 'object' && %s !== null", bridgeGlobal, bridgeGlobal)

// ErrUnavailable reports that no responsive companion extension could be
// found, even after attempting a wake. Core tab operations must keep working
// when they see this; only the visual decoration is skipped.
var ErrUnavailable = errors.New("companion extension not reachable: install the corral extension in the shared browser, or add its unpacked path to extensions in the config and restart the daemon")

// Handle is a discovered, responsive bridge target.
type Handle struct {
	ExtensionID string
	TargetID    string
	WSURL       string
}

// Bridge discovers the companion extension per endpoint and runs RPCs
// against it. The registry persists the extension id so future processes can
// skip full discovery; the in-memory cache skips it within one process.
type Bridge struct {
	reg     *registry.Registry
	cache   *gocache.Cache // endpoint -> *Handle
	timeout time.Duration  // per-RPC bound
}

// New returns a bridge that persists the discovered extension id through reg.
// reg may be nil, in which case discovery state lives only in memory.
func New(reg *registry.Registry) *Bridge {
	return &Bridge{
		reg:     reg,
		cache:   gocache.New(cacheTTL, 2*cacheTTL),
		timeout: cdp.DefaultEvaluateTimeout,
	}
}

// IsAvailable reports whether a responsive extension instance can be located
// on the endpoint, waking a dormant one if necessary.
func (b *Bridge) IsAvailable(endpoint string) bool {
	_, err := b.Discover(endpoint)
	return err == nil
}

// Discover locates the companion extension's background target. Cached
// handles are trusted only after confirming they still appear in the live
// target list; otherwise discovery restarts, falling back to the wake
// protocol for a dormant known instance.
func (b *Bridge) Discover(endpoint string) (*Handle, error) {
	client := cdp.NewClient(endpoint)
	targets, err := client.Targets()
	if err != nil {
		return nil, err
	}

	if v, ok := b.cache.Get(endpoint); ok {
		h := v.(*Handle)
		if tgt := findTarget(targets, h.TargetID); tgt != nil && probeBridge(tgt.WebSocketDebuggerURL) {
			return h, nil
		}
		b.cache.Delete(endpoint)
	}

	if h := b.scan(targets); h != nil {
		b.remember(endpoint, h)
		return h, nil
	}

	// Nothing responsive. If we know the extension's identity from an
	// earlier discovery, try to wake it through a relay.
	known := b.knownExtensionID(endpoint)
	if known == "" {
		return nil, fmt.Errorf("%w (no background target found)", ErrUnavailable)
	}

	relay := findRelay(targets, known)
	if relay == nil {
		return nil, fmt.Errorf("%w (extension %s is dormant and no relay extension is available to wake it)", ErrUnavailable, known)
	}

	slog.Debug("waking dormant extension", "extension_id", known, "relay", relay.URL)
	wakeExpr := fmt.Sprintf("chrome.runtime.sendMessage(%q, {type: %q})", known, wakeMessageType)
	// Delivery is all that matters; the response and any error are ignored.
	cdp.Evaluate(relay.WebSocketDebuggerURL, wakeExpr, probeTimeout)

	time.Sleep(wakeSettleDelay)

	targets, err = client.Targets()
	if err != nil {
		return nil, err
	}
	if h := b.scan(targets); h != nil {
		b.remember(endpoint, h)
		return h, nil
	}
	return nil, fmt.Errorf("%w (extension %s did not wake)", ErrUnavailable, known)
}

// Call discovers the extension (cache first) and evaluates one expression in
// its background context, returning the resulting value as raw JSON.
func (b *Bridge) Call(endpoint, expression string) (json.RawMessage, error) {
	h, err := b.Discover(endpoint)
	if err != nil {
		return nil, err
	}

	res, err := cdp.Evaluate(h.WSURL, expression, b.timeout)
	if err != nil {
		var te *cdp.TransportError
		if errors.As(err, &te) {
			// The worker may have been parked between discovery and call;
			// force a full rediscovery next time.
			b.cache.Delete(endpoint)
		}
		return nil, err
	}
	return res, nil
}

// scan feature-probes every extension background target and returns the
// first affirmative match.
func (b *Bridge) scan(targets []cdp.Target) *Handle {
	for i := range targets {
		tgt := &targets[i]
		if !isExtensionBackground(tgt) {
			continue
		}
		if probeBridge(tgt.WebSocketDebuggerURL) {
			return &Handle{
				ExtensionID: extensionIDFromURL(tgt.URL),
				TargetID:    tgt.ID,
				WSURL:       tgt.WebSocketDebuggerURL,
			}
		}
	}
	return nil
}

func (b *Bridge) remember(endpoint string, h *Handle) {
	b.cache.Set(endpoint, h, cacheTTL)
	if b.reg == nil || h.ExtensionID == "" {
		return
	}
	prev, err := b.reg.ExtensionID()
	if err == nil && prev == h.ExtensionID {
		return
	}
	if err := b.reg.SetExtensionID(h.ExtensionID); err != nil {
		slog.Warn("failed to persist extension id", "error", err)
	}
}

// knownExtensionID returns the extension's identity from the in-memory cache
// or the persisted registry, in that order.
func (b *Bridge) knownExtensionID(endpoint string) string {
	if v, ok := b.cache.Get(endpoint); ok {
		return v.(*Handle).ExtensionID
	}
	if b.reg == nil {
		return ""
	}
	id, err := b.reg.ExtensionID()
	if err != nil {
		return ""
	}
	return id
}

// probeBridge reports whether the capability object is exported by the
// context behind wsURL.
func probeBridge(wsURL string) bool {
	res, err := cdp.Evaluate(wsURL, probeExpr, probeTimeout)
	if err != nil {
		return false
	}
	var ok bool
	if err := json.Unmarshal(res, &ok); err != nil {
		return false
	}
	return ok
}

// findRelay returns any responsive extension background target other than
// the dormant one, usable purely to deliver the wake message.
func findRelay(targets []cdp.Target, dormantID string) *cdp.Target {
	for i := range targets {
		tgt := &targets[i]
		if !isExtensionBackground(tgt) || extensionIDFromURL(tgt.URL) == dormantID {
			continue
		}
		if _, err := cdp.Evaluate(tgt.WebSocketDebuggerURL, "true", probeTimeout); err == nil {
			return tgt
		}
	}
	return nil
}

func findTarget(targets []cdp.Target, id string) *cdp.Target {
	for i := range targets {
		if targets[i].ID == id {
			return &targets[i]
		}
	}
	return nil
}

// isExtensionBackground matches MV3 service workers and legacy MV2
// background pages belonging to an extension origin.
func isExtensionBackground(tgt *cdp.Target) bool {
	if tgt.Type != "service_worker" && tgt.Type != "background_page" {
		return false
	}
	return strings.HasPrefix(tgt.URL, "chrome-extension://")
}

// extensionIDFromURL extracts the extension id (the host part) from a
// chrome-extension:// URL.
func extensionIDFromURL(url string) string {
	rest := strings.TrimPrefix(url, "chrome-extension://")
	if rest == url {
		return ""
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}
