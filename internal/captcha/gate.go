// Package captcha wraps a third-party one-time challenge widget behind a small
// state machine that hands out at most one verification token per attempt.
package captcha

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type State int

const (
	Uninitialized State = iota
	Ready
	Verified
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Verified:
		return "verified"
	default:
		return "uninitialized"
	}
}

// Options are handed to the widget when it is rendered.
type Options struct {
	SiteKey    string
	OnVerified func(token string)
	OnExpired  func()
}

// Widget is the external challenge provider as seen from the gate.
type Widget interface {
	// Available reports whether the provider script has loaded.
	Available() bool
	Render(container string, opts Options) (string, error)
	Reset(widgetID string)
	Response(widgetID string) string
}

// ReadySignal is implemented by widgets that announce script load themselves.
// Loaded is closed once Available turns true.
type ReadySignal interface {
	Loaded() <-chan struct{}
}

// Gate tracks the token produced by a mounted widget.
type Gate struct {
	widget       Widget
	siteKey      string
	container    string
	pollInterval time.Duration
	logger       *zap.Logger

	mu       sync.Mutex
	state    State
	token    string
	widgetID string
	mounted  chan struct{}
}

func NewGate(widget Widget, siteKey string, pollInterval time.Duration, logger *zap.Logger) *Gate {
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		widget:       widget,
		siteKey:      siteKey,
		container:    "captcha",
		pollInterval: pollInterval,
		logger:       logger,
		mounted:      make(chan struct{}),
	}
}

// Mount waits for the widget script to become available, then renders the
// widget and moves the gate to Ready. A widget that implements ReadySignal is
// waited on without waking; any other widget is polled at the gate's interval.
// There is no attempt cap: only ctx cancellation (teardown) stops the wait.
func (g *Gate) Mount(ctx context.Context) error {
	g.mu.Lock()
	if g.state != Uninitialized {
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	if !g.widget.Available() {
		if err := g.waitAvailable(ctx); err != nil {
			return err
		}
	}

	widgetID, err := g.widget.Render(g.container, Options{
		SiteKey:    g.siteKey,
		OnVerified: g.Verify,
		OnExpired:  g.Expire,
	})
	if err != nil {
		// The provider refuses a second render into the same container.
		g.logger.Debug("captcha render failed, treating widget as mounted", zap.Error(err))
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Uninitialized {
		g.widgetID = widgetID
		g.state = Ready
		close(g.mounted)
	}
	return nil
}

func (g *Gate) waitAvailable(ctx context.Context) error {
	if signal, ok := g.widget.(ReadySignal); ok {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-signal.Loaded():
			return nil
		}
	}

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if g.widget.Available() {
				return nil
			}
		}
	}
}

// Mounted is closed once the gate has left Uninitialized.
func (g *Gate) Mounted() <-chan struct{} {
	return g.mounted
}

// Verify is the widget completion callback.
func (g *Gate) Verify(token string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Uninitialized || token == "" {
		return
	}
	g.state = Verified
	g.token = token
}

// Expire is the widget expiry callback.
func (g *Gate) Expire() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Verified {
		g.state = Ready
		g.token = ""
	}
}

// Reset discards the current token and asks the widget for a fresh challenge.
// A token is spent by any submission attempt, successful or not.
func (g *Gate) Reset() {
	g.mu.Lock()
	if g.state == Uninitialized {
		g.mu.Unlock()
		return
	}
	g.state = Ready
	g.token = ""
	widgetID := g.widgetID
	g.mu.Unlock()

	g.widget.Reset(widgetID)
}

// Token returns the current token while the gate is Verified.
func (g *Gate) Token() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Verified {
		return "", false
	}
	return g.token, true
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// WidgetID is the handle returned by the widget's render call.
func (g *Gate) WidgetID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.widgetID
}
