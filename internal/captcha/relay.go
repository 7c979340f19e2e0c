package captcha

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrAlreadyRendered = errors.New("captcha widget already rendered")
	ErrUnknownWidget   = errors.New("unknown captcha widget")
)

// RelayWidget is a Widget whose provider lives in the visitor's browser. The
// page reports script load, completion and expiry over HTTP; the relay turns
// those reports into the callbacks registered at render time and counts the
// resets the page still has to apply to its widget.
type RelayWidget struct {
	mu       sync.Mutex
	loaded   bool
	loadedCh chan struct{}
	widgetID string
	opts     Options
	response string
	resets   int
}

func NewRelayWidget() *RelayWidget {
	return &RelayWidget{loadedCh: make(chan struct{})}
}

// MarkLoaded records that the provider script is available in the browser.
func (w *RelayWidget) MarkLoaded() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.loaded {
		w.loaded = true
		close(w.loadedCh)
	}
}

// Loaded is closed by the first MarkLoaded.
func (w *RelayWidget) Loaded() <-chan struct{} {
	return w.loadedCh
}

func (w *RelayWidget) Available() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loaded
}

func (w *RelayWidget) Render(container string, opts Options) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.widgetID != "" {
		return w.widgetID, ErrAlreadyRendered
	}
	w.widgetID = fmt.Sprintf("%s-widget", container)
	w.opts = opts
	return w.widgetID, nil
}

func (w *RelayWidget) Reset(widgetID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if widgetID != w.widgetID {
		return
	}
	w.response = ""
	w.resets++
}

func (w *RelayWidget) Response(widgetID string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if widgetID != w.widgetID {
		return ""
	}
	return w.response
}

// Complete forwards a completion reported by the browser.
func (w *RelayWidget) Complete(token string) error {
	w.mu.Lock()
	if w.widgetID == "" {
		w.mu.Unlock()
		return ErrUnknownWidget
	}
	w.response = token
	callback := w.opts.OnVerified
	w.mu.Unlock()

	if callback != nil {
		callback(token)
	}
	return nil
}

// Expire forwards an expiry reported by the browser.
func (w *RelayWidget) Expire() error {
	w.mu.Lock()
	if w.widgetID == "" {
		w.mu.Unlock()
		return ErrUnknownWidget
	}
	w.response = ""
	callback := w.opts.OnExpired
	w.mu.Unlock()

	if callback != nil {
		callback()
	}
	return nil
}

// Resets is the number of resets issued so far; the page resets its widget
// whenever this grows.
func (w *RelayWidget) Resets() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.resets
}

// SiteKey returns the site key the widget was rendered with.
func (w *RelayWidget) SiteKey() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.opts.SiteKey
}
