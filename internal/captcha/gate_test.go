package captcha

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeWidget struct {
	available atomic.Bool
	renderErr error

	mu      sync.Mutex
	renders int
	resets  []string
	opts    Options
}

func (f *fakeWidget) Available() bool { return f.available.Load() }

func (f *fakeWidget) Render(container string, opts Options) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renders++
	f.opts = opts
	return "w-1", f.renderErr
}

func (f *fakeWidget) Reset(widgetID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, widgetID)
}

func (f *fakeWidget) Response(string) string { return "" }

func mountedGate(t *testing.T) (*Gate, *fakeWidget) {
	t.Helper()
	w := &fakeWidget{}
	w.available.Store(true)
	g := NewGate(w, "site-key", time.Millisecond, nil)
	require.NoError(t, g.Mount(context.Background()))
	return g, w
}

func TestGateStartsUninitialized(t *testing.T) {
	g := NewGate(&fakeWidget{}, "k", time.Millisecond, nil)
	require.Equal(t, Uninitialized, g.State())

	// Callbacks before mount are ignored.
	g.Verify("token")
	_, ok := g.Token()
	require.False(t, ok)
}

func TestMountRendersWithSiteKeyAndCallbacks(t *testing.T) {
	g, w := mountedGate(t)

	require.Equal(t, Ready, g.State())
	require.Equal(t, "w-1", g.WidgetID())
	require.Equal(t, "site-key", w.opts.SiteKey)

	w.opts.OnVerified("tok-1")
	token, ok := g.Token()
	require.True(t, ok)
	require.Equal(t, "tok-1", token)

	w.opts.OnExpired()
	require.Equal(t, Ready, g.State())
	_, ok = g.Token()
	require.False(t, ok)

	select {
	case <-g.Mounted():
	default:
		t.Fatal("Mounted channel not closed")
	}
}

func TestMountPollsUntilScriptLoads(t *testing.T) {
	w := &fakeWidget{}
	g := NewGate(w, "k", time.Millisecond, nil)

	done := make(chan error, 1)
	go func() { done <- g.Mount(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	require.Equal(t, Uninitialized, g.State())

	w.available.Store(true)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("mount did not finish after script became available")
	}
	require.Equal(t, Ready, g.State())
}

func TestMountStopsOnTeardown(t *testing.T) {
	g := NewGate(&fakeWidget{}, "k", time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- g.Mount(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("mount ignored cancellation")
	}
	require.Equal(t, Uninitialized, g.State())
}

func TestMountToleratesRenderError(t *testing.T) {
	w := &fakeWidget{renderErr: errors.New("already rendered")}
	w.available.Store(true)
	g := NewGate(w, "k", time.Millisecond, nil)

	require.NoError(t, g.Mount(context.Background()))
	require.Equal(t, Ready, g.State())
}

func TestMountIsIdempotent(t *testing.T) {
	g, w := mountedGate(t)
	require.NoError(t, g.Mount(context.Background()))
	require.Equal(t, 1, w.renders)
}

func TestResetDiscardsTokenAndResetsWidget(t *testing.T) {
	g, w := mountedGate(t)
	g.Verify("tok")

	g.Reset()

	require.Equal(t, Ready, g.State())
	_, ok := g.Token()
	require.False(t, ok)
	require.Equal(t, []string{"w-1"}, w.resets)
}

func TestVerifyIgnoresEmptyToken(t *testing.T) {
	g, _ := mountedGate(t)
	g.Verify("")
	require.Equal(t, Ready, g.State())
}

func TestStateString(t *testing.T) {
	require.Equal(t, "uninitialized", Uninitialized.String())
	require.Equal(t, "ready", Ready.String())
	require.Equal(t, "verified", Verified.String())
}

type signalWidget struct {
	*fakeWidget
	loaded chan struct{}
	checks atomic.Int32
}

func newSignalWidget() *signalWidget {
	return &signalWidget{fakeWidget: &fakeWidget{}, loaded: make(chan struct{})}
}

func (s *signalWidget) Available() bool {
	s.checks.Add(1)
	return s.fakeWidget.Available()
}

func (s *signalWidget) Loaded() <-chan struct{} { return s.loaded }

func (s *signalWidget) markLoaded() {
	s.available.Store(true)
	close(s.loaded)
}

func TestMountWaitsOnReadySignalWithoutPolling(t *testing.T) {
	w := newSignalWidget()
	g := NewGate(w, "k", time.Millisecond, nil)

	done := make(chan error, 1)
	go func() { done <- g.Mount(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, Uninitialized, g.State())
	require.Equal(t, int32(1), w.checks.Load(), "an unloaded widget is checked once, not on every tick")

	w.markLoaded()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("mount did not finish after the ready signal")
	}
	require.Equal(t, Ready, g.State())
	require.Equal(t, 1, w.renders)
}

func TestMountOnReadySignalStopsOnTeardown(t *testing.T) {
	w := newSignalWidget()
	g := NewGate(w, "k", time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- g.Mount(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("mount ignored cancellation")
	}
	require.Equal(t, Uninitialized, g.State())
}
