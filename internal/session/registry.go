// Package session keeps one submission pipeline per visitor: a captcha relay
// widget, the gate around it and the form coordinator. Idle visitors are torn
// down by a sweeper, which stops the widget mount loop and any pending
// confirmation timer.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"petition/api/internal/captcha"
	"petition/api/internal/form"
	"petition/api/internal/signature"
	"petition/api/internal/util"
)

const (
	DefaultIdleTTL       = 30 * time.Minute
	DefaultMaxVisitors   = 10000
	defaultSweepInterval = time.Minute
)

var (
	ErrNotFound = errors.New("visitor session not found")
	ErrFull     = errors.New("visitor session limit reached")
)

const visitorPrefix = "vis"

// Visitor is the per-visitor pipeline.
type Visitor struct {
	ID     string
	Widget *captcha.RelayWidget
	Gate   *captcha.Gate
	Form   *form.Coordinator

	cancel context.CancelFunc
	done   chan struct{}
}

func (v *Visitor) close() {
	v.Form.Close()
	v.cancel()
	<-v.done
}

type Config struct {
	SiteKey       string
	PollInterval  time.Duration
	IdleTTL       time.Duration
	SweepInterval time.Duration
	// MaxVisitors caps live sessions; Open fails with ErrFull beyond it.
	MaxVisitors int
	Form          form.Config
	Logger        *zap.Logger
}

type record struct {
	visitor   *Visitor
	expiresAt time.Time
}

type Registry struct {
	cfg       Config
	committer form.Committer
	store     *signature.Store
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.Mutex
	visitors map[string]record
	closed   bool
}

func NewRegistry(committer form.Committer, store *signature.Store, cfg Config) *Registry {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.MaxVisitors <= 0 {
		cfg.MaxVisitors = DefaultMaxVisitors
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Registry{
		cfg:       cfg,
		committer: committer,
		store:     store,
		logger:    cfg.Logger,
		now:       time.Now,
		visitors:  make(map[string]record),
	}
}

// Open creates a visitor and starts mounting its captcha widget. The mount
// goroutine sleeps until the page reports the widget script as loaded. When
// the registry is at MaxVisitors, expired visitors are swept first and Open
// fails with ErrFull if none were.
func (r *Registry) Open() (*Visitor, error) {
	if r.Len() >= r.cfg.MaxVisitors {
		r.Sweep()
	}

	id := util.NewID(visitorPrefix)
	logger := r.logger.With(zap.String("session", id))

	widget := captcha.NewRelayWidget()
	gate := captcha.NewGate(widget, r.cfg.SiteKey, r.cfg.PollInterval, logger)
	formCfg := r.cfg.Form
	formCfg.Logger = logger
	ctx, cancel := context.WithCancel(context.Background())

	v := &Visitor{
		ID:     id,
		Widget: widget,
		Gate:   gate,
		Form:   form.NewCoordinator(gate, r.committer, r.store, formCfg),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return nil, errors.New("session registry is closed")
	}
	if len(r.visitors) >= r.cfg.MaxVisitors {
		r.mu.Unlock()
		cancel()
		r.logger.Warn("visitor session limit reached", zap.Int("max", r.cfg.MaxVisitors))
		return nil, ErrFull
	}
	r.visitors[id] = record{visitor: v, expiresAt: r.now().Add(r.cfg.IdleTTL)}
	r.mu.Unlock()

	go func() {
		defer close(v.done)
		if err := gate.Mount(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("captcha mount stopped", zap.Error(err))
		}
	}()

	logger.Debug("visitor session opened")
	return v, nil
}

// Get returns a live visitor and extends its idle deadline.
func (r *Registry) Get(id string) (*Visitor, error) {
	if !util.HasPrefix(id, visitorPrefix) {
		return nil, ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.visitors[id]
	if !ok || r.now().After(rec.expiresAt) {
		return nil, ErrNotFound
	}
	rec.expiresAt = r.now().Add(r.cfg.IdleTTL)
	r.visitors[id] = rec
	return rec.visitor, nil
}

// Close tears one visitor down.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	rec, ok := r.visitors[id]
	delete(r.visitors, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	rec.visitor.close()
	return true
}

// Sweep closes every visitor past its idle deadline and reports how many.
func (r *Registry) Sweep() int {
	now := r.now()
	var expired []*Visitor
	r.mu.Lock()
	for id, rec := range r.visitors {
		if now.After(rec.expiresAt) {
			expired = append(expired, rec.visitor)
			delete(r.visitors, id)
		}
	}
	r.mu.Unlock()

	for _, v := range expired {
		v.close()
	}
	if len(expired) > 0 {
		r.logger.Debug("idle visitor sessions closed", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// Run sweeps on an interval until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.visitors)
}

func (r *Registry) IdleTTL() time.Duration {
	return r.cfg.IdleTTL
}

// Shutdown closes every visitor. Open fails afterwards.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.closed = true
	visitors := make([]*Visitor, 0, len(r.visitors))
	for id, rec := range r.visitors {
		visitors = append(visitors, rec.visitor)
		delete(r.visitors, id)
	}
	r.mu.Unlock()

	for _, v := range visitors {
		v.close()
	}
}
