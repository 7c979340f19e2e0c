// Package form runs the signature submission pipeline for one visitor:
// captcha check, handle validation, remote commit and the timed confirmation
// that follows a successful commit.
package form

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"petition/api/internal/filter"
	"petition/api/internal/handle"
	"petition/api/internal/remote"
	"petition/api/internal/signature"
)

const DefaultRevertAfter = 30 * time.Second

var (
	ErrBusy   = errors.New("a submission is already in progress")
	ErrClosed = errors.New("form is closed")
)

type State int

const (
	Idle State = iota
	Validating
	CaptchaCheck
	Submitting
	Committed
	Failed
)

func (s State) String() string {
	switch s {
	case Validating:
		return "validating"
	case CaptchaCheck:
		return "captcha_check"
	case Submitting:
		return "submitting"
	case Committed:
		return "committed"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Gate is the part of captcha.Gate the coordinator depends on.
type Gate interface {
	Token() (string, bool)
	Reset()
}

// Committer performs the remote insert.
type Committer interface {
	Submit(ctx context.Context, sub remote.Submission) (*signature.Signature, error)
}

// Draft is the form content as typed by the visitor.
type Draft struct {
	Handle  string `json:"handle"`
	Comment string `json:"comment"`
}

// View is a point-in-time copy of the coordinator state.
type View struct {
	State     State                `json:"state"`
	Draft     Draft                `json:"draft"`
	Failure   *Failure             `json:"failure,omitempty"`
	Error     string               `json:"error,omitempty"`
	Committed *signature.Signature `json:"committed,omitempty"`
}

type Config struct {
	Filter      *filter.Filter
	RevertAfter time.Duration
	Location    signature.LocationFunc
	Logger      *zap.Logger
}

type timer interface {
	Stop() bool
}

type Coordinator struct {
	gate        Gate
	committer   Committer
	store       *signature.Store
	filter      *filter.Filter
	revertAfter time.Duration
	location    signature.LocationFunc
	logger      *zap.Logger
	afterFunc   func(time.Duration, func()) timer

	mu        sync.Mutex
	state     State
	draft     Draft
	failure   *Failure
	committed *signature.Signature
	revert    timer
	closed    bool
}

func NewCoordinator(gate Gate, committer Committer, store *signature.Store, cfg Config) *Coordinator {
	if cfg.Filter == nil {
		cfg.Filter = filter.Default()
	}
	if cfg.RevertAfter <= 0 {
		cfg.RevertAfter = DefaultRevertAfter
	}
	if cfg.Location == nil {
		cfg.Location = signature.RandomLocation
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Coordinator{
		gate:        gate,
		committer:   committer,
		store:       store,
		filter:      cfg.Filter,
		revertAfter: cfg.RevertAfter,
		location:    cfg.Location,
		logger:      cfg.Logger,
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
	}
}

func (c *Coordinator) SetHandle(value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft.Handle = value
	c.clearFailureLocked()
}

func (c *Coordinator) SetComment(value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft.Comment = value
	c.clearFailureLocked()
}

// SetDraft replaces both fields at once.
func (c *Coordinator) SetDraft(d Draft) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = d
	c.clearFailureLocked()
}

func (c *Coordinator) clearFailureLocked() {
	if c.state == Failed {
		c.state = Idle
		c.failure = nil
	}
}

// Submit runs one attempt. The outcome (Committed or Failed) is reported in the
// returned view; the error is only set when the attempt could not start.
func (c *Coordinator) Submit(ctx context.Context) (View, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return View{}, ErrClosed
	}
	if c.state == Submitting {
		c.mu.Unlock()
		return View{}, ErrBusy
	}
	c.stopRevertLocked()
	c.committed = nil
	c.failure = nil
	c.setStateLocked(CaptchaCheck)

	token, ok := c.gate.Token()
	if !ok {
		c.failLocked(Failure{Code: CodeCaptchaRequired})
		view := c.viewLocked()
		c.mu.Unlock()
		return view, nil
	}

	c.setStateLocked(Validating)
	canonical, err := handle.Validate(c.draft.Handle, c.draft.Comment, c.filter)
	if err != nil {
		c.failLocked(failureFor(err))
		view := c.viewLocked()
		c.mu.Unlock()
		return view, nil
	}

	sub := remote.Submission{
		Handle:       canonical,
		Location:     c.location(),
		CaptchaToken: token,
	}
	if comment := strings.TrimSpace(c.draft.Comment); comment != "" {
		sub.Comment = &comment
	}
	c.setStateLocked(Submitting)
	c.mu.Unlock()

	created, err := c.committer.Submit(ctx, sub)
	// the token is spent whatever the outcome
	c.gate.Reset()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil || created == nil {
		if err == nil {
			err = errors.New("remote returned no signature")
		}
		c.logger.Warn("signature commit failed",
			zap.String("handle", canonical),
			zap.Error(err),
		)
		c.failLocked(Failure{Code: CodeRemoteWriteFailed})
		return c.viewLocked(), nil
	}

	c.store.Prepend(*created)
	c.draft = Draft{}
	c.committed = created
	c.setStateLocked(Committed)
	c.logger.Info("signature committed",
		zap.String("id", created.ID),
		zap.String("handle", created.Handle),
	)
	if !c.closed {
		c.revert = c.afterFunc(c.revertAfter, c.revertToIdle)
	}
	return c.viewLocked(), nil
}

func (c *Coordinator) revertToIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Committed {
		return
	}
	c.revert = nil
	c.committed = nil
	c.draft = Draft{}
	c.setStateLocked(Idle)
}

func (c *Coordinator) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close cancels a pending confirmation timer. Later submissions fail with ErrClosed.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopRevertLocked()
}

func (c *Coordinator) stopRevertLocked() {
	if c.revert != nil {
		c.revert.Stop()
		c.revert = nil
	}
}

func (c *Coordinator) failLocked(f Failure) {
	c.failure = &f
	c.setStateLocked(Failed)
	c.logger.Debug("submission rejected", zap.String("code", string(f.Code)))
}

func (c *Coordinator) setStateLocked(next State) {
	if c.state == next {
		return
	}
	c.logger.Debug("form transition",
		zap.Stringer("from", c.state),
		zap.Stringer("to", next),
	)
	c.state = next
}

func (c *Coordinator) viewLocked() View {
	view := View{State: c.state, Draft: c.draft}
	if c.failure != nil {
		f := *c.failure
		view.Failure = &f
		view.Error = f.Message()
	}
	if c.committed != nil {
		sig := *c.committed
		view.Committed = &sig
	}
	return view
}
