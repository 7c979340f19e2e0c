package remote

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"petition/api/internal/signature"
)

// Memory is an in-process Committer for local runs and tests. It enforces the
// same rules as the database: one signature per handle and single-use captcha
// tokens. Nothing survives a restart.
type Memory struct {
	mu       sync.RWMutex
	items    []signature.Signature // newest first
	handles  map[string]struct{}
	redeemed map[string]struct{}
	now      func() time.Time
}

func NewMemory(logger *zap.Logger) *Memory {
	if logger != nil {
		logger.Warn("using in-memory signature backend, all signatures are lost on restart")
	}
	return &Memory{
		handles:  make(map[string]struct{}),
		redeemed: make(map[string]struct{}),
		now:      time.Now,
	}
}

func (m *Memory) FetchAll(ctx context.Context) ([]signature.Signature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]signature.Signature, len(m.items))
	copy(out, m.items)
	return out, nil
}

func (m *Memory) Submit(ctx context.Context, sub Submission) (*signature.Signature, error) {
	if strings.TrimSpace(sub.CaptchaToken) == "" {
		return nil, ErrRejected
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, used := m.redeemed[sub.CaptchaToken]; used {
		return nil, ErrRejected
	}
	m.redeemed[sub.CaptchaToken] = struct{}{}

	if _, taken := m.handles[strings.ToLower(sub.Handle)]; taken {
		return nil, ErrRejected
	}
	m.handles[strings.ToLower(sub.Handle)] = struct{}{}

	created := signature.Signature{
		ID:        uuid.NewString(),
		Handle:    sub.Handle,
		Comment:   sub.CommentText(),
		CreatedAt: m.now().UTC(),
		Location:  sub.Location,
	}
	m.items = append([]signature.Signature{created}, m.items...)
	return &created, nil
}

func (m *Memory) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items), nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return nil
}
