package remote

import (
	"context"

	"go.uber.org/zap"

	"petition/api/internal/signature"
)

// ListCache is the subset of cache.RedisStore used by Cached.
type ListCache interface {
	LoadSignatures(ctx context.Context) ([]signature.Signature, error)
	SaveSignatures(ctx context.Context, list []signature.Signature) error
	Invalidate(ctx context.Context) error
}

// Cached serves FetchAll from a list cache and drops the cache after every
// successful Submit. Cache failures are logged and fall through to the backend.
type Cached struct {
	next   Committer
	cache  ListCache
	logger *zap.Logger
}

func NewCached(next Committer, cache ListCache, logger *zap.Logger) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{next: next, cache: cache, logger: logger}
}

func (c *Cached) FetchAll(ctx context.Context) ([]signature.Signature, error) {
	list, err := c.cache.LoadSignatures(ctx)
	if err == nil {
		return list, nil
	}
	c.logger.Debug("signature cache unavailable", zap.Error(err))

	list, err = c.next.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SaveSignatures(ctx, list); err != nil {
		c.logger.Warn("signature cache write failed", zap.Error(err))
	}
	return list, nil
}

func (c *Cached) Submit(ctx context.Context, sub Submission) (*signature.Signature, error) {
	created, err := c.next.Submit(ctx, sub)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Invalidate(ctx); err != nil {
		c.logger.Warn("signature cache invalidation failed", zap.Error(err))
	}
	return created, nil
}

func (c *Cached) Count(ctx context.Context) (int, error) {
	return c.next.Count(ctx)
}

func (c *Cached) Ping(ctx context.Context) error {
	if pinger, ok := c.next.(Pinger); ok {
		return pinger.Ping(ctx)
	}
	return nil
}
