// Package idempotency runs an operation at most once per client key within a
// TTL window. It knows nothing about transfers.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"transfersvc/internal/apperr"

	"go.uber.org/zap"
)

const (
	resultPrefix     = "idem:"
	processingPrefix = "idem:processing:"
)

// Cache is the key/value store behind the gate.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type Gate struct {
	cache  Cache
	logger *zap.Logger
}

func NewGate(cache Cache, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{cache: cache, logger: logger}
}

func ResultKey(key string) string     { return resultPrefix + key }
func ProcessingKey(key string) string { return processingPrefix + key }

// Execute returns the cached result for key if one exists. Otherwise it claims
// key with a PROCESSING marker, runs fn, and caches fn's result on success.
// A caller that finds the marker held fails with apperr.ErrIdempotencyConflict.
// Failures are never cached, so a retry with the same key runs fn again.
func (g *Gate) Execute(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) ([]byte, error)) (result []byte, replayed bool, err error) {
	if cached, ok, err := g.cache.Get(ctx, ResultKey(key)); err != nil {
		return nil, false, fmt.Errorf("idempotency lookup: %w", err)
	} else if ok {
		return cached, true, nil
	}

	claimed, err := g.cache.SetIfAbsent(ctx, ProcessingKey(key), []byte("1"), ttl)
	if err != nil {
		return nil, false, fmt.Errorf("idempotency claim: %w", err)
	}
	if !claimed {
		return nil, false, apperr.IdempotencyConflict(key)
	}

	defer func() {
		clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := g.cache.Delete(clearCtx, ProcessingKey(key)); err != nil {
			g.logger.Error("clear idempotency marker failed", zap.String("key", key), zap.Error(err))
		}
	}()

	// the previous holder may have completed between our lookup and the claim
	if cached, ok, err := g.cache.Get(ctx, ResultKey(key)); err != nil {
		return nil, false, fmt.Errorf("idempotency lookup: %w", err)
	} else if ok {
		return cached, true, nil
	}

	result, err = fn(ctx)
	if err != nil {
		return nil, false, err
	}

	// stored before the marker is cleared, so no duplicate slips in between
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := g.cache.Set(storeCtx, ResultKey(key), result, ttl); err != nil {
		g.logger.Error("cache idempotent result failed", zap.String("key", key), zap.Error(err))
	}

	return result, false, nil
}
