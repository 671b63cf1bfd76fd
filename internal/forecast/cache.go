package forecast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CoinFlow/internal/domain/repository"
	"CoinFlow/pkg/cache"
)

// CachedForecaster remembers predictions per key, event time and horizon so
// a record replayed after a restart does not hit the forecaster twice.
// Unavailable answers are not cached.
type CachedForecaster struct {
	next  repository.Forecaster
	store cache.Service
	ttl   time.Duration
}

func NewCachedForecaster(next repository.Forecaster, store cache.Service, ttl time.Duration) *CachedForecaster {
	return &CachedForecaster{next: next, store: store, ttl: ttl}
}

func (c *CachedForecaster) Predict(ctx context.Context, key string, at time.Time, horizon time.Duration) (float64, error) {
	ck := cacheKey(key, at, horizon)
	var yhat float64
	err := c.store.Get(ctx, ck, &yhat)
	if err == nil {
		return yhat, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		return c.next.Predict(ctx, key, at, horizon)
	}

	yhat, err = c.next.Predict(ctx, key, at, horizon)
	if err != nil {
		return 0, err
	}
	_ = c.store.Set(ctx, ck, yhat, c.ttl)
	return yhat, nil
}

func cacheKey(key string, at time.Time, horizon time.Duration) string {
	return fmt.Sprintf("yhat:%s:%d:%d", key, at.UnixNano(), int64(horizon))
}
