package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"CoinFlow/internal/domain/models"
	"CoinFlow/internal/domain/repository"
	"CoinFlow/pkg/cache"
)

const (
	snapshotKeyPrefix = "snap:"
	checkpointLock    = "checkpoint-lock"
)

// ErrCheckpointBusy means another process holds the checkpoint lock.
var ErrCheckpointBusy = errors.New("checkpoint in progress elsewhere")

// RedisStateStore keeps one JSON snapshot per key.
type RedisStateStore struct {
	c   cache.Service
	ttl time.Duration
}

func NewRedisStateStore(c cache.Service, ttl time.Duration) *RedisStateStore {
	return &RedisStateStore{c: c, ttl: ttl}
}

// Save replaces the snapshots of the given keys. Keys absent from snaps are
// left alone.
func (s *RedisStateStore) Save(ctx context.Context, snaps []models.KeySnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	ok, err := s.c.TryLock(ctx, checkpointLock, 30*time.Second)
	if err != nil {
		return fmt.Errorf("checkpoint lock: %w", err)
	}
	if !ok {
		return ErrCheckpointBusy
	}
	defer func() { _ = s.c.Unlock(context.Background(), checkpointLock) }()

	values := make(map[string]interface{}, len(snaps))
	for _, snap := range snaps {
		values[snapshotKeyPrefix+snap.Key] = snap
	}
	if err := s.c.MSet(ctx, values, s.ttl); err != nil {
		return fmt.Errorf("save %d snapshots: %w", len(snaps), err)
	}
	return nil
}

// Load returns every stored snapshot sorted by key.
func (s *RedisStateStore) Load(ctx context.Context) ([]models.KeySnapshot, error) {
	keys, err := s.c.Keys(ctx, snapshotKeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	byKey, err := cache.MGetTyped[models.KeySnapshot](ctx, s.c, keys...)
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	out := make([]models.KeySnapshot, 0, len(byKey))
	for k, snap := range byKey {
		if snap.Key == "" {
			snap.Key = strings.TrimPrefix(k, snapshotKeyPrefix)
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Clear removes all snapshots.
func (s *RedisStateStore) Clear(ctx context.Context) error {
	keys, err := s.c.Keys(ctx, snapshotKeyPrefix+"*")
	if err != nil {
		return err
	}
	return s.c.Delete(ctx, keys...)
}

func (s *RedisStateStore) Close() error {
	return s.c.Close()
}

var _ repository.StateStore = (*RedisStateStore)(nil)
