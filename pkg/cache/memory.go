package cache

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"
)

type memoryItem struct {
	data     []byte
	expireAt time.Time // zero means no expiry
	lastUsed time.Time
}

// MemoryCache implements Service in process memory. When full, the least
// recently used entry is evicted.
type MemoryCache struct {
	mu      sync.Mutex
	items   map[string]*memoryItem
	maxSize int
	now     func() time.Time
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{MaxSize: 1000, Now: time.Now}
	for _, opt := range opts {
		opt(cfg)
	}
	return &MemoryCache{items: make(map[string]*memoryItem), maxSize: cfg.MaxSize, now: cfg.Now}
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.set(key, data, expiration)
	return nil
}

func (mc *MemoryCache) set(key string, data []byte, expiration time.Duration) {
	now := mc.now()
	if _, exists := mc.items[key]; !exists && mc.maxSize > 0 && len(mc.items) >= mc.maxSize {
		mc.evictLRU()
	}
	item := &memoryItem{data: append([]byte(nil), data...), lastUsed: now}
	if expiration > 0 {
		item.expireAt = now.Add(expiration)
	}
	mc.items[key] = item
}

// lookup returns a live item; callers hold the mutex.
func (mc *MemoryCache) lookup(key string) (*memoryItem, bool) {
	item, ok := mc.items[key]
	if !ok {
		return nil, false
	}
	now := mc.now()
	if !item.expireAt.IsZero() && now.After(item.expireAt) {
		delete(mc.items, key)
		return nil, false
	}
	item.lastUsed = now
	return item, true
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	item, ok := mc.lookup(key)
	var data []byte
	if ok {
		data = item.data
	}
	mc.mu.Unlock()
	if !ok {
		return ErrCacheMiss
	}
	return decode(data, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, key := range keys {
		delete(mc.items, key)
	}
	return nil
}

// Keys matches with path.Match, which covers the glob subset used here.
func (mc *MemoryCache) Keys(_ context.Context, pattern string) ([]string, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	var out []string
	for key := range mc.items {
		ok, err := path.Match(pattern, key)
		if err != nil {
			return nil, err
		}
		if ok {
			if _, live := mc.lookup(key); live {
				out = append(out, key)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (mc *MemoryCache) MSet(_ context.Context, values map[string]interface{}, expiration time.Duration) error {
	encoded := make(map[string][]byte, len(values))
	for k, v := range values {
		data, err := encode(v)
		if err != nil {
			return err
		}
		encoded[k] = data
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for k, data := range encoded {
		mc.set(k, data, expiration)
	}
	return nil
}

func (mc *MemoryCache) MGet(_ context.Context, keys ...string) (map[string]string, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		if item, ok := mc.lookup(key); ok {
			out[key] = string(item.data)
		}
	}
	return out, nil
}

func (mc *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if _, ok := mc.lookup(key); ok {
		return false, nil
	}
	mc.set(key, []byte("locked"), ttl)
	return true, nil
}

func (mc *MemoryCache) Unlock(ctx context.Context, key string) error {
	return mc.Delete(ctx, key)
}

func (mc *MemoryCache) Close() error { return nil }

// Len returns the number of stored entries, expired ones included.
func (mc *MemoryCache) Len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.items)
}

func (mc *MemoryCache) evictLRU() {
	var oldestKey string
	var oldest time.Time
	for key, item := range mc.items {
		if oldestKey == "" || item.lastUsed.Before(oldest) {
			oldestKey, oldest = key, item.lastUsed
		}
	}
	if oldestKey != "" {
		delete(mc.items, oldestKey)
	}
}

var (
	_ Service = (*MemoryCache)(nil)
	_ Service = (*RedisCache)(nil)
)
