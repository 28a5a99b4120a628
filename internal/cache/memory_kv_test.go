package cache_test

import (
	"context"
	"sync"
	"time"

	"sagerspace-tracker/internal/cache"
)

// memoryKV 内存 KV，记录每个键最近一次写入的 TTL 和写入批次
type memoryKV struct {
	mu      sync.Mutex
	now     func() time.Time
	values  map[string]string
	expiry  map[string]time.Time
	ttls    map[string]time.Duration
	batches int
}

func newFakeKVStore() *memoryKV {
	return &memoryKV{
		now:    time.Now,
		values: map[string]string{},
		expiry: map[string]time.Time{},
		ttls:   map[string]time.Duration{},
	}
}

func (m *memoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.values[key]
	if exp, has := m.expiry[key]; ok && has && !m.now().Before(exp) {
		delete(m.values, key)
		delete(m.expiry, key)
		ok = false
	}
	if !ok {
		return "", cache.ErrCacheMiss
	}
	return v, nil
}

func (m *memoryKV) SetAll(_ context.Context, values map[string]string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.batches++
	for k, v := range values {
		m.values[k] = v
		m.ttls[k] = ttl
		if ttl > 0 {
			m.expiry[k] = m.now().Add(ttl)
		} else {
			delete(m.expiry, k)
		}
	}
	return nil
}

func (m *memoryKV) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.values, k)
		delete(m.expiry, k)
	}
	return nil
}
