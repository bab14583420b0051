package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Memory is an in-process counter store for single-instance deployments and
// development. Counters are not shared between processes.
type Memory struct {
	mu    sync.Mutex
	items *ttlcache.Cache[string, int64]
}

// NewMemory creates a Memory store and starts its expiry loop.
func NewMemory() *Memory {
	items := ttlcache.New[string, int64](
		ttlcache.WithDisableTouchOnHit[string, int64](),
	)
	go items.Start()
	return &Memory{items: items}
}

// Close stops the expiry loop.
func (m *Memory) Close() error {
	m.items.Stop()
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (int64, bool, error) {
	item := m.items.Get(key)
	if item == nil || item.IsExpired() {
		return 0, false, nil
	}
	return item.Value(), true, nil
}

func (m *Memory) Put(_ context.Context, key string, value int64, ttl time.Duration) error {
	m.items.Set(key, value, ttl)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.items.Delete(key)
	return nil
}

// IncrementIfBelow increments key when its value is below max, keeping the
// expiry assigned when the key was created.
func (m *Memory) IncrementIfBelow(_ context.Context, key string, max int64, ttl time.Duration) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := m.items.Get(key)
	if item == nil || item.IsExpired() {
		if max <= 0 {
			return 0, false, nil
		}
		m.items.Set(key, 1, ttl)
		return 1, true, nil
	}

	current := item.Value()
	if current >= max {
		return current, false, nil
	}

	remaining := time.Until(item.ExpiresAt())
	if remaining <= 0 {
		remaining = ttl
	}
	m.items.Set(key, current+1, remaining)
	return current + 1, true, nil
}

// Len reports the number of live counters.
func (m *Memory) Len() int {
	return m.items.Len()
}
