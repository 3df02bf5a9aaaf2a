package cache

import (
	"context"
	"sync"
	"time"

	"github.com/mostafaomar7/tadawi-checkout/internal/domain"
)

// MemoryCache is used when no Redis address is configured.
type MemoryCache struct {
	mu    sync.RWMutex
	carts map[string][]domain.CartLine
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{carts: make(map[string][]domain.CartLine)}
}

func (m *MemoryCache) Get(_ context.Context, ownerID string) ([]domain.CartLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lines, ok := m.carts[ownerID]
	if !ok {
		return nil, ErrCacheMiss
	}
	return append([]domain.CartLine(nil), lines...), nil
}

func (m *MemoryCache) Set(_ context.Context, ownerID string, lines []domain.CartLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[ownerID] = append([]domain.CartLine{}, lines...)
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, ownerID)
	return nil
}

type MemoryCaptureLock struct {
	mu    sync.Mutex
	locks map[string]time.Time
}

func NewMemoryCaptureLock() *MemoryCaptureLock {
	return &MemoryCaptureLock{locks: make(map[string]time.Time)}
}

func (m *MemoryCaptureLock) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.locks[key]; ok && time.Now().Before(exp) {
		return false, nil
	}
	m.locks[key] = time.Now().Add(ttl)
	return true, nil
}

func (m *MemoryCaptureLock) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, key)
	return nil
}

var (
	_ SnapshotCache = (*MemoryCache)(nil)
	_ CaptureLock   = (*MemoryCaptureLock)(nil)
)
