package store

import (
	"context"
	"sync"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryKV is a process-local store, used when no data directory is
// configured and in tests.
type MemoryKV struct {
	mu    sync.Mutex
	items *gocache.Cache
	quota int64
}

// NewMemoryKV creates an empty in-memory store. A quota of zero or less
// disables the size limit.
func NewMemoryKV(quota int64) *MemoryKV {
	return &MemoryKV{
		items: gocache.New(gocache.NoExpiration, 0),
		quota: quota,
	}
}

// Get returns the value stored under key.
func (m *MemoryKV) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	v, ok := m.items.Get(key)
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

// Set stores value under key.
func (m *MemoryKV) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.quota > 0 && !IsAside(key) {
		var others int64
		for k, item := range m.items.Items() {
			if k != key && !IsAside(k) {
				others += entrySize(k, item.Object.(string))
			}
		}
		if need := others + entrySize(key, value); need > m.quota {
			return quotaError(need, m.quota)
		}
	}
	m.items.Set(key, value, gocache.NoExpiration)
	return nil
}

// Delete removes key.
func (m *MemoryKV) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.items.Delete(key)
	return nil
}

// Usage returns the bytes counted against the quota and the quota itself.
func (m *MemoryKV) Usage(ctx context.Context) (used, quota int64, err error) {
	for k, item := range m.items.Items() {
		if !IsAside(k) {
			used += entrySize(k, item.Object.(string))
		}
	}
	return used, m.quota, nil
}
