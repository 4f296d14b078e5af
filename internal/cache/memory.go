package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStorage keeps buckets in process memory.
type MemoryStorage struct {
	mu      sync.RWMutex
	order   []string
	buckets map[string]*memoryBucket
}

// NewMemoryStorage creates an empty storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{buckets: make(map[string]*memoryBucket)}
}

// Open returns the named bucket, creating it if needed.
func (s *MemoryStorage) Open(ctx context.Context, name string) (Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buckets[name]; ok {
		return b, nil
	}
	b := &memoryBucket{name: name, entries: gocache.New(gocache.NoExpiration, 0)}
	s.buckets[name] = b
	s.order = append(s.order, name)
	return b, nil
}

// Delete removes a bucket and its entries.
func (s *MemoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[name]
	if !ok {
		return false, nil
	}
	b.entries.Flush()
	delete(s.buckets, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// Names lists buckets in creation order.
func (s *MemoryStorage) Names(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}

// Match returns the entry for key from the oldest bucket holding it.
func (s *MemoryStorage) Match(ctx context.Context, key string) (*Response, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, name := range s.order {
		if resp, ok, _ := s.buckets[name].Match(ctx, key); ok {
			return resp, true, nil
		}
	}
	return nil, false, nil
}

type memoryBucket struct {
	name    string
	entries *gocache.Cache
}

func (b *memoryBucket) Name() string { return b.name }

func (b *memoryBucket) Put(ctx context.Context, key string, resp *Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := resp.Clone()
	if stored.StoredAt.IsZero() {
		stored.StoredAt = time.Now()
	}
	b.entries.Set(key, stored, gocache.NoExpiration)
	return nil
}

func (b *memoryBucket) Match(ctx context.Context, key string) (*Response, bool, error) {
	v, ok := b.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v.(*Response).Clone(), true, nil
}

func (b *memoryBucket) Delete(ctx context.Context, key string) (bool, error) {
	if _, ok := b.entries.Get(key); !ok {
		return false, nil
	}
	b.entries.Delete(key)
	return true, nil
}

func (b *memoryBucket) Keys(ctx context.Context) ([]string, error) {
	items := b.entries.Items()
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
