package blob

import (
	"context"
	"fmt"

	"github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of blobs a CachedStore keeps.
const DefaultCacheSize = 256

// CachedStore serves repeated reads of immutable blobs from memory.
type CachedStore struct {
	inner Store
	cache *lru.Cache[string, []byte]
}

// NewCachedStore wraps inner with an LRU read cache of size entries.
func NewCachedStore(inner Store, size int) (*CachedStore, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob cache: %w", err)
	}
	return &CachedStore{inner: inner, cache: cache}, nil
}

// Upload stores data and primes the cache with it.
func (s *CachedStore) Upload(ctx context.Context, data []byte) (string, error) {
	id, err := s.inner.Upload(ctx, data)
	if err != nil {
		return "", err
	}
	s.cache.Add(id, append([]byte(nil), data...))
	return id, nil
}

// Fetch returns the cached blob or reads it from the inner store.
func (s *CachedStore) Fetch(ctx context.Context, id string) ([]byte, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if data, ok := s.cache.Get(id); ok {
		return append([]byte(nil), data...), nil
	}

	data, err := s.inner.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, append([]byte(nil), data...))
	return data, nil
}

var _ Store = (*CachedStore)(nil)
