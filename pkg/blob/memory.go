package blob

import (
	"context"
	"sync"

	"github.com/relves/proofvault/pkg/types"
)

// MemoryStore keeps blobs in memory keyed by their CID.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs: make(map[string][]byte),
	}
}

// Upload stores a copy of data and returns its CID.
func (s *MemoryStore) Upload(ctx context.Context, data []byte) (string, error) {
	id, err := ComputeID(data)
	if err != nil {
		return "", types.NewError(types.CodeUpload, "memory upload", "compute id", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[id]; !ok {
		s.blobs[id] = append([]byte(nil), data...)
	}
	return id, nil
}

// Fetch returns a copy of the blob stored under id.
func (s *MemoryStore) Fetch(ctx context.Context, id string) ([]byte, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[id]
	if !ok {
		return nil, types.Errorf(types.CodeFetch, "memory fetch", "blob not found").With("blob", id)
	}
	return append([]byte(nil), data...), nil
}

// Has reports whether id is stored.
func (s *MemoryStore) Has(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[id]
	return ok, nil
}

// Len returns the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

var _ Store = (*MemoryStore)(nil)
