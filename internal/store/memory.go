package store

import (
	"context"
	"sync"

	"pkt.systems/dropgallery/schema"
)

// MemoryStore keeps gallery lists in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	lists map[schema.UserID][]schema.Image
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{lists: make(map[schema.UserID][]schema.Image)}
}

// Load returns a copy of the stored list.
func (s *MemoryStore) Load(_ context.Context, userID schema.UserID) ([]schema.Image, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	images, ok := s.lists[userID]
	if !ok {
		return nil, false, nil
	}
	return schema.CloneImages(images), true, nil
}

// Save stores a copy of images.
func (s *MemoryStore) Save(_ context.Context, userID schema.UserID, images []schema.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[userID] = schema.CloneImages(images)
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
