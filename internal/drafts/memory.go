package drafts

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore keeps drafts in process memory. Drafts are stored encoded so
// callers never share maps with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[string][]byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[string][]byte)}
}

func (s *MemoryStore) Save(ctx context.Context, slot string, d Draft) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("drafts: marshal: %w", err)
	}
	s.mu.Lock()
	s.slots[slot] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, slot string) (*Draft, error) {
	s.mu.RLock()
	data, ok := s.slots[slot]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decode(data)
}

func (s *MemoryStore) Clear(ctx context.Context, slot string) error {
	s.mu.Lock()
	delete(s.slots, slot)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Exists(ctx context.Context, slot string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.slots[slot]
	return ok, nil
}

func decode(data []byte) (*Draft, error) {
	var d Draft
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &d, nil
}
