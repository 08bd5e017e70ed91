package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a thread-safe in-memory Store.
// Used in tests and when no durable backend is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]Mapping
	nextID   int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]map[string]Mapping)}
}

func (s *MemoryStore) Store(ctx context.Context, m *Mapping) error {
	if err := prepare(m); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	partition, ok := s.sessions[m.SessionID]
	if !ok {
		partition = make(map[string]Mapping)
		s.sessions[m.SessionID] = partition
	}
	if _, exists := partition[m.MaskedValue]; exists {
		return ErrDuplicate
	}

	s.nextID++
	m.ID = s.nextID
	partition[m.MaskedValue] = *m
	return nil
}

func (s *MemoryStore) GetAll(ctx context.Context, sessionID string) (map[string]string, error) {
	mappings, err := s.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return latest(mappings), nil
}

func (s *MemoryStore) List(ctx context.Context, sessionID string) ([]Mapping, error) {
	s.mu.RLock()
	partition := s.sessions[sessionID]
	out := make([]Mapping, 0, len(partition))
	for _, m := range partition {
		out = append(out, m)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Purge(ctx context.Context) error {
	s.mu.Lock()
	s.sessions = make(map[string]map[string]Mapping)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
