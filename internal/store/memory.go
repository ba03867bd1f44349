package store

import (
	"context"
	"fmt"
	"sync"

	"margin_monitor/internal/core"
	apperrors "margin_monitor/pkg/errors"
)

// MemoryStore implements core.IStore in memory, for tests and for the
// "memory" storage driver.
type MemoryStore struct {
	mu        sync.RWMutex
	books     map[string]*core.Book
	snapshots map[string][]*core.MarginSnapshot
	maxPerKey int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		books:     make(map[string]*core.Book),
		snapshots: make(map[string][]*core.MarginSnapshot),
		maxPerKey: 10000,
	}
}

func (s *MemoryStore) SaveBook(_ context.Context, name string, book *core.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy so later caller mutations cannot leak in.
	cp := *book
	cp.Positions = append([]core.Position(nil), book.Positions...)
	s.books[name] = &cp
	return nil
}

func (s *MemoryStore) LoadBook(_ context.Context, name string) (*core.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	book, ok := s.books[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrBookNotFound, name)
	}
	cp := *book
	cp.Positions = append([]core.Position(nil), book.Positions...)
	return &cp, nil
}

func (s *MemoryStore) AppendSnapshot(_ context.Context, book string, snap *core.MarginSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.snapshots[book], snap)
	if len(history) > s.maxPerKey {
		history = history[len(history)-s.maxPerKey:]
	}
	s.snapshots[book] = history
	return nil
}

func (s *MemoryStore) RecentSnapshots(_ context.Context, book string, limit int) ([]*core.MarginSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	history := s.snapshots[book]
	if len(history) > limit {
		history = history[len(history)-limit:]
	}

	// Newest first, matching the SQLite implementation.
	out := make([]*core.MarginSnapshot, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		out = append(out, history[i])
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
