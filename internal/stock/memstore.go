package stock

import (
	"context"
	"fmt"
	"sync"

	"github.com/xenking/orderflow/internal/apperr"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	levels map[string]Level
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{levels: make(map[string]Level)}
}

// Set seeds the quantity of productID, bumping its version.
func (s *MemoryStore) Set(productID string, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lvl := s.levels[productID]
	lvl.Quantity = quantity
	lvl.Version++
	s.levels[productID] = lvl
}

// Get returns the level of productID.
func (s *MemoryStore) Get(_ context.Context, productID string) (Level, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lvl, ok := s.levels[productID]
	if !ok {
		return Level{}, apperr.NotFoundf("product", productID)
	}
	return lvl, nil
}

// CompareAndSwap writes quantity when the stored version matches expected.
func (s *MemoryStore) CompareAndSwap(_ context.Context, productID string, expected int64, quantity int) (Level, error) {
	if quantity < 0 {
		return Level{}, fmt.Errorf("stock of %s would become negative (%d)", productID, quantity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lvl, ok := s.levels[productID]
	if !ok {
		return Level{}, apperr.NotFoundf("product", productID)
	}
	if lvl.Version != expected {
		return Level{}, ErrVersionConflict
	}
	lvl = Level{Quantity: quantity, Version: lvl.Version + 1}
	s.levels[productID] = lvl
	return lvl, nil
}
