package memory

import (
	"context"
	"sync"

	"solana-liquidity-sync/internal/domain"
	"solana-liquidity-sync/internal/storage"
)

// SyncStateStore is an in-memory implementation of storage.SyncStateStore.
type SyncStateStore struct {
	mu    sync.Mutex
	state domain.SyncState
}

// NewSyncStateStore creates a store holding the zero state.
func NewSyncStateStore() *SyncStateStore {
	return &SyncStateStore{}
}

// Load returns a copy of the current state.
func (s *SyncStateStore) Load(_ context.Context) (*domain.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone(), nil
}

// CompareAndSwap writes next if the stored version matches.
func (s *SyncStateStore) CompareAndSwap(_ context.Context, expectedVersion int64, next *domain.SyncState) (bool, error) {
	if next == nil {
		return false, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Version != expectedVersion {
		return false, nil
	}
	stored := next.Clone()
	stored.Version = expectedVersion + 1
	s.state = *stored
	next.Version = stored.Version
	return true, nil
}

// Compile-time interface check.
var _ storage.SyncStateStore = (*SyncStateStore)(nil)
