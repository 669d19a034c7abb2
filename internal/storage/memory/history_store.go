package memory

import (
	"context"
	"sort"
	"sync"

	"solana-liquidity-sync/internal/domain"
	"solana-liquidity-sync/internal/storage"
)

// HistoryStore is an in-memory implementation of storage.HistoryStore.
type HistoryStore struct {
	mu     sync.RWMutex
	points []domain.HistoricalDataPoint
}

// NewHistoryStore creates an empty history store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{}
}

// Load returns the stored points in ascending timestamp order.
func (s *HistoryStore) Load(_ context.Context) ([]domain.HistoricalDataPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.points) == 0 {
		return nil, nil
	}
	out := make([]domain.HistoricalDataPoint, len(s.points))
	copy(out, s.points)
	return out, nil
}

// Save replaces the stored points.
func (s *HistoryStore) Save(_ context.Context, points []domain.HistoricalDataPoint) error {
	data := make([]domain.HistoricalDataPoint, len(points))
	copy(data, points)
	sort.SliceStable(data, func(i, j int) bool {
		return data[i].Timestamp < data[j].Timestamp
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = data
	return nil
}

// Compile-time interface check.
var _ storage.HistoryStore = (*HistoryStore)(nil)

// NewStores returns a fresh set of in-memory stores.
func NewStores() *storage.Stores {
	return &storage.Stores{
		Mints:     NewMintEventStore(),
		Transfers: NewTransferEventStore(),
		SyncState: NewSyncStateStore(),
		History:   NewHistoryStore(),
	}
}
