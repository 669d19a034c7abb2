package memory

import (
	"context"
	"sync"

	"solana-liquidity-sync/internal/domain"
	"solana-liquidity-sync/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore[E domain.Event] struct {
	mu   sync.RWMutex
	data []E
}

// NewMintEventStore creates an empty in-memory mint event store.
func NewMintEventStore() *EventStore[domain.MintEvent] {
	return &EventStore[domain.MintEvent]{}
}

// NewTransferEventStore creates an empty in-memory transfer event store.
func NewTransferEventStore() *EventStore[domain.TransferEvent] {
	return &EventStore[domain.TransferEvent]{}
}

// Load returns a copy of the stored events, newest first.
func (s *EventStore[E]) Load(_ context.Context) ([]E, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.data) == 0 {
		return nil, nil
	}
	out := make([]E, len(s.data))
	copy(out, s.data)
	return out, nil
}

// Save replaces the stored events.
func (s *EventStore[E]) Save(_ context.Context, events []E) error {
	if err := storage.ValidateEvents(events); err != nil {
		return err
	}

	data := make([]E, len(events))
	copy(data, events)
	domain.SortEvents(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	return nil
}

// Compile-time interface checks.
var (
	_ storage.MintEventStore     = (*EventStore[domain.MintEvent])(nil)
	_ storage.TransferEventStore = (*EventStore[domain.TransferEvent])(nil)
)
