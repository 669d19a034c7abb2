package storage

import (
	"context"

	"solana-liquidity-sync/internal/domain"
)

// EventStore persists one collection of events. Every Save replaces the
// whole collection.
type EventStore[E domain.Event] interface {
	// Load returns the stored events, newest first. An empty store returns nil.
	Load(ctx context.Context) ([]E, error)

	// Save replaces the collection. Returns ErrInvalidInput for events without
	// a signature and ErrDuplicateKey when a signature appears twice.
	Save(ctx context.Context, events []E) error
}

// MintEventStore stores liquidity additions.
type MintEventStore = EventStore[domain.MintEvent]

// TransferEventStore stores transfers into the buyback address.
type TransferEventStore = EventStore[domain.TransferEvent]

// SyncStateStore holds the sync coordination record.
type SyncStateStore interface {
	// Load returns the current state. A missing record is the zero state.
	Load(ctx context.Context) (*domain.SyncState, error)

	// CompareAndSwap writes next only if the stored version equals
	// expectedVersion. On success next.Version is set to expectedVersion+1.
	// Returns false, nil when another writer got there first.
	CompareAndSwap(ctx context.Context, expectedVersion int64, next *domain.SyncState) (bool, error)
}

// HistoryStore persists derived history points.
type HistoryStore interface {
	// Load returns the stored points in ascending timestamp order.
	Load(ctx context.Context) ([]domain.HistoricalDataPoint, error)

	// Save replaces the stored points.
	Save(ctx context.Context, points []domain.HistoricalDataPoint) error
}

// Stores bundles the collections one backend provides.
type Stores struct {
	Mints     MintEventStore
	Transfers TransferEventStore
	SyncState SyncStateStore
	History   HistoryStore

	// Close releases backend resources. May be nil.
	Close func() error
}

// ValidateEvents checks a collection before it is saved.
func ValidateEvents[E domain.Event](events []E) error {
	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e.Key() == "" {
			return ErrInvalidInput
		}
		if _, dup := seen[e.Key()]; dup {
			return ErrDuplicateKey
		}
		seen[e.Key()] = struct{}{}
	}
	return nil
}
