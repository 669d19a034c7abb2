// Package blob implements the storage contract on top of any backend that can
// store whole JSON documents with conditional writes.
package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"solana-liquidity-sync/internal/domain"
	"solana-liquidity-sync/internal/observability"
	"solana-liquidity-sync/internal/storage"
)

// Document names.
const (
	MintEventsDoc     = "mint_events.json"
	TransferEventsDoc = "transfer_events.json"
	SyncStateDoc      = "sync_state.json"
	HistoryDoc        = "history.json"
)

// Condition guards a Put.
type Condition struct {
	// IfMatch requires the stored document to carry this etag.
	IfMatch     string
	// IfNoneMatch requires the document to be absent.
	IfNoneMatch bool
}

// Backend stores named documents.
type Backend interface {
	// Name labels the backend in metrics.
	Name() string

	// Get returns the document and its etag, or storage.ErrNotFound.
	Get(ctx context.Context, name string) ([]byte, string, error)

	// Put writes the document and returns the new etag. A failed condition
	// returns storage.ErrConflict.
	Put(ctx context.Context, name string, data []byte, cond Condition) (string, error)
}

// NewStores builds the full store set on backend.
func NewStores(backend Backend) *storage.Stores {
	return &storage.Stores{
		Mints:     NewEventStore[domain.MintEvent](backend, MintEventsDoc),
		Transfers: NewEventStore[domain.TransferEvent](backend, TransferEventsDoc),
		SyncState: NewSyncStateStore(backend),
		History:   NewHistoryStore(backend),
	}
}

func observe(backend Backend, op string, start time.Time, err error) {
	observability.RecordStoreOp(backend.Name(), op, time.Since(start).Seconds(), err)
}

// EventStore stores one event collection as a JSON array.
type EventStore[E domain.Event] struct {
	backend Backend
	doc     string
}

// NewEventStore creates an event store backed by doc.
func NewEventStore[E domain.Event](backend Backend, doc string) *EventStore[E] {
	return &EventStore[E]{backend: backend, doc: doc}
}

// Load reads the collection, newest first.
func (s *EventStore[E]) Load(ctx context.Context) (events []E, err error) {
	defer func(start time.Time) { observe(s.backend, "load_events", start, err) }(time.Now())

	data, _, err := s.backend.Get(ctx, s.doc)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s.doc, err)
	}
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.doc, err)
	}
	domain.SortEvents(events)
	return events, nil
}

// Save replaces the collection.
func (s *EventStore[E]) Save(ctx context.Context, events []E) (err error) {
	defer func(start time.Time) { observe(s.backend, "save_events", start, err) }(time.Now())

	if err := storage.ValidateEvents(events); err != nil {
		return err
	}
	sorted := make([]E, len(events))
	copy(sorted, events)
	domain.SortEvents(sorted)

	data, err := json.Marshal(sorted)
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.doc, err)
	}
	if _, err := s.backend.Put(ctx, s.doc, data, Condition{}); err != nil {
		return fmt.Errorf("put %s: %w", s.doc, err)
	}
	return nil
}

// SyncStateStore stores the sync state document and implements
// compare-and-set with the backend's conditional writes.
type SyncStateStore struct {
	backend Backend
}

// NewSyncStateStore creates a sync state store.
func NewSyncStateStore(backend Backend) *SyncStateStore {
	return &SyncStateStore{backend: backend}
}

func (s *SyncStateStore) read(ctx context.Context) (*domain.SyncState, string, error) {
	data, etag, err := s.backend.Get(ctx, SyncStateDoc)
	if errors.Is(err, storage.ErrNotFound) {
		return &domain.SyncState{}, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("get %s: %w", SyncStateDoc, err)
	}
	var state domain.SyncState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", SyncStateDoc, err)
	}
	return &state, etag, nil
}

// Load returns the current state, or the zero state when none is stored.
func (s *SyncStateStore) Load(ctx context.Context) (state *domain.SyncState, err error) {
	defer func(start time.Time) { observe(s.backend, "load_state", start, err) }(time.Now())

	state, _, err = s.read(ctx)
	return state, err
}

// CompareAndSwap writes next if the stored version matches expectedVersion.
func (s *SyncStateStore) CompareAndSwap(ctx context.Context, expectedVersion int64, next *domain.SyncState) (ok bool, err error) {
	defer func(start time.Time) { observe(s.backend, "cas_state", start, err) }(time.Now())

	if next == nil {
		return false, storage.ErrInvalidInput
	}

	current, etag, err := s.read(ctx)
	if err != nil {
		return false, err
	}
	if current.Version != expectedVersion {
		return false, nil
	}

	stored := next.Clone()
	stored.Version = expectedVersion + 1
	data, err := json.Marshal(stored)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", SyncStateDoc, err)
	}

	cond := Condition{IfMatch: etag}
	if etag == "" {
		cond = Condition{IfNoneMatch: true}
	}
	if _, err := s.backend.Put(ctx, SyncStateDoc, data, cond); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return false, nil
		}
		return false, fmt.Errorf("put %s: %w", SyncStateDoc, err)
	}
	next.Version = stored.Version
	return true, nil
}

// HistoryStore stores history points as a JSON array.
type HistoryStore struct {
	backend Backend
}

// NewHistoryStore creates a history store.
func NewHistoryStore(backend Backend) *HistoryStore {
	return &HistoryStore{backend: backend}
}

// Load returns the stored points in ascending timestamp order.
func (s *HistoryStore) Load(ctx context.Context) (points []domain.HistoricalDataPoint, err error) {
	defer func(start time.Time) { observe(s.backend, "load_history", start, err) }(time.Now())

	data, _, err := s.backend.Get(ctx, HistoryDoc)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", HistoryDoc, err)
	}
	if err := json.Unmarshal(data, &points); err != nil {
		return nil, fmt.Errorf("decode %s: %w", HistoryDoc, err)
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Timestamp < points[j].Timestamp })
	return points, nil
}

// Save replaces the stored points.
func (s *HistoryStore) Save(ctx context.Context, points []domain.HistoricalDataPoint) (err error) {
	defer func(start time.Time) { observe(s.backend, "save_history", start, err) }(time.Now())

	sorted := make([]domain.HistoricalDataPoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	data, err := json.Marshal(sorted)
	if err != nil {
		return fmt.Errorf("encode %s: %w", HistoryDoc, err)
	}
	if _, err := s.backend.Put(ctx, HistoryDoc, data, Condition{}); err != nil {
		return fmt.Errorf("put %s: %w", HistoryDoc, err)
	}
	return nil
}

// Compile-time interface checks.
var (
	_ storage.MintEventStore     = (*EventStore[domain.MintEvent])(nil)
	_ storage.TransferEventStore = (*EventStore[domain.TransferEvent])(nil)
	_ storage.SyncStateStore     = (*SyncStateStore)(nil)
	_ storage.HistoryStore       = (*HistoryStore)(nil)
)
