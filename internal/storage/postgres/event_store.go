package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-liquidity-sync/internal/domain"
	"solana-liquidity-sync/internal/storage"
)

// eventTable maps one event type onto its table.
type eventTable[E domain.Event] struct {
	name   string
	insert string
	query  string
	args   func(E) []any
	scan   pgx.RowToFunc[E]
}

var mintTable = eventTable[domain.MintEvent]{
	name: "mint_events",
	insert: `
		INSERT INTO mint_events (signature, block_time, sol_amount, token_amount, from_address)
		VALUES ($1, $2, $3::text::numeric, $4::text::numeric, $5)
	`,
	query: `
		SELECT signature, block_time, sol_amount::text, token_amount::text, from_address
		FROM mint_events
		ORDER BY block_time DESC, signature ASC
	`,
	args: func(e domain.MintEvent) []any {
		return []any{e.Signature, e.Timestamp, e.SolAmount.String(), e.TokenAmount.String(), e.From}
	},
	scan: func(row pgx.CollectableRow) (domain.MintEvent, error) {
		var e domain.MintEvent
		var sol, token string
		if err := row.Scan(&e.Signature, &e.Timestamp, &sol, &token, &e.From); err != nil {
			return e, err
		}
		var err error
		if e.SolAmount, err = parseDecimal(sol); err != nil {
			return e, err
		}
		if e.TokenAmount, err = parseDecimal(token); err != nil {
			return e, err
		}
		return e, nil
	},
}

var transferTable = eventTable[domain.TransferEvent]{
	name: "transfer_events",
	insert: `
		INSERT INTO transfer_events (signature, block_time, token_amount, from_address, to_address)
		VALUES ($1, $2, $3::text::numeric, $4, $5)
	`,
	query: `
		SELECT signature, block_time, token_amount::text, from_address, to_address
		FROM transfer_events
		ORDER BY block_time DESC, signature ASC
	`,
	args: func(e domain.TransferEvent) []any {
		return []any{e.Signature, e.Timestamp, e.TokenAmount.String(), e.From, e.To}
	},
	scan: func(row pgx.CollectableRow) (domain.TransferEvent, error) {
		var e domain.TransferEvent
		var token string
		if err := row.Scan(&e.Signature, &e.Timestamp, &token, &e.From, &e.To); err != nil {
			return e, err
		}
		var err error
		e.TokenAmount, err = parseDecimal(token)
		return e, err
	},
}

// EventStore implements storage.EventStore on one table.
type EventStore[E domain.Event] struct {
	pool  *Pool
	table eventTable[E]
}

// NewMintEventStore creates the mint_events store.
func NewMintEventStore(pool *Pool) *EventStore[domain.MintEvent] {
	return &EventStore[domain.MintEvent]{pool: pool, table: mintTable}
}

// NewTransferEventStore creates the transfer_events store.
func NewTransferEventStore(pool *Pool) *EventStore[domain.TransferEvent] {
	return &EventStore[domain.TransferEvent]{pool: pool, table: transferTable}
}

// Load returns all events, newest first.
func (s *EventStore[E]) Load(ctx context.Context) (events []E, err error) {
	defer func(start time.Time) { observe("load_events", start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, s.table.query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.table.name, err)
	}
	events, err = pgx.CollectRows(rows, s.table.scan)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.table.name, err)
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events, nil
}

// Save replaces the table contents in one transaction.
func (s *EventStore[E]) Save(ctx context.Context, events []E) (err error) {
	defer func(start time.Time) { observe("save_events", start, err) }(time.Now())

	if err := storage.ValidateEvents(events); err != nil {
		return err
	}
	return replaceAll(ctx, s.pool, s.table.name, s.table.insert, events, s.table.args)
}
