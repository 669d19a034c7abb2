// Package publish announces newly stored events to downstream consumers.
package publish

import (
	"context"

	"solana-liquidity-sync/internal/domain"
)

// Kind values label published messages.
const (
	KindMint     = "mint"
	KindTransfer = "transfer"
)

// Publisher delivers new events. Delivery is at least once; consumers key
// on the signature.
type Publisher interface {
	PublishMints(ctx context.Context, events []domain.MintEvent) error
	PublishTransfers(ctx context.Context, events []domain.TransferEvent) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) PublishMints(context.Context, []domain.MintEvent) error         { return nil }
func (Nop) PublishTransfers(context.Context, []domain.TransferEvent) error { return nil }
func (Nop) Close() error                                                   { return nil }

// Compile-time interface checks.
var (
	_ Publisher = Nop{}
	_ Publisher = (*KafkaPublisher)(nil)
)
