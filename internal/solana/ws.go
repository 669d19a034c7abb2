package solana

import "context"

// LogSubscriber streams log notifications for transactions mentioning an address.
type LogSubscriber interface {
	// SubscribeLogs subscribes to logs mentioning address. The channel is
	// closed when ctx is done or the subscriber is closed.
	SubscribeLogs(ctx context.Context, address string) (<-chan LogNotification, error)

	// Close closes all connections.
	Close() error
}

// LogNotification represents a logsNotification message.
type LogNotification struct {
	Signature string
	Slot      int64
	Logs      []string
	Err       interface{}
}
