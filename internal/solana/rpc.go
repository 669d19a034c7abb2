package solana

import "context"

// RPCClient defines the upstream Solana RPC HTTP interface.
type RPCClient interface {
	// GetTransaction retrieves a fully resolved transaction by signature.
	// Returns nil, nil when the node does not know the signature.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)

	// GetSignaturesForAddress retrieves signatures for an address, newest first.
	GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error)

	// GetSignatureStatuses retrieves statuses aligned with signatures.
	// Unknown signatures yield nil entries.
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error)
}
