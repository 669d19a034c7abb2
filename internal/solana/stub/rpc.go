// Package stub provides an in-memory solana.RPCClient for tests.
package stub

import (
	"context"
	"sync"

	"solana-liquidity-sync/internal/solana"
)

// RPCClient implements solana.RPCClient from in-memory fixtures.
// Signatures per address must be stored newest first, as the node returns them.
type RPCClient struct {
	mu           sync.Mutex
	Transactions map[string]*solana.Transaction
	Signatures   map[string][]solana.SignatureInfo
	Statuses     map[string]*solana.SignatureStatus

	// Hooks run before each call. A non-nil error is returned to the caller.
	OnGetSignatures  func(address string, opts *solana.SignaturesOpts, call int) error
	OnGetTransaction func(signature string, call int) error
	OnGetStatuses    func(signatures []string, call int) error

	signatureCalls   int
	transactionCalls int
	statusCalls      int
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Transactions: make(map[string]*solana.Transaction),
		Signatures:   make(map[string][]solana.SignatureInfo),
		Statuses:     make(map[string]*solana.SignatureStatus),
	}
}

// Compile-time interface check.
var _ solana.RPCClient = (*RPCClient)(nil)

// GetTransaction returns the stored transaction or nil if unknown.
func (c *RPCClient) GetTransaction(_ context.Context, signature string) (*solana.Transaction, error) {
	c.mu.Lock()
	c.transactionCalls++
	call := c.transactionCalls
	hook := c.OnGetTransaction
	tx := c.Transactions[signature]
	c.mu.Unlock()

	if hook != nil {
		if err := hook(signature, call); err != nil {
			return nil, err
		}
	}
	return tx, nil
}

// GetSignaturesForAddress pages through stored signatures honouring Before and Limit.
func (c *RPCClient) GetSignaturesForAddress(_ context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	c.mu.Lock()
	c.signatureCalls++
	call := c.signatureCalls
	hook := c.OnGetSignatures
	sigs := c.Signatures[address]
	c.mu.Unlock()

	if hook != nil {
		if err := hook(address, opts, call); err != nil {
			return nil, err
		}
	}

	start := 0
	limit := solana.MaxSignatureLimit
	if opts != nil {
		if opts.Before != "" {
			start = len(sigs)
			for i, s := range sigs {
				if s.Signature == opts.Before {
					start = i + 1
					break
				}
			}
		}
		if opts.Limit > 0 && opts.Limit < limit {
			limit = opts.Limit
		}
	}

	end := start + limit
	if end > len(sigs) {
		end = len(sigs)
	}
	if start >= end {
		return nil, nil
	}

	page := make([]solana.SignatureInfo, end-start)
	copy(page, sigs[start:end])
	return page, nil
}

// GetSignatureStatuses returns stored statuses aligned with signatures.
func (c *RPCClient) GetSignatureStatuses(_ context.Context, signatures []string) ([]*solana.SignatureStatus, error) {
	c.mu.Lock()
	c.statusCalls++
	call := c.statusCalls
	hook := c.OnGetStatuses
	out := make([]*solana.SignatureStatus, len(signatures))
	for i, sig := range signatures {
		out[i] = c.Statuses[sig]
	}
	c.mu.Unlock()

	if hook != nil {
		if err := hook(signatures, call); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// AddTransaction adds a transaction to the stub store.
func (c *RPCClient) AddTransaction(tx *solana.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Transactions[tx.Signature] = tx
}

// AddSignatures appends signatures (newest first) for an address.
func (c *RPCClient) AddSignatures(address string, sigs ...solana.SignatureInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Signatures[address] = append(c.Signatures[address], sigs...)
}

// SetStatus sets the status returned for a signature.
func (c *RPCClient) SetStatus(signature string, status *solana.SignatureStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Statuses[signature] = status
}

// SignatureCalls returns the number of GetSignaturesForAddress calls.
func (c *RPCClient) SignatureCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signatureCalls
}

// TransactionCalls returns the number of GetTransaction calls.
func (c *RPCClient) TransactionCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transactionCalls
}

// StatusCalls returns the number of GetSignatureStatuses calls.
func (c *RPCClient) StatusCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusCalls
}
