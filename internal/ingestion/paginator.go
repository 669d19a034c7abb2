// Package ingestion walks the upstream signature feeds, classifies the
// transactions it finds and merges the results into the event stores.
package ingestion

import (
	"context"
	"fmt"

	"solana-liquidity-sync/internal/solana"
)

// SignatureLister lists one page of an address's signatures, newest first.
type SignatureLister interface {
	GetSignaturesForAddress(ctx context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error)
}

// PaginatorOptions bounds a walk. Zero budgets are unlimited.
type PaginatorOptions struct {
	// PageSize is the requested page size, at most solana.MaxSignatureLimit.
	PageSize int
	// MaxPages stops the walk after this many requests.
	MaxPages int
	// MaxItems stops the walk after this many signatures.
	MaxItems int
}

// Paginator walks one address's signature feed backward in time. The cursor
// only moves to older signatures, so no signature is returned twice. Retries
// are the lister's job; a failed page leaves the cursor where it was.
type Paginator struct {
	lister  SignatureLister
	address string
	opts    PaginatorOptions

	cursor string
	pages  int
	items  int
	done   bool
}

// NewPaginator creates a Paginator starting at the newest signature.
func NewPaginator(lister SignatureLister, address string, opts PaginatorOptions) *Paginator {
	if opts.PageSize <= 0 || opts.PageSize > solana.MaxSignatureLimit {
		opts.PageSize = solana.MaxSignatureLimit
	}
	return &Paginator{lister: lister, address: address, opts: opts}
}

// Next returns the next older page, or nil once the walk is over. The walk
// ends on an empty page, a short page, or an exhausted budget.
func (p *Paginator) Next(ctx context.Context) ([]solana.SignatureInfo, error) {
	if p.done {
		return nil, nil
	}
	if p.opts.MaxPages > 0 && p.pages >= p.opts.MaxPages {
		p.done = true
		return nil, nil
	}

	limit := p.opts.PageSize
	if p.opts.MaxItems > 0 {
		remaining := p.opts.MaxItems - p.items
		if remaining <= 0 {
			p.done = true
			return nil, nil
		}
		if remaining < limit {
			limit = remaining
		}
	}

	page, err := p.lister.GetSignaturesForAddress(ctx, p.address, &solana.SignaturesOpts{
		Before: p.cursor,
		Limit:  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list signatures for %s before %q: %w", p.address, p.cursor, err)
	}
	p.pages++

	if len(page) == 0 {
		p.done = true
		return nil, nil
	}

	p.items += len(page)
	p.cursor = page[len(page)-1].Signature
	if len(page) < limit {
		p.done = true
	}
	return page, nil
}

// Done reports whether the walk is over.
func (p *Paginator) Done() bool { return p.done }

// Cursor returns the oldest signature returned so far.
func (p *Paginator) Cursor() string { return p.cursor }

// Pages returns the number of page requests that succeeded.
func (p *Paginator) Pages() int { return p.pages }

// Items returns the number of signatures returned so far.
func (p *Paginator) Items() int { return p.items }
