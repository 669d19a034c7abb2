package ingestion

import (
	"strings"
	"sync"
)

// DefaultExcludedSignatures are transactions known to be invalid for the
// tracked pool. They are never stored, whatever the classifier says.
var DefaultExcludedSignatures = []string{
	"MASi45ub7Qe4ZE36UT5G6cU4ud8Fhhe4deS4F3cw9KTAb8dLcukC7edhDQ7cn5d4gEYkbUrMWeWQLGsCmrG6dLaY",
	"yNoVKf58ZTBqNAYT3j5qcdsyuMNmPfYetW5v6JXmj54omLidkuVKnRyjP2WPBg8Y4ErK9pGSSxY6BVScJy9uUxcJ",
}

// Exclusions is the set of signatures to discard. It is safe for concurrent
// use. Signatures added at runtime last for the life of the process; the
// configured list is what survives a restart.
type Exclusions struct {
	mu  sync.RWMutex
	set map[string]struct{}
}

// NewExclusions returns DefaultExcludedSignatures plus extra.
func NewExclusions(extra ...string) *Exclusions {
	ex := &Exclusions{set: make(map[string]struct{}, len(DefaultExcludedSignatures)+len(extra))}
	for _, s := range DefaultExcludedSignatures {
		ex.set[s] = struct{}{}
	}
	for _, s := range extra {
		if s = strings.TrimSpace(s); s != "" {
			ex.set[s] = struct{}{}
		}
	}
	return ex
}

// Contains reports whether signature is excluded. A nil Exclusions excludes nothing.
func (e *Exclusions) Contains(signature string) bool {
	if e == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.set[signature]
	return ok
}

// Add excludes signatures from now on.
func (e *Exclusions) Add(signatures ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range signatures {
		if s = strings.TrimSpace(s); s != "" {
			e.set[s] = struct{}{}
		}
	}
}

// Len returns the number of excluded signatures.
func (e *Exclusions) Len() int {
	if e == nil {
		return 0
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.set)
}
