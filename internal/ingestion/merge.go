package ingestion

import "solana-liquidity-sync/internal/domain"

// Merge returns existing plus the events of fresh whose signature is not
// already present, newest first. added holds the events that were new.
// Stored copies win over fresh ones, and duplicates within fresh collapse to
// the first occurrence, so the merged signature set does not depend on
// argument order.
func Merge[E domain.Event](existing, fresh []E) (merged, added []E) {
	seen := make(map[string]struct{}, len(existing)+len(fresh))
	merged = make([]E, 0, len(existing)+len(fresh))

	for _, e := range existing {
		if _, dup := seen[e.Key()]; dup {
			continue
		}
		seen[e.Key()] = struct{}{}
		merged = append(merged, e)
	}
	for _, e := range fresh {
		if _, dup := seen[e.Key()]; dup {
			continue
		}
		seen[e.Key()] = struct{}{}
		merged = append(merged, e)
		added = append(added, e)
	}

	domain.SortEvents(merged)
	domain.SortEvents(added)
	return merged, added
}

// Without returns events minus those whose signature is in drop, and the
// events that were dropped.
func Without[E domain.Event](events []E, drop func(signature string) bool) (kept, removed []E) {
	kept = make([]E, 0, len(events))
	for _, e := range events {
		if drop(e.Key()) {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	return kept, removed
}
