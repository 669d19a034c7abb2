package ingestion

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"solana-liquidity-sync/internal/domain"
	"solana-liquidity-sync/internal/observability"
	"solana-liquidity-sync/internal/publish"
	"solana-liquidity-sync/internal/syncstate"
)

// PruneResult summarizes a removal pass.
type PruneResult struct {
	Checked          int      `json:"checked"`
	MintsRemoved     int      `json:"mintsRemoved"`
	TransfersRemoved int      `json:"transfersRemoved"`
	TotalMints       int      `json:"totalMints"`
	TotalTransfers   int      `json:"totalTransfers"`
	Signatures       []string `json:"signatures"`
}

// Removed is the number of events removed.
func (r *PruneResult) Removed() int { return r.MintsRemoved + r.TransfersRemoved }

// CleanupFailed removes stored events whose transaction the node reports as
// failed. Unknown signatures are kept. The pass holds the sync flag but does
// not count as a completed sync, so it neither waits for nor resets the
// cooldown.
func (s *Syncer) CleanupFailed(ctx context.Context) (*PruneResult, error) {
	return s.prune(ctx, "failed", func(ctx context.Context, signatures []string) (map[string]struct{}, int, error) {
		statuses, err := s.upstream.GetSignatureStatuses(ctx, signatures)
		if err != nil {
			return nil, 0, fmt.Errorf("get signature statuses: %w", err)
		}
		drop := make(map[string]struct{})
		for i, st := range statuses {
			if i < len(signatures) && st != nil && st.Err != nil {
				drop[signatures[i]] = struct{}{}
			}
		}
		return drop, len(signatures), nil
	})
}

// Remove deletes the events with the given signatures and excludes them from
// later runs of this process, so a walk does not fetch them back. To keep them
// out across restarts they also belong in the configured exclusion list.
func (s *Syncer) Remove(ctx context.Context, signatures []string) (*PruneResult, error) {
	drop := make(map[string]struct{}, len(signatures))
	for _, sig := range signatures {
		if sig = strings.TrimSpace(sig); sig != "" {
			drop[sig] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return nil, fmt.Errorf("remove: no signatures given")
	}
	res, err := s.prune(ctx, "operator", func(context.Context, []string) (map[string]struct{}, int, error) {
		return drop, len(drop), nil
	})
	if err != nil {
		return nil, err
	}
	for sig := range drop {
		s.exclusions.Add(sig)
	}
	return res, nil
}

type selectFunc func(ctx context.Context, stored []string) (drop map[string]struct{}, checked int, err error)

func (s *Syncer) prune(ctx context.Context, reason string, choose selectFunc) (res *PruneResult, err error) {
	lease, err := s.machine.Acquire(ctx, syncstate.AcquireOptions{IgnoreCooldown: true})
	if err != nil {
		return nil, err
	}
	log := s.log.WithFields(logrus.Fields{"run_id": lease.RunID(), "reason": reason})
	defer func() {
		if rerr := lease.Release(ctx, false); rerr != nil {
			log.WithError(rerr).Error("failed to release sync flag")
			if err == nil {
				err = rerr
			}
		}
	}()

	mints, err := s.stores.Mints.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load mint events: %w", err)
	}
	transfers, err := s.stores.Transfers.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load transfer events: %w", err)
	}

	stored := make([]string, 0, len(mints)+len(transfers))
	for _, e := range mints {
		stored = append(stored, e.Signature)
	}
	for _, e := range transfers {
		stored = append(stored, e.Signature)
	}

	drop, checked, err := choose(ctx, stored)
	if err != nil {
		return nil, err
	}
	inDrop := func(sig string) bool {
		_, ok := drop[sig]
		return ok
	}

	keptMints, removedMints := Without(mints, inDrop)
	keptTransfers, removedTransfers := Without(transfers, inDrop)

	if len(removedMints) > 0 {
		if err := s.stores.Mints.Save(ctx, keptMints); err != nil {
			return nil, fmt.Errorf("save mint events: %w", err)
		}
	}
	if len(removedTransfers) > 0 {
		if err := s.stores.Transfers.Save(ctx, keptTransfers); err != nil {
			return nil, fmt.Errorf("save transfer events: %w", err)
		}
	}

	res = &PruneResult{
		Checked:          checked,
		MintsRemoved:     len(removedMints),
		TransfersRemoved: len(removedTransfers),
		TotalMints:       len(keptMints),
		TotalTransfers:   len(keptTransfers),
		Signatures:       append(signatures(removedMints), signatures(removedTransfers)...),
	}

	observability.RecordEventsRemoved(publish.KindMint, reason, res.MintsRemoved)
	observability.RecordEventsRemoved(publish.KindTransfer, reason, res.TransfersRemoved)
	observability.UpdateStoredEvents(publish.KindMint, res.TotalMints)
	observability.UpdateStoredEvents(publish.KindTransfer, res.TotalTransfers)

	log.WithFields(logrus.Fields{
		"checked": res.Checked,
		"removed": res.Removed(),
	}).Info("prune completed")
	return res, nil
}

func signatures[E domain.Event](events []E) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Key())
	}
	return out
}
