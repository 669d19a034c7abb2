// Package syncstate guards synchronization runs with the persisted sync flag.
//
// At most one run may hold the flag. A flag held for longer than the stuck
// threshold is treated as abandoned and cleared by the next reader.
package syncstate

import (
	"errors"
	"fmt"
	"math"
	"time"

	"solana-liquidity-sync/internal/domain"
)

var (
	// ErrCooldown is matched by *CooldownError.
	ErrCooldown = errors.New("sync cooldown active")

	// ErrInProgress is returned when another run holds the flag.
	ErrInProgress = errors.New("sync already in progress")
)

// CooldownError reports how long a caller must wait before the next run.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: retry in %ds", ErrCooldown, e.RetryAfterSeconds())
}

// Is matches ErrCooldown.
func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldown
}

// RetryAfterSeconds rounds Remaining up to whole seconds.
func (e *CooldownError) RetryAfterSeconds() int {
	return int(math.Ceil(e.Remaining.Seconds()))
}

// Policy holds the timing rules.
type Policy struct {
	// Cooldown is the minimum time between completed runs.
	Cooldown time.Duration
	// StuckThreshold is how long a flag may be held before it is abandoned.
	StuckThreshold time.Duration
}

// DefaultPolicy returns a 2 minute cooldown and a 3 minute stuck threshold.
func DefaultPolicy() Policy {
	return Policy{
		Cooldown:       2 * time.Minute,
		StuckThreshold: 3 * time.Minute,
	}
}

// Status is the observed state of the flag.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusStuck   Status = "stuck"
)

// Decision is the outcome of evaluating a state at an instant.
type Decision struct {
	Status Status
	// Elapsed is how long the current holder has had the flag.
	Elapsed time.Duration
	// CooldownRemaining is positive while an idle state is inside the cooldown window.
	CooldownRemaining time.Duration
}

// Evaluate applies the policy to state at now. It has no side effects.
func Evaluate(state *domain.SyncState, now time.Time, p Policy) Decision {
	if state == nil {
		return Decision{Status: StatusIdle}
	}

	if state.IsSyncing {
		// A held flag without a start time cannot be aged, so it is never trusted.
		if state.SyncStartTime == nil {
			return Decision{Status: StatusStuck}
		}
		elapsed := now.Sub(time.UnixMilli(*state.SyncStartTime))
		if elapsed > p.StuckThreshold || (state.LastSync == 0 && elapsed > p.Cooldown) {
			return Decision{Status: StatusStuck, Elapsed: elapsed}
		}
		return Decision{Status: StatusSyncing, Elapsed: elapsed}
	}

	d := Decision{Status: StatusIdle}
	if state.LastSync != 0 {
		since := now.Sub(time.UnixMilli(state.LastSync))
		if since < p.Cooldown {
			d.CooldownRemaining = p.Cooldown - since
		}
	}
	return d
}
