package syncstate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"solana-liquidity-sync/internal/domain"
	"solana-liquidity-sync/internal/observability"
	"solana-liquidity-sync/internal/storage"
)

// casAttempts bounds retries after losing a compare-and-set race during
// stuck recovery and release.
const casAttempts = 3

// Machine drives the Idle, Syncing and StuckRecovery transitions against a
// SyncStateStore. It is safe for concurrent use; exclusion across processes
// comes from the store's compare-and-set.
type Machine struct {
	store  storage.SyncStateStore
	policy Policy
	now    func() time.Time
	log    *logrus.Entry
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// WithLogger sets the logger entry.
func WithLogger(log *logrus.Entry) Option {
	return func(m *Machine) {
		m.log = log
	}
}

// NewMachine creates a Machine. Zero policy fields take DefaultPolicy values.
func NewMachine(store storage.SyncStateStore, policy Policy, opts ...Option) *Machine {
	def := DefaultPolicy()
	if policy.Cooldown <= 0 {
		policy.Cooldown = def.Cooldown
	}
	if policy.StuckThreshold <= 0 {
		policy.StuckThreshold = def.StuckThreshold
	}
	m := &Machine{
		store:  store,
		policy: policy,
		now:    time.Now,
		log:    logrus.NewEntry(logrus.StandardLogger()).WithField("component", "syncstate"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Policy returns the machine's timing rules.
func (m *Machine) Policy() Policy { return m.policy }

// Now returns the machine's current time.
func (m *Machine) Now() time.Time { return m.now() }

// Read loads the state, clearing an abandoned flag before returning it.
func (m *Machine) Read(ctx context.Context) (*domain.SyncState, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		state, err := m.store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load sync state: %w", err)
		}

		d := Evaluate(state, m.now(), m.policy)
		if d.Status != StatusStuck {
			return state, nil
		}

		next := state.Clone()
		next.IsSyncing = false
		next.SyncStartTime = nil
		next.RunID = ""
		ok, err := m.store.CompareAndSwap(ctx, state.Version, next)
		if err != nil {
			return nil, fmt.Errorf("clear stuck sync: %w", err)
		}
		if ok {
			observability.RecordStuckRecovery()
			m.log.WithFields(logrus.Fields{
				"run_id":  state.RunID,
				"elapsed": d.Elapsed.String(),
			}).Warn("cleared abandoned sync flag")
			return next, nil
		}
		// Someone else changed the state; evaluate again.
	}
	return nil, fmt.Errorf("clear stuck sync: %w", ErrInProgress)
}

// Status reads the state, recovering a stuck flag, and evaluates it.
func (m *Machine) Status(ctx context.Context) (*domain.SyncState, Decision, error) {
	state, err := m.Read(ctx)
	if err != nil {
		return nil, Decision{}, err
	}
	return state, Evaluate(state, m.now(), m.policy), nil
}

// AcquireOptions modifies Acquire.
type AcquireOptions struct {
	// IgnoreCooldown skips the cooldown check. Mutual exclusion still applies.
	IgnoreCooldown bool
}

// Acquire takes the sync flag. It returns a *CooldownError while the cooldown
// window is open and ErrInProgress while another run holds the flag.
func (m *Machine) Acquire(ctx context.Context, opts AcquireOptions) (*Lease, error) {
	state, err := m.Read(ctx)
	if err != nil {
		return nil, err
	}

	now := m.now()
	d := Evaluate(state, now, m.policy)
	switch {
	case d.Status == StatusSyncing:
		return nil, ErrInProgress
	case !opts.IgnoreCooldown && d.CooldownRemaining > 0:
		return nil, &CooldownError{Remaining: d.CooldownRemaining}
	}

	startMs := now.UnixMilli()
	next := state.Clone()
	next.IsSyncing = true
	next.SyncStartTime = &startMs
	next.RunID = uuid.NewString()

	ok, err := m.store.CompareAndSwap(ctx, state.Version, next)
	if err != nil {
		return nil, fmt.Errorf("acquire sync flag: %w", err)
	}
	if !ok {
		return nil, ErrInProgress
	}

	m.log.WithField("run_id", next.RunID).Debug("sync flag acquired")
	return &Lease{m: m, runID: next.RunID, startedAt: now}, nil
}

// Lease is a held sync flag.
type Lease struct {
	m         *Machine
	runID     string
	startedAt time.Time

	mu       sync.Mutex
	released bool
}

// RunID identifies the run holding the flag.
func (l *Lease) RunID() string { return l.runID }

// StartedAt is when the flag was acquired.
func (l *Lease) StartedAt() time.Time { return l.startedAt }

// Release clears the flag. On success LastSync is set to now. The caller's
// cancellation is ignored so a canceled run still releases. If the flag was
// already taken over by stuck recovery, Release leaves it alone. Calling
// Release more than once is a no-op.
func (l *Lease) Release(ctx context.Context, success bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil
	}

	ctx = context.WithoutCancel(ctx)
	m := l.m
	for attempt := 0; attempt < casAttempts; attempt++ {
		state, err := m.store.Load(ctx)
		if err != nil {
			return fmt.Errorf("load sync state: %w", err)
		}
		if !state.IsSyncing || state.RunID != l.runID {
			l.released = true
			m.log.WithField("run_id", l.runID).Warn("sync flag no longer owned by this run")
			return nil
		}

		next := state.Clone()
		next.IsSyncing = false
		next.SyncStartTime = nil
		next.RunID = ""
		if success {
			next.LastSync = m.now().UnixMilli()
		}

		ok, err := m.store.CompareAndSwap(ctx, state.Version, next)
		if err != nil {
			return fmt.Errorf("release sync flag: %w", err)
		}
		if ok {
			l.released = true
			if success {
				observability.UpdateLastSuccessfulSync(next.LastSync / 1000)
			}
			return nil
		}
	}
	return fmt.Errorf("release sync flag: lost %d compare-and-set races", casAttempts)
}
