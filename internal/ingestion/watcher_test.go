package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-liquidity-sync/internal/logger"
	"solana-liquidity-sync/internal/solana"
	"solana-liquidity-sync/internal/syncstate"
)

type fakeSubscriber struct {
	mu    sync.Mutex
	chans map[string]chan solana.LogNotification
	err   error
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{chans: make(map[string]chan solana.LogNotification)}
}

func (s *fakeSubscriber) SubscribeLogs(_ context.Context, address string) (<-chan solana.LogNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan solana.LogNotification, 16)
	s.chans[address] = ch
	return ch, nil
}

func (s *fakeSubscriber) Close() error { return nil }

func (s *fakeSubscriber) send(address string, n solana.LogNotification) bool {
	s.mu.Lock()
	ch, ok := s.chans[address]
	s.mu.Unlock()
	if ok {
		ch <- n
	}
	return ok
}

type scriptedRunner struct {
	mu       sync.Mutex
	calls    int
	requests []Request
	script   []error
}

func (r *scriptedRunner) Sync(_ context.Context, req Request) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.requests = append(r.requests, req)
	if len(r.script) > 0 {
		err := r.script[0]
		r.script = r.script[1:]
		if err != nil {
			return nil, err
		}
	}
	return &Result{Mode: req.Mode}, nil
}

func (r *scriptedRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func startWatcher(t *testing.T, w *Watcher) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return func() {
		stop()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("watcher did not stop")
		}
	}
}

func TestWatcher_TriggersBoundedRun(t *testing.T) {
	sub := newFakeSubscriber()
	runner := &scriptedRunner{}
	w := NewWatcher(sub, runner, WatcherConfig{Addresses: []string{"pool", "buyback"}, Target: 7}, logger.Discard())

	stop := startWatcher(t, w)
	defer stop()

	require.Eventually(t, func() bool { return sub.send("buyback", solana.LogNotification{Signature: "s1"}) },
		time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return runner.Calls() == 1 }, time.Second, 5*time.Millisecond)

	runner.mu.Lock()
	assert.Equal(t, Request{Mode: ModeBounded, Target: 7}, runner.requests[0])
	runner.mu.Unlock()

	// Failed transactions do not trigger.
	sub.send("pool", solana.LogNotification{Signature: "s2", Err: "failed"})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, runner.Calls())
}

func TestWatcher_RetriesAfterCooldown(t *testing.T) {
	sub := newFakeSubscriber()
	runner := &scriptedRunner{script: []error{&syncstate.CooldownError{Remaining: 20 * time.Millisecond}}}
	w := NewWatcher(sub, runner, WatcherConfig{Addresses: []string{"pool"}}, logger.Discard())

	stop := startWatcher(t, w)
	defer stop()

	w.Trigger()
	require.Eventually(t, func() bool { return runner.Calls() == 2 }, time.Second, 5*time.Millisecond)
}

func TestWatcher_StopsOnAuthFailure(t *testing.T) {
	auth := &solana.UpstreamError{Kind: solana.KindAuthFailure, Method: "getSignaturesForAddress", Attempts: 1, Err: errors.New("http status 401")}
	runner := &scriptedRunner{script: []error{auth}}
	w := NewWatcher(newFakeSubscriber(), runner, WatcherConfig{Addresses: []string{"pool"}}, logger.Discard())

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	w.Trigger()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, solana.ErrAuthFailure)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher kept running after an auth failure")
	}
	assert.Equal(t, 1, runner.Calls())
}

func TestWatcher_TriggersCoalesce(t *testing.T) {
	w := NewWatcher(newFakeSubscriber(), &scriptedRunner{}, WatcherConfig{Addresses: []string{"pool"}}, logger.Discard())
	for i := 0; i < 10; i++ {
		w.Trigger()
	}
	assert.Len(t, w.trigger, 1)
}

func TestWatcher_SubscribeError(t *testing.T) {
	sub := newFakeSubscriber()
	sub.err = errors.New("dial failed")
	w := NewWatcher(sub, &scriptedRunner{}, WatcherConfig{Addresses: []string{"pool"}}, logger.Discard())

	err := w.Run(context.Background())
	assert.ErrorContains(t, err, "dial failed")

	err = NewWatcher(sub, &scriptedRunner{}, WatcherConfig{}, nil).Run(context.Background())
	assert.Error(t, err)
}
