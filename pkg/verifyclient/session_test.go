package verifyclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/muanapay/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedVerifier answers from a queue and repeats the last entry once the
// queue is drained.
type scriptedVerifier struct {
	mu       sync.Mutex
	steps    []step
	calls    int32
	inflight int32
	peak     int32
	delay    time.Duration
}

type step struct {
	resp *Response
	err  error
}

func (v *scriptedVerifier) Verify(ctx context.Context, _ Request) (*Response, error) {
	n := atomic.AddInt32(&v.inflight, 1)
	defer atomic.AddInt32(&v.inflight, -1)
	for {
		peak := atomic.LoadInt32(&v.peak)
		if n <= peak || atomic.CompareAndSwapInt32(&v.peak, peak, n) {
			break
		}
	}
	call := atomic.AddInt32(&v.calls, 1)

	if v.delay > 0 {
		select {
		case <-time.After(v.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	idx := int(call) - 1
	if idx >= len(v.steps) {
		idx = len(v.steps) - 1
	}
	return v.steps[idx].resp, v.steps[idx].err
}

func notReady() step { return step{resp: &Response{NotReady: true, Message: "waiting"}} }
func matched() step  { return step{resp: &Response{Success: true, Found: true, Verified: true}} }

func waitSettled(t *testing.T, s *Session) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := s.Wait(ctx)
	require.NoError(t, err)
	return snap
}

func TestSessionImmediateMatch(t *testing.T) {
	v := &scriptedVerifier{steps: []step{matched()}}
	s := NewSession(v, Options{})
	defer s.Close()

	require.NoError(t, s.Start(Request{UserID: "U1", SenderNumber: "70000000"}))
	snap := waitSettled(t, s)
	assert.Equal(t, StateSuccess, snap.State)
	assert.Equal(t, 1, snap.Attempts)
}

func TestSessionPollsSequentiallyUntilMatch(t *testing.T) {
	v := &scriptedVerifier{
		steps: []step{notReady(), notReady(), notReady(), matched()},
		delay: 5 * time.Millisecond,
	}
	var states []State
	var mu sync.Mutex
	s := NewSession(v, Options{
		PollInterval: 10 * time.Millisecond,
		Observer: func(snap Snapshot) {
			mu.Lock()
			states = append(states, snap.State)
			mu.Unlock()
		},
	})

	require.NoError(t, s.Start(Request{UserID: "U1", TransactionID: "TX1"}))
	snap := waitSettled(t, s)
	s.Close()

	assert.Equal(t, StateSuccess, snap.State)
	assert.Equal(t, int32(4), atomic.LoadInt32(&v.calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&v.peak), "polls must never overlap")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) > 0 && states[len(states)-1] == StateSuccess
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, StateVerifying, states[0])
	assert.Contains(t, states, StateListening)
	mu.Unlock()
}

func TestSessionRejectsConcurrentStart(t *testing.T) {
	v := &scriptedVerifier{steps: []step{notReady()}}
	s := NewSession(v, Options{PollInterval: time.Hour})
	defer s.Close()

	require.NoError(t, s.Start(Request{UserID: "U1", TransactionID: "TX1"}))
	assert.ErrorIs(t, s.Start(Request{UserID: "U1", TransactionID: "TX1"}), ErrInProgress)
}

func TestSessionTimesOut(t *testing.T) {
	v := &scriptedVerifier{steps: []step{notReady()}}
	s := NewSession(v, Options{PollInterval: 5 * time.Millisecond, MaxWait: 60 * time.Millisecond})
	defer s.Close()

	start := time.Now()
	require.NoError(t, s.Start(Request{UserID: "U1", TransactionID: "TX1"}))
	snap := waitSettled(t, s)
	assert.Equal(t, StateTimeout, snap.State)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)

	time.Sleep(10 * time.Millisecond)
	calls := atomic.LoadInt32(&v.calls)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, atomic.LoadInt32(&v.calls), "no polls after the bound")
}

func TestSessionTimeoutCancelsInflightPoll(t *testing.T) {
	v := &scriptedVerifier{steps: []step{notReady()}, delay: time.Hour}
	s := NewSession(v, Options{MaxWait: 30 * time.Millisecond})
	defer s.Close()

	require.NoError(t, s.Start(Request{UserID: "U1", TransactionID: "TX1"}))
	snap := waitSettled(t, s)
	assert.Equal(t, StateTimeout, snap.State)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&v.inflight) == 0 }, time.Second, 5*time.Millisecond)
}

func TestSessionConflictIsTerminal(t *testing.T) {
	v := &scriptedVerifier{steps: []step{{resp: &Response{Found: true, UsedByOther: true, Conflict: true}}}}
	s := NewSession(v, Options{})
	defer s.Close()

	require.NoError(t, s.Start(Request{UserID: "U2", TransactionID: "TX1"}))
	snap := waitSettled(t, s)
	assert.Equal(t, StateError, snap.State)
	assert.ErrorIs(t, snap.Err, ErrConflict)
	assert.Contains(t, snap.Message, "contact support")
}

func TestSessionTransportFailureWhileVerifying(t *testing.T) {
	boom := errors.New("connection refused")
	v := &scriptedVerifier{steps: []step{{err: boom}}}
	s := NewSession(v, Options{})
	defer s.Close()

	require.NoError(t, s.Start(Request{UserID: "U1", TransactionID: "TX1"}))
	snap := waitSettled(t, s)
	assert.Equal(t, StateError, snap.State)
	assert.ErrorIs(t, snap.Err, boom)

	// A settled session can be restarted.
	v.mu.Lock()
	v.steps = []step{matched()}
	v.mu.Unlock()
	atomic.StoreInt32(&v.calls, 0)
	require.NoError(t, s.Start(Request{UserID: "U1", TransactionID: "TX1"}))
	assert.Equal(t, StateSuccess, waitSettled(t, s).State)
}

func TestSessionToleratesPollErrors(t *testing.T) {
	boom := errors.New("bad gateway")

	t.Run("recovers", func(t *testing.T) {
		v := &scriptedVerifier{steps: []step{notReady(), {err: boom}, {err: boom}, matched()}}
		s := NewSession(v, Options{PollInterval: 5 * time.Millisecond})
		defer s.Close()

		require.NoError(t, s.Start(Request{UserID: "U1", TransactionID: "TX1"}))
		assert.Equal(t, StateSuccess, waitSettled(t, s).State)
	})

	t.Run("gives up", func(t *testing.T) {
		v := &scriptedVerifier{steps: []step{notReady(), {err: boom}}}
		s := NewSession(v, Options{PollInterval: 5 * time.Millisecond})
		defer s.Close()

		require.NoError(t, s.Start(Request{UserID: "U1", TransactionID: "TX1"}))
		snap := waitSettled(t, s)
		assert.Equal(t, StateError, snap.State)
		assert.ErrorIs(t, snap.Err, boom)
		assert.Equal(t, 1+DefaultMaxPollErrors, snap.Attempts)
	})
}

type gatedVerifier struct {
	release chan struct{}
	entered chan struct{}
}

func (g *gatedVerifier) Verify(context.Context, Request) (*Response, error) {
	g.entered <- struct{}{}
	<-g.release
	return &Response{Success: true}, nil
}

func TestSessionResetDiscardsLateResponse(t *testing.T) {
	g := &gatedVerifier{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	var sawSuccess atomic.Bool
	s := NewSession(g, Options{Observer: func(snap Snapshot) {
		if snap.State == StateSuccess {
			sawSuccess.Store(true)
		}
	}})
	defer s.Close()

	require.NoError(t, s.Start(Request{UserID: "U1", TransactionID: "TX1"}))
	<-g.entered
	s.Reset()
	assert.Equal(t, StateIdle, s.Snapshot().State)

	close(g.release)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateIdle, s.Snapshot().State)
	assert.False(t, sawSuccess.Load())
}

func TestSessionClose(t *testing.T) {
	v := &scriptedVerifier{steps: []step{notReady()}}
	s := NewSession(v, Options{PollInterval: 5 * time.Millisecond})

	require.NoError(t, s.Start(Request{UserID: "U1", TransactionID: "TX1"}))
	s.Close()
	time.Sleep(10 * time.Millisecond)
	calls := atomic.LoadInt32(&v.calls)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, atomic.LoadInt32(&v.calls))
	assert.ErrorIs(t, s.Start(Request{UserID: "U1"}), ErrClosed)
}

func TestSnapshotReportsRemaining(t *testing.T) {
	v := &scriptedVerifier{steps: []step{notReady()}}
	s := NewSession(v, Options{PollInterval: time.Hour, MaxWait: time.Minute})
	defer s.Close()

	require.NoError(t, s.Start(Request{UserID: "U1", TransactionID: "TX1"}))
	snap := s.Snapshot()
	assert.True(t, snap.State.Active())
	assert.Greater(t, snap.Remaining, 50*time.Second)
	assert.LessOrEqual(t, snap.Remaining, time.Minute)
}

func TestResolveTimings(t *testing.T) {
	assert.Equal(t, DefaultPollInterval, resolvePollInterval(0, 0))
	assert.Equal(t, 10*time.Second, resolvePollInterval(0, 10*time.Second))
	assert.Equal(t, time.Second, resolvePollInterval(time.Second, 10*time.Second))

	assert.Equal(t, DefaultMaxWait, resolveMaxWait(0, 0))
	assert.Equal(t, 300*time.Second, resolveMaxWait(0, 300*time.Second))
	assert.Equal(t, time.Minute, resolveMaxWait(time.Minute, 300*time.Second))
}

func TestSessionBoundFollowsInjectedClock(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))
	v := &scriptedVerifier{steps: []step{{resp: &Response{NotReady: true, PollAfterSeconds: 10, MaxWaitSeconds: 300}}}}
	s := NewSession(v, Options{Clock: clk})
	defer s.Close()

	require.NoError(t, s.Start(Request{UserID: "U1", TransactionID: "TX1"}))
	require.Eventually(t, func() bool { return s.Snapshot().State == StateListening }, time.Second, time.Millisecond)

	for i := 0; i < 29; i++ {
		clk.Advance(10 * time.Second)
	}
	snap := s.Snapshot()
	assert.Equal(t, StateListening, snap.State)
	assert.Equal(t, 10*time.Second, snap.Remaining)
	assert.Equal(t, int32(30), atomic.LoadInt32(&v.calls))

	clk.Advance(10 * time.Second)
	snap = s.Snapshot()
	assert.Equal(t, StateTimeout, snap.State)
	assert.Equal(t, int32(30), atomic.LoadInt32(&v.calls), "no poll at the bound")

	clk.Advance(time.Minute)
	assert.Equal(t, int32(30), atomic.LoadInt32(&v.calls))
}
