package verifyclient

import (
	"context"
	"errors"
	"sync"
	"time"
)

type State string

const (
	StateIdle      State = "idle"
	StateVerifying State = "verifying"
	StateListening State = "listening"
	StateSuccess   State = "success"
	StateTimeout   State = "timeout"
	StateError     State = "error"
)

// Active reports whether the session still has work scheduled.
func (s State) Active() bool {
	return s == StateVerifying || s == StateListening
}

const (
	DefaultPollInterval  = 2 * time.Second
	DefaultMaxWait       = 5 * time.Minute
	DefaultMaxPollErrors = 3
)

var (
	ErrInProgress = errors.New("verifyclient: verification already in progress")
	ErrClosed     = errors.New("verifyclient: session closed")
	ErrConflict   = errors.New("verifyclient: payment bound to another account")
	ErrRejected   = errors.New("verifyclient: verification rejected")
)

const conflictMessage = "This payment is linked to another account. Please contact support."

// Clock drives the session timers. AfterFunc returns the stop function of
// the scheduled call, with time.Timer.Stop semantics.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

func (wallClock) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Options tune a Session. Zero values defer to the server hints, then to
// the package defaults.
type Options struct {
	PollInterval  time.Duration
	MaxWait       time.Duration
	MaxPollErrors int
	Observer      func(Snapshot)
	// Clock defaults to wall time.
	Clock         Clock
}

// Snapshot is a consistent view of a session at one instant.
type Snapshot struct {
	State     State
	Response  *Response
	Err       error
	Message   string
	Remaining time.Duration
	Attempts  int
}

// Session runs one verification timeline at a time: an initial verify, then
// sequential polls until a match, a conflict, too many errors or the bound.
type Session struct {
	verifier Verifier
	opts     Options
	clock    Clock
	notify   *notifier

	mu         sync.Mutex
	state      State
	gen        uint64
	req        Request
	ctx        context.Context
	cancel     context.CancelFunc
	startedAt  time.Time
	deadline   time.Time
	stopExpiry func() bool
	stopPoll   func() bool
	interval   time.Duration
	last       *Response
	err        error
	message    string
	attempts   int
	pollErrors int
	settled    chan struct{}
	closed     bool
}

func NewSession(v Verifier, opts Options) *Session {
	if opts.MaxPollErrors <= 0 {
		opts.MaxPollErrors = DefaultMaxPollErrors
	}
	clk := opts.Clock
	if clk == nil {
		clk = wallClock{}
	}
	s := &Session{
		verifier: v,
		opts:     opts,
		clock:    clk,
		state:    StateIdle,
	}
	if opts.Observer != nil {
		s.notify = newNotifier(opts.Observer)
	}
	return s
}

// Start begins a new timeline. It fails while another one is active.
func (s *Session) Start(req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.state.Active() {
		return ErrInProgress
	}

	s.stopLocked()
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())

	s.req = req
	s.ctx = ctx
	s.cancel = cancel
	s.state = StateVerifying
	s.startedAt = s.clock.Now()
	s.last = nil
	s.err = nil
	s.message = ""
	s.attempts = 0
	s.pollErrors = 0
	s.interval = resolvePollInterval(s.opts.PollInterval, 0)
	s.settled = make(chan struct{})
	s.armExpiryLocked(gen, resolveMaxWait(s.opts.MaxWait, 0))
	s.publishLocked()

	go s.attempt(ctx, gen)
	return nil
}

// Reset abandons the current timeline and returns to idle. Responses still
// in flight are discarded.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.gen++
	s.stopLocked()
	s.state = StateIdle
	s.last = nil
	s.err = nil
	s.message = ""
	s.closeSettledLocked()
	s.publishLocked()
}

// Close cancels any work and releases the observer goroutine.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	s.stopLocked()
	s.closeSettledLocked()
	s.mu.Unlock()

	if s.notify != nil {
		s.notify.stop()
	}
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Wait blocks until the current timeline settles or ctx ends.
func (s *Session) Wait(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	ch := s.settled
	s.mu.Unlock()

	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return s.Snapshot(), ctx.Err()
		}
	}
	return s.Snapshot(), nil
}

func (s *Session) attempt(ctx context.Context, gen uint64) {
	s.mu.Lock()
	if gen != s.gen || !s.state.Active() {
		s.mu.Unlock()
		return
	}
	req := s.req
	s.attempts++
	s.mu.Unlock()

	resp, err := s.verifier.Verify(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || !s.state.Active() {
		return
	}
	if err != nil {
		s.handleErrorLocked(gen, err)
		return
	}
	s.handleResponseLocked(gen, resp)
}

func (s *Session) handleErrorLocked(gen uint64, err error) {
	if s.state == StateVerifying {
		s.failLocked(err, "")
		return
	}
	s.pollErrors++
	if s.pollErrors >= s.opts.MaxPollErrors {
		s.failLocked(err, "")
		return
	}
	s.scheduleLocked(gen)
}

func (s *Session) handleResponseLocked(gen uint64, resp *Response) {
	s.last = resp
	s.pollErrors = 0
	if resp.Message != "" {
		s.message = resp.Message
	}

	switch {
	case resp.Success:
		s.settleLocked(StateSuccess)
	case resp.Conflict || resp.UsedByOther:
		s.failLocked(ErrConflict, conflictMessage)
	case resp.NotReady:
		first := s.state == StateVerifying
		s.state = StateListening
		s.interval = resolvePollInterval(s.opts.PollInterval, resp.PollAfter())
		if first && s.opts.MaxWait <= 0 && resp.MaxWait() > 0 {
			s.armExpiryLocked(gen, resp.MaxWait()-s.clock.Now().Sub(s.startedAt))
		}
		s.publishLocked()
		s.scheduleLocked(gen)
	default:
		s.failLocked(ErrRejected, resp.Message)
	}
}

// scheduleLocked arms the next poll. Polls never overlap because the timer
// is only armed after the previous attempt settled.
func (s *Session) scheduleLocked(gen uint64) {
	ctx := s.ctx
	s.stopPoll = s.clock.AfterFunc(s.interval, func() {
		s.attempt(ctx, gen)
	})
}

func (s *Session) armExpiryLocked(gen uint64, wait time.Duration) {
	if s.stopExpiry != nil {
		s.stopExpiry()
	}
	if wait < 0 {
		wait = 0
	}
	s.deadline = s.clock.Now().Add(wait)
	s.stopExpiry = s.clock.AfterFunc(wait, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.gen || !s.state.Active() {
			return
		}
		s.settleLocked(StateTimeout)
	})
}

func (s *Session) failLocked(err error, message string) {
	s.err = err
	if message != "" {
		s.message = message
	}
	s.settleLocked(StateError)
}

func (s *Session) settleLocked(state State) {
	s.state = state
	s.stopLocked()
	s.closeSettledLocked()
	s.publishLocked()
}

// stopLocked cancels in-flight calls and pending timers.
func (s *Session) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
		s.ctx = nil
	}
	if s.stopPoll != nil {
		s.stopPoll()
		s.stopPoll = nil
	}
	if s.stopExpiry != nil {
		s.stopExpiry()
		s.stopExpiry = nil
	}
}

func (s *Session) closeSettledLocked() {
	if s.settled == nil {
		return
	}
	select {
	case <-s.settled:
	default:
		close(s.settled)
	}
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:    s.state,
		Response: s.last,
		Err:      s.err,
		Message:  s.message,
		Attempts: s.attempts,
	}
	if s.state.Active() {
		if remaining := s.deadline.Sub(s.clock.Now()); remaining > 0 {
			snap.Remaining = remaining
		}
	}
	return snap
}

func (s *Session) publishLocked() {
	if s.notify != nil {
		s.notify.push(s.snapshotLocked())
	}
}

func resolvePollInterval(explicit, hint time.Duration) time.Duration {
	switch {
	case explicit > 0:
		return explicit
	case hint > 0:
		return hint
	default:
		return DefaultPollInterval
	}
}

func resolveMaxWait(explicit, hint time.Duration) time.Duration {
	switch {
	case explicit > 0:
		return explicit
	case hint > 0:
		return hint
	default:
		return DefaultMaxWait
	}
}

// notifier delivers snapshots to the observer in order on its own
// goroutine, so observers may call back into the session.
type notifier struct {
	fn    func(Snapshot)
	mu    sync.Mutex
	queue []Snapshot
	wake  chan struct{}
	done  chan struct{}
}

func newNotifier(fn func(Snapshot)) *notifier {
	n := &notifier{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) push(s Snapshot) {
	n.mu.Lock()
	n.queue = append(n.queue, s)
	n.mu.Unlock()
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	for {
		select {
		case <-n.wake:
			n.drain()
		case <-n.done:
			n.drain()
			return
		}
	}
}

func (n *notifier) drain() {
	for {
		n.mu.Lock()
		if len(n.queue) == 0 {
			n.mu.Unlock()
			return
		}
		batch := n.queue
		n.queue = nil
		n.mu.Unlock()
		for _, s := range batch {
			n.fn(s)
		}
	}
}

// stop lets queued snapshots flush and ends the goroutine.
func (n *notifier) stop() {
	close(n.done)
}
