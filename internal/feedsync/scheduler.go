package feedsync

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentworkforce/relayfeed/internal/logging"
	"github.com/agentworkforce/relayfeed/internal/timeline"
)

const (
	defaultInterval      = 5 * time.Second
	defaultFollowUpDelay = 750 * time.Millisecond
	defaultFetchTimeout  = 15 * time.Second
)

type SchedulerOptions struct {
	FeedID string
	Role   timeline.Role
	// Interval between polls while active.
	Interval time.Duration
	// Jitter spreads each interval by up to ±Jitter of its length.
	Jitter float64
	// FollowUpDelay is how long RequestRefetch waits before its one-shot poll.
	FollowUpDelay time.Duration
	// FetchTimeout bounds a single list call.
	FetchTimeout time.Duration
	// Paused starts the scheduler inactive.
	Paused bool
	Logger logging.Logger
}

// Scheduler polls the full listing of one feed and merges it into a store.
// Polling runs only while a PollHandle from Acquire is held and the
// scheduler is active.
type Scheduler struct {
	gateway Gateway
	store   *timeline.Store
	scope   timeline.Scope
	opts    SchedulerOptions
	log     logging.Logger

	seq atomic.Uint64

	mu       sync.Mutex
	active   bool
	handle   *PollHandle
	applied  uint64
	inflight int
	loaded   bool
}

func NewScheduler(gateway Gateway, store *timeline.Store, opts SchedulerOptions) (*Scheduler, error) {
	if gateway == nil {
		return nil, fmt.Errorf("%w: gateway is required", timeline.ErrValidation)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", timeline.ErrValidation)
	}
	opts.FeedID = strings.TrimSpace(opts.FeedID)
	if opts.FeedID == "" {
		opts.FeedID = store.FeedID()
	}
	if opts.FeedID != store.FeedID() {
		return nil, fmt.Errorf("%w: scheduler feed %q does not match store feed %q", timeline.ErrValidation, opts.FeedID, store.FeedID())
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.FollowUpDelay <= 0 {
		opts.FollowUpDelay = defaultFollowUpDelay
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	opts.Jitter = ClampJitterRatio(opts.Jitter)
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Scheduler{
		gateway: gateway,
		store:   store,
		scope:   timeline.ScopeFor(opts.Role),
		opts:    opts,
		log:     log.With("feed", opts.FeedID),
		active:  !opts.Paused,
	}, nil
}

func (s *Scheduler) Scope() timeline.Scope {
	return s.scope
}

// Active reports the current activity flag.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Loading reports whether a fetch is in flight and no listing has been
// applied yet.
func (s *Scheduler) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.loaded && s.inflight > 0
}

// Acquire starts the polling loop. The loop runs until the returned handle is
// released or ctx is done. Only one handle may be live at a time.
func (s *Scheduler) Acquire(ctx context.Context) (*PollHandle, error) {
	s.mu.Lock()
	if s.handle != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: feed %s already has a live poll handle", timeline.ErrValidation, s.opts.FeedID)
	}
	h := &PollHandle{
		s:         s,
		activeCh:  make(chan activeRequest),
		refetchCh: make(chan struct{}, 1),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	h.live.Store(true)
	s.handle = h
	active := s.active
	s.mu.Unlock()

	go h.run(ctx, active)
	return h, nil
}

// SetActive flips the activity flag. Turning it on fetches immediately and
// restarts the interval; turning it off stops the timers before returning.
func (s *Scheduler) SetActive(active bool) {
	s.mu.Lock()
	s.active = active
	h := s.handle
	s.mu.Unlock()
	if h != nil {
		h.setActive(active)
	}
}

// RequestRefetch schedules one extra poll after the follow-up delay, to
// catch server-side effects of a mutation. It is a no-op while inactive or
// without a live handle.
func (s *Scheduler) RequestRefetch() {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h == nil {
		return
	}
	select {
	case h.refetchCh <- struct{}{}:
	default:
	}
}

// MarkApplied makes every fetch requested so far stale. The mutator calls it
// right before writing a confirmed mutation into the store, so a listing
// taken before the server applied that mutation is never merged over it.
func (s *Scheduler) MarkApplied() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq := s.seq.Load(); seq > s.applied {
		s.applied = seq
	}
}

// Refresh fetches and applies the listing on the caller's goroutine and
// returns the fetch error, if any. It works with or without a live handle.
func (s *Scheduler) Refresh(ctx context.Context) error {
	seq := s.seq.Add(1)
	s.begin()
	entries, err := s.gateway.List(ctx, s.opts.FeedID, s.scope)
	s.finish(seq, entries, err, nil)
	return err
}

func (s *Scheduler) begin() {
	s.mu.Lock()
	s.inflight++
	s.mu.Unlock()
}

// finish applies a fetch result. Results are dropped when the handle that
// issued them is no longer live, when a newer fetch was already applied, or
// when a confirmed mutation landed after the fetch was requested.
func (s *Scheduler) finish(seq uint64, entries []timeline.Entry, err error, h *PollHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if err != nil {
		return
	}
	if h != nil && !h.live.Load() {
		s.log.Debug(context.Background(), "discarding poll result after release", "seq", seq)
		return
	}
	if seq <= s.applied {
		s.log.Debug(context.Background(), "discarding stale poll result", "seq", seq, "applied", s.applied)
		return
	}
	s.store.ReplaceAll(entries)
	s.applied = seq
	s.loaded = true
}

func (s *Scheduler) detach(h *PollHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == h {
		s.handle = nil
	}
}

type activeRequest struct {
	active bool
	ack    chan struct{}
}

// PollHandle scopes a polling loop. Release it on every exit path.
type PollHandle struct {
	s *Scheduler

	activeCh  chan activeRequest
	refetchCh chan struct{}
	done      chan struct{}
	stopped   chan struct{}

	live        atomic.Bool
	releaseOnce sync.Once
	fetches     sync.WaitGroup
}

// Release stops the loop. Results of fetches still in flight are discarded.
// It is safe to call more than once.
func (h *PollHandle) Release() {
	h.releaseOnce.Do(func() {
		h.live.Store(false)
		close(h.done)
		h.s.detach(h)
	})
}

// Done is closed once the loop has exited.
func (h *PollHandle) Done() <-chan struct{} {
	return h.stopped
}

// Wait blocks until the loop has exited and every fetch it started has
// returned.
func (h *PollHandle) Wait() {
	<-h.stopped
	h.fetches.Wait()
}

func (h *PollHandle) setActive(active bool) {
	req := activeRequest{active: active, ack: make(chan struct{})}
	select {
	case h.activeCh <- req:
	case <-h.stopped:
		return
	}
	select {
	case <-req.ack:
	case <-h.stopped:
	}
}

func (h *PollHandle) run(ctx context.Context, active bool) {
	defer close(h.stopped)
	defer h.Release()

	s := h.s
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	nextInterval := func() time.Duration {
		return jitteredIntervalWithSample(s.opts.Interval, s.opts.Jitter, rng.Float64())
	}

	var tick, followUp *time.Timer
	var tickC, followUpC <-chan time.Time
	stop := func(t **time.Timer, c *<-chan time.Time) {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
		*c = nil
	}
	arm := func(t **time.Timer, c *<-chan time.Time, d time.Duration) {
		stop(t, c)
		*t = time.NewTimer(d)
		*c = (*t).C
	}
	defer stop(&tick, &tickC)
	defer stop(&followUp, &followUpC)

	if active {
		h.fetch(ctx)
		arm(&tick, &tickC, nextInterval())
	}
	for {
		select {
		case <-ctx.Done():
			s.log.Debug(ctx, "poll loop stopping", "reason", ctx.Err())
			return
		case <-h.done:
			return
		case req := <-h.activeCh:
			switch {
			case req.active && !active:
				active = true
				h.fetch(ctx)
				arm(&tick, &tickC, nextInterval())
			case !req.active && active:
				active = false
				stop(&tick, &tickC)
				stop(&followUp, &followUpC)
			}
			close(req.ack)
		case <-tickC:
			h.fetch(ctx)
			arm(&tick, &tickC, nextInterval())
		case <-h.refetchCh:
			if active {
				arm(&followUp, &followUpC, s.opts.FollowUpDelay)
			}
		case <-followUpC:
			stop(&followUp, &followUpC)
			if active {
				h.fetch(ctx)
			}
		}
	}
}

// fetch runs one list call in the background. The call is bounded by the
// fetch timeout rather than the loop context, so releasing the handle never
// aborts it; its result is just discarded.
func (h *PollHandle) fetch(ctx context.Context) {
	s := h.s
	seq := s.seq.Add(1)
	s.begin()
	h.fetches.Add(1)
	go func() {
		defer h.fetches.Done()
		entries, err := h.list(ctx, seq)
		if err != nil {
			s.log.Warn(ctx, "poll failed", "seq", seq, "error", err)
		}
		s.finish(seq, entries, err, h)
	}()
}

func (h *PollHandle) list(ctx context.Context, seq uint64) (entries []timeline.Entry, err error) {
	s := h.s
	defer func() {
		if r := recover(); r != nil {
			s.log.Error(ctx, "poll panicked", "seq", seq, "panic", r)
			entries, err = nil, fmt.Errorf("%w: poll panicked: %v", timeline.ErrNetwork, r)
		}
	}()
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.FetchTimeout)
	defer cancel()
	return s.gateway.List(fetchCtx, s.opts.FeedID, s.scope)
}
