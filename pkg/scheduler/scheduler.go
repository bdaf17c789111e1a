package scheduler

import (
	"errors"
	"sync"
	"time"

	"github.com/nsgo/nsapi/pkg/logging"
)

var (
	// ErrNewBlocked is returned by Submit while new submissions are blocked.
	ErrNewBlocked = errors.New("scheduler: new requests blocked")
	// ErrShutdown is returned by Submit after Shutdown has been called.
	ErrShutdown = errors.New("scheduler: shut down")
	// ErrCancelled resolves requests drained from the queue before dispatch.
	ErrCancelled = errors.New("scheduler: request cancelled")
)

// Category determines which cadence constraint applies to a request.
type Category int

const (
	// Plain requests are gated only by the general cadence floor.
	Plain Category = iota
	// RecruitmentTelegram requests additionally respect the recruitment
	// telegram floor, measured against the shared last-telegram anchor.
	RecruitmentTelegram
	// NonRecruitmentTelegram requests additionally respect the
	// non-recruitment telegram floor, measured against the same anchor.
	NonRecruitmentTelegram
)

func (c Category) String() string {
	switch c {
	case Plain:
		return "plain"
	case RecruitmentTelegram:
		return "recruitment-telegram"
	case NonRecruitmentTelegram:
		return "non-recruitment-telegram"
	default:
		return "unknown"
	}
}

// telegram reports whether dispatching this category moves the shared
// last-telegram anchor. Any telegram resets the cooldown the other telegram
// category measures against, so a burst of one cannot evade the other's limit.
func (c Category) telegram() bool {
	return c == RecruitmentTelegram || c == NonRecruitmentTelegram
}

// Delays holds the cadence floors enforced between dispatches. The scheduler
// accepts any non-negative values; minimum-bound validation belongs to the
// configuration layer.
type Delays struct {
	API                time.Duration
	RecruitTelegram    time.Duration
	NonRecruitTelegram time.Duration
}

// Request describes one pending call to the remote API.
type Request struct {
	Category Category

	// Execute performs the network call. It runs on its own goroutine so the
	// dispatch loop never blocks on I/O, and must call done exactly once when
	// the call has finished (success or failure). The scheduler updates its
	// cadence timestamps and clears the in-flight flag from done.
	Execute func(done func())

	// Cancel resolves the submitter's completion handle with err when the
	// request is drained from the queue before dispatch.
	Cancel func(err error)

	enqueued time.Time
}

// Enqueued returns the time the request entered the queue. Zero until the
// request has been submitted.
func (r *Request) Enqueued() time.Time {
	return r.enqueued
}

// Options configures a Scheduler.
type Options struct {
	Delays Delays

	// Throttled selects the default cadence-enforcing mode. When false the
	// queue is drained as fast as requests arrive, with no timing checks and
	// no one-at-a-time serialization.
	Throttled bool

	// AllowImmediate permits a dispatch right after construction. When false
	// the scheduler behaves as if a request of every category had just been
	// dispatched, so the first request waits out a full cadence floor.
	AllowImmediate bool

	Logger *logging.Logger
}

// Scheduler serializes requests against a shared remote resource under
// independent cadence constraints. Requests dispatch in strict submission
// order; a blocked head-of-queue telegram starves everything behind it by
// design, preserving FIFO delivery.
//
// A single loop goroutine makes all dispatch decisions. It sleeps until woken
// by a submission, flag change, completion, or mode switch, or until a timer
// armed for the earliest instant the head could become dispatchable fires.
type Scheduler struct {
	log *logging.Logger

	mu            sync.Mutex
	queue         []*Request
	delays        Delays
	throttled     bool
	lastGeneral   time.Time
	lastTelegram  time.Time
	inFlight      bool
	blockExisting bool
	blockNew      bool
	shutdown      bool

	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
}

// New creates a Scheduler and starts its dispatch loop.
func New(opts Options) *Scheduler {
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}

	s := &Scheduler{
		log:       log,
		delays:    opts.Delays,
		throttled: opts.Throttled,
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}

	if !opts.AllowImmediate {
		now := time.Now()
		s.lastGeneral = now
		s.lastTelegram = now
	}

	go s.loop()
	return s
}

// Submit appends a request to the queue tail. It fails synchronously with
// ErrShutdown or ErrNewBlocked without touching the queue; the request's
// completion handle is not resolved in that case.
func (s *Scheduler) Submit(req *Request) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return ErrShutdown
	}
	if s.blockNew {
		s.mu.Unlock()
		return ErrNewBlocked
	}
	req.enqueued = time.Now()
	s.queue = append(s.queue, req)
	depth := len(s.queue)
	s.wakeLocked()
	s.mu.Unlock()

	s.log.Debug("request queued", "category", req.Category.String(), "depth", depth)
	return nil
}

// Accepting reports whether Submit would currently accept a request,
// returning ErrShutdown or ErrNewBlocked otherwise. Callers with their own
// fast paths (such as a cache lookup) use it so those paths honor the same
// admission rules as the queue.
func (s *Scheduler) Accepting() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return ErrShutdown
	}
	if s.blockNew {
		return ErrNewBlocked
	}
	return nil
}

// CancelAll drains every queued request, resolving each completion handle
// with ErrCancelled. In-flight dispatches are not interrupted. Safe to call
// on an empty queue.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	drained := s.queue
	s.queue = nil
	s.mu.Unlock()

	s.failAll(drained, ErrCancelled)
}

// Shutdown drains the queue, resolving queued completions with ErrCancelled,
// and stops the dispatch loop permanently. Further submissions fail with
// ErrShutdown. Shutdown does not wait for an in-flight dispatch to finish.
// It is idempotent.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true
	drained := s.queue
	s.queue = nil
	close(s.stop)
	s.mu.Unlock()

	s.failAll(drained, ErrCancelled)
	<-s.stopped

	s.log.Info("scheduler shut down", "cancelled", len(drained))
}

// SetThrottled switches between throttled and unthrottled dispatch at
// runtime. Queued requests are preserved across the switch.
func (s *Scheduler) SetThrottled(throttled bool) {
	s.mu.Lock()
	s.throttled = throttled
	s.wakeLocked()
	s.mu.Unlock()
}

// Throttled reports the current dispatch mode.
func (s *Scheduler) Throttled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.throttled
}

// SetDelays replaces the cadence floors. Takes effect on the next dispatch
// decision.
func (s *Scheduler) SetDelays(d Delays) {
	s.mu.Lock()
	s.delays = d
	s.wakeLocked()
	s.mu.Unlock()
}

// Delays returns the current cadence floors.
func (s *Scheduler) Delays() Delays {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delays
}

// SetBlockExisting freezes or unfreezes dispatch of queued requests.
// Submissions are still accepted while set.
func (s *Scheduler) SetBlockExisting(block bool) {
	s.mu.Lock()
	s.blockExisting = block
	if !block {
		s.wakeLocked()
	}
	s.mu.Unlock()
}

// SetBlockNew rejects or accepts new submissions. Queued requests continue
// to dispatch while set.
func (s *Scheduler) SetBlockNew(block bool) {
	s.mu.Lock()
	s.blockNew = block
	s.mu.Unlock()
}

// Len returns the number of queued (not yet dispatched) requests.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// InFlight reports whether a throttled-mode dispatch is awaiting completion.
func (s *Scheduler) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// loop is the single dispatch decision path. All queue, flag, and timestamp
// mutations happen under s.mu from here, Submit, the setters, or complete.
func (s *Scheduler) loop() {
	defer close(s.stopped)

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		s.mu.Lock()
		if s.shutdown {
			s.mu.Unlock()
			return
		}
		req, wait := s.nextLocked(time.Now())
		if req != nil {
			s.dispatchLocked(req)
			s.mu.Unlock()
			continue
		}
		s.mu.Unlock()

		if wait > 0 {
			timer.Reset(wait)
			select {
			case <-timer.C:
			case <-s.wake:
				if !timer.Stop() {
					<-timer.C
				}
			case <-s.stop:
				return
			}
			continue
		}

		select {
		case <-s.wake:
		case <-s.stop:
			return
		}
	}
}

// nextLocked evaluates the head of the queue without popping it. It returns
// the head when it is dispatchable now, or how long to wait until the head's
// cadence constraints could first be satisfied. A zero wait with a nil
// request means there is nothing to time out on (empty queue, blocked, or a
// dispatch in flight) and the loop should sleep until woken.
func (s *Scheduler) nextLocked(now time.Time) (*Request, time.Duration) {
	if len(s.queue) == 0 || s.blockExisting {
		return nil, 0
	}

	if !s.throttled {
		return s.popLocked(), 0
	}

	if s.inFlight {
		return nil, 0
	}

	head := s.queue[0]
	var wait time.Duration
	if d := s.delays.API - now.Sub(s.lastGeneral); d > wait {
		wait = d
	}
	switch head.Category {
	case RecruitmentTelegram:
		if d := s.delays.RecruitTelegram - now.Sub(s.lastTelegram); d > wait {
			wait = d
		}
	case NonRecruitmentTelegram:
		if d := s.delays.NonRecruitTelegram - now.Sub(s.lastTelegram); d > wait {
			wait = d
		}
	}
	if wait > 0 {
		return nil, wait
	}
	return s.popLocked(), 0
}

func (s *Scheduler) popLocked() *Request {
	head := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return head
}

// dispatchLocked hands the popped request to its executor. Ownership of the
// request transfers here; the queue no longer references it.
func (s *Scheduler) dispatchLocked(req *Request) {
	if s.throttled {
		s.inFlight = true
	}

	s.log.Debug("dispatching request",
		"category", req.Category.String(),
		"queued_for", time.Since(req.enqueued).String())

	var once sync.Once
	go req.Execute(func() {
		once.Do(func() {
			s.complete(req.Category)
		})
	})
}

// complete is the executor completion callback: it stamps the cadence
// anchors, clears the in-flight flag, and wakes the loop for the next
// decision.
func (s *Scheduler) complete(category Category) {
	s.mu.Lock()
	now := time.Now()
	s.lastGeneral = now
	if category.telegram() {
		s.lastTelegram = now
	}
	s.inFlight = false
	if !s.shutdown {
		s.wakeLocked()
	}
	s.mu.Unlock()
}

func (s *Scheduler) wakeLocked() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// failAll resolves drained requests outside the lock so a Cancel callback
// can safely call back into the scheduler.
func (s *Scheduler) failAll(reqs []*Request, err error) {
	for _, req := range reqs {
		if req.Cancel != nil {
			req.Cancel(err)
		}
	}
}
