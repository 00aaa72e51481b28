// Package sched implements the bounded-concurrency request scheduler used
// for metadata and resource fetches. Requests carry a priority class;
// priorities are applied at dequeue time so late-arriving high-priority
// work jumps ahead of queued low-priority work. Admitting high-priority
// work at capacity preempts the oldest low-priority active requests,
// within configured victim bounds.
package sched

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/FRFlor/image-manager/internal/logging"
	"github.com/FRFlor/image-manager/internal/metrics"
)

var (
	// ErrPreempted means the request was cancelled to make room for
	// higher-priority work. Internal scheduling signal; callers must not
	// surface it as a user-facing failure.
	ErrPreempted = errors.New("request preempted")

	// ErrTimedOut means the request exceeded the per-request timeout.
	// Bounds the damage of slow network mounts and pathological files.
	ErrTimedOut = errors.New("request timed out")

	// ErrCancelled means the request was cancelled by CancelAll.
	ErrCancelled = errors.New("request cancelled")

	// ErrClosed is returned for requests submitted after Close.
	ErrClosed = errors.New("scheduler closed")
)

// Priority is the request priority class.
type Priority int

const (
	Low Priority = iota
	High
)

func (p Priority) String() string {
	if p == High {
		return "high"
	}
	return "low"
}

// Task is one unit of fetch work. It must honor ctx cancellation and must
// not commit side effects after ctx is done.
type Task func(ctx context.Context) error

// Config holds scheduler tuning.
type Config struct {
	MaxActive      int
	RequestTimeout time.Duration

	// MinVictims and MaxVictims bound how many active requests a single
	// high-priority admission may preempt.
	MinVictims int
	MaxVictims int
}

// Ticket tracks one scheduled request. Callers scheduling the same path
// share a ticket.
type Ticket struct {
	done chan struct{}
	err  error
}

// Done is closed when the request finishes, fails, or is cancelled.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Err returns the request outcome. Only valid after Done is closed.
func (t *Ticket) Err() error { return t.err }

// Wait blocks until the request resolves or ctx is cancelled.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type request struct {
	path       string
	pri        Priority
	task       Task
	ticket     *Ticket
	enqueuedAt time.Time
	startedAt  time.Time
	cancel     context.CancelCauseFunc
}

// Scheduler executes tasks under a global concurrency cap.
type Scheduler struct {
	cfg Config

	baseCtx context.Context
	stop    context.CancelFunc

	mu     sync.Mutex
	queue  []*request
	active map[string]*request
	byPath map[string]*request
	closed bool
}

// New creates a scheduler. Zero config values select defaults.
func New(cfg Config) *Scheduler {
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = 6
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 4 * time.Second
	}
	if cfg.MinVictims <= 0 {
		cfg.MinVictims = 1
	}
	if cfg.MaxVictims < cfg.MinVictims {
		cfg.MaxVictims = cfg.MinVictims
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:     cfg,
		baseCtx: ctx,
		stop:    cancel,
		active:  make(map[string]*request),
		byPath:  make(map[string]*request),
	}
}

// Schedule submits a fetch for path. If a request for the same path is
// already queued or active, its ticket is returned instead of issuing
// duplicate work; a queued request is promoted if the new submission
// carries a higher priority.
func (s *Scheduler) Schedule(path string, pri Priority, task Task) *Ticket {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return resolvedTicket(ErrClosed)
	}

	if existing, ok := s.byPath[path]; ok {
		if pri > existing.pri {
			existing.pri = pri
		}
		s.mu.Unlock()
		return existing.ticket
	}

	req := &request{
		path:       path,
		pri:        pri,
		task:       task,
		ticket:     &Ticket{done: make(chan struct{})},
		enqueuedAt: time.Now(),
	}
	s.byPath[path] = req
	s.queue = append(s.queue, req)
	metrics.SetSchedQueued(len(s.queue))

	var victims []*request
	if pri == High && len(s.active) >= s.cfg.MaxActive {
		victims = s.selectVictimsLocked()
		for range victims {
			metrics.RecordSchedPreemption()
		}
	}
	s.dispatchLocked()
	s.mu.Unlock()

	// Cancel victims outside the lock; their completion paths re-enter
	// the scheduler to drain the queue.
	for _, v := range victims {
		v.cancel(ErrPreempted)
	}
	return req.ticket
}

// selectVictimsLocked picks active requests to cancel so a high-priority
// admission can proceed: oldest low-priority first, high-priority only if
// there are not enough lows. The count is clamped to [MinVictims,
// MaxVictims] to bound churn per admission.
func (s *Scheduler) selectVictimsLocked() []*request {
	var lows, highs []*request
	for _, r := range s.active {
		if r.pri == Low {
			lows = append(lows, r)
		} else {
			highs = append(highs, r)
		}
	}
	byStart := func(rs []*request) {
		sort.Slice(rs, func(i, j int) bool { return rs[i].startedAt.Before(rs[j].startedAt) })
	}
	byStart(lows)
	byStart(highs)

	want := s.cfg.MinVictims
	if want > s.cfg.MaxVictims {
		want = s.cfg.MaxVictims
	}
	victims := make([]*request, 0, want)
	for _, r := range lows {
		if len(victims) >= want {
			break
		}
		victims = append(victims, r)
	}
	for _, r := range highs {
		if len(victims) >= want {
			break
		}
		victims = append(victims, r)
	}
	return victims
}

// dispatchLocked starts queued requests while capacity remains. High
// priority wins at dequeue; FIFO within a class.
func (s *Scheduler) dispatchLocked() {
	for len(s.active) < s.cfg.MaxActive && len(s.queue) > 0 {
		idx := 0
		for i, r := range s.queue {
			if r.pri == High {
				idx = i
				break
			}
		}
		req := s.queue[idx]
		s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
		s.startLocked(req)
		metrics.SetSchedQueued(len(s.queue))
	}
}

func (s *Scheduler) startLocked(req *request) {
	ctx, cancel := context.WithCancelCause(s.baseCtx)
	req.cancel = cancel
	req.startedAt = time.Now()
	s.active[req.path] = req
	metrics.SetSchedActive(len(s.active))

	go s.run(ctx, req)
}

func (s *Scheduler) run(ctx context.Context, req *request) {
	timer := time.AfterFunc(s.cfg.RequestTimeout, func() {
		req.cancel(ErrTimedOut)
	})
	defer timer.Stop()

	err := req.task(ctx)

	// A cancellation cause from preemption or timeout overrides whatever
	// the task surfaced while unwinding.
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		err = cause
	}
	req.cancel(nil)
	s.finish(req, err)
}

func (s *Scheduler) finish(req *request, err error) {
	s.mu.Lock()
	delete(s.active, req.path)
	delete(s.byPath, req.path)
	metrics.SetSchedActive(len(s.active))
	s.dispatchLocked()
	s.mu.Unlock()

	switch {
	case err == nil:
		metrics.RecordSchedCompletion("ok")
	case errors.Is(err, ErrPreempted):
		metrics.RecordSchedCompletion("preempted")
	case errors.Is(err, ErrTimedOut):
		metrics.RecordSchedCompletion("timeout")
		logging.Debug("sched: request timed out", zap.String("path", req.path))
	case errors.Is(err, ErrCancelled), errors.Is(err, ErrClosed):
		metrics.RecordSchedCompletion("cancelled")
	default:
		metrics.RecordSchedCompletion("error")
	}

	req.ticket.err = err
	close(req.ticket.done)
}

// CancelAll cancels every queued and active request.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	queued := s.queue
	s.queue = nil
	for _, r := range queued {
		delete(s.byPath, r.path)
	}
	metrics.SetSchedQueued(0)
	var running []*request
	for _, r := range s.active {
		running = append(running, r)
	}
	s.mu.Unlock()

	for _, r := range queued {
		r.ticket.err = ErrCancelled
		close(r.ticket.done)
	}
	for _, r := range running {
		r.cancel(ErrCancelled)
	}
}

// ActiveCount returns the number of currently executing requests.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// QueuedCount returns the number of queued requests.
func (s *Scheduler) QueuedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close cancels all work and rejects future submissions.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.CancelAll()
	s.stop()
}

func resolvedTicket(err error) *Ticket {
	t := &Ticket{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}
