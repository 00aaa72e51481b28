package viewer

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/FRFlor/image-manager/internal/browse"
	"github.com/FRFlor/image-manager/internal/config"
	"github.com/FRFlor/image-manager/internal/events"
	"github.com/FRFlor/image-manager/internal/loader"
	"github.com/FRFlor/image-manager/internal/logging"
	"github.com/FRFlor/image-manager/internal/metrics"
	"github.com/FRFlor/image-manager/internal/nav"
	"github.com/FRFlor/image-manager/internal/preload"
	"github.com/FRFlor/image-manager/internal/sched"
)

// DecodeFunc materializes the decoded display resource for a record.
// Supplied by the host; the session treats the result as opaque.
type DecodeFunc func(ctx context.Context, rec *browse.Record) (any, error)

// Session is one open folder view (one tab): a browsing context plus the
// per-tab machinery around the shared cache service.
type Session struct {
	svc    *CacheService
	bc     *browse.Context
	loader *loader.Loader
	pred   *preload.Predictor
	seq    *nav.Sequencer
	bus    *events.Broadcaster
	decode DecodeFunc

	mu      sync.Mutex
	curPath string
	curRec  *browse.Record
	closed  bool
}

// NewSession creates a session over a browsing context. fetcher is the
// metadata collaborator, decode the resource collaborator; bus may be
// nil if nothing subscribes.
func NewSession(cfg *config.Config, svc *CacheService, bc *browse.Context,
	fetcher loader.Fetcher, decode DecodeFunc, bus *events.Broadcaster) *Session {

	s := &Session{
		svc: svc,
		bc:  bc,
		loader: loader.New(fetcher, loader.Config{
			Window:   cfg.BatchWindow,
			MaxBatch: cfg.BatchMaxSize,
		}),
		pred: preload.NewPredictor(preload.Config{
			HistorySize:   cfg.PreloadHistorySize,
			RapidInterval: cfg.PreloadRapidInterval,
			BaseRange:     cfg.PreloadBaseRange,
			RapidBoost:    cfg.PreloadRapidBoost,
			HighPriRadius: cfg.PreloadHighPriRadius,
		}),
		bus:    bus,
		decode: decode,
	}
	s.seq = nav.New(bc, s.resolve, s.commit, nav.Config{PendingMax: cfg.NavPendingMax})
	return s
}

// Context returns the session's browsing context.
func (s *Session) Context() *browse.Context { return s.bc }

// Next requests one forward step.
func (s *Session) Next(ctx context.Context) {
	s.seq.RequestMove(ctx, browse.DirForward)
}

// Prev requests one backward step.
func (s *Session) Prev(ctx context.Context) {
	s.seq.RequestMove(ctx, browse.DirBackward)
}

// JumpTo requests a move to an absolute position.
func (s *Session) JumpTo(ctx context.Context, index int) {
	s.seq.JumpTo(ctx, index)
}

// Current returns the authoritative index, the displayed record (nil in
// the placeholder state) and the decoded resource if resident.
func (s *Session) Current() (int, *browse.Record, any) {
	index := s.seq.Current()
	s.mu.Lock()
	path, rec := s.curPath, s.curRec
	s.mu.Unlock()
	if path == "" {
		return index, rec, nil
	}
	handle, _ := s.svc.Cache.Get(path)
	return index, rec, handle
}

// resolve is the sequencer's record resolver: metadata store first, the
// batching loader on a miss. A nil record without error is the terminal
// placeholder state and is recorded as such.
func (s *Session) resolve(ctx context.Context, path string) (*browse.Record, error) {
	if rec, ok := s.bc.Record(path); ok {
		return rec, nil
	}
	rec, err := s.loader.Load(ctx, path)
	if err != nil {
		// Not terminal: a later navigation to this path retries.
		return nil, err
	}
	s.bc.SetRecord(path, rec)
	return rec, nil
}

// commit runs for every committed navigation: publish the transition,
// reposition the cache, make sure the displayed resource is decoded, and
// kick the predictive preload.
func (s *Session) commit(index int, path string, rec *browse.Record, dir browse.Direction, err error) {
	s.mu.Lock()
	s.curPath = path
	s.curRec = rec
	s.mu.Unlock()

	s.svc.Cache.SetFocus(index, dir)

	if s.bus != nil {
		typ := events.EventNavigated
		if rec == nil || err != nil {
			typ = events.EventPlaceholder
		}
		s.bus.Publish(events.Event{Type: typ, Path: path, Index: index})
	}

	if rec != nil && !s.svc.Cache.Contains(path) {
		s.scheduleDecode(path, rec, index, sched.High)
	}

	s.pred.OnTransition(index)
	s.schedulePreload(index, dir)
}

// schedulePreload turns the predictor's plan into scheduler work.
// Travel-side paths are scheduled first, nearest first, so the FIFO
// order within a priority class matches their usefulness.
func (s *Session) schedulePreload(index int, dir browse.Direction) {
	plan, ok := s.pred.Recommend(index)
	if !ok {
		return
	}
	if s.svc.Probe != nil && s.svc.Probe.UnderPressure() {
		logging.Debug("preload skipped under memory pressure", zap.Int("index", index))
		return
	}

	// The plan's ranges are absolute: Forward counts positions after the
	// current index, Backward positions before it, with the asymmetry
	// toward the direction of travel already applied. Schedule the
	// travel side first, nearest first, so FIFO order within a priority
	// class matches usefulness.
	if preloadOrder(plan, dir) == browse.DirBackward {
		for off := 1; off <= plan.Backward; off++ {
			s.schedulePrefetch(index, -off)
		}
		for off := 1; off <= plan.Forward; off++ {
			s.schedulePrefetch(index, off)
		}
		return
	}
	for off := 1; off <= plan.Forward; off++ {
		s.schedulePrefetch(index, off)
	}
	for off := 1; off <= plan.Backward; off++ {
		s.schedulePrefetch(index, -off)
	}
}

// preloadOrder picks the side scheduled first. The plan's dominant
// direction wins; only when the history shows no dominant direction
// does the committed move's direction break the tie.
func preloadOrder(plan preload.Plan, moveDir browse.Direction) browse.Direction {
	if plan.Dir != browse.DirUnknown {
		return plan.Dir
	}
	return moveDir
}

func (s *Session) schedulePrefetch(current, offset int) {
	length := s.bc.Len()
	if length <= 1 {
		return
	}
	target := ((current+offset)%length + length) % length
	if target == current {
		return
	}
	path, ok := s.bc.PathAt(target)
	if !ok || s.svc.Cache.Contains(path) {
		return
	}
	if rec, resolved := s.bc.Record(path); resolved {
		if rec == nil {
			// Terminal placeholder; nothing to prefetch.
			return
		}
		s.scheduleDecode(path, rec, target, s.pred.PriorityFor(target, current))
		return
	}

	pri := s.pred.PriorityFor(target, current)
	metrics.RecordPreloadScheduled(pri.String())
	s.svc.Sched.Schedule(path, pri, func(ctx context.Context) error {
		rec, err := s.loader.Load(ctx, path)
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			// Cancelled fetches must not populate any store.
			return err
		}
		s.bc.SetRecord(path, rec)
		if rec == nil {
			return nil
		}
		return s.decodeInto(ctx, path, rec, target)
	})
}

// scheduleDecode queues decoding for an already-resolved record.
func (s *Session) scheduleDecode(path string, rec *browse.Record, position int, pri sched.Priority) {
	metrics.RecordPreloadScheduled(pri.String())
	s.svc.Sched.Schedule(path, pri, func(ctx context.Context) error {
		return s.decodeInto(ctx, path, rec, position)
	})
}

func (s *Session) decodeInto(ctx context.Context, path string, rec *browse.Record, position int) error {
	if s.decode == nil || s.svc.Cache.Contains(path) {
		return nil
	}
	handle, err := s.decode(ctx, rec)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.svc.Cache.Put(path, handle, position)
	s.bc.MarkRetained(path)
	return nil
}

// Fork deep-copies the session for a new tab viewing the same folder.
// The clone holds its own cache references for every resource the
// source had retained, so closing either tab never pulls resources out
// from under the other.
func (s *Session) Fork(cfg *config.Config, fetcher loader.Fetcher) *Session {
	clone := s.bc.Clone()
	for _, path := range clone.Retained() {
		if !s.svc.Cache.Retain(path) {
			// Already evicted; the clone must not later release a
			// reference it never acquired.
			clone.UnmarkRetained(path)
		}
	}
	return NewSession(cfg, s.svc, clone, fetcher, s.decode, s.bus)
}

// Close abandons the session: pending loads are rejected and every cache
// reference this context introduced is released. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.loader.CancelPending()
	for _, path := range s.bc.Retained() {
		s.svc.Cache.Release(path)
	}
}
