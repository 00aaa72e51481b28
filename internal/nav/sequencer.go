// Package nav implements the navigation sequencer: the single owner of
// the authoritative current index for a browsing context. Move requests
// are serialized through a bounded pending queue, and a monotonically
// increasing sequence id guards the commit so a slow in-flight resolution
// can never overwrite the result of a newer request.
package nav

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/FRFlor/image-manager/internal/browse"
	"github.com/FRFlor/image-manager/internal/logging"
	"github.com/FRFlor/image-manager/internal/metrics"
)

// Resolver fetches the record for a target path. It may return a nil
// record for an unreadable or corrupt file; that is a valid terminal
// state, not an error, and navigation still advances.
type Resolver func(ctx context.Context, path string) (*browse.Record, error)

// CommitFunc is invoked for every committed move, after the authoritative
// index has been updated. err is non-nil when resolution failed (e.g.
// timed out); the record is nil in placeholder states.
type CommitFunc func(index int, path string, rec *browse.Record, dir browse.Direction, err error)

// Config holds sequencer tuning.
type Config struct {
	// PendingMax bounds the queue of navigation intents accepted while a
	// move is in progress. The newest request is dropped when full.
	PendingMax int
}

// intent is one queued navigation request: a relative step or an
// absolute jump.
type intent struct {
	dir    browse.Direction
	target int
	jump   bool
}

// Sequencer serializes navigation for one browsing context. Exactly one
// processing loop runs at a time; every state transition between resolve
// suspension points happens under the mutex, which is what makes the
// sequence-id commit gate sufficient without further locking.
type Sequencer struct {
	cfg     Config
	bc      *browse.Context
	resolve Resolver
	commit  CommitFunc

	mu         sync.Mutex
	current    int // -1 until the first commit
	seq        uint64
	inProgress bool
	pending    []intent
}

// New creates a sequencer over a browsing context. The current position
// starts unresolved: the first Backward targets the last element, the
// first Forward the first element.
func New(bc *browse.Context, resolve Resolver, commit CommitFunc, cfg Config) *Sequencer {
	if cfg.PendingMax <= 0 {
		cfg.PendingMax = 3
	}
	return &Sequencer{
		cfg:     cfg,
		bc:      bc,
		resolve: resolve,
		commit:  commit,
		current: -1,
	}
}

// Current returns the authoritative current index, or -1 if no position
// has been committed yet.
func (s *Sequencer) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// RequestMove asks for one step in the given direction. If a move is in
// progress the request is queued, subject to the capacity bound and the
// same-direction collapse rule (a direction equal to the queue tail is
// not re-enqueued, so key-repeat does not pile up redundant work).
func (s *Sequencer) RequestMove(ctx context.Context, dir browse.Direction) {
	if dir != browse.DirForward && dir != browse.DirBackward {
		return
	}
	s.submit(ctx, intent{dir: dir})
}

// JumpTo moves directly to an absolute index (e.g. a thumbnail click).
// Any in-flight move is superseded at its commit gate, and queued
// relative steps are discarded since their base position is gone.
func (s *Sequencer) JumpTo(ctx context.Context, index int) {
	if index < 0 || index >= s.bc.Len() {
		return
	}
	s.submit(ctx, intent{target: index, jump: true})
}

func (s *Sequencer) submit(ctx context.Context, in intent) {
	s.mu.Lock()
	if s.inProgress {
		if in.jump {
			// Supersede the in-flight move at its commit gate and drop
			// queued relative steps in the same critical section, so no
			// step submitted concurrently can slot in between.
			s.seq++
			s.pending = s.pending[:0]
		} else {
			if n := len(s.pending); n > 0 && !s.pending[n-1].jump && s.pending[n-1].dir == in.dir {
				s.mu.Unlock()
				return
			}
			if len(s.pending) >= s.cfg.PendingMax {
				metrics.RecordNavPendingDropped()
				s.mu.Unlock()
				return
			}
		}
		s.pending = append(s.pending, in)
		s.mu.Unlock()
		return
	}
	s.inProgress = true
	s.mu.Unlock()

	go s.run(ctx, in)
}

// run processes one intent plus everything queued behind it. The loop is
// the sole owner of inProgress until it clears the flag.
func (s *Sequencer) run(ctx context.Context, in intent) {
	for {
		target, ok := s.resolveTarget(in)
		if ok {
			s.processOne(ctx, target, in.dir)
		}

		s.mu.Lock()
		if len(s.pending) == 0 {
			s.inProgress = false
			s.mu.Unlock()
			return
		}
		in = s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
	}
}

// resolveTarget computes the index an intent refers to. Folder
// navigation is circular: relative steps wrap at both ends. A folder of
// size <= 1 makes relative steps a no-op.
func (s *Sequencer) resolveTarget(in intent) (int, bool) {
	if in.jump {
		return in.target, true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	length := s.bc.Len()
	if length <= 1 {
		return 0, false
	}
	if s.current < 0 {
		// No resolvable current position yet.
		if in.dir == browse.DirBackward {
			return length - 1, true
		}
		return 0, true
	}
	step := 1
	if in.dir == browse.DirBackward {
		step = -1
	}
	return ((s.current+step)%length + length) % length, true
}

func (s *Sequencer) processOne(ctx context.Context, target int, dir browse.Direction) {
	s.mu.Lock()
	s.seq++
	mySeq := s.seq
	s.mu.Unlock()

	path, ok := s.bc.PathAt(target)
	if !ok {
		return
	}

	start := time.Now()
	rec, err := s.resolve(ctx, path)
	metrics.RecordNavResolve(time.Since(start))

	s.mu.Lock()
	if mySeq != s.seq {
		// A newer request started while we were resolving; abandon
		// without mutating any external state.
		s.mu.Unlock()
		metrics.RecordNavMove(dir.String(), "superseded")
		return
	}
	s.current = target
	s.mu.Unlock()

	outcome := "ok"
	if err != nil {
		outcome = "error"
		logging.Debug("nav: target resolution failed",
			zap.String("path", path), zap.Error(err))
	} else if rec == nil {
		outcome = "placeholder"
	}
	metrics.RecordNavMove(dir.String(), outcome)

	if s.commit != nil {
		s.commit(target, path, rec, dir, err)
	}
}
