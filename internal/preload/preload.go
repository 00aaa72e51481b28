// Package preload decides which folder positions to fetch ahead of the
// user. It watches the recent navigation history, classifies motion as
// forward/backward and rapid/normal, and turns that into asymmetric
// prefetch ranges and per-path priorities. Range computation is a pure
// function of the history so the heuristic can be tested in isolation.
package preload

import (
	"sync"
	"time"

	"github.com/FRFlor/image-manager/internal/browse"
	"github.com/FRFlor/image-manager/internal/sched"
)

// Event is one observed navigation transition.
type Event struct {
	Index int
	At    time.Time
	Dir   browse.Direction
}

// Config holds the preload heuristic tuning.
type Config struct {
	// HistorySize bounds the rolling transition history.
	HistorySize int

	// RapidInterval classifies navigation as rapid when the mean
	// inter-event interval over the window falls below it.
	RapidInterval time.Duration

	// BaseRange is the symmetric prefetch distance with no dominant
	// direction.
	BaseRange int

	// RapidBoost multiplies both range sides in rapid mode.
	RapidBoost int

	// HighPriRadius is the distance within which paths always get High
	// priority, regardless of direction.
	HighPriRadius int
}

func (c Config) withDefaults() Config {
	if c.HistorySize <= 0 {
		c.HistorySize = 10
	}
	if c.RapidInterval <= 0 {
		c.RapidInterval = 250 * time.Millisecond
	}
	if c.BaseRange <= 0 {
		c.BaseRange = 5
	}
	if c.RapidBoost <= 0 {
		c.RapidBoost = 2
	}
	if c.HighPriRadius <= 0 {
		c.HighPriRadius = 20
	}
	return c
}

// Plan is the recommended prefetch window around the current index.
type Plan struct {
	Backward int // positions to prefetch behind the current index
	Forward  int // positions to prefetch ahead of the current index
	Dir      browse.Direction
	Rapid    bool
}

// Compute derives the prefetch plan from a navigation history. Pure
// function: same history and config always yield the same plan.
//
// With a dominant direction the base range splits asymmetrically, about a
// quarter behind and double ahead in the direction of travel. Rapid
// navigation multiplies both sides by the boost factor. The multipliers
// are tuned policy, not correctness requirements.
func Compute(history []Event, cfg Config) Plan {
	cfg = cfg.withDefaults()

	plan := Plan{
		Backward: cfg.BaseRange,
		Forward:  cfg.BaseRange,
		Dir:      dominantDirection(history),
		Rapid:    isRapid(history, cfg.RapidInterval),
	}

	behind := cfg.BaseRange / 4
	if behind < 1 {
		behind = 1
	}
	ahead := cfg.BaseRange * 2

	switch plan.Dir {
	case browse.DirForward:
		plan.Backward = behind
		plan.Forward = ahead
	case browse.DirBackward:
		plan.Backward = ahead
		plan.Forward = behind
	}

	if plan.Rapid {
		plan.Backward *= cfg.RapidBoost
		plan.Forward *= cfg.RapidBoost
	}
	return plan
}

// dominantDirection is a majority vote over the window; ties are Unknown,
// which keeps the prefetch range symmetric.
func dominantDirection(history []Event) browse.Direction {
	var fwd, back int
	for _, e := range history {
		switch e.Dir {
		case browse.DirForward:
			fwd++
		case browse.DirBackward:
			back++
		}
	}
	switch {
	case fwd > back:
		return browse.DirForward
	case back > fwd:
		return browse.DirBackward
	default:
		return browse.DirUnknown
	}
}

// isRapid checks the mean inter-event interval over the window.
func isRapid(history []Event, threshold time.Duration) bool {
	if len(history) < 2 {
		return false
	}
	span := history[len(history)-1].At.Sub(history[0].At)
	mean := span / time.Duration(len(history)-1)
	return mean >= 0 && mean < threshold
}

// Predictor wraps the pure heuristic with the rolling history and the
// last-preload-index guard.
type Predictor struct {
	cfg Config

	mu          sync.Mutex
	history     []Event
	lastPreload int
	hasPreload  bool

	now func() time.Time // test hook
}

// NewPredictor creates a predictor.
func NewPredictor(cfg Config) *Predictor {
	return &Predictor{
		cfg: cfg.withDefaults(),
		now: time.Now,
	}
}

// OnTransition records a committed navigation to newIndex. Direction is
// derived relative to the previous index; Unknown when equal.
func (p *Predictor) OnTransition(newIndex int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	dir := browse.DirUnknown
	if n := len(p.history); n > 0 {
		prev := p.history[n-1].Index
		switch {
		case newIndex > prev:
			dir = browse.DirForward
		case newIndex < prev:
			dir = browse.DirBackward
		}
	}
	p.history = append(p.history, Event{Index: newIndex, At: p.now(), Dir: dir})
	if len(p.history) > p.cfg.HistorySize {
		p.history = p.history[len(p.history)-p.cfg.HistorySize:]
	}
}

// Recommend returns the prefetch plan for the current index, or false
// when a plan was already issued for this index. The guard keeps
// repeated reports of the same index from causing scheduling storms.
func (p *Predictor) Recommend(currentIndex int) (Plan, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.hasPreload && p.lastPreload == currentIndex {
		return Plan{}, false
	}
	p.lastPreload = currentIndex
	p.hasPreload = true
	return Compute(p.history, p.cfg), true
}

// Direction returns the current dominant direction of travel.
func (p *Predictor) Direction() browse.Direction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return dominantDirection(p.history)
}

// PriorityFor assigns the scheduler priority for prefetching the path at
// index, given the current index and the plan's direction. Close paths
// are High regardless of direction; distant paths in the direction of
// travel are queued Low but scheduled before distant paths behind it (the
// session schedules travel-side paths first, nearest first).
func (p *Predictor) PriorityFor(index, currentIndex int) sched.Priority {
	dist := index - currentIndex
	if dist < 0 {
		dist = -dist
	}
	if dist <= p.cfg.HighPriRadius {
		return sched.High
	}
	return sched.Low
}

// Reset clears the history and the last-preload guard, used when a
// context is reset to a new folder.
func (p *Predictor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = nil
	p.hasPreload = false
}
