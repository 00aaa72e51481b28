// Package viewer wires the browsing core together: one process-wide
// cache service shared by every tab, and one Session per open folder
// view gluing the sequencer, loader, preloader, scheduler and cache.
package viewer

import (
	"context"

	"github.com/FRFlor/image-manager/internal/cache"
	"github.com/FRFlor/image-manager/internal/config"
	"github.com/FRFlor/image-manager/internal/logging"
	"github.com/FRFlor/image-manager/internal/metastore"
	"github.com/FRFlor/image-manager/internal/sched"
)

// CacheService bundles the process-wide shared state: the decoded
// resource cache, the fetch scheduler, and the persistent metadata
// store. Constructed once at startup and injected into every session;
// lifecycle is explicit so tests can build and tear down isolated
// instances.
type CacheService struct {
	Cache *cache.Cache
	Sched *sched.Scheduler
	Meta  *metastore.Store // may be nil

	Probe cache.Probe
}

// NewCacheService builds the shared service from configuration. dispose
// releases decoded resources; probe may be nil. meta may be nil to run
// without the persistent metadata cache.
func NewCacheService(cfg *config.Config, dispose func(any), probe cache.Probe, meta *metastore.Store) *CacheService {
	c := cache.New(cache.Config{
		MaxEntries:    cfg.CacheMaxEntries,
		ProtectRadius: cfg.CacheProtectRadius,
		BehindPenalty: cfg.CacheBehindPenalty,
		StaleAfter:    cfg.CacheStaleAfter,
		SweepInterval: cfg.CacheSweepInterval,
		Dispose:       dispose,
		Probe:         probe,
	})
	s := sched.New(sched.Config{
		MaxActive:      cfg.SchedMaxActive,
		RequestTimeout: cfg.SchedRequestTimeout,
		MinVictims:     cfg.SchedMinVictims,
		MaxVictims:     cfg.SchedMaxVictims,
	})
	return &CacheService{
		Cache: c,
		Sched: s,
		Meta:  meta,
		Probe: probe,
	}
}

// Start launches background work (the cache staleness sweep).
func (s *CacheService) Start(ctx context.Context) {
	s.Cache.StartSweep(ctx)
}

// Close tears the service down: cancels outstanding fetches, stops the
// sweep, disposes every cached resource and flushes the metadata store.
// Safe to call more than once.
func (s *CacheService) Close() {
	s.Sched.Close()
	s.Cache.StopSweep()
	s.Cache.Clear()
	if s.Meta != nil {
		if err := s.Meta.Flush(context.Background()); err != nil {
			logging.Warn("metadata cache flush failed")
		}
		s.Meta.Close()
		s.Meta = nil
	}
}
