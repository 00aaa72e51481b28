// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all image-manager configuration. Every heuristic constant
// in the navigation/prefetch/cache pipeline lives here so tests and
// deployments can force specific behavior without touching code.
type Config struct {
	// Logging
	LogLevel  string
	LogFormat string

	// Metrics
	MetricsAddr string

	// Resource cache
	CacheMaxEntries      int
	CacheProtectRadius   int
	CacheStaleAfter      time.Duration
	CacheSweepInterval   time.Duration
	CacheBehindPenalty   float64
	MemPressureHeapRatio float64

	// Request scheduler
	SchedMaxActive      int
	SchedRequestTimeout time.Duration
	SchedMinVictims     int
	SchedMaxVictims     int

	// Batch loader
	BatchWindow     time.Duration
	BatchMaxSize    int
	FetchMaxWorkers int

	// Predictive preload
	PreloadHistorySize   int
	PreloadRapidInterval time.Duration
	PreloadBaseRange     int
	PreloadRapidBoost    int
	PreloadHighPriRadius int

	// Navigation
	NavPendingMax int

	// Persistent metadata cache
	MetaCachePath       string
	MetaCacheMaxEntries int
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:  envOr("LOG_LEVEL", "info"),
		LogFormat: envOr("LOG_FORMAT", "console"),

		MetricsAddr: envOr("METRICS_ADDR", ""),

		CacheMaxEntries:      envInt("CACHE_MAX_ENTRIES", 100),
		CacheProtectRadius:   envInt("CACHE_PROTECT_RADIUS", 10),
		CacheStaleAfter:      envDuration("CACHE_STALE_AFTER", 5*time.Minute),
		CacheSweepInterval:   envDuration("CACHE_SWEEP_INTERVAL", 30*time.Second),
		CacheBehindPenalty:   envFloat("CACHE_BEHIND_PENALTY", 2.0),
		MemPressureHeapRatio: envFloat("MEM_PRESSURE_HEAP_RATIO", 0.85),

		SchedMaxActive:      envInt("SCHED_MAX_ACTIVE", 6),
		SchedRequestTimeout: envDuration("SCHED_REQUEST_TIMEOUT", 4*time.Second),
		SchedMinVictims:     envInt("SCHED_MIN_VICTIMS", 1),
		SchedMaxVictims:     envInt("SCHED_MAX_VICTIMS", 2),

		BatchWindow:     envDuration("BATCH_WINDOW", 25*time.Millisecond),
		BatchMaxSize:    envInt("BATCH_MAX_SIZE", 8),
		FetchMaxWorkers: envInt("FETCH_MAX_WORKERS", 4),

		PreloadHistorySize:   envInt("PRELOAD_HISTORY_SIZE", 10),
		PreloadRapidInterval: envDuration("PRELOAD_RAPID_INTERVAL", 250*time.Millisecond),
		PreloadBaseRange:     envInt("PRELOAD_BASE_RANGE", 5),
		PreloadRapidBoost:    envInt("PRELOAD_RAPID_BOOST", 2),
		PreloadHighPriRadius: envInt("PRELOAD_HIGH_PRI_RADIUS", 20),

		NavPendingMax: envInt("NAV_PENDING_MAX", 3),

		MetaCachePath:       envOr("META_CACHE_PATH", defaultMetaCachePath()),
		MetaCacheMaxEntries: envInt("META_CACHE_MAX_ENTRIES", 10000),
	}

	if cfg.CacheMaxEntries < 1 {
		return nil, fmt.Errorf("CACHE_MAX_ENTRIES must be >= 1")
	}
	if cfg.SchedMaxActive < 1 {
		return nil, fmt.Errorf("SCHED_MAX_ACTIVE must be >= 1")
	}
	if cfg.SchedMinVictims > cfg.SchedMaxVictims {
		return nil, fmt.Errorf("SCHED_MIN_VICTIMS must be <= SCHED_MAX_VICTIMS")
	}

	return cfg, nil
}

func defaultMetaCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "image-manager", "metadata.db")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
