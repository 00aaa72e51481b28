// image-manager interactive folder browser.
//
// A headless shell over the browsing core: navigate a folder of images
// from stdin while the predictive preloader, scheduler and resource
// cache work behind the scenes. Intended both as the reference wiring of
// the core and as a harness for exercising it against real folders.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/FRFlor/image-manager/internal/browse"
	"github.com/FRFlor/image-manager/internal/config"
	"github.com/FRFlor/image-manager/internal/events"
	"github.com/FRFlor/image-manager/internal/logging"
	"github.com/FRFlor/image-manager/internal/media"
	"github.com/FRFlor/image-manager/internal/memprobe"
	"github.com/FRFlor/image-manager/internal/metastore"
	"github.com/FRFlor/image-manager/internal/metrics"
	"github.com/FRFlor/image-manager/internal/viewer"
)

func main() {
	folder := flag.String("folder", ".", "Folder of images to browse")
	maxDim := flag.Int("max-dimension", 4096, "Downscale decoded images beyond this bound (0 = full size)")
	noMeta := flag.Bool("no-metacache", false, "Disable the persistent metadata cache")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("configuration error: " + err.Error())
	}
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	entries, err := media.ListImages(*folder)
	if err != nil {
		logging.Fatal("failed to list folder", zap.String("folder", *folder), zap.Error(err))
	}
	if len(entries) == 0 {
		logging.Fatal("no images in folder", zap.String("folder", *folder))
	}
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path
	}
	logging.Info("folder opened",
		zap.String("folder", *folder), zap.Int("images", len(paths)))

	bc, err := browse.NewContext(paths)
	if err != nil {
		logging.Fatal("failed to create browsing context", zap.Error(err))
	}

	var meta *metastore.Store
	if !*noMeta {
		meta, err = metastore.Open(cfg.MetaCachePath, cfg.MetaCacheMaxEntries)
		if err != nil {
			logging.Warn("metadata cache unavailable, continuing without", zap.Error(err))
			meta = nil
		}
	}

	decoder := &media.Decoder{MaxDimension: *maxDim}
	probe := &memprobe.HeapProbe{Ratio: cfg.MemPressureHeapRatio}
	svc := viewer.NewCacheService(cfg, decoder.Dispose, probe, meta)
	svc.Start(ctx)
	defer svc.Close()

	bus := events.NewBroadcaster()
	fetcher := media.NewFetcher(meta, cfg.FetchMaxWorkers)
	session := viewer.NewSession(cfg, svc, bc, fetcher,
		func(ctx context.Context, rec *browse.Record) (any, error) {
			return decoder.Decode(ctx, rec)
		}, bus)
	defer session.Close()

	if cfg.MetricsAddr != "" {
		go func() {
			logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			if err := http.ListenAndServe(cfg.MetricsAddr, metrics.Handler()); err != nil {
				logging.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	// Print committed transitions as the shell would render them.
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)
	go func() {
		for ev := range sub {
			switch ev.Type {
			case events.EventNavigated:
				_, rec, _ := session.Current()
				if rec != nil {
					fmt.Printf("[%d/%d] %s  %dx%d  %d bytes\n",
						ev.Index+1, bc.Len(), rec.DisplayName, rec.Width, rec.Height, rec.ByteSize)
				}
			case events.EventPlaceholder:
				fmt.Printf("[%d/%d] %s  (unavailable)\n", ev.Index+1, bc.Len(), ev.Path)
			}
		}
	}()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		os.Stdin.Close()
	}()

	// Land on the first image.
	session.Next(ctx)

	fmt.Println("commands: n(ext), p(rev), j <index>, i(nfo), q(uit)")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "n" || line == "":
			session.Next(ctx)
		case line == "p":
			session.Prev(ctx)
		case strings.HasPrefix(line, "j "):
			idx, err := strconv.Atoi(strings.TrimSpace(line[2:]))
			if err != nil || idx < 1 || idx > bc.Len() {
				fmt.Printf("index must be 1..%d\n", bc.Len())
				continue
			}
			session.JumpTo(ctx, idx-1)
		case line == "i":
			printInfo(session, svc)
		case line == "q":
			return
		default:
			fmt.Println("commands: n(ext), p(rev), j <index>, i(nfo), q(uit)")
		}
	}
}

func printInfo(session *viewer.Session, svc *viewer.CacheService) {
	index, rec, handle := session.Current()
	fmt.Printf("index=%d cached_resources=%d active_fetches=%d queued=%d\n",
		index, svc.Cache.Len(), svc.Sched.ActiveCount(), svc.Sched.QueuedCount())
	if rec == nil {
		fmt.Println("current: placeholder (unavailable or corrupt)")
		return
	}
	decoded := "not decoded"
	if handle != nil {
		decoded = "decoded"
	}
	fmt.Printf("current: %s %dx%d %d bytes (%s)\n",
		rec.DisplayName, rec.Width, rec.Height, rec.ByteSize, decoded)
}
