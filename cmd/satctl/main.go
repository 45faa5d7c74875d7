package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/links-ads/satctl/internal/auth"
	"github.com/links-ads/satctl/internal/batch"
	"github.com/links-ads/satctl/internal/config"
	"github.com/links-ads/satctl/internal/download"
	"github.com/links-ads/satctl/internal/event"
	"github.com/links-ads/satctl/internal/fs"
	"github.com/links-ads/satctl/internal/granule"
	"github.com/links-ads/satctl/internal/inventory"
	"github.com/links-ads/satctl/internal/logger"
	"github.com/links-ads/satctl/internal/progress"
	"github.com/links-ads/satctl/internal/source"
)

const version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	itemsPath := flag.String("items", "", "JSON items file, or a directory of previously downloaded granules")
	destDir := flag.String("dest", ".", "Destination directory for downloads")
	sourcesFlag := flag.String("sources", "", "Comma-separated source names to run (default: every source in the items)")
	workersFlag := flag.Int("workers", 0, "Concurrent item downloads per source (default: from config)")
	progressName := flag.String("progress", "console", "Progress reporter: console, simple or empty")
	logLevel := flag.String("log-level", "", "Override logging level: debug, info, warn or error")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("satctl " + version)
		return 0
	}

	if *itemsPath == "" {
		fmt.Fprintln(os.Stderr, "satctl: -items is required")
		flag.Usage()
		return 2
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	// Initialize logger
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	zapLogger := logger.GetZapLogger()
	zapLogger.Info("starting satctl",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	// Load download items and group them per source
	items, err := loadItems(*itemsPath)
	if err != nil {
		zapLogger.Error("failed to load items", zap.Error(err))
		return 1
	}
	if len(items) == 0 {
		zapLogger.Warn("no items to download", zap.String("items", *itemsPath))
		return 0
	}

	groups := granule.BySource(items)
	selected, err := selectSources(groups, *sourcesFlag)
	if err != nil {
		zapLogger.Error("invalid source selection", zap.Error(err))
		return 1
	}

	// Wire the event bus: progress reporter, optional event logging,
	// optional transfer inventory
	bus := event.NewBus()

	progressRegistry := progress.NewRegistry()
	reporterFactory, err := progressRegistry.Get(*progressName)
	if err != nil {
		zapLogger.Error("invalid progress reporter", zap.Error(err))
		return 1
	}
	bus.Subscribe(progress.NewBusAdapter(reporterFactory(logger.Log)))

	if cfg.Logging.Events {
		bus.Subscribe(event.NewLoggingHandler(zapLogger))
	}

	if cfg.Inventory.Path != "" {
		store, err := inventory.Open(cfg.Inventory.Path, zapLogger)
		if err != nil {
			zapLogger.Error("failed to open inventory", zap.Error(err))
			return 1
		}
		defer store.Close()
		bus.Subscribe(inventory.NewRecorder(store, zapLogger))
	}

	// Build one source pipeline per selected source before downloading
	// anything, so configuration mistakes fail the run up front
	authRegistry := auth.NewRegistry()
	downloadRegistry := download.NewRegistry()

	sources := make(map[string]*source.AssetSource, len(selected))
	for _, name := range selected {
		src, err := source.Build(name, cfg, authRegistry, downloadRegistry, bus, zapLogger)
		if err != nil {
			zapLogger.Error("failed to build source", zap.String("source", name), zap.Error(err))
			return 1
		}
		sources[name] = src
	}

	// Prepare the destination
	if err := fs.EnsureDir(*destDir); err != nil {
		zapLogger.Error("failed to create destination directory", zap.Error(err))
		return 1
	}
	if stats, err := fs.DiskUsage(*destDir); err == nil {
		zapLogger.Debug("destination disk usage",
			zap.String("free", humanize.IBytes(stats.Free)),
			zap.Float64("used_pct", stats.UsedPct),
		)
	}

	workers := cfg.Download.Workers
	if *workersFlag > 0 {
		workers = *workersFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Run one batch per source, at most sources_parallel at a time
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(cfg.Download.SourcesParallel)

	var mu sync.Mutex
	var succeededTotal, failedTotal int

	for _, name := range selected {
		src := sources[name]
		sourceItems := groups[name]
		group.Go(func() error {
			orchestrator := batch.New(src, src.Downloader(), bus, zapLogger)
			succeeded, failed := orchestrator.Run(groupCtx, sourceItems, *destDir, workers)

			mu.Lock()
			succeededTotal += len(succeeded)
			failedTotal += len(failed)
			mu.Unlock()
			return nil
		})
	}
	group.Wait()

	zapLogger.Info("all sources finished",
		zap.Int("sources", len(selected)),
		zap.Int("succeeded", succeededTotal),
		zap.Int("failed", failedTotal),
	)

	if failedTotal > 0 {
		return 1
	}
	return 0
}

// loadItems reads granule descriptors from a JSON items file or, when
// path is a directory, from the metadata sidecars of a previous download.
func loadItems(path string) ([]*granule.Granule, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read items path: %w", err)
	}
	if info.IsDir() {
		return granule.LoadDir(path)
	}
	return granule.LoadFile(path)
}

// selectSources returns the source names to run in sorted order. An empty
// filter selects every source present in the items.
func selectSources(groups map[string][]*granule.Granule, filter string) ([]string, error) {
	if filter == "" {
		names := make([]string, 0, len(groups))
		for name := range groups {
			names = append(names, name)
		}
		sort.Strings(names)
		return names, nil
	}

	var names []string
	for _, name := range strings.Split(filter, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := groups[name]; !ok {
			return nil, fmt.Errorf("no items for source %q", name)
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("source filter %q selected nothing", filter)
	}
	return names, nil
}
