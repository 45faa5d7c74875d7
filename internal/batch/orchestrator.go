// Package batch dispatches download items over a bounded worker pool and
// partitions them into successes and failures.
package batch

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/links-ads/satctl/internal/download"
	"github.com/links-ads/satctl/internal/event"
	"github.com/links-ads/satctl/internal/fs"
	"github.com/links-ads/satctl/internal/granule"
	"github.com/links-ads/satctl/internal/source"
	"go.uber.org/zap"
)

// Orchestrator runs batches of granule downloads through one source.
type Orchestrator struct {
	source     source.Source
	downloader download.Downloader
	sink       event.Sink
	logger     *zap.Logger
}

// New creates an orchestrator. The downloader is the one backing the
// source; the orchestrator owns its Init/Close lifecycle per batch.
func New(src source.Source, downloader download.Downloader, sink event.Sink, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		source:     src,
		downloader: downloader,
		sink:       event.OrDiscard(sink),
		logger:     logger,
	}
}

type result struct {
	item *granule.Granule
	err  error
}

// Run downloads items into destDir using the given number of workers and
// returns the success/failure partition. Every input item lands in exactly
// one of the two slices, cancelled and never-dispatched items included.
func (o *Orchestrator) Run(ctx context.Context, items []*granule.Granule, destDir string, workers int) (succeeded, failed []*granule.Granule) {
	if workers <= 0 {
		workers = 1
	}

	batchID := uuid.NewString()
	o.logger.Info("starting batch",
		zap.String("batch_id", batchID),
		zap.String("source", o.source.Name()),
		zap.Int("items", len(items)),
		zap.Int("workers", workers))
	o.sink.Emit(event.NewBatchStarted(batchID, len(items), o.source.Name()))

	// Exactly one terminal event per batch, the interrupted path included
	defer func() {
		o.sink.Emit(event.NewBatchCompleted(batchID, len(succeeded), len(failed)))
		o.logger.Info("batch finished",
			zap.String("batch_id", batchID),
			zap.Int("succeeded", len(succeeded)),
			zap.Int("failed", len(failed)))
	}()

	if err := fs.EnsureDir(destDir); err != nil {
		o.logger.Error("failed to create destination directory", zap.String("dir", destDir), zap.Error(err))
		failed = append(failed, items...)
		return succeeded, failed
	}

	if err := o.downloader.Init(ctx); err != nil {
		o.logger.Error("failed to initialize downloader", zap.Error(err))
		failed = append(failed, items...)
		return succeeded, failed
	}
	defer func() {
		if err := o.downloader.Close(); err != nil {
			o.logger.Warn("failed to close downloader", zap.Error(err))
		}
	}()

	jobs := make(chan *granule.Granule)
	results := make(chan result, len(items))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				results <- result{item: item, err: o.source.DownloadItem(ctx, item, destDir)}
			}
		}()
	}

	// The feeder stops submitting once the context is cancelled and reports
	// every remaining item as failed, so the partition stays complete.
	go func() {
		defer close(jobs)
		for _, item := range items {
			select {
			case jobs <- item:
			case <-ctx.Done():
				results <- result{item: item, err: ctx.Err()}
			}
		}
	}()

	for range items {
		res := <-results
		if res.err != nil {
			o.logger.Warn("item failed", zap.Stringer("granule", res.item), zap.Error(res.err))
			failed = append(failed, res.item)
			continue
		}
		succeeded = append(succeeded, res.item)
	}
	wg.Wait()

	return succeeded, failed
}

// RunOne downloads a single item sequentially.
func (o *Orchestrator) RunOne(ctx context.Context, item *granule.Granule, destDir string) (succeeded, failed []*granule.Granule) {
	return o.Run(ctx, []*granule.Granule{item}, destDir, 1)
}
