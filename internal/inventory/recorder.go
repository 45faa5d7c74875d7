package inventory

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/links-ads/satctl/internal/event"
)

// taskState accumulates what the event stream reveals about a task
// before its terminal event arrives.
type taskState struct {
	description string
	total       int64
	transferred int64
	startedAt   time.Time
}

type batchState struct {
	totalItems int
	startedAt  time.Time
}

// Recorder turns the event stream into inventory rows. Progress events
// only update in-memory state under a mutex; the database is written
// once per finished task and once per finished batch. Recording
// failures are logged and swallowed so a broken inventory never fails
// a transfer.
type Recorder struct {
	store  *Store
	logger *zap.Logger

	mu      sync.Mutex
	tasks   map[string]*taskState
	batches map[string]batchState
}

// NewRecorder creates a Recorder writing to store.
func NewRecorder(store *Store, logger *zap.Logger) *Recorder {
	return &Recorder{
		store:   store,
		logger:  logger,
		tasks:   make(map[string]*taskState),
		batches: make(map[string]batchState),
	}
}

// Handle implements event.Handler.
func (r *Recorder) Handle(e event.Event) {
	switch ev := e.(type) {
	case event.TaskCreated:
		r.mu.Lock()
		r.tasks[ev.TaskID] = &taskState{description: ev.Description, startedAt: ev.OccurredAt()}
		r.mu.Unlock()
	case event.TaskDuration:
		r.mu.Lock()
		if task, ok := r.tasks[ev.TaskID]; ok {
			task.total = ev.Total
		}
		r.mu.Unlock()
	case event.TaskProgress:
		r.mu.Lock()
		if task, ok := r.tasks[ev.TaskID]; ok {
			task.transferred += ev.Advance
		}
		r.mu.Unlock()
	case event.TaskCompleted:
		r.finishTask(ev)
	case event.BatchStarted:
		r.mu.Lock()
		r.batches[ev.TaskID] = batchState{totalItems: ev.TotalItems, startedAt: ev.OccurredAt()}
		r.mu.Unlock()
	case event.BatchCompleted:
		r.finishBatch(ev)
	}
}

func (r *Recorder) finishTask(ev event.TaskCompleted) {
	r.mu.Lock()
	state := r.tasks[ev.TaskID]
	delete(r.tasks, ev.TaskID)
	r.mu.Unlock()

	download := &Download{
		TaskID:     ev.TaskID,
		Success:    ev.Success,
		FinishedAt: ev.OccurredAt(),
	}
	if state != nil {
		download.Description = state.description
		download.TotalBytes = state.total
		download.TransferredBytes = state.transferred
		download.StartedAt = state.startedAt
	}
	if !ev.Success {
		download.Error = ev.Description
	}

	if err := r.store.RecordDownload(download); err != nil {
		r.logger.Warn("Failed to record download",
			zap.String("task_id", ev.TaskID),
			zap.Error(err))
	}
}

func (r *Recorder) finishBatch(ev event.BatchCompleted) {
	r.mu.Lock()
	state, ok := r.batches[ev.TaskID]
	delete(r.batches, ev.TaskID)
	r.mu.Unlock()

	batch := &Batch{
		BatchID:      ev.TaskID,
		SuccessCount: ev.SuccessCount,
		FailureCount: ev.FailureCount,
		FinishedAt:   ev.OccurredAt(),
	}
	if ok {
		batch.TotalItems = state.totalItems
		batch.StartedAt = state.startedAt
	}

	if err := r.store.RecordBatch(batch); err != nil {
		r.logger.Warn("Failed to record batch",
			zap.String("batch_id", ev.TaskID),
			zap.Error(err))
	}
}
