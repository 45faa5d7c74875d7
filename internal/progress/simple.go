package progress

import (
	"sync"

	"go.uber.org/zap"
)

// SimpleReporter logs one line per task transition. It tracks no byte-level
// progress, only completion counters.
type SimpleReporter struct {
	log *zap.SugaredLogger

	mu         sync.Mutex
	active     int
	totalItems int
	completed  int
	failed     int
}

// NewSimpleReporter creates a log-based reporter.
func NewSimpleReporter(log *zap.SugaredLogger) *SimpleReporter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &SimpleReporter{log: log}
}

// Start opens tracking for one batch. Batches from sources running in
// parallel overlap on the shared reporter, so their counters aggregate;
// a Start with no batch in flight begins a fresh count.
func (r *SimpleReporter) Start(totalItems int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == 0 {
		r.totalItems = 0
		r.completed = 0
		r.failed = 0
	}
	r.active++
	r.totalItems += totalItems
	r.log.Infof("Tracking progress for %d items", totalItems)
}

// AddTask logs the task start
func (r *SimpleReporter) AddTask(itemID, description string) {
	r.log.Infof("Started %s - %s", description, itemID)
}

// SetTaskDuration is a no-op, byte totals are not tracked here
func (r *SimpleReporter) SetTaskDuration(itemID string, total int64) {}

// UpdateProgress is a no-op, byte progress is not tracked here
func (r *SimpleReporter) UpdateProgress(itemID string, advance int64) {}

// EndTask logs the task outcome with running completion counters
func (r *SimpleReporter) EndTask(itemID string, success bool, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if success {
		r.completed++
	} else {
		r.failed++
	}
	done := r.completed + r.failed
	remaining := r.totalItems - done

	status := "✓"
	if !success {
		status = "✗"
	}
	if description != "" {
		status += " " + description
	}
	r.log.Infof("%s - %s (%d/%d, %d remaining)", status, itemID, done, r.totalItems, remaining)
}

// Stop logs the summary once the last in-flight batch finishes
func (r *SimpleReporter) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active > 0 {
		r.active--
	}
	if r.active > 0 {
		return
	}
	r.log.Infof("Tracking completed: %d successful, %d failed, %d total", r.completed, r.failed, r.totalItems)
}
