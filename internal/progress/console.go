package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

type consoleTask struct {
	description string
	total       int64
	done        int64
	lastStep    int
}

// ConsoleReporter prints plain-text progress lines with human-readable byte
// counts. Tasks with a known size report at every quarter of their total.
type ConsoleReporter struct {
	w io.Writer

	mu          sync.Mutex
	active      int
	totalItems  int
	completed   int
	failed      int
	transferred int64
	startedAt   time.Time
	tasks       map[string]*consoleTask
}

// NewConsoleReporter creates a reporter writing to w, or stderr when w is
// nil.
func NewConsoleReporter(w io.Writer) *ConsoleReporter {
	if w == nil {
		w = os.Stderr
	}
	return &ConsoleReporter{w: w, tasks: make(map[string]*consoleTask)}
}

// Start opens tracking for one batch. Overlapping batches from parallel
// sources aggregate on the shared counters; a Start with no batch in
// flight begins a fresh count.
func (r *ConsoleReporter) Start(totalItems int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == 0 {
		r.totalItems = 0
		r.completed = 0
		r.failed = 0
		r.transferred = 0
		r.startedAt = time.Now()
		r.tasks = make(map[string]*consoleTask)
	}
	r.active++
	r.totalItems += totalItems
	fmt.Fprintf(r.w, "Tracking %d items\n", totalItems)
}

// AddTask registers a task. Re-adding an id resets its progress.
func (r *ConsoleReporter) AddTask(itemID, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[itemID] = &consoleTask{description: description}
}

// SetTaskDuration records the total size of a task
func (r *ConsoleReporter) SetTaskDuration(itemID string, total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t := r.tasks[itemID]; t != nil {
		t.total = total
	}
}

// UpdateProgress advances a task, printing at every quarter of its total
func (r *ConsoleReporter) UpdateProgress(itemID string, advance int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transferred += advance
	t := r.tasks[itemID]
	if t == nil {
		return
	}
	t.done += advance
	if t.total <= 0 {
		return
	}
	pct := int(t.done * 100 / t.total)
	if step := pct / 25; step > t.lastStep {
		t.lastStep = step
		fmt.Fprintf(r.w, "  %s: %d%% of %s\n", itemID, pct, humanize.IBytes(uint64(t.total)))
	}
}

// EndTask prints the task outcome with the transferred byte count
func (r *ConsoleReporter) EndTask(itemID string, success bool, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.tasks[itemID]
	delete(r.tasks, itemID)
	if success {
		r.completed++
	} else {
		r.failed++
	}

	mark := "✓"
	if !success {
		mark = "✗"
	}
	line := fmt.Sprintf("[%d/%d] %s %s", r.completed+r.failed, r.totalItems, mark, itemID)
	if t != nil && t.done > 0 {
		line += fmt.Sprintf(" (%s)", humanize.IBytes(uint64(t.done)))
	}
	if description != "" {
		line += " " + description
	}
	fmt.Fprintln(r.w, line)
}

// Stop prints the summary once the last in-flight batch finishes
func (r *ConsoleReporter) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active > 0 {
		r.active--
	}
	if r.active > 0 {
		return
	}
	elapsed := time.Since(r.startedAt).Round(time.Second)
	fmt.Fprintf(r.w, "Completed: %d succeeded, %d failed, %s transferred in %s\n",
		r.completed, r.failed, humanize.IBytes(uint64(r.transferred)), elapsed)
}
