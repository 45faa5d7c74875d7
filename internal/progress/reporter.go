// Package progress renders transfer progress to the operator. Reporters
// receive their input from the event bus through BusAdapter, so downloaders
// never talk to a reporter directly.
package progress

import (
	"os"

	"github.com/links-ads/satctl/internal/registry"
	"go.uber.org/zap"
)

// Reporter renders the lifecycle of transfer tasks.
type Reporter interface {
	// Start begins tracking a batch of totalItems items. Batches from
	// sources running in parallel may overlap on one reporter.
	Start(totalItems int)

	// AddTask registers a task under its item id
	AddTask(itemID, description string)

	// SetTaskDuration sets the total size of a task in bytes
	SetTaskDuration(itemID string, total int64)

	// UpdateProgress advances a task by advance bytes
	UpdateProgress(itemID string, advance int64)

	// EndTask finishes a task. Description carries the failure reason when
	// success is false.
	EndTask(itemID string, success bool, description string)

	// Stop renders the final summary
	Stop()
}

// EmptyReporter silently discards all progress so callers never need a nil
// check.
type EmptyReporter struct{}

func (EmptyReporter) Start(totalItems int)                             {}
func (EmptyReporter) AddTask(itemID, description string)               {}
func (EmptyReporter) SetTaskDuration(itemID string, total int64)       {}
func (EmptyReporter) UpdateProgress(itemID string, advance int64)      {}
func (EmptyReporter) EndTask(itemID string, success bool, desc string) {}
func (EmptyReporter) Stop()                                            {}

// Factory builds a reporter. The logger backs log-based reporters; console
// reporters write to stderr and ignore it.
type Factory func(logger *zap.SugaredLogger) Reporter

// NewRegistry returns a registry with the built-in reporters registered.
func NewRegistry() *registry.Registry[Factory] {
	reg := registry.New[Factory]("reporter")
	reg.Register("empty", func(*zap.SugaredLogger) Reporter {
		return EmptyReporter{}
	})
	reg.Register("simple", func(logger *zap.SugaredLogger) Reporter {
		return NewSimpleReporter(logger)
	})
	reg.Register("console", func(*zap.SugaredLogger) Reporter {
		return NewConsoleReporter(os.Stderr)
	})
	return reg
}
