package event

import (
	"time"
)

// Event is the interface for all progress events
type Event interface {
	// EventName returns the name of the event
	EventName() string
	// OccurredAt returns when the event occurred
	OccurredAt() time.Time
}

// BaseEvent provides common fields for all events
type BaseEvent struct {
	Timestamp time.Time
}

// OccurredAt returns when the event occurred
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// TaskCreated is emitted when a transfer task starts tracking
type TaskCreated struct {
	BaseEvent
	TaskID      string
	Description string
}

// EventName returns the event name
func (e TaskCreated) EventName() string {
	return "task_created"
}

// NewTaskCreated creates a new TaskCreated event
func NewTaskCreated(taskID, description string) TaskCreated {
	return TaskCreated{
		BaseEvent:   BaseEvent{Timestamp: time.Now()},
		TaskID:      taskID,
		Description: description,
	}
}

// TaskDuration is emitted once the total size of a task becomes known.
// Total is expressed in bytes.
type TaskDuration struct {
	BaseEvent
	TaskID string
	Total  int64
}

// EventName returns the event name
func (e TaskDuration) EventName() string {
	return "task_duration"
}

// NewTaskDuration creates a new TaskDuration event
func NewTaskDuration(taskID string, total int64) TaskDuration {
	return TaskDuration{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		TaskID:    taskID,
		Total:     total,
	}
}

// TaskProgress is emitted for every chunk written by a task
type TaskProgress struct {
	BaseEvent
	TaskID  string
	Advance int64
}

// EventName returns the event name
func (e TaskProgress) EventName() string {
	return "task_progress"
}

// NewTaskProgress creates a new TaskProgress event
func NewTaskProgress(taskID string, advance int64) TaskProgress {
	return TaskProgress{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		TaskID:    taskID,
		Advance:   advance,
	}
}

// TaskCompleted is the terminal event of a task. Description carries the
// failure reason when Success is false.
type TaskCompleted struct {
	BaseEvent
	TaskID      string
	Success     bool
	Description string
}

// EventName returns the event name
func (e TaskCompleted) EventName() string {
	return "task_completed"
}

// NewTaskCompleted creates a new TaskCompleted event
func NewTaskCompleted(taskID string, success bool, description string) TaskCompleted {
	return TaskCompleted{
		BaseEvent:   BaseEvent{Timestamp: time.Now()},
		TaskID:      taskID,
		Success:     success,
		Description: description,
	}
}

// BatchStarted is emitted when a batch begins dispatching items
type BatchStarted struct {
	BaseEvent
	TaskID      string
	TotalItems  int
	Description string
}

// EventName returns the event name
func (e BatchStarted) EventName() string {
	return "batch_started"
}

// NewBatchStarted creates a new BatchStarted event
func NewBatchStarted(taskID string, totalItems int, description string) BatchStarted {
	return BatchStarted{
		BaseEvent:   BaseEvent{Timestamp: time.Now()},
		TaskID:      taskID,
		TotalItems:  totalItems,
		Description: description,
	}
}

// BatchCompleted is the terminal event of a batch, emitted exactly once
// per batch, interrupted runs included.
type BatchCompleted struct {
	BaseEvent
	TaskID       string
	SuccessCount int
	FailureCount int
}

// EventName returns the event name
func (e BatchCompleted) EventName() string {
	return "batch_completed"
}

// NewBatchCompleted creates a new BatchCompleted event
func NewBatchCompleted(taskID string, successCount, failureCount int) BatchCompleted {
	return BatchCompleted{
		BaseEvent:    BaseEvent{Timestamp: time.Now()},
		TaskID:       taskID,
		SuccessCount: successCount,
		FailureCount: failureCount,
	}
}
