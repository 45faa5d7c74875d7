package event

import (
	"go.uber.org/zap"
)

// LoggingHandler logs all events
type LoggingHandler struct {
	logger *zap.Logger
}

// NewLoggingHandler creates a new LoggingHandler
func NewLoggingHandler(logger *zap.Logger) *LoggingHandler {
	return &LoggingHandler{logger: logger}
}

// Handle logs the event
func (h *LoggingHandler) Handle(event Event) {
	switch e := event.(type) {
	case TaskCreated:
		h.logger.Debug("task created",
			zap.String("task_id", e.TaskID),
			zap.String("description", e.Description),
		)
	case TaskDuration:
		h.logger.Debug("task size known",
			zap.String("task_id", e.TaskID),
			zap.Int64("total_bytes", e.Total),
		)
	case TaskProgress:
		h.logger.Debug("task progress",
			zap.String("task_id", e.TaskID),
			zap.Int64("advance", e.Advance),
		)
	case TaskCompleted:
		if e.Success {
			h.logger.Info("task completed",
				zap.String("task_id", e.TaskID),
			)
		} else {
			h.logger.Warn("task failed",
				zap.String("task_id", e.TaskID),
				zap.String("reason", e.Description),
			)
		}
	case BatchStarted:
		h.logger.Info("batch started",
			zap.String("batch_id", e.TaskID),
			zap.Int("total_items", e.TotalItems),
			zap.String("description", e.Description),
		)
	case BatchCompleted:
		h.logger.Info("batch completed",
			zap.String("batch_id", e.TaskID),
			zap.Int("succeeded", e.SuccessCount),
			zap.Int("failed", e.FailureCount),
		)
	default:
		h.logger.Debug("progress event",
			zap.String("event", event.EventName()),
			zap.Time("occurred_at", event.OccurredAt()),
		)
	}
}
