package progress

import (
	"github.com/links-ads/satctl/internal/event"
)

// BusAdapter forwards bus events to a Reporter. Subscribing one to the bus
// is the only wiring a reporter needs; the closed event set is handled
// exhaustively here.
type BusAdapter struct {
	reporter Reporter
}

// NewBusAdapter wraps a reporter as an event handler.
func NewBusAdapter(reporter Reporter) *BusAdapter {
	return &BusAdapter{reporter: reporter}
}

// Handle translates one event into the matching reporter call
func (a *BusAdapter) Handle(e event.Event) {
	switch e := e.(type) {
	case event.BatchStarted:
		a.reporter.Start(e.TotalItems)
	case event.TaskCreated:
		a.reporter.AddTask(e.TaskID, e.Description)
	case event.TaskDuration:
		a.reporter.SetTaskDuration(e.TaskID, e.Total)
	case event.TaskProgress:
		a.reporter.UpdateProgress(e.TaskID, e.Advance)
	case event.TaskCompleted:
		a.reporter.EndTask(e.TaskID, e.Success, e.Description)
	case event.BatchCompleted:
		a.reporter.Stop()
	}
}
