package alarm

import (
	"fmt"
	"time"
)

// EventKind identifies an entry of the output stream.
type EventKind string

const (
	// EventInserted is emitted after a Start command stored an alarm.
	EventInserted EventKind = "inserted"
	// EventReplaced is emitted after a Replace command updated an alarm.
	EventReplaced EventKind = "replaced"
	// EventCanceled is emitted after a Cancel command removed an alarm.
	EventCanceled EventKind = "canceled"
	// EventAnnounced is emitted by a group worker for every due alarm.
	EventAnnounced EventKind = "announced"
	// EventWorkerCreated is emitted when a group worker is spawned.
	EventWorkerCreated EventKind = "worker-created"
	// EventWorkerTerminated is emitted when a group worker has stopped.
	EventWorkerTerminated EventKind = "worker-terminated"
	// EventWorkerAbandoned is emitted when a retired worker missed its stop timeout
	// and was deregistered without confirming it stopped.
	EventWorkerAbandoned EventKind = "worker-abandoned"
)

// Event is a single line of the output stream.
type Event struct {
	// Timestamp is when the event happened.
	Timestamp time.Time
	// Kind is the event type.
	Kind EventKind
	// Message is the alarm message, empty for worker events.
	Message string
	// Handle identifies the worker for worker events.
	Handle string
	// AlarmID is the alarm the event refers to, zero for worker events.
	AlarmID int
	// GroupID is the group of the alarm or worker.
	GroupID int
	// IntervalSeconds is the alarm interval, zero for worker events.
	IntervalSeconds int
}

// AlarmEvent builds an event describing an alarm.
func AlarmEvent(kind EventKind, a *Alarm, at time.Time) Event {
	return Event{
		Timestamp:       at,
		Kind:            kind,
		Message:         a.Message,
		AlarmID:         a.ID,
		GroupID:         a.GroupID,
		IntervalSeconds: a.IntervalSeconds(),
	}
}

// WorkerEvent builds an event describing a group worker.
func WorkerEvent(kind EventKind, groupID int, handle string, at time.Time) Event {
	return Event{
		Timestamp: at,
		Kind:      kind,
		Handle:    handle,
		GroupID:   groupID,
	}
}

// IsWorkerEvent reports whether the event describes a worker rather than an alarm.
func (e Event) IsWorkerEvent() bool {
	return e.Kind == EventWorkerCreated || e.Kind == EventWorkerTerminated || e.Kind == EventWorkerAbandoned
}

// String renders the event as a human-readable line.
func (e Event) String() string {
	ts := e.Timestamp.Format(time.RFC3339)

	switch e.Kind {
	case EventInserted:
		return fmt.Sprintf("Alarm(%d) inserted into group %d at %s: %d %s",
			e.AlarmID, e.GroupID, ts, e.IntervalSeconds, e.Message)
	case EventReplaced:
		return fmt.Sprintf("Alarm(%d) replaced, now in group %d at %s: %d %s",
			e.AlarmID, e.GroupID, ts, e.IntervalSeconds, e.Message)
	case EventCanceled:
		return fmt.Sprintf("Alarm(%d) canceled from group %d at %s: %d %s",
			e.AlarmID, e.GroupID, ts, e.IntervalSeconds, e.Message)
	case EventAnnounced:
		return fmt.Sprintf("Alarm(%d) announced by group %d worker at %s: %d %s",
			e.AlarmID, e.GroupID, ts, e.IntervalSeconds, e.Message)
	case EventWorkerCreated:
		return fmt.Sprintf("Worker %s created for group %d at %s", e.Handle, e.GroupID, ts)
	case EventWorkerTerminated:
		return fmt.Sprintf("Worker %s terminated for group %d at %s", e.Handle, e.GroupID, ts)
	case EventWorkerAbandoned:
		return fmt.Sprintf("Worker %s abandoned for group %d at %s: did not stop in time", e.Handle, e.GroupID, ts)
	default:
		return fmt.Sprintf("%s: alarm %d group %d at %s", e.Kind, e.AlarmID, e.GroupID, ts)
	}
}
