package common

import (
	"encoding/json"
	"os"
)

// EventKind distinguishes the three Event shapes spec.md §3 names.
type EventKind string

const (
	// EventConfigLaunch records that a configuration document was loaded.
	EventConfigLaunch EventKind = "config_launch"
	// EventBinaryLaunch records that the target binary was launched.
	EventBinaryLaunch EventKind = "binary_launch"
	// EventTrace records a tracer-loop observation: a stop, signal, or action.
	EventTrace EventKind = "trace"
)

// Event is one entry in the EventLog. Fields irrelevant to a given
// Kind are left at their zero value; JSON omits them via omitempty so
// the serialised shape stays close to the three variants spec.md §3
// describes rather than one flat always-populated struct.
type Event struct {
	Kind        EventKind `json:"kind"`
	Name        string    `json:"name,omitempty"`
	PID         int       `json:"pid,omitempty"`
	ChildPID    *int      `json:"child_pid,omitempty"`
	Signal      string    `json:"signal,omitempty"`
	Address     *uintptr  `json:"address,omitempty"`
	ReturnValue *int64    `json:"return_value,omitempty"`
	Description string    `json:"description"`
}

// NewConfigLaunchEvent records that a configuration document named
// name was loaded.
func NewConfigLaunchEvent(name string) Event {
	return Event{Kind: EventConfigLaunch, Name: name, Description: "config launch: " + name}
}

// NewBinaryLaunchEvent records that the binary named name was launched.
func NewBinaryLaunchEvent(name string) Event {
	return Event{Kind: EventBinaryLaunch, Name: name, Description: "binary launch: " + name}
}

// NewTraceEvent records a tracer-loop observation for pid.
func NewTraceEvent(pid int, description string) Event {
	return Event{Kind: EventTrace, PID: pid, Description: description}
}

// WithChild attaches a child pid to a trace event (e.g. a new-thread event).
func (e Event) WithChild(child int) Event {
	e.ChildPID = &child
	return e
}

// WithAddress attaches an instruction address to a trace event.
func (e Event) WithAddress(addr uintptr) Event {
	e.Address = &addr
	return e
}

// EventLog is C3: an append-only log of tracer events plus the set of
// distinct pids observed, serialisable for the external renderer.
// Grounded on original_source/src/statemachine/timeline.rs's
// Timeline/Event shape; the gnuplot rendering there is deliberately
// not ported — rendering is an external collaborator (spec.md §1),
// implemented separately in cmd/minitarp-view.
type EventLog struct {
	Events []Event `json:"events"`
	pids   map[int]struct{}
}

// NewEventLog returns an empty log.
func NewEventLog() *EventLog {
	return &EventLog{pids: make(map[int]struct{})}
}

// Add appends event, updating the distinct-pid set.
func (l *EventLog) Add(event Event) {
	l.Events = append(l.Events, event)
	if event.PID != 0 {
		l.pids[event.PID] = struct{}{}
	}
	if event.ChildPID != nil {
		l.pids[*event.ChildPID] = struct{}{}
	}
}

// PIDs returns the distinct pids observed, in no particular order.
func (l *EventLog) PIDs() []int {
	pids := make([]int, 0, len(l.pids))
	for pid := range l.pids {
		pids = append(pids, pid)
	}
	return pids
}

// Serialize renders the log to its stable, ordered JSON encoding. The
// sequence index (slice position) is the time axis; no additional
// ordering or deduplication is performed.
func (l *EventLog) Serialize() ([]byte, error) {
	data, err := json.Marshal(l)
	return data, Error(err)
}

// DeserializeEventLog is the inverse of Serialize, used by tests to
// assert the round-trip property spec.md §8 requires.
func DeserializeEventLog(data []byte) (*EventLog, error) {
	var l EventLog
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, Error(err)
	}
	l.pids = make(map[int]struct{})
	for _, e := range l.Events {
		if e.PID != 0 {
			l.pids[e.PID] = struct{}{}
		}
		if e.ChildPID != nil {
			l.pids[*e.ChildPID] = struct{}{}
		}
	}
	return &l, nil
}

// Sink names where a run's EventLog is written: the renderer-facing
// "_pass"/"_fail" filenames spec.md §6 describes. The exact naming is
// renderer-defined; this just picks between the two paths the caller
// supplied.
type Sink struct {
	PassPath string
	FailPath string
}

// Save writes the log to sink.PassPath on success or sink.FailPath on
// failure (ok == false).
func (l *EventLog) Save(sink Sink, ok bool) error {
	path := sink.PassPath
	if !ok {
		path = sink.FailPath
	}
	if path == "" {
		return nil
	}

	data, err := l.Serialize()
	if err != nil {
		return Error(err)
	}

	return Error(os.WriteFile(path, data, 0o644))
}
