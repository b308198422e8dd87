package proc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// EventType identifies what happened to a process.
type EventType string

const (
	EventCreated      EventType = "created"
	EventForked       EventType = "forked"
	EventExeced       EventType = "execed"
	EventStateChanged EventType = "state_changed"
	EventSignal       EventType = "signal"
	EventTerminated   EventType = "terminated"
	EventReaped       EventType = "reaped"
)

// Event represents a single mutation in the process table.
type Event struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	PID       PID       `json:"pid"`
	PPID      PID       `json:"ppid,omitempty"`
	Name      string    `json:"name,omitempty"`
	Class     string    `json:"class,omitempty"`
	State     string    `json:"state,omitempty"`
	OldState  string    `json:"old_state,omitempty"`
	NewState  string    `json:"new_state,omitempty"`
	Signal    string    `json:"signal,omitempty"`
	ExitCode  int       `json:"exit_code,omitempty"`
}

func eventCreated(p *Process) Event {
	return Event{Type: EventCreated, PID: p.PID, PPID: p.PPID, Name: p.Name, Class: p.Class.String(), State: p.State.String()}
}

func eventForked(p *Process) Event {
	return Event{Type: EventForked, PID: p.PID, PPID: p.PPID, Name: p.Name, Class: p.Class.String(), State: p.State.String()}
}

func eventExeced(p *Process) Event {
	return Event{Type: EventExeced, PID: p.PID, PPID: p.PPID, Name: p.Name}
}

func eventState(p *Process, old, now State) Event {
	return Event{Type: EventStateChanged, PID: p.PID, OldState: old.String(), NewState: now.String()}
}

func eventSignal(pid PID, sig Signal) Event {
	return Event{Type: EventSignal, PID: pid, Signal: sig.String()}
}

func eventTerminated(p *Process) Event {
	return Event{Type: EventTerminated, PID: p.PID, PPID: p.PPID, Name: p.Name, ExitCode: p.ExitCode}
}

func eventReaped(p *Process) Event {
	return Event{Type: EventReaped, PID: p.PID, ExitCode: p.ExitCode}
}

// EventLog is a sequenced, append-only log of process events with an
// in-memory ring buffer, optional JSONL persistence, and fan-out to live
// subscribers. The debug observer consumes it; it is never in the
// scheduling path.
type EventLog struct {
	mu      sync.RWMutex
	events  []Event
	seq     atomic.Uint64
	maxSize int

	subs []chan Event

	logFile *os.File
	writer  *bufio.Writer
}

// NewEventLog creates an EventLog with the given ring buffer capacity.
// If logPath is non-empty, events are also appended to that file as JSONL.
func NewEventLog(maxSize int, logPath string) (*EventLog, error) {
	el := &EventLog{
		events:  make([]Event, 0, maxSize),
		maxSize: maxSize,
	}

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open event log: %w", err)
		}
		el.logFile = f
		el.writer = bufio.NewWriter(f)
	}

	return el, nil
}

// Emit assigns a sequence number and timestamp to the event, appends it to
// the ring buffer, writes to disk (if configured), and fans out to all live
// subscribers.
func (el *EventLog) Emit(evt Event) {
	evt.Seq = el.seq.Add(1)
	evt.Timestamp = time.Now()

	el.mu.Lock()

	el.events = append(el.events, evt)
	if len(el.events) > el.maxSize {
		// Trim oldest half.
		half := len(el.events) / 2
		el.events = append([]Event(nil), el.events[half:]...)
	}

	if el.writer != nil {
		data, err := json.Marshal(evt)
		if err == nil {
			el.writer.Write(data)
			el.writer.WriteByte('\n')
			el.writer.Flush()
		}
	}

	subs := make([]chan Event, len(el.subs))
	copy(subs, el.subs)
	el.mu.Unlock()

	// Fan-out outside the lock so a slow consumer never blocks a mutation.
	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
			// Slow consumer, drop.
		}
	}
}

// Since returns all buffered events with Seq > sinceSeq.
func (el *EventLog) Since(sinceSeq uint64) []Event {
	el.mu.RLock()
	defer el.mu.RUnlock()

	var result []Event
	for _, e := range el.events {
		if e.Seq > sinceSeq {
			result = append(result, e)
		}
	}
	return result
}

// CurrentSeq returns the latest sequence number.
func (el *EventLog) CurrentSeq() uint64 {
	return el.seq.Load()
}

// SubscribeSince replays buffered events with Seq > sinceSeq into the
// returned channel, then registers it for live events. Replay and
// registration happen atomically under the write lock so no events are
// missed in between.
func (el *EventLog) SubscribeSince(sinceSeq uint64, bufSize int) chan Event {
	ch := make(chan Event, bufSize)

	el.mu.Lock()
	defer el.mu.Unlock()

	for _, e := range el.events {
		if e.Seq > sinceSeq {
			select {
			case ch <- e:
			default:
			}
		}
	}

	el.subs = append(el.subs, ch)
	return ch
}

// Unsubscribe removes a channel from the subscriber list and closes it.
func (el *EventLog) Unsubscribe(ch chan Event) {
	el.mu.Lock()
	defer el.mu.Unlock()

	for i, s := range el.subs {
		if s == ch {
			el.subs = append(el.subs[:i], el.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Close flushes and closes the disk log (if any) and all subscriber channels.
func (el *EventLog) Close() {
	el.mu.Lock()
	defer el.mu.Unlock()

	if el.writer != nil {
		el.writer.Flush()
	}
	if el.logFile != nil {
		el.logFile.Close()
		el.logFile = nil
		el.writer = nil
	}

	for _, ch := range el.subs {
		close(ch)
	}
	el.subs = nil
}
