// Package memory implements the append-only conversation event log and the
// derived View projection the condenser operates on.
package memory

import (
	"github.com/entrhq/anvil/pkg/types"
)

// EventLog is the append-only record of everything that happened in a
// session. Events are assigned monotonically increasing ids at append time
// and are never mutated afterwards; condensation is expressed by appending
// types.Condensation records, never by rewriting history.
//
// An EventLog is not safe for concurrent use; each session owns its log
// exclusively.
type EventLog struct {
	events []types.Event
	nextID int
}

// NewEventLog creates an empty log. Event ids start at 1; an id of 0 marks
// an event that has not been appended yet.
func NewEventLog() *EventLog {
	return &EventLog{nextID: 1}
}

// idSetter is the capability the log uses to assign ids at append time.
type idSetter interface {
	SetID(id int)
}

// Append adds an event to the log, assigning its id, and returns that id.
// Events constructed with an id already set (e.g. replayed from storage)
// keep it, and the log's id counter advances past it.
func (l *EventLog) Append(ev types.Event) int {
	id := ev.ID()
	if id == 0 {
		id = l.nextID
		if s, ok := ev.(idSetter); ok {
			s.SetID(id)
		}
	}
	if id >= l.nextID {
		l.nextID = id + 1
	}
	l.events = append(l.events, ev)
	return id
}

// Len returns the number of events in the log, condensation records
// included.
func (l *EventLog) Len() int { return len(l.events) }

// Events returns a copy of the full log in append order.
func (l *EventLog) Events() []types.Event {
	return append([]types.Event(nil), l.events...)
}

// View materializes the current projection of the log:
//
//   - types.Condensation records are consumed, never shown.
//   - Events whose ids fall inside any condensation's forgotten range are
//     excluded.
//   - The most recent condensation's summary is spliced back in as a
//     types.SummaryEvent at its recorded offset.
//
// The returned View is independent of the log; appending more events does
// not change it.
func (l *EventLog) View() *View {
	forgotten := make(map[int]bool)
	var summary string
	summaryOffset := -1

	for _, ev := range l.events {
		if c, ok := ev.(*types.Condensation); ok {
			for id := c.ForgottenStartID; id <= c.ForgottenEndID; id++ {
				forgotten[id] = true
			}
			summary = c.Summary
			summaryOffset = c.SummaryOffset
		}
	}

	visible := make([]types.Event, 0, len(l.events))
	for _, ev := range l.events {
		if _, ok := ev.(*types.Condensation); ok {
			continue
		}
		if forgotten[ev.ID()] {
			continue
		}
		visible = append(visible, ev)
	}

	if summaryOffset >= 0 {
		offset := summaryOffset
		if offset > len(visible) {
			offset = len(visible)
		}
		summaryEvent := types.NewSummaryEvent(summary)
		visible = append(visible[:offset], append([]types.Event{summaryEvent}, visible[offset:]...)...)
	}

	return NewView(visible)
}

// View is an ordered, read-only sequence of events: what is currently
// visible to the LLM. A View is never mutated in place; a new one is derived
// whenever the log changes.
type View struct {
	events []types.Event
}

// NewView wraps the given events in a View. The slice is not copied; callers
// hand over ownership.
func NewView(events []types.Event) *View {
	return &View{events: events}
}

// Len returns the number of visible events.
func (v *View) Len() int { return len(v.events) }

// At returns the event at index i.
func (v *View) At(i int) types.Event { return v.events[i] }

// Events returns the underlying event sequence. The returned slice must be
// treated as read-only.
func (v *View) Events() []types.Event { return v.events }

// Slice returns the events in [i, j) as a new View.
func (v *View) Slice(i, j int) *View {
	return &View{events: v.events[i:j]}
}

// Last returns the final visible event, or nil for an empty view.
func (v *View) Last() types.Event {
	if len(v.events) == 0 {
		return nil
	}
	return v.events[len(v.events)-1]
}
