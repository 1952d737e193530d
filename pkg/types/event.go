// Package types defines the shared data model for anvil: conversation log
// events, the LLM wire message format, and the condensation record that ties
// the two together.
package types

import (
	"fmt"
	"strings"
	"time"
)

// EventKind tags the category of a conversation log event.
type EventKind string

const (
	EventKindMessage      EventKind = "message"      // EventKindMessage is a user or agent chat message.
	EventKindAction       EventKind = "action"       // EventKindAction is an action taken by the agent (command, edit, browse, ...).
	EventKindObservation  EventKind = "observation"  // EventKindObservation is the result of an action (tool output, errors).
	EventKindSummary      EventKind = "summary"      // EventKindSummary is a condensation summary spliced into the view.
	EventKindCondensation EventKind = "condensation" // EventKindCondensation is the condensation action record itself.
)

// Event is the atomic, immutable record in the conversation log.
//
// Events are append-only: once an event has been appended to a log it is
// never mutated, only superseded by a View projection. The ID defines the
// total order of the log and is assigned exactly once, by the log, at append
// time.
type Event interface {
	// ID returns the event's unique, monotonically increasing identifier.
	ID() int

	// Kind returns the event's category tag.
	Kind() EventKind

	// Timestamp returns when the event was created. The zero time means
	// the event carries no timing information.
	Timestamp() time.Time
}

// TextProvider is an optional capability an Event variant can implement to
// expose its displayable text. Variants that do not implement it get a
// generic textual rendering via EventText.
type TextProvider interface {
	DisplayText() string
}

// EventBase carries the identity and timing fields shared by all event
// variants. Embed it by value in concrete event types.
type EventBase struct {
	EventID int
	At      time.Time
}

// ID returns the event identifier.
func (b *EventBase) ID() int { return b.EventID }

// Timestamp returns the event creation time (zero if untimed).
func (b *EventBase) Timestamp() time.Time { return b.At }

// SetID assigns the event identifier. It is called exactly once by the
// event log at append time; callers must not use it otherwise.
func (b *EventBase) SetID(id int) { b.EventID = id }

// EventText extracts the displayable text of an event. Events implementing
// TextProvider supply their own text; anything else falls back to a generic
// rendering of the value.
func EventText(ev Event) string {
	if tp, ok := ev.(TextProvider); ok {
		return tp.DisplayText()
	}
	return fmt.Sprintf("%v", ev)
}

// ContentPart is one typed part of a message event's content.
type ContentPart interface {
	isContentPart()
}

// TextPart is a textual content part.
type TextPart struct {
	Text string
}

func (TextPart) isContentPart() {}

// ImagePart references an image by URL.
type ImagePart struct {
	URL string
}

func (ImagePart) isContentPart() {}

// MessageSource identifies who produced a message event.
type MessageSource string

const (
	SourceUser  MessageSource = "user"
	SourceAgent MessageSource = "agent"
)

// MessageEvent is a chat message in the conversation log. Content is an
// ordered sequence of typed parts; plain-text messages have a single
// TextPart.
type MessageEvent struct {
	EventBase
	Source MessageSource
	Parts  []ContentPart
}

// NewMessageEvent creates a plain-text message event from the given source.
func NewMessageEvent(source MessageSource, text string) *MessageEvent {
	return &MessageEvent{
		EventBase: EventBase{At: time.Now()},
		Source:    source,
		Parts:     []ContentPart{TextPart{Text: text}},
	}
}

// Kind returns EventKindMessage.
func (e *MessageEvent) Kind() EventKind { return EventKindMessage }

// DisplayText concatenates the message's text parts. Image parts are
// rendered as a placeholder so downstream scoring sees their presence.
func (e *MessageEvent) DisplayText() string {
	var b strings.Builder
	for _, part := range e.Parts {
		switch p := part.(type) {
		case TextPart:
			b.WriteString(p.Text)
		case ImagePart:
			b.WriteString("[image: " + p.URL + "]")
		}
	}
	return b.String()
}

// ActionEvent records an action the agent took: running a command, editing
// a file, browsing, and so on. Name is the action's sub-kind tag (e.g.
// "run_command", "edit_file", "browse").
type ActionEvent struct {
	EventBase
	Name    string
	Thought string
	Command string
}

// NewActionEvent creates an action event with the given sub-kind and detail.
func NewActionEvent(name, thought, command string) *ActionEvent {
	return &ActionEvent{
		EventBase: EventBase{At: time.Now()},
		Name:      name,
		Thought:   thought,
		Command:   command,
	}
}

// Kind returns EventKindAction.
func (e *ActionEvent) Kind() EventKind { return EventKindAction }

// DisplayText prefers the concrete command, then the agent's thought, then
// the action name.
func (e *ActionEvent) DisplayText() string {
	if e.Command != "" {
		return e.Command
	}
	if e.Thought != "" {
		return e.Thought
	}
	return e.Name
}

// ObservationEvent records the outcome of an action: tool output, command
// results, or errors.
type ObservationEvent struct {
	EventBase
	Content string
	IsError bool
}

// NewObservationEvent creates an observation event.
func NewObservationEvent(content string, isError bool) *ObservationEvent {
	return &ObservationEvent{
		EventBase: EventBase{At: time.Now()},
		Content:   content,
		IsError:   isError,
	}
}

// Kind returns EventKindObservation.
func (e *ObservationEvent) Kind() EventKind { return EventKindObservation }

// DisplayText returns the observation content.
func (e *ObservationEvent) DisplayText() string { return e.Content }

// SummaryEvent is the condensation summary visible in a View in place of
// the events it replaced. It is synthesized during View materialization and
// is never itself a candidate for forgetting.
type SummaryEvent struct {
	EventBase
	Summary string
}

// NewSummaryEvent creates a summary event with the given text.
func NewSummaryEvent(summary string) *SummaryEvent {
	return &SummaryEvent{
		EventBase: EventBase{At: time.Now()},
		Summary:   summary,
	}
}

// Kind returns EventKindSummary.
func (e *SummaryEvent) Kind() EventKind { return EventKindSummary }

// DisplayText returns the summary text.
func (e *SummaryEvent) DisplayText() string { return e.Summary }

// Condensation is the record a condensation pass appends to the log. The
// next View reconstruction drops events whose ids fall in the inclusive
// forgotten range and splices a SummaryEvent carrying Summary back in at
// SummaryOffset. Condensation records are never forgotten themselves.
type Condensation struct {
	EventBase
	ForgottenStartID int
	ForgottenEndID   int
	Summary          string
	SummaryOffset    int
}

// Kind returns EventKindCondensation.
func (e *Condensation) Kind() EventKind { return EventKindCondensation }

// DisplayText returns the summary carried by the condensation record.
func (e *Condensation) DisplayText() string { return e.Summary }
