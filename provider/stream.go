package provider

import (
	"errors"
	"io"
)

// Stream errors surfaced by providers and the response reconstructor.
var (
	// ErrStreamTruncated indicates the event stream ended before message_stop.
	ErrStreamTruncated = errors.New("stream truncated before message_stop")
	// ErrStreamProtocol indicates an event that violates the stream protocol.
	ErrStreamProtocol = errors.New("stream protocol violation")
)

// StreamEventType identifies the kind of a stream event.
type StreamEventType string

const (
	EventMessageStart      StreamEventType = "message_start"
	EventContentBlockStart StreamEventType = "content_block_start"
	EventContentBlockDelta StreamEventType = "content_block_delta"
	EventContentBlockStop  StreamEventType = "content_block_stop"
	EventMessageDelta      StreamEventType = "message_delta"
	EventMessageStop       StreamEventType = "message_stop"
)

// DeltaType identifies the kind of a content block delta.
type DeltaType string

const (
	DeltaText      DeltaType = "text_delta"
	DeltaInputJSON DeltaType = "input_json_delta"
	DeltaThinking  DeltaType = "thinking_delta"
)

// Delta is an incremental content fragment for one block.
type Delta struct {
	Type        DeltaType
	Text        string // DeltaText
	PartialJSON string // DeltaInputJSON, reassembled (not parsed) until block stop
	Thinking    string // DeltaThinking
}

// StreamEvent is one event of a provider stream. Which fields are meaningful
// depends on Type; consumers must handle every event type exhaustively.
type StreamEvent struct {
	Type StreamEventType

	// EventMessageStart.
	MessageID string
	Model     string
	Role      Role
	Usage     Usage

	// Block events share Index; EventContentBlockStart carries the shell.
	Index int
	Block ContentBlock
	Delta Delta

	// EventMessageDelta.
	StopReason   StopReason
	StopSequence string
}

// Stream is a lazy, ordered, finite sequence of stream events. Recv returns
// io.EOF when the provider has delivered its final event; any other error
// is a transport or protocol failure.
type Stream interface {
	Recv() (StreamEvent, error)
	Close() error
}

// EventStream replays a fixed sequence of events. Providers that assemble
// events up front and tests use it as a Stream.
type EventStream struct {
	events []StreamEvent
	pos    int
	err    error
}

// NewEventStream creates a stream that yields the given events then io.EOF.
func NewEventStream(events ...StreamEvent) *EventStream {
	return &EventStream{events: events}
}

// Fail arranges for the stream to return err after its events are exhausted,
// instead of io.EOF. Used to simulate mid-stream transport failures.
func (s *EventStream) Fail(err error) *EventStream {
	s.err = err
	return s
}

// Recv returns the next event.
func (s *EventStream) Recv() (StreamEvent, error) {
	if s.pos >= len(s.events) {
		if s.err != nil {
			return StreamEvent{}, s.err
		}
		return StreamEvent{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

// Close releases the stream. No-op for replayed events.
func (s *EventStream) Close() error { return nil }
