// Package progress models the events of a backend job's progress stream and
// folds them into the state the terminal renders.
//
// The stream carries one JSON object per frame, tagged by its "type" field.
// Only the tag, the step name and the message drive state transitions;
// everything else in the payload is kept verbatim in Event.Raw and read on
// demand by the renderers.
package progress

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// EventType is the "type" tag of a progress event.
type EventType string

const (
	// EventHeartbeat keeps idle connections alive.
	EventHeartbeat EventType = "heartbeat"

	// EventWaiting is sent while the job has not started yet.
	EventWaiting EventType = "waiting"

	// EventConnected acknowledges the subscription.
	EventConnected EventType = "connected"

	// EventStepStart marks the beginning of a named step.
	EventStepStart EventType = "step_start"

	// EventStepUpdate reports intermediate progress of a step.
	EventStepUpdate EventType = "step_update"

	// EventStepComplete marks the end of a named step.
	EventStepComplete EventType = "step_complete"

	// EventComplete ends the job successfully, optionally carrying "data".
	EventComplete EventType = "complete"

	// EventError ends the job with a failure "message".
	EventError EventType = "error"
)

// ErrMalformedFrame is returned by Decode for frames that are not a JSON
// object with a string "type" field.
var ErrMalformedFrame = errors.New("malformed progress frame")

// defaultErrorMessage is used when an error event carries no message, so
// that a failed state always has a non-empty Error.
const defaultErrorMessage = "job reported an error"

// Event is one decoded progress frame.
type Event struct {
	// Type is the event tag.
	Type EventType

	// Step is the step identifier, empty for events without one.
	Step string

	// Message is the human-readable message, if any.
	Message string

	// Raw is the complete frame payload.
	Raw json.RawMessage
}

// Decode parses one raw text frame into an Event.
//
// Parameters:
//   - frame: The frame payload (one SSE data block or one WebSocket message)
//
// Returns:
//   - Event: The decoded event
//   - error: An error wrapping ErrMalformedFrame if the frame cannot be used
func Decode(frame []byte) (Event, error) {
	if !gjson.ValidBytes(frame) {
		return Event{}, fmt.Errorf("%w: invalid JSON", ErrMalformedFrame)
	}
	root := gjson.ParseBytes(frame)
	if !root.IsObject() {
		return Event{}, fmt.Errorf("%w: not an object", ErrMalformedFrame)
	}
	typ := root.Get("type")
	if typ.Type != gjson.String || typ.Str == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}

	raw := make([]byte, len(frame))
	copy(raw, frame)

	return Event{
		Type:    EventType(typ.Str),
		Step:    root.Get("step").String(),
		Message: root.Get("message").String(),
		Raw:     raw,
	}, nil
}

// NewEvent builds an event with a payload carrying only its tag fields.
func NewEvent(typ EventType, step, message string) Event {
	raw := []byte(`{}`)
	raw, _ = sjson.SetBytes(raw, "type", string(typ))
	if step != "" {
		raw, _ = sjson.SetBytes(raw, "step", step)
	}
	if message != "" {
		raw, _ = sjson.SetBytes(raw, "message", message)
	}
	return Event{Type: typ, Step: step, Message: message, Raw: raw}
}

// SynthesizeComplete builds the "complete" entry appended when the REST call
// finished but the stream never delivered its own completion.
//
// Parameters:
//   - message: Summary line for the activity feed
//   - data: The REST result, embedded as the event's "data" (may be nil)
//
// Returns:
//   - Event: A complete event marked with "synthetic": true
func SynthesizeComplete(message string, data json.RawMessage) Event {
	ev := NewEvent(EventComplete, "", message)
	if len(data) > 0 && gjson.ValidBytes(data) {
		ev.Raw, _ = sjson.SetRawBytes(ev.Raw, "data", data)
	}
	ev.Raw, _ = sjson.SetBytes(ev.Raw, "synthetic", true)
	return ev
}

// IsSystem reports whether the event is connection chatter that never
// reaches a reducer.
func (e Event) IsSystem() bool {
	switch e.Type {
	case EventHeartbeat, EventWaiting, EventConnected:
		return true
	}
	return false
}

// IsTerminal reports whether the event ends the stream.
func (e Event) IsTerminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// Synthetic reports whether the event was built locally rather than received.
func (e Event) Synthetic() bool {
	return e.Field("synthetic").Bool()
}

// Field returns an arbitrary payload field by gjson path.
func (e Event) Field(path string) gjson.Result {
	return gjson.GetBytes(e.Raw, path)
}

// Detail returns the optional "detail" text of a step_update.
func (e Event) Detail() string {
	return e.Field("detail").String()
}

// Percentage returns the optional "percentage" of a step_update.
//
// Returns:
//   - float64: The percentage value
//   - bool: False when the payload has no numeric percentage
func (e Event) Percentage() (float64, bool) {
	p := e.Field("percentage")
	if p.Type != gjson.Number {
		return 0, false
	}
	return p.Num, true
}

// Data returns the raw "data" payload of a complete event, or nil.
func (e Event) Data() json.RawMessage {
	d := e.Field("data")
	if !d.Exists() || d.Type == gjson.Null {
		return nil
	}
	return json.RawMessage(d.Raw)
}

// ErrorMessage returns the message of an error event, never empty.
func (e Event) ErrorMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return defaultErrorMessage
}

// MarshalJSON returns the original payload.
func (e Event) MarshalJSON() ([]byte, error) {
	if len(e.Raw) == 0 {
		return NewEvent(e.Type, e.Step, e.Message).Raw, nil
	}
	return e.Raw, nil
}

// clone returns a copy whose Raw does not alias the receiver's.
func (e Event) clone() Event {
	if e.Raw != nil {
		raw := make(json.RawMessage, len(e.Raw))
		copy(raw, e.Raw)
		e.Raw = raw
	}
	return e
}
