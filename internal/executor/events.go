// ABOUTME: Discriminated event envelope emitted during entity execution
// ABOUTME: Serializes to single-line JSON with a stable key order for SSE framing

package executor

import (
	"encoding/json"
	"fmt"
)

// Well-known envelope types. Runners may emit additional types; the gateway
// treats envelopes as opaque beyond their serialization.
const (
	TypeResponseCreated = "response.created"
	TypeOutputTextDelta = "response.output_text.delta"
	TypeFunctionCall    = "response.function_call"
	TypeResponseError   = "error"
	TypeResponseDone    = "response.completed"
)

// Envelope is one execution event. Payload keys are merged into the JSON
// object alongside the "type" discriminator; a payload must not carry its own
// "type" key.
type Envelope struct {
	Type    string
	Payload map[string]any
}

// MarshalJSON renders the envelope as a single JSON object. encoding/json
// sorts map keys, so the output is deterministic, and compact marshaling
// guarantees a single line as SSE framing requires.
func (e Envelope) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(e.Payload)+1)
	for k, v := range e.Payload {
		obj[k] = v
	}
	obj["type"] = e.Type
	return json.Marshal(obj)
}

// UnmarshalJSON splits the discriminator back out of the object.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	t, _ := obj["type"].(string)
	if t == "" {
		return fmt.Errorf("event envelope missing type")
	}
	delete(obj, "type")
	e.Type = t
	e.Payload = obj
	return nil
}

// TextDelta builds an incremental text output event.
func TextDelta(delta string) Envelope {
	return Envelope{Type: TypeOutputTextDelta, Payload: map[string]any{"delta": delta}}
}

// FunctionCall builds a tool invocation event.
func FunctionCall(name string, arguments map[string]any) Envelope {
	return Envelope{Type: TypeFunctionCall, Payload: map[string]any{"name": name, "arguments": arguments}}
}

// StreamItem is one element of a streaming execution: either an event or a
// production fault. A fault terminates the stream.
type StreamItem struct {
	Event Envelope
	Err   error
}
