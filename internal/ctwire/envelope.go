// Package ctwire implements CTProto's message factory and validator
// (spec.md §4.1): pure functions that build JSON text envelopes, pack/unpack
// binary chunk frames, and validate inbound data of either kind. Nothing in
// this package holds connection state; it is exercised by both the
// server-side connection state machine and the client-side send engine.
package ctwire

import (
	"encoding/json"

	"github.com/ctproto/ctproto-go/internal/idgen"
)

// ReservedTypeAuthorize is the reserved NewMessage type that requests
// authorization; applications must not use it for their own messages.
const ReservedTypeAuthorize = "authorize"

// ReservedTypeError is the reserved NewMessage type the server emits for
// format failures; applications must not use it for their own messages.
const ReservedTypeError = "error"

// Envelope is the JSON object carried by every text frame (spec.md §3).
// A NewMessage has Type set; a ResponseMessage has it empty and omitted.
type Envelope struct {
	MessageID string          `json:"messageId"`
	Type      string          `json:"type,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// marshalPayload converts an arbitrary payload value to json.RawMessage. A
// nil payload becomes an empty JSON object, matching the teacher's pattern
// of never emitting a null payload field.
func marshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage("{}"), nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		if len(raw) == 0 {
			return json.RawMessage("{}"), nil
		}
		return raw, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// BuildNew constructs a NewMessage envelope with a fresh messageId: a
// sender-originated request or a server-initiated update.
func BuildNew(msgType string, payload any) (*Envelope, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{MessageID: idgen.WireID(), Type: msgType, Payload: raw}, nil
}

// BuildResponse constructs a ResponseMessage envelope carrying the
// originating NewMessage's messageId and no type.
func BuildResponse(messageID string, payload any) (*Envelope, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{MessageID: messageID, Payload: raw}, nil
}

// BuildError constructs the reserved `error` NewMessage the server emits on
// a format failure (spec.md §4.1, §7): `{type:"error", payload:{error:text}}`.
func BuildError(text string) (*Envelope, error) {
	return BuildNew(ReservedTypeError, map[string]string{"error": text})
}

// Marshal serializes the envelope to the bytes sent as a text frame.
func Marshal(e *Envelope) ([]byte, error) {
	return json.Marshal(e)
}
