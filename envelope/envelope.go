// Package envelope wraps caller payloads with tracking metadata for queue transport.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformedEnvelope is returned when a reserved envelope field is absent.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	ErrMissingOperationID = errors.New("missing operation id")
)

// Properties is the tracking metadata that travels with a payload.
type Properties struct {
	OperationID    string    `json:"operation_id"`
	SubmittedAt    time.Time `json:"submitted_at"`
	StatusLocation string    `json:"status_location"`
	ObjectType     string    `json:"object_type,omitempty"`
}

// Validate checks for missing values.
func (p *Properties) Validate() error {
	if p == nil || p.OperationID == "" {
		return ErrMissingOperationID
	}
	return nil
}

// envelope is the wire form. The payload lives under a reserved field so
// it can never collide with caller-controlled schema. Payload bytes are
// base64-encoded by the JSON codec and so round-trip exactly.
type envelope struct {
	RequestObject      *[]byte     `json:"RequestObject"`
	EnvelopeProperties *Properties `json:"EnvelopeProperties"`
}

// Wrap encodes payload and props into an envelope.
// The payload is treated as an opaque blob; it is never inspected or modified.
func Wrap(payload []byte, props Properties) ([]byte, error) {
	if err := props.Validate(); err != nil {
		return nil, err
	}
	if payload == nil {
		payload = []byte{}
	}
	raw, err := json.Marshal(&envelope{
		RequestObject:      &payload,
		EnvelopeProperties: &props,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return raw, nil
}

// Unwrap decodes raw back into the original payload and its properties.
// Returns ErrMalformedEnvelope if either reserved field is absent.
func Unwrap(raw []byte) ([]byte, Properties, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, Properties{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.RequestObject == nil {
		return nil, Properties{}, fmt.Errorf("%w: missing RequestObject", ErrMalformedEnvelope)
	}
	if env.EnvelopeProperties == nil {
		return nil, Properties{}, fmt.Errorf("%w: missing EnvelopeProperties", ErrMalformedEnvelope)
	}
	return *env.RequestObject, *env.EnvelopeProperties, nil
}
