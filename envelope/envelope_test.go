package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestRoundTrip(t *testing.T) {
	for _, payload := range [][]byte{
		[]byte(`{"id":"x"}`),
		[]byte("not json at all \x00\x01\xff"),
		{},
		nil,
	} {
		props := Properties{
			OperationID:    "3b1acfcc-2f6b-4e24-a330-ff0ff6e18cbd",
			SubmittedAt:    time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC),
			StatusLocation: "http://localhost:9005/status/3b1acfcc-2f6b-4e24-a330-ff0ff6e18cbd",
			ObjectType:     "report",
		}

		raw, err := Wrap(payload, props)
		if err != nil {
			t.Fatal(err)
		}

		gotPayload, gotProps, err := Unwrap(raw)
		if err != nil {
			t.Fatal(err)
		}

		if !bytes.Equal(gotPayload, payload) {
			t.Errorf("payload did not round-trip: have: %q, want: %q", gotPayload, payload)
		}

		if have, want := gotProps.OperationID, props.OperationID; have != want {
			t.Errorf("have: %v, want: %v", have, want)
		}
		if have, want := gotProps.StatusLocation, props.StatusLocation; have != want {
			t.Errorf("have: %v, want: %v", have, want)
		}
		if !gotProps.SubmittedAt.Equal(props.SubmittedAt) {
			t.Errorf("have: %v, want: %v", gotProps.SubmittedAt, props.SubmittedAt)
		}
	}
}

func TestPayloadNotInspected(t *testing.T) {
	// a payload that happens to contain the reserved field names must
	// still come back untouched.
	payload := []byte(`{"RequestObject":"spoof","EnvelopeProperties":{"operation_id":"spoof"}}`)
	raw, err := Wrap(payload, Properties{OperationID: "real-id"})
	if err != nil {
		t.Fatal(err)
	}
	gotPayload, gotProps, err := Unwrap(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Error("payload did not round-trip")
	}
	if have, want := gotProps.OperationID, "real-id"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestUnwrapMalformed(t *testing.T) {
	for _, test := range []struct {
		name string
		raw  []byte
	}{
		{"not json", []byte("ceci n'est pas une enveloppe")},
		{"missing payload", []byte(`{"EnvelopeProperties":{"operation_id":"a"}}`)},
		{"missing properties", []byte(`{"RequestObject":"aGk="}`)},
		{"empty object", []byte(`{}`)},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, _, err := Unwrap(test.raw)
			if !errors.Is(err, ErrMalformedEnvelope) {
				t.Errorf("have: %v, want: %v", err, ErrMalformedEnvelope)
			}
		})
	}
}

func TestWrapRequiresOperationID(t *testing.T) {
	_, err := Wrap([]byte("hi"), Properties{})
	if !errors.Is(err, ErrMissingOperationID) {
		t.Errorf("have: %v, want: %v", err, ErrMissingOperationID)
	}
}

func TestReservedFieldsOnWire(t *testing.T) {
	raw, err := Wrap([]byte("hi"), Properties{OperationID: "a"})
	if err != nil {
		t.Fatal(err)
	}
	var wire map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"RequestObject", "EnvelopeProperties"} {
		if _, ok := wire[k]; !ok {
			t.Errorf("expected reserved field %s on wire", k)
		}
	}
}
