package log

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Trace records are small, fixed-shape maps written at register-access
// rates. Timestamps go on the wire as integer Unix nanoseconds rather than
// RFC 3339 text.
var (
	logEncMode cbor.EncMode
	logDecMode cbor.DecMode
)

func init() {
	var err error

	logEncMode, err = cbor.EncOptions{
		Sort:        cbor.SortCoreDeterministic,
		IndefLength: cbor.IndefLengthForbidden,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("log: cbor encoder mode: %v", err))
	}

	logDecMode, err = cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		IndefLength:     cbor.IndefLengthForbidden,
		MaxNestedLevels: 8,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("log: cbor decoder mode: %v", err))
	}
}

// eventFields is Event without its CBOR methods.
type eventFields Event

// wireEvent overrides the timestamp key of the embedded fields.
type wireEvent struct {
	UnixNano int64 `cbor:"1,keyasint"`
	eventFields
}

// MarshalCBOR implements cbor.Marshaler.
func (e Event) MarshalCBOR() ([]byte, error) {
	w := wireEvent{eventFields: eventFields(e)}
	if !e.Timestamp.IsZero() {
		w.UnixNano = e.Timestamp.UnixNano()
	}
	return logEncMode.Marshal(w)
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (e *Event) UnmarshalCBOR(data []byte) error {
	var w wireEvent
	if err := logDecMode.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Event(w.eventFields)
	e.Timestamp = time.Time{}
	if w.UnixNano != 0 {
		e.Timestamp = time.Unix(0, w.UnixNano).UTC()
	}
	return nil
}

// EncodeEvent encodes an Event to CBOR bytes.
func EncodeEvent(event Event) ([]byte, error) {
	return logEncMode.Marshal(event)
}

// DecodeEvent decodes CBOR bytes into an Event.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := logDecMode.Unmarshal(data, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// NewEncoder creates a CBOR encoder for log events that writes to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return logEncMode.NewEncoder(w)
}

// NewDecoder creates a CBOR decoder for log events that reads from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return logDecMode.NewDecoder(r)
}
