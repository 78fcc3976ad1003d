package log

import (
	"time"
)

// Event represents a captured chipset event.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies one boot of the driver (UUID).
	SessionID string `cbor:"2,keyasint"`

	// Phase is the driver lifecycle phase the event belongs to.
	Phase Phase `cbor:"3,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"4,keyasint"`

	// Source names the component that emitted the event.
	Source string `cbor:"5,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Access      *AccessEvent      `cbor:"10,keyasint,omitempty"`
	SMI         *SMIEvent         `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"13,keyasint,omitempty"`
}

// Phase indicates the driver lifecycle phase.
type Phase uint8

const (
	// PhaseInit covers the one-time configuration sequence.
	PhaseInit Phase = 0
	// PhaseRuntime covers calls made through the published surface.
	PhaseRuntime Phase = 1
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "INIT"
	case PhaseRuntime:
		return "RUNTIME"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryAccess indicates a register access.
	CategoryAccess Category = 0
	// CategorySMI indicates a raised SMI.
	CategorySMI Category = 1
	// CategoryState indicates a configuration stage change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryAccess:
		return "ACCESS"
	case CategorySMI:
		return "SMI"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Space identifies the address space of an access.
type Space uint8

const (
	// SpaceIO is the x86 I/O port space.
	SpaceIO Space = 0
	// SpacePCIConfig is PCI configuration space.
	SpacePCIConfig Space = 1
)

// String returns the space name.
func (s Space) String() string {
	switch s {
	case SpaceIO:
		return "IO"
	case SpacePCIConfig:
		return "PCI"
	default:
		return "UNKNOWN"
	}
}

// Direction indicates whether an access was a read or a write.
type Direction uint8

const (
	// DirectionRead indicates a register read.
	DirectionRead Direction = 0
	// DirectionWrite indicates a register write.
	DirectionWrite Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionRead:
		return "READ"
	case DirectionWrite:
		return "WRITE"
	default:
		return "UNKNOWN"
	}
}

// AccessEvent captures a single register access.
type AccessEvent struct {
	// Space is the address space accessed.
	Space Space `cbor:"1,keyasint"`

	// Direction is read or write.
	Direction Direction `cbor:"2,keyasint"`

	// Width is the access width in bytes (1, 2 or 4).
	Width uint8 `cbor:"3,keyasint"`

	// Address is the port number, or the encoded PCI address
	// (bus<<20 | device<<15 | function<<12 | offset).
	Address uint32 `cbor:"4,keyasint"`

	// Value is the value read or written.
	Value uint32 `cbor:"5,keyasint"`
}

// SMIEvent captures an SMI activation.
type SMIEvent struct {
	// Command is the byte written to the APM control port.
	Command uint8 `cbor:"1,keyasint"`

	// Data is the byte written to the APM scratch port.
	Data uint8 `cbor:"2,keyasint"`
}

// StateChangeEvent captures configurator stage transitions.
type StateChangeEvent struct {
	// Stage is the stage entered.
	Stage string `cbor:"1,keyasint"`

	// Detail carries stage-specific information (may be empty).
	Detail string `cbor:"2,keyasint,omitempty"`
}

// ErrorEventData captures errors.
type ErrorEventData struct {
	// Message is the error message.
	Message string `cbor:"1,keyasint"`

	// Fatal is set when the error halts the driver.
	Fatal bool `cbor:"2,keyasint,omitempty"`

	// Status is the EFI-style status code (if applicable).
	Status *uint64 `cbor:"3,keyasint,omitempty"`
}
