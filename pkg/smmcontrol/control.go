package smmcontrol

import (
	"errors"
	"fmt"
	"math"

	"github.com/q35smm/smm-go/pkg/ich9"
	"github.com/q35smm/smm-go/pkg/log"
	"github.com/q35smm/smm-go/pkg/portio"
	"github.com/q35smm/smm-go/pkg/protocol"
)

// MinTriggerPeriod is the minimum supported trigger period. Periodic SMIs
// are not supported, so it is the largest representable period.
const MinTriggerPeriod uint64 = math.MaxUint64

// ErrUnsupportedMode is returned for periodic or delayed activation requests.
var ErrUnsupportedMode = errors.New("unsupported operation mode")

// ModeError reports a rejected activation mode.
type ModeError struct {
	// Op is the rejected operation ("trigger" or "clear").
	Op string

	// Status is the EFI-style status reported for the rejection.
	Status protocol.Status
}

func (e *ModeError) Error() string {
	return fmt.Sprintf("%s: %v (%s)", e.Op, ErrUnsupportedMode, e.Status)
}

// Unwrap makes errors.Is(err, ErrUnsupportedMode) hold.
func (e *ModeError) Unwrap() error { return ErrUnsupportedMode }

// StatusOf maps an error returned by Control to its EFI-style status.
func StatusOf(err error) protocol.Status {
	if err == nil {
		return protocol.StatusSuccess
	}
	var me *ModeError
	if errors.As(err, &me) {
		return me.Status
	}
	return protocol.StatusDeviceError
}

// OptionalByte is a byte that may be absent. The zero value is absent.
type OptionalByte struct {
	Value uint8
	Valid bool
}

// Byte returns a present OptionalByte holding v.
func Byte(v uint8) OptionalByte {
	return OptionalByte{Value: v, Valid: true}
}

// OrZero returns the value, or zero when absent.
func (o OptionalByte) OrZero() uint8 {
	if !o.Valid {
		return 0
	}
	return o.Value
}

// String returns the value in hex, or "-" when absent.
func (o OptionalByte) String() string {
	if !o.Valid {
		return "-"
	}
	return fmt.Sprintf("%#02x", o.Value)
}

// Control is the SMM control surface.
type Control interface {
	// Trigger raises an SMI, passing command and data to the SMI handler.
	Trigger(command, data OptionalByte, periodic bool, activationInterval uint64) error

	// Clear acknowledges software state created by Trigger.
	Clear(periodic bool) error

	// MinimumTriggerPeriod returns the minimum period of periodic SMIs.
	MinimumTriggerPeriod() uint64
}

// Driver implements Control on the ICH9 APM ports. It is created by
// Configure and immutable afterwards.
type Driver struct {
	port               portio.Port
	emit               *log.Emitter
	featureNegotiation bool
}

// Trigger raises an SMI. Only immediate, one-shot activation is supported.
func (d *Driver) Trigger(command, data OptionalByte, periodic bool, activationInterval uint64) error {
	if periodic || activationInterval > 0 {
		err := &ModeError{Op: "trigger", Status: protocol.StatusDeviceError}
		d.emitModeError(err)
		return err
	}

	// APM_STS is a scratchpad and does not raise anything; it must hold the
	// data before APM_CNT is written.
	d.port.Out8(ich9.APMSts, data.OrZero())
	d.port.Out8(ich9.APMCnt, command.OrZero())

	d.emit.SMI(log.PhaseRuntime, log.SMIEvent{Command: command.OrZero(), Data: data.OrZero()})
	return nil
}

// Clear validates its argument and does nothing else; the SMI source is
// deasserted on SMM entry.
func (d *Driver) Clear(periodic bool) error {
	if periodic {
		err := &ModeError{Op: "clear", Status: protocol.StatusInvalidParameter}
		d.emitModeError(err)
		return err
	}
	return nil
}

// MinimumTriggerPeriod returns MinTriggerPeriod.
func (d *Driver) MinimumTriggerPeriod() uint64 {
	return MinTriggerPeriod
}

// FeatureNegotiation returns the outcome of SMI feature negotiation recorded
// during configuration. It is informational; the driver does not act on it.
func (d *Driver) FeatureNegotiation() bool {
	return d.featureNegotiation
}

func (d *Driver) emitModeError(err *ModeError) {
	status := uint64(err.Status)
	d.emit.Error(log.PhaseRuntime, err, false, &status)
}

var _ Control = (*Driver)(nil)
