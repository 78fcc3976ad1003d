package smmcontrol

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/q35smm/smm-go/pkg/ich9"
	"github.com/q35smm/smm-go/pkg/log"
	"github.com/q35smm/smm-go/pkg/portio"
	"github.com/q35smm/smm-go/pkg/protocol"
)

// Configuration errors. All of them are fatal.
var (
	ErrInvalidConfig          = errors.New("invalid SMM control configuration")
	ErrHardwareInconsistency  = errors.New("SMI hardware partially enabled")
	ErrLockVerificationFailed = errors.New("failed to lock down GBL_SMI_EN")
	ErrNegotiationFailed      = errors.New("SMI feature negotiation failed")
	ErrPublicationFailed      = errors.New("failed to publish SMM control protocol")
	ErrHaltReturned           = errors.New("halt function returned")
)

// Configuration stages, as reported in state change events.
const (
	StageLocate    = "locate"
	StageEnable    = "enable"
	StageLock      = "lock"
	StageVerify    = "verify"
	StageNegotiate = "negotiate"
	StagePublish   = "publish"
	StageReady     = "ready"
)

// ExitHalted is the process exit code used by HaltProcess.
const ExitHalted = 3

// Negotiator performs SMI feature negotiation. It reports whether
// negotiation took place; an error means it was attempted and failed.
type Negotiator interface {
	Negotiate() (bool, error)
}

// NegotiatorFunc adapts a function to Negotiator.
type NegotiatorFunc func() (bool, error)

// Negotiate calls f.
func (f NegotiatorFunc) Negotiate() (bool, error) { return f() }

// Config holds the platform services used by Configure.
type Config struct {
	// PCI provides access to LPC configuration space.
	PCI portio.PCIConfig

	// Ports provides access to the I/O port space.
	Ports portio.Port

	// Negotiator is invoked exactly once, after the lock has been verified.
	Negotiator Negotiator

	// Publisher receives the Driver under protocol.SMMControl2GUID.
	Publisher protocol.Publisher

	// StrictSMIEnable rejects an SMI_EN where APMC_EN is set but GBL_SMI_EN
	// is not. The standalone MM variant enables this; the traditional
	// variant tolerates that state and fixes it up.
	StrictSMIEnable bool

	// Logger receives diagnostics. Nil means slog.Default().
	Logger *slog.Logger

	// Trace receives access, stage and SMI events. Nil disables tracing.
	Trace log.Logger

	// SessionID is stamped on trace events. Empty generates one.
	SessionID string

	// Halt is called by Init on a fatal error. Nil means HaltProcess.
	Halt func(error)
}

func (c *Config) validate() error {
	switch {
	case c.PCI == nil:
		return fmt.Errorf("%w: no PCI config access", ErrInvalidConfig)
	case c.Ports == nil:
		return fmt.Errorf("%w: no I/O port access", ErrInvalidConfig)
	case c.Negotiator == nil:
		return fmt.Errorf("%w: no feature negotiator", ErrInvalidConfig)
	case c.Publisher == nil:
		return fmt.Errorf("%w: no protocol publisher", ErrInvalidConfig)
	}
	return nil
}

// Configure enables and locks SMI generation, negotiates SMI features and
// publishes the resulting Driver. On error nothing has been published and
// the platform must not continue booting.
func Configure(cfg Config) (*Driver, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	emit := log.NewEmitter(cfg.Trace, cfg.SessionID, "smm-control")
	pci, ports := cfg.PCI, cfg.Ports
	runtimePorts := cfg.Ports
	if cfg.Trace != nil {
		pci = portio.NewTracedPCI(cfg.PCI, emit, nil)
		ports = portio.NewTraced(cfg.Ports, emit, nil)
		runtimePorts = portio.NewTraced(cfg.Ports, emit, func() log.Phase { return log.PhaseRuntime })
	}

	fail := func(err error) (*Driver, error) {
		emit.Error(log.PhaseInit, err, true, nil)
		return nil, err
	}

	// PMBASE was programmed by an earlier boot stage.
	pmBase := uint16(pci.Read32(ich9.PMBase) & ich9.PMBaseMask)
	smiEnable := pmBase + ich9.PMBaseOfsSMIEn
	emit.Stage(log.PhaseInit, StageLocate, fmt.Sprintf("PMBASE=%#04x SMI_EN=%#04x", pmBase, smiEnable))
	logger.Debug("smm control: located SMI_EN",
		slog.String("pmbase", fmt.Sprintf("%#04x", pmBase)),
		slog.String("smi_en", fmt.Sprintf("%#04x", smiEnable)))

	val := ports.In32(smiEnable)
	if cfg.StrictSMIEnable && val&ich9.SMIEnAPMCEn != 0 && val&ich9.SMIEnGblSMIEn == 0 {
		return fail(fmt.Errorf("%w: SMI_EN=%#08x", ErrHardwareInconsistency, val))
	}

	val |= ich9.SMIEnAPMCEn | ich9.SMIEnGblSMIEn
	ports.Out32(smiEnable, val)
	emit.Stage(log.PhaseInit, StageEnable, fmt.Sprintf("SMI_EN=%#08x", val))

	genPMCon1 := portio.Or16(pci, ich9.GenPMCon1, ich9.GenPMCon1SMILock)
	emit.Stage(log.PhaseInit, StageLock, fmt.Sprintf("GEN_PMCON_1=%#04x", genPMCon1))

	// Once locked, GBL_SMI_EN must survive an attempt to clear it.
	ports.Out32(smiEnable, val&^ich9.SMIEnGblSMIEn)
	if got := ports.In32(smiEnable); got != val {
		return fail(fmt.Errorf("%w: SMI_EN=%#08x, want %#08x", ErrLockVerificationFailed, got, val))
	}
	emit.Stage(log.PhaseInit, StageVerify, "locked")

	negotiated, err := cfg.Negotiator.Negotiate()
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrNegotiationFailed, err))
	}
	emit.Stage(log.PhaseInit, StageNegotiate, fmt.Sprintf("negotiated=%t", negotiated))

	d := &Driver{
		port:               runtimePorts,
		emit:               emit,
		featureNegotiation: negotiated,
	}
	if err := cfg.Publisher.InstallProtocol(protocol.SMMControl2GUID, d); err != nil {
		return fail(fmt.Errorf("%w: %w", ErrPublicationFailed, err))
	}
	emit.Stage(log.PhaseInit, StagePublish, protocol.SMMControl2GUID.String())
	emit.Stage(log.PhaseRuntime, StageReady, "")

	logger.Debug("smm control: ready", slog.Bool("feature_negotiation", negotiated))
	return d, nil
}

// Init runs Configure and halts on failure. When the halt function returns,
// Init panics rather than continue with an unconfigured platform.
func Init(cfg Config) *Driver {
	d, err := Configure(cfg)
	if err == nil {
		return d
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("smm control: fatal", slog.Any("error", err))

	halt := cfg.Halt
	if halt == nil {
		halt = HaltProcess
	}
	halt(err)
	panic(fmt.Errorf("%w: %w", ErrHaltReturned, err))
}

var osExit = os.Exit

// HaltProcess prints err and terminates the process with ExitHalted.
func HaltProcess(err error) {
	fmt.Fprintf(os.Stderr, "\n-----------------------------------\n")
	fmt.Fprintf(os.Stderr, "SMM control: %v\n", err)
	fmt.Fprintf(os.Stderr, "*** system halted ***\n")
	osExit(ExitHalted)
}
