// Package interactive provides the interactive command-line interface
// for smm-control.
package interactive

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/q35smm/smm-go/pkg/ich9"
	"github.com/q35smm/smm-go/pkg/profile"
	"github.com/q35smm/smm-go/pkg/smmcontrol"
)

// ErrHalted is returned by Run when a reboot failed to configure SMM control.
var ErrHalted = errors.New("system halted")

// Config provides the shell with the configured control surface.
type Config struct {
	// Control is the published SMM control surface.
	Control smmcontrol.Control

	// Platform is the emulated machine; nil on real hardware.
	Platform *profile.Platform

	// Reboot resets the platform and runs the configurator again. Nil
	// disables the reset command.
	Reboot func() (smmcontrol.Control, error)
}

// Shell handles interactive mode for smm-control.
type Shell struct {
	cfg Config
	out io.Writer
	rl  *readline.Instance
}

// New creates a new interactive shell.
func New(cfg Config) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "smm> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	s := newShell(cfg, rl.Stdout())
	s.rl = rl
	return s, nil
}

func newShell(cfg Config, out io.Writer) *Shell {
	s := &Shell{cfg: cfg, out: out}
	if cfg.Platform != nil {
		cfg.Platform.Chipset.OnSMI(s.handleSMI)
	}
	return s
}

// Stdout returns a writer that properly coordinates with the readline input.
func (s *Shell) Stdout() io.Writer {
	return s.out
}

// Run starts the interactive command loop. It returns ErrHalted when a
// reboot failed; otherwise nil once the user quits.
func (s *Shell) Run() error {
	defer s.rl.Close()

	s.printHelp()

	for {
		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			return nil
		}

		quit, err := s.Execute(line)
		if err != nil {
			return err
		}
		if quit {
			return nil
		}
	}
}

// Execute runs one command line. It reports whether the shell should exit.
func (s *Shell) Execute(line string) (bool, error) {
	input := strings.TrimSpace(line)
	if input == "" {
		return false, nil
	}

	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()

	case "trigger", "t":
		s.cmdTrigger(args)

	case "periodic":
		s.cmdPeriodic(args)

	case "clear", "c":
		s.cmdClear(args)

	case "status", "s":
		s.cmdStatus()

	case "smis":
		s.cmdSMIs()

	case "reset":
		return false, s.cmdReset()

	case "quit", "exit", "q":
		fmt.Fprintln(s.out, "Exiting...")
		return true, nil

	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false, nil
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
SMM Control Commands:
  Activation:
    trigger <cmd> [data]       - Raise a software SMI (hex bytes)
    periodic <cmd> [interval]  - Request a periodic SMI (always rejected)
    clear [periodic]           - Clear the last activation

  Inspection:
    status                     - Show control and chipset state
    smis                       - List SMIs raised so far (emulated only)

  Platform:
    reset                      - Reset the platform and reconfigure (emulated only)

  General:
    help                       - Show this help
    quit                       - Exit`)
}

func (s *Shell) report(op string, err error) {
	if err != nil {
		fmt.Fprintf(s.out, "%s: %v [%s]\n", op, err, smmcontrol.StatusOf(err))
		return
	}
	fmt.Fprintf(s.out, "%s: %s\n", op, smmcontrol.StatusOf(nil))
}

func (s *Shell) cmdTrigger(args []string) {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(s.out, "Usage: trigger <cmd> [data]")
		return
	}
	command, err := ParseByte(args[0])
	if err != nil {
		fmt.Fprintf(s.out, "Invalid command: %v\n", err)
		return
	}
	var data smmcontrol.OptionalByte
	if len(args) == 2 {
		if data, err = ParseByte(args[1]); err != nil {
			fmt.Fprintf(s.out, "Invalid data: %v\n", err)
			return
		}
	}
	s.report("trigger", s.cfg.Control.Trigger(command, data, false, 0))
}

func (s *Shell) cmdPeriodic(args []string) {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(s.out, "Usage: periodic <cmd> [interval]")
		return
	}
	command, err := ParseByte(args[0])
	if err != nil {
		fmt.Fprintf(s.out, "Invalid command: %v\n", err)
		return
	}
	var interval uint64
	if len(args) == 2 {
		if interval, err = strconv.ParseUint(args[1], 10, 64); err != nil {
			fmt.Fprintf(s.out, "Invalid interval: %v\n", err)
			return
		}
	}
	s.report("trigger", s.cfg.Control.Trigger(command, smmcontrol.OptionalByte{}, true, interval))
}

func (s *Shell) cmdClear(args []string) {
	periodic := len(args) > 0 && strings.EqualFold(args[0], "periodic")
	s.report("clear", s.cfg.Control.Clear(periodic))
}

func (s *Shell) cmdStatus() {
	fmt.Fprintln(s.out, "SMM control:")
	if period := s.cfg.Control.MinimumTriggerPeriod(); period == smmcontrol.MinTriggerPeriod {
		fmt.Fprintln(s.out, "  Minimum trigger period: none (periodic SMIs unsupported)")
	} else {
		fmt.Fprintf(s.out, "  Minimum trigger period: %d\n", period)
	}
	if fn, ok := s.cfg.Control.(interface{ FeatureNegotiation() bool }); ok {
		fmt.Fprintf(s.out, "  Feature negotiation:    %t\n", fn.FeatureNegotiation())
	}

	pl := s.cfg.Platform
	if pl == nil {
		return
	}
	c := pl.Chipset
	smiEn := c.SMIEnable()
	fmt.Fprintln(s.out, "Chipset:")
	fmt.Fprintf(s.out, "  PMBASE:    0x%04x\n", c.PMBaseAddress())
	fmt.Fprintf(s.out, "  SMI_EN:    0x%08x (APMC_EN=%t GBL_SMI_EN=%t)\n", smiEn,
		smiEn&ich9.SMIEnAPMCEn != 0, smiEn&ich9.SMIEnGblSMIEn != 0)
	fmt.Fprintf(s.out, "  SMI_LOCK:  %t\n", c.SMILocked())
	if features, ok := c.NegotiatedFeatures(); ok {
		fmt.Fprintf(s.out, "  Features:  %s\n", strings.Join(profile.FeatureSet(features).Names(), ", "))
	} else {
		fmt.Fprintln(s.out, "  Features:  not negotiated")
	}
}

func (s *Shell) cmdSMIs() {
	pl := s.cfg.Platform
	if pl == nil {
		fmt.Fprintln(s.out, "SMI history is only available on the emulated platform")
		return
	}
	smis := pl.Chipset.SMIs()
	if len(smis) == 0 {
		fmt.Fprintln(s.out, "No SMIs raised")
		return
	}
	for _, smi := range smis {
		fmt.Fprintln(s.out, formatSMI(smi))
	}
}

func (s *Shell) cmdReset() error {
	if s.cfg.Reboot == nil {
		fmt.Fprintln(s.out, "Reset is only available on the emulated platform")
		return nil
	}
	control, err := s.cfg.Reboot()
	if err != nil {
		fmt.Fprintf(s.out, "Reboot failed: %v\n", err)
		return fmt.Errorf("%w: %w", ErrHalted, err)
	}
	s.cfg.Control = control
	fmt.Fprintln(s.out, "Platform reset, SMM control reconfigured")
	return nil
}

func (s *Shell) handleSMI(smi ich9.SMI) {
	fmt.Fprintf(s.out, "[SMI] %s\n", formatSMI(smi))
}

func formatSMI(smi ich9.SMI) string {
	line := fmt.Sprintf("#%d command=0x%02x data=0x%02x", smi.Seq, smi.Command, smi.Data)
	if smi.Broadcast {
		line += " broadcast"
	}
	return line
}
