// Command smm-control configures Q35/ICH9 software SMI generation and
// raises SMIs through the resulting control surface.
//
// It runs against an emulated platform described by a YAML profile, or
// against the running machine through /dev/port and sysfs.
//
// Usage:
//
//	smm-control [flags] [CMD[:DATA] ...]
//
// Flags:
//
//	-backend string       Platform backend: emulated, hardware (default "emulated")
//	-profile string       Builtin profile name or YAML path (emulated backend)
//	-list-profiles        List builtin profiles and exit
//	-strict               Reject APMC_EN without GBL_SMI_EN (standalone MM variant)
//	-protocol-log string  File path for event capture (CBOR format)
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-interactive          Start the interactive shell after configuration
//
// Each positional CMD[:DATA] argument is a pair of hex bytes triggered in
// order once configuration succeeded.
//
// Examples:
//
//	# Configure the default Q35 platform and raise SMI 0x42 with data 0x17
//	smm-control 42:17
//
//	# Reproduce a firmware bug where SMI_LOCK does not stick
//	smm-control -profile broken-lock -protocol-log boot.mlog
//
//	# Configure a real machine (requires root)
//	smm-control -backend hardware -strict
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/q35smm/smm-go/cmd/smm-control/interactive"
	"github.com/q35smm/smm-go/pkg/ich9"
	smmlog "github.com/q35smm/smm-go/pkg/log"
	"github.com/q35smm/smm-go/pkg/portio"
	"github.com/q35smm/smm-go/pkg/profile"
	"github.com/q35smm/smm-go/pkg/smifeatures"
	"github.com/q35smm/smm-go/pkg/smmcontrol"
)

var (
	backendName     = flag.String("backend", "emulated", "Platform backend: emulated, hardware")
	profilePath     = flag.String("profile", "", "Builtin profile name or YAML path (emulated backend)")
	listProfiles    = flag.Bool("list-profiles", false, "List builtin profiles and exit")
	devPort         = flag.String("devport", portio.DefaultDevPortPath, "I/O port device (hardware backend)")
	sysfsRoot       = flag.String("sysfs", portio.DefaultSysfsPCIRoot, "sysfs PCI device directory (hardware backend)")
	strict          = flag.Bool("strict", false, "Reject APMC_EN without GBL_SMI_EN (standalone MM variant)")
	protocolLog     = flag.String("protocol-log", "", "File path for event capture (CBOR format)")
	sessionID       = flag.String("session", "", "Session ID stamped on captured events (default: random UUID)")
	logLevel        = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	interactiveMode = flag.Bool("interactive", false, "Start the interactive shell after configuration")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	if *listProfiles {
		names, err := profile.BuiltinNames()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return 0
	}

	logger, err := setupLogging(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		return 1
	}

	// Validate triggers before touching any register.
	var triggers []trigger
	for _, arg := range flag.Args() {
		command, data, err := interactive.ParseTrigger(arg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", arg, err)
			return 1
		}
		triggers = append(triggers, trigger{command, data})
	}

	backend, err := openBackend()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer backend.Close()

	var fileLogger *smmlog.FileLogger
	if *protocolLog != "" {
		fileLogger, err = smmlog.NewFileLogger(*protocolLog)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create protocol logger: %v\n", err)
			return 1
		}
		defer fileLogger.Close()
		logger.Info("protocol logging", slog.String("path", *protocolLog))
	}
	trace := traceLogger(fileLogger, logger)

	session := *sessionID
	if session == "" {
		session = smmlog.NewSessionID()
	}

	cfg := controlConfig(backend, logger, trace, session)
	cfg.Halt = func(err error) {
		if fileLogger != nil {
			fileLogger.Sync()
			fileLogger.Close()
		}
		backend.Close()
		smmcontrol.HaltProcess(err)
	}

	logger.Info("configuring SMM control",
		slog.String("backend", backend.Name),
		slog.Bool("strict", cfg.StrictSMIEnable),
		slog.String("session", session))
	driver := smmcontrol.Init(cfg)
	if err := backend.Err(); err != nil {
		cfg.Halt(fmt.Errorf("register access failed during configuration: %w", err))
	}
	logger.Info("SMM control ready", slog.Bool("feature_negotiation", driver.FeatureNegotiation()))

	if pl := backend.Platform; pl != nil && !*interactiveMode {
		pl.Chipset.OnSMI(func(smi ich9.SMI) {
			logger.Info("SMI raised",
				slog.Uint64("seq", smi.Seq),
				slog.String("command", fmt.Sprintf("0x%02x", smi.Command)),
				slog.String("data", fmt.Sprintf("0x%02x", smi.Data)),
				slog.Bool("broadcast", smi.Broadcast))
		})
	}

	exit := runTriggers(driver, backend, triggers, logger)

	if *interactiveMode {
		if err := runShell(backend, driver, logger, trace, session); err != nil {
			cfg.Halt(err)
		}
	}
	return exit
}

type trigger struct{ command, data smmcontrol.OptionalByte }

// runTriggers raises one SMI per trigger and returns the process exit code.
func runTriggers(ctl smmcontrol.Control, b *Backend, triggers []trigger, logger *slog.Logger) int {
	for _, t := range triggers {
		err := ctl.Trigger(t.command, t.data, false, 0)
		if err == nil {
			err = b.Err()
		}
		if err != nil {
			logger.Error("trigger failed", slog.String("command", t.command.String()), slog.Any("error", err))
			return 1
		}
	}
	return 0
}

func openBackend() (*Backend, error) {
	switch *backendName {
	case "emulated":
		return NewEmulatedBackend(*profilePath)
	case "hardware":
		if *profilePath != "" {
			return nil, fmt.Errorf("-profile only applies to the emulated backend")
		}
		return NewHardwareBackend(*devPort, *sysfsRoot)
	default:
		return nil, fmt.Errorf("backend must be 'emulated' or 'hardware', got '%s'", *backendName)
	}
}

func controlConfig(b *Backend, logger *slog.Logger, trace smmlog.Logger, session string) smmcontrol.Config {
	return smmcontrol.Config{
		PCI:   b.PCI,
		Ports: b.Ports,
		Negotiator: &smifeatures.Negotiator{
			FwCfg:     b.FwCfg,
			Requested: b.Requested,
			Logger:    logger,
		},
		Publisher:       b.Publisher,
		StrictSMIEnable: b.Strict || *strict,
		Logger:          logger,
		Trace:           trace,
		SessionID:       session,
	}
}

func runShell(b *Backend, driver *smmcontrol.Driver, logger *slog.Logger, trace smmlog.Logger, session string) error {
	cfg := interactive.Config{
		Control:  driver,
		Platform: b.Platform,
	}
	if pl := b.Platform; pl != nil {
		cfg.Reboot = func() (smmcontrol.Control, error) {
			if err := pl.Reset(); err != nil {
				return nil, err
			}
			b.Publisher = pl.Database
			d, err := smmcontrol.Configure(controlConfig(b, logger, trace, session))
			if err != nil {
				return nil, err
			}
			return d, nil
		}
	}

	shell, err := interactive.New(cfg)
	if err != nil {
		return err
	}
	return shell.Run()
}

// traceLogger combines the capture file with the debug log. It returns nil
// when neither is enabled so tracing stays off.
func traceLogger(file *smmlog.FileLogger, logger *slog.Logger) smmlog.Logger {
	var loggers []smmlog.Logger
	// Only add when non-nil to avoid typed-nil interface issue.
	if file != nil {
		loggers = append(loggers, file)
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		loggers = append(loggers, smmlog.NewSlogAdapter(logger))
	}
	switch len(loggers) {
	case 0:
		return nil
	case 1:
		return loggers[0]
	}
	return smmlog.NewMultiLogger(loggers...)
}

func setupLogging(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger, nil
}
