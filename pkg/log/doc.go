// Package log provides structured capture of chipset register traffic.
//
// This package defines the Logger interface and Event types for recording
// every I/O port and PCI configuration access, every raised SMI and every
// configuration stage of the SMM control driver. It is separate from
// operational logging (slog): event capture is a complete machine-readable
// trace for debugging lock-down problems offline.
//
// # Basic Usage
//
// Components accept a Logger; pass nil or NoopLogger to disable capture:
//
//	// For development: log to console via slog
//	cfg.Trace = log.NewSlogAdapter(slog.Default())
//
//	// For offline analysis: write to binary file
//	cfg.Trace, _ = log.NewFileLogger("/var/log/smm/boot.mlog")
//
//	// Both: use MultiLogger
//	cfg.Trace = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
//   - Access: a single port or PCI config read/write (AccessEvent)
//   - SMI: an SMI raised through the APM control port (SMIEvent)
//   - State: a configurator stage transition (StateChangeEvent)
//   - Error: a fatal or caller-visible failure (ErrorEventData)
//
// # File Format
//
// Log files use CBOR encoding with .mlog extension. The smm-log CLI tool
// provides viewing, filtering and statistics.
package log
