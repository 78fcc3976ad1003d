// Package commands implements the smm-log CLI commands.
package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/q35smm/smm-go/pkg/log"
	"github.com/q35smm/smm-go/pkg/protocol"
)

// ViewOptions holds the raw filter flags shared by view, export and filter.
type ViewOptions struct {
	Session   string
	Phase     string
	Category  string
	Space     string
	TimeStart string
	TimeEnd   string
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [session:id] PHASE source Type
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	session := shortenSessionID(event.SessionID)

	var typeLabel string
	switch {
	case event.Access != nil:
		typeLabel = fmt.Sprintf("%s %s", event.Access.Space, event.Access.Direction)
	case event.SMI != nil:
		typeLabel = "SMI"
	case event.StateChange != nil:
		typeLabel = "Stage"
	case event.Error != nil:
		typeLabel = "Error"
	default:
		typeLabel = "Unknown"
	}

	source := event.Source
	if source == "" {
		source = "-"
	}
	fmt.Fprintf(w, "%s [session:%s] %-7s %s %s\n", ts, session, event.Phase, source, typeLabel)

	switch {
	case event.Access != nil:
		formatAccessDetails(w, event.Access)
	case event.SMI != nil:
		formatSMIDetails(w, event.SMI)
	case event.StateChange != nil:
		formatStageDetails(w, event.StateChange)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w) // Blank line between events
}

// shortenSessionID returns the first 8 characters of the session ID.
func shortenSessionID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatAccessDetails(w io.Writer, a *log.AccessEvent) {
	digits := int(a.Width) * 2
	switch a.Space {
	case log.SpacePCIConfig:
		fmt.Fprintf(w, "  Address: %s\n", formatPCIAddress(a.Address))
	default:
		fmt.Fprintf(w, "  Port: 0x%04x\n", a.Address)
	}
	fmt.Fprintf(w, "  Value: 0x%0*x (%d bytes)\n", digits, a.Value, a.Width)
}

// formatPCIAddress renders an encoded bus<<20|dev<<15|fn<<12|off address.
func formatPCIAddress(addr uint32) string {
	bus := (addr >> 20) & 0xff
	dev := (addr >> 15) & 0x1f
	fn := (addr >> 12) & 0x7
	off := addr & 0xfff
	return fmt.Sprintf("%02x:%02x.%d+0x%02x", bus, dev, fn, off)
}

func formatSMIDetails(w io.Writer, s *log.SMIEvent) {
	fmt.Fprintf(w, "  Command: 0x%02x  Data: 0x%02x\n", s.Command, s.Data)
}

func formatStageDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  -> %s\n", sc.Stage)
	if sc.Detail != "" {
		fmt.Fprintf(w, "  %s\n", sc.Detail)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Fatal {
		fmt.Fprintln(w, "  Fatal: yes")
	}
	if err.Status != nil {
		fmt.Fprintf(w, "  Status: %s\n", protocol.Status(*err.Status))
	}
}

// ParsePhaseFlag parses a phase string from command-line flag (case-insensitive).
func ParsePhaseFlag(s string) (log.Phase, error) {
	switch strings.ToLower(s) {
	case "init":
		return log.PhaseInit, nil
	case "runtime":
		return log.PhaseRuntime, nil
	default:
		return 0, fmt.Errorf("invalid phase: %s (must be init or runtime)", s)
	}
}

// ParseCategoryFlag parses a category string from command-line flag (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "access":
		return log.CategoryAccess, nil
	case "smi":
		return log.CategorySMI, nil
	case "state", "stage":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be access, smi, state, or error)", s)
	}
}

// ParseSpaceFlag parses an address space string from command-line flag (case-insensitive).
func ParseSpaceFlag(s string) (log.Space, error) {
	switch strings.ToLower(s) {
	case "io":
		return log.SpaceIO, nil
	case "pci":
		return log.SpacePCIConfig, nil
	default:
		return 0, fmt.Errorf("invalid space: %s (must be io or pci)", s)
	}
}

// BuildFilter converts the raw flags into a log.Filter.
func BuildFilter(opts ViewOptions) (log.Filter, error) {
	filter := log.Filter{SessionID: opts.Session}

	if opts.Phase != "" {
		p, err := ParsePhaseFlag(opts.Phase)
		if err != nil {
			return filter, err
		}
		filter.Phase = &p
	}
	if opts.Category != "" {
		c, err := ParseCategoryFlag(opts.Category)
		if err != nil {
			return filter, err
		}
		filter.Category = &c
	}
	if opts.Space != "" {
		s, err := ParseSpaceFlag(opts.Space)
		if err != nil {
			return filter, err
		}
		filter.Space = &s
	}
	if err := parseTimeRange(&filter, opts.TimeStart, opts.TimeEnd); err != nil {
		return filter, err
	}
	return filter, nil
}

// RunView executes the view command.
func RunView(path string, filter log.Filter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}

	return nil
}
