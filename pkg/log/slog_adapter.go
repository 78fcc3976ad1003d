package log

import (
	"context"
	"fmt"
	"log/slog"
)

// SlogAdapter writes events to an slog.Logger.
// Useful for development when you want to see register traffic in the console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("session", event.SessionID),
		slog.String("phase", event.Phase.String()),
		slog.String("category", event.Category.String()),
	}
	if event.Source != "" {
		attrs = append(attrs, slog.String("source", event.Source))
	}

	switch {
	case event.Access != nil:
		attrs = append(attrs,
			slog.String("space", event.Access.Space.String()),
			slog.String("dir", event.Access.Direction.String()),
			slog.Int("width", int(event.Access.Width)),
			slog.String("addr", fmt.Sprintf("%#x", event.Access.Address)),
			slog.String("value", fmt.Sprintf("%#x", event.Access.Value)),
		)
	case event.SMI != nil:
		attrs = append(attrs,
			slog.String("command", fmt.Sprintf("%#02x", event.SMI.Command)),
			slog.String("data", fmt.Sprintf("%#02x", event.SMI.Data)),
		)
	case event.StateChange != nil:
		attrs = append(attrs, slog.String("stage", event.StateChange.Stage))
		if event.StateChange.Detail != "" {
			attrs = append(attrs, slog.String("detail", event.StateChange.Detail))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_msg", event.Error.Message),
			slog.Bool("fatal", event.Error.Fatal),
		)
		if event.Error.Status != nil {
			attrs = append(attrs, slog.Uint64("status", *event.Error.Status))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "smm", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
