package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/q35smm/smm-go/pkg/log"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents      int
	EventsByPhase    map[log.Phase]int
	EventsByCategory map[log.Category]int
	AccessesBySpace  map[log.Space]int
	Writes           int
	SMIsByCommand    map[uint8]int
	Sessions         map[string]*SessionStats
	Errors           int
	FatalErrors      int
	TimeRange        struct {
		Start time.Time
		End   time.Time
	}
}

// SessionStats holds statistics for a single driver session.
type SessionStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	SMIs      int
	LastStage string
	Fatal     string
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByPhase:    make(map[log.Phase]int),
		EventsByCategory: make(map[log.Category]int),
		AccessesBySpace:  make(map[log.Space]int),
		SMIsByCommand:    make(map[uint8]int),
		Sessions:         make(map[string]*SessionStats),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}

	printStats(w, stats)
	return nil
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByPhase[event.Phase]++
	s.EventsByCategory[event.Category]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	sess, ok := s.Sessions[event.SessionID]
	if !ok {
		sess = &SessionStats{
			FirstSeen: event.Timestamp,
			LastSeen:  event.Timestamp,
		}
		s.Sessions[event.SessionID] = sess
	}
	sess.Events++
	if event.Timestamp.After(sess.LastSeen) {
		sess.LastSeen = event.Timestamp
	}

	switch {
	case event.Access != nil:
		s.AccessesBySpace[event.Access.Space]++
		if event.Access.Direction == log.DirectionWrite {
			s.Writes++
		}
	case event.SMI != nil:
		s.SMIsByCommand[event.SMI.Command]++
		sess.SMIs++
	case event.StateChange != nil:
		sess.LastStage = event.StateChange.Stage
	case event.Error != nil:
		s.Errors++
		if event.Error.Fatal {
			s.FatalErrors++
			sess.Fatal = event.Error.Message
		}
	}
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== SMM Control Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Millisecond))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Phase:")
	for _, phase := range []log.Phase{log.PhaseInit, log.PhaseRuntime} {
		if count := stats.EventsByPhase[phase]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", phase.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryAccess, log.CategorySMI, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	if len(stats.AccessesBySpace) > 0 {
		fmt.Fprintln(w, "Accesses by Space:")
		for _, space := range []log.Space{log.SpaceIO, log.SpacePCIConfig} {
			if count := stats.AccessesBySpace[space]; count > 0 {
				fmt.Fprintf(w, "  %-12s %d\n", space.String()+":", count)
			}
		}
		fmt.Fprintf(w, "  %-12s %d\n", "writes:", stats.Writes)
		fmt.Fprintln(w)
	}

	if len(stats.SMIsByCommand) > 0 {
		cmds := make([]int, 0, len(stats.SMIsByCommand))
		for c := range stats.SMIsByCommand {
			cmds = append(cmds, int(c))
		}
		sort.Ints(cmds)

		fmt.Fprintln(w, "SMIs by Command:")
		for _, c := range cmds {
			fmt.Fprintf(w, "  0x%02x:        %d\n", c, stats.SMIsByCommand[uint8(c)])
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Sessions: %d\n", len(stats.Sessions))
	if len(stats.Sessions) > 0 {
		type sessionInfo struct {
			id    string
			stats *SessionStats
		}
		sessions := make([]sessionInfo, 0, len(stats.Sessions))
		for id, ss := range stats.Sessions {
			sessions = append(sessions, sessionInfo{id, ss})
		}
		sort.Slice(sessions, func(i, j int) bool {
			return sessions[i].stats.FirstSeen.Before(sessions[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, s := range sessions {
			duration := s.stats.LastSeen.Sub(s.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, %d SMIs, duration %s\n",
				shortenSessionID(s.id), s.stats.Events, s.stats.SMIs, duration)
			if s.stats.LastStage != "" {
				fmt.Fprintf(w, "           Stage: %s\n", s.stats.LastStage)
			}
			if s.stats.Fatal != "" {
				fmt.Fprintf(w, "           Halted: %s\n", s.stats.Fatal)
			}
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d (%d fatal)\n", stats.Errors, stats.FatalErrors)
	}
}
