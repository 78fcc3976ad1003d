package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func decodeSlog(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	if buf.Len() == 0 {
		t.Fatal("no output produced")
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	return entry
}

func newJSONAdapter(buf *bytes.Buffer) *SlogAdapter {
	handler := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return NewSlogAdapter(slog.New(handler))
}

func TestSlogAdapterLogsAccessEvent(t *testing.T) {
	var buf bytes.Buffer
	adapter := newJSONAdapter(&buf)

	adapter.Log(Event{
		Timestamp: time.Now(),
		SessionID: "boot-1",
		Phase:     PhaseInit,
		Category:  CategoryAccess,
		Source:    "io",
		Access: &AccessEvent{
			Space:     SpaceIO,
			Direction: DirectionRead,
			Width:     4,
			Address:   0x630,
			Value:     0x20,
		},
	})

	entry := decodeSlog(t, &buf)
	checks := map[string]any{
		"session":  "boot-1",
		"phase":    "INIT",
		"category": "ACCESS",
		"source":   "io",
		"space":    "IO",
		"dir":      "READ",
		"addr":     "0x630",
		"value":    "0x20",
	}
	for k, want := range checks {
		if entry[k] != want {
			t.Errorf("%s: got %v, want %v", k, entry[k], want)
		}
	}
}

func TestSlogAdapterLogsSMIEvent(t *testing.T) {
	var buf bytes.Buffer
	adapter := newJSONAdapter(&buf)

	adapter.Log(Event{
		Timestamp: time.Now(),
		Phase:     PhaseRuntime,
		Category:  CategorySMI,
		SMI:       &SMIEvent{Command: 0x42, Data: 0x17},
	})

	entry := decodeSlog(t, &buf)
	if entry["command"] != "0x42" {
		t.Errorf("command: got %v, want 0x42", entry["command"])
	}
	if entry["data"] != "0x17" {
		t.Errorf("data: got %v, want 0x17", entry["data"])
	}
	if _, ok := entry["broadcast"]; ok {
		t.Errorf("unexpected broadcast attribute: %v", entry["broadcast"])
	}
}

func TestSlogAdapterLogsErrorEvent(t *testing.T) {
	var buf bytes.Buffer
	adapter := newJSONAdapter(&buf)

	e := NewEmitter(adapter, "s", "smmcontrol")
	e.Error(PhaseInit, errors.New("lock failed"), true, nil)

	entry := decodeSlog(t, &buf)
	if entry["error_msg"] != "lock failed" {
		t.Errorf("error_msg: got %v", entry["error_msg"])
	}
	if entry["fatal"] != true {
		t.Errorf("fatal: got %v, want true", entry["fatal"])
	}
}

func TestSlogAdapterRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	adapter := NewSlogAdapter(slog.New(handler))

	adapter.Log(Event{Timestamp: time.Now(), Category: CategoryState,
		StateChange: &StateChangeEvent{Stage: "read"}})

	if buf.Len() != 0 {
		t.Errorf("expected no output at Info level, got %q", buf.String())
	}
}
