package log

import (
	"testing"
	"time"
)

// mockLogger records events for testing
type mockLogger struct {
	events []Event
}

func (m *mockLogger) Log(event Event) {
	m.events = append(m.events, event)
}

func TestMultiLoggerCallsAll(t *testing.T) {
	mock1 := &mockLogger{}
	mock2 := &mockLogger{}
	mock3 := &mockLogger{}

	multi := NewMultiLogger(mock1, nil, mock2, mock3)

	multi.Log(Event{Timestamp: time.Now(), SessionID: "boot-7", Category: CategoryState})

	for i, mock := range []*mockLogger{mock1, mock2, mock3} {
		if len(mock.events) != 1 {
			t.Errorf("logger %d: got %d events, want 1", i, len(mock.events))
			continue
		}
		if mock.events[0].SessionID != "boot-7" {
			t.Errorf("logger %d: SessionID = %q, want boot-7", i, mock.events[0].SessionID)
		}
	}
}

func TestMultiLoggerEmpty(t *testing.T) {
	multi := NewMultiLogger()
	multi.Log(Event{Timestamp: time.Now()})
}

func TestNoopLoggerDoesNotPanic(t *testing.T) {
	logger := NoopLogger{}
	logger.Log(Event{Timestamp: time.Now(), Access: &AccessEvent{}})
	logger.Log(Event{Timestamp: time.Now(), SMI: &SMIEvent{}})

	if _, ok := OrNoop(nil).(NoopLogger); !ok {
		t.Error("OrNoop(nil) did not return NoopLogger")
	}
}

func TestEmitterStampsEvents(t *testing.T) {
	rec := &mockLogger{}
	e := NewEmitter(rec, "", "configurator")

	if e.SessionID() == "" {
		t.Fatal("SessionID() is empty, want generated UUID")
	}

	e.Stage(PhaseInit, "read-smi-en", "0x0")
	e.WithSource("apm").SMI(PhaseRuntime, SMIEvent{Command: 1})

	if len(rec.events) != 2 {
		t.Fatalf("got %d events, want 2", len(rec.events))
	}
	first, second := rec.events[0], rec.events[1]
	if first.Timestamp.IsZero() {
		t.Error("Timestamp not stamped")
	}
	if first.SessionID != e.SessionID() || second.SessionID != e.SessionID() {
		t.Error("events do not share the emitter session")
	}
	if first.Source != "configurator" || second.Source != "apm" {
		t.Errorf("sources = %q, %q", first.Source, second.Source)
	}
	if first.Category != CategoryState || second.Category != CategorySMI {
		t.Errorf("categories = %v, %v", first.Category, second.Category)
	}
}

func TestNilEmitterIsSafe(t *testing.T) {
	var e *Emitter
	e.Stage(PhaseInit, "x", "")
	e.Access(PhaseInit, AccessEvent{})
	if e.SessionID() != "" {
		t.Error("nil emitter has a session")
	}
	if e.WithSource("x") != nil {
		t.Error("nil emitter WithSource returned non-nil")
	}
}

func TestEnumStrings(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{PhaseInit.String(), "INIT"},
		{PhaseRuntime.String(), "RUNTIME"},
		{Phase(9).String(), "UNKNOWN"},
		{CategoryAccess.String(), "ACCESS"},
		{CategorySMI.String(), "SMI"},
		{CategoryState.String(), "STATE"},
		{CategoryError.String(), "ERROR"},
		{SpaceIO.String(), "IO"},
		{SpacePCIConfig.String(), "PCI"},
		{DirectionRead.String(), "READ"},
		{DirectionWrite.String(), "WRITE"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("String() = %q, want %q", tt.got, tt.want)
		}
	}
}
