package log

import (
	"time"

	"github.com/google/uuid"
)

// Emitter stamps events with a session ID, source name and timestamp
// before handing them to a Logger. The zero value discards events.
type Emitter struct {
	logger    Logger
	sessionID string
	source    string
	now       func() time.Time
}

// NewEmitter creates an Emitter for the given session and source.
// An empty sessionID is replaced by a freshly generated UUID.
func NewEmitter(logger Logger, sessionID, source string) *Emitter {
	if sessionID == "" {
		sessionID = NewSessionID()
	}
	return &Emitter{
		logger:    OrNoop(logger),
		sessionID: sessionID,
		source:    source,
		now:       time.Now,
	}
}

// NewSessionID returns a new random session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// SessionID returns the session identifier stamped on events.
func (e *Emitter) SessionID() string {
	if e == nil {
		return ""
	}
	return e.sessionID
}

// WithSource returns an Emitter sharing the session but with a different source.
func (e *Emitter) WithSource(source string) *Emitter {
	if e == nil {
		return nil
	}
	c := *e
	c.source = source
	return &c
}

// Emit stamps and logs the event.
func (e *Emitter) Emit(event Event) {
	if e == nil || e.logger == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	event.SessionID = e.sessionID
	if event.Source == "" {
		event.Source = e.source
	}
	e.logger.Log(event)
}

// Access logs a register access.
func (e *Emitter) Access(phase Phase, a AccessEvent) {
	e.Emit(Event{Phase: phase, Category: CategoryAccess, Access: &a})
}

// Stage logs a configuration stage transition.
func (e *Emitter) Stage(phase Phase, stage, detail string) {
	e.Emit(Event{
		Phase:       phase,
		Category:    CategoryState,
		StateChange: &StateChangeEvent{Stage: stage, Detail: detail},
	})
}

// SMI logs a raised SMI.
func (e *Emitter) SMI(phase Phase, s SMIEvent) {
	e.Emit(Event{Phase: phase, Category: CategorySMI, SMI: &s})
}

// Error logs an error.
func (e *Emitter) Error(phase Phase, err error, fatal bool, status *uint64) {
	if err == nil {
		return
	}
	e.Emit(Event{
		Phase:    phase,
		Category: CategoryError,
		Error:    &ErrorEventData{Message: err.Error(), Fatal: fatal, Status: status},
	})
}
