package session

import (
	"sync"

	"github.com/lokutor-ai/realtime-copilot/internal/logging"
)

// Supervisor owns the single Active session for the process (spec.md §4.2:
// at most one Active session at a time). Mutation of the current-session
// slot is guarded by mu so concurrent control operations serialize.
type Supervisor struct {
	mu      sync.Mutex
	current *Session
	logger  logging.Logger

	queueCapacity int
}

// NewSupervisor creates a Supervisor with no current session.
func NewSupervisor(logger logging.Logger, queueCapacity int) *Supervisor {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Supervisor{logger: logger, queueCapacity: queueCapacity}
}

// CreateSession stops any existing Active session (logged as a warning),
// then creates a new Session in state Created and installs it as current.
func (sup *Supervisor) CreateSession(mode Mode) *Session {
	sup.mu.Lock()
	defer sup.mu.Unlock()

	if sup.current != nil && sup.current.State() != StateStopped {
		sup.logger.Warn("replacing active session", "session_id", sup.current.ID)
		sup.current.Stop()
	}

	s := New(mode, sup.queueCapacity)
	sup.current = s
	return s
}

// Current returns the process's current session, or nil if none exists.
func (sup *Supervisor) Current() *Session {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	return sup.current
}

// StartSession transitions s Created -> Active. Only valid from Created;
// the connection handler is responsible for spawning and registering the
// pipeline tasks once this returns true.
func (sup *Supervisor) StartSession(s *Session) bool {
	return s.Start()
}

// StopSession stops s: idempotent, cancels and awaits every registered
// task.
func (sup *Supervisor) StopSession(s *Session) {
	s.Stop()
}

// DestroySession stops the session (if needed) and, if it is still the
// current session, releases the reference. A session that has already been
// superseded by a newer CreateSession call is left alone: stopping it here
// would be stopping whatever session is now current instead.
func (sup *Supervisor) DestroySession(id string) {
	sup.mu.Lock()
	var toStop *Session
	if sup.current != nil && sup.current.ID == id {
		toStop = sup.current
		sup.current = nil
	}
	sup.mu.Unlock()

	if toStop != nil {
		toStop.Stop()
	}
}

// Shutdown stops the current session, if any. Clearing the event plane is
// the caller's responsibility: the supervisor does not own the bus.
func (sup *Supervisor) Shutdown() {
	sup.mu.Lock()
	cur := sup.current
	sup.current = nil
	sup.mu.Unlock()

	if cur != nil {
		cur.Stop()
	}
}
