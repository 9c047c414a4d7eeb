package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"courtbot/internal/domain"
)

// StatusStore is the single home of mutable run state. Every writer goes
// through it, so a status can only ever move idle -> running -> terminal,
// never skipping running and never regressing out of a terminal state
// within the same run.
type StatusStore struct {
	mu    sync.Mutex
	byID  map[string]domain.RunStatus
	clock func() time.Time
}

func NewStatusStore(clock func() time.Time) *StatusStore {
	if clock == nil {
		clock = time.Now
	}
	return &StatusStore{byID: map[string]domain.RunStatus{}, clock: clock}
}

func (s *StatusStore) Get(configID string) (domain.RunStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byID[configID]
	return st, ok
}

// All returns a snapshot of every known status.
func (s *StatusStore) All() []domain.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RunStatus, 0, len(s.byID))
	for _, st := range s.byID {
		out = append(out, st)
	}
	return out
}

// MarkRunning transitions a config to running. A config already running
// is rejected; the caller must not spawn a second run.
func (s *StatusStore) MarkRunning(configID string) (domain.RunStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.byID[configID]
	if st.State == domain.StateRunning {
		return st, fmt.Errorf("config %s is already running", configID)
	}
	st.ConfigID = configID
	st.State = domain.StateRunning
	st.Reason = ""
	st.UpdatedAt = s.clock()
	s.byID[configID] = st
	return st, nil
}

// MarkResult lands a running config on its terminal state. Rejected when
// the config is not running (for example after an emergency abort already
// finalized it).
func (s *StatusStore) MarkResult(configID string, success bool, reason string) (domain.RunStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byID[configID]
	if !ok || st.State != domain.StateRunning {
		return st, fmt.Errorf("config %s is not running (state %q)", configID, st.State)
	}
	now := s.clock()
	if success {
		st.State = domain.StateSuccess
		st.Reason = ""
		st.LastSuccess = now
	} else {
		st.State = domain.StateFailed
		st.Reason = reason
		st.LastFailure = now
	}
	st.UpdatedAt = now
	s.byID[configID] = st
	return st, nil
}

// AbortRunning force-fails every running config and returns the affected
// statuses. Used by emergency cleanup on shutdown.
func (s *StatusStore) AbortRunning(reason string) []domain.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	var aborted []domain.RunStatus
	for id, st := range s.byID {
		if st.State != domain.StateRunning {
			continue
		}
		st.State = domain.StateFailed
		st.Reason = reason
		st.LastFailure = now
		st.UpdatedAt = now
		s.byID[id] = st
		aborted = append(aborted, st)
	}
	return aborted
}

// Counts reports how many configs are running / succeeded / failed.
func (s *StatusStore) Counts() (running, succeeded, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.byID {
		switch st.State {
		case domain.StateRunning:
			running++
		case domain.StateSuccess:
			succeeded++
		case domain.StateFailed:
			failed++
		}
	}
	return
}
