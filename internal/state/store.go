package state

import (
	"sync"
	"time"
)

// ActionOutcome summarises the last lifecycle action attempt.
type ActionOutcome struct {
	State    DesiredState
	RunID    string
	Success  bool
	ExitCode int
	Error    string
	At       time.Time
	Duration time.Duration
}

// Snapshot is the observer view of the most recent iteration.
type Snapshot struct {
	ServerName     string
	Threshold      int
	ClientCount    int
	FetchError     string
	Desired        DesiredState
	LastState      DesiredState
	Suppressed     bool
	LastAction     *ActionOutcome
	LastLoopError  string
	IterationAt    time.Time
	NextCheckAt    time.Time
	Iterations     uint64
	FetchFailures  uint64
	MirrorFailures uint64
	Suppressions   uint64
	LoopErrors     uint64
	Actions        map[ActionKey]uint64
}

// ActionKey labels the action counters.
type ActionKey struct {
	State   DesiredState
	Success bool
}

// Store is a thread-safe holder of the latest Snapshot.
// The control loop writes it; metrics and the UI only read it.
type Store struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewStore creates a store seeded with the static parts of the snapshot.
func NewStore(serverName string, threshold int) *Store {
	return &Store{snap: Snapshot{
		ServerName: serverName,
		Threshold:  threshold,
		Desired:    StateUnknown,
		LastState:  StateUnknown,
		Actions:    make(map[ActionKey]uint64),
	}}
}

// IterationUpdate carries everything one iteration reports.
type IterationUpdate struct {
	At          time.Time
	ClientCount int
	FetchErr    error
	MirrorErr   error
	Desired     DesiredState
	LastState   DesiredState
	Suppressed  bool
	Action      *ActionOutcome
	LoopErr     error
}

// RecordIteration folds one iteration into the snapshot and counters.
func (s *Store) RecordIteration(u IterationUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Iterations++
	s.snap.IterationAt = u.At
	s.snap.ClientCount = u.ClientCount
	s.snap.Desired = u.Desired
	s.snap.LastState = u.LastState
	s.snap.Suppressed = u.Suppressed

	s.snap.FetchError = ""
	if u.FetchErr != nil {
		s.snap.FetchFailures++
		s.snap.FetchError = u.FetchErr.Error()
	}
	if u.MirrorErr != nil {
		s.snap.MirrorFailures++
	}
	if u.Suppressed {
		s.snap.Suppressions++
	}
	if u.Action != nil {
		outcome := *u.Action
		s.snap.LastAction = &outcome
		s.snap.Actions[ActionKey{State: outcome.State, Success: outcome.Success}]++
	}
	s.snap.LastLoopError = ""
	if u.LoopErr != nil {
		s.snap.LoopErrors++
		s.snap.LastLoopError = u.LoopErr.Error()
	}
}

// SetNextCheck records when the loop will wake up next.
func (s *Store) SetNextCheck(at time.Time) {
	s.mu.Lock()
	s.snap.NextCheckAt = at
	s.mu.Unlock()
}

// GetSnapshot returns a copy safe to use without holding the lock.
func (s *Store) GetSnapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clone := s.snap
	clone.Actions = make(map[ActionKey]uint64, len(s.snap.Actions))
	for k, v := range s.snap.Actions {
		clone.Actions[k] = v
	}
	if s.snap.LastAction != nil {
		outcome := *s.snap.LastAction
		clone.LastAction = &outcome
	}
	return clone
}
