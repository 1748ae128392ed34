// Package store is the in-memory, process-local registry of jobs and
// batches: every mutator is atomic with respect to readers, and per-state
// index sets give O(1) status-filtered listing.
package store

import (
	"sync"
	"time"
)

// State is a job's position in the pipeline state machine.
type State int

const (
	Pending State = iota
	Preparing
	Transcribing
	Merging
	Completed
	Failed
	Cancelled
)

// IsTerminal reports whether s is one of the three terminal states.
func (s State) IsTerminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Preparing:
		return "preparing"
	case Transcribing:
		return "transcribing"
	case Merging:
		return "merging"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ErrInvalidTransition is returned by Transition when the requested move
// violates the state machine (including any attempt to leave a terminal
// state).
type ErrInvalidTransition struct {
	From State
	To   State
}

func (e *ErrInvalidTransition) Error() string {
	return "invalid transition from " + e.From.String() + " to " + e.To.String()
}

// ErrNotFound is returned by Get/GetBatch when the id is unknown.
type ErrNotFound struct{ ID string }

func (e *ErrNotFound) Error() string { return "not found: " + e.ID }

// allowedTransitions enumerates the legal edges of the per-job state
// machine (§4.7). Cancellation is allowed from any non-terminal state.
var allowedTransitions = map[State][]State{
	Pending:      {Preparing, Cancelled, Failed},
	Preparing:    {Transcribing, Failed, Cancelled},
	Transcribing: {Merging, Failed, Cancelled},
	Merging:      {Completed, Failed, Cancelled},
}

func isAllowed(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Record is the stored representation of a job. Fields mirror the spec's
// Job type plus the ambient operational fields (§3).
type Record struct {
	JobID    string
	BatchID  string
	State    State
	Progress int

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	EffectiveDevice string
	RetryCount      int
	CleanupList     []string

	Error *JobError
}

// JobError records why a job failed.
type JobError struct {
	Kind    string
	Message string
}

// Copy returns a value copy safe for callers to hold onto without racing
// the store's mutations.
func (r Record) Copy() Record {
	cp := r
	if r.StartedAt != nil {
		t := *r.StartedAt
		cp.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	cp.CleanupList = append([]string(nil), r.CleanupList...)
	return cp
}

// BatchRecord aggregates counters over a set of jobs submitted together.
type BatchRecord struct {
	BatchID     string
	JobIDs      []string
	Total       int
	Pending     int
	Completed   int
	Failed      int
	CompletedAt *time.Time
}

// Copy returns a value copy.
func (b BatchRecord) Copy() BatchRecord {
	cp := b
	cp.JobIDs = append([]string(nil), b.JobIDs...)
	return cp
}

// Stats summarizes the store's contents, grounded on
// original_source/core/engine.py's stats dict shape.
type Stats struct {
	ByState               map[State]int
	TotalProcessed        int
	TotalSuccess          int
	TotalFailed           int
	AverageProcessingSecs float64
}

// Filter narrows List to jobs in a given state. A zero-value Filter with
// Any=true matches every job.
type Filter struct {
	State State
	Any   bool
}

// Store is the in-memory job/batch registry.
type Store struct {
	mu sync.RWMutex

	jobs    map[string]*Record
	batches map[string]*BatchRecord
	byState map[State]map[string]struct{}

	totalProcessed  int
	totalSuccess    int
	totalFailed     int
	totalProcessSec float64

	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		jobs:    make(map[string]*Record),
		batches: make(map[string]*BatchRecord),
		byState: make(map[State]map[string]struct{}),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateJob inserts a new Pending record and returns it.
func (s *Store) CreateJob(jobID, batchID string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &Record{JobID: jobID, BatchID: batchID, State: Pending, CreatedAt: s.now()}
	s.jobs[jobID] = rec
	s.indexLocked(jobID, Pending)
	return rec.Copy()
}

// CreateBatch inserts a new batch aggregating jobIDs.
func (s *Store) CreateBatch(batchID string, jobIDs []string) BatchRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &BatchRecord{BatchID: batchID, JobIDs: append([]string(nil), jobIDs...), Total: len(jobIDs), Pending: len(jobIDs)}
	s.batches[batchID] = rec
	return rec.Copy()
}

// Get returns a consistent snapshot of jobID's record.
func (s *Store) Get(jobID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return Record{}, &ErrNotFound{ID: jobID}
	}
	return rec.Copy(), nil
}

// GetBatch returns a consistent snapshot of batchID's record.
func (s *Store) GetBatch(batchID string) (BatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.batches[batchID]
	if !ok {
		return BatchRecord{}, &ErrNotFound{ID: batchID}
	}
	return rec.Copy(), nil
}

// List returns every job matching filter, in no particular order.
func (s *Store) List(filter Filter, limit, offset int) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids map[string]struct{}
	if filter.Any {
		ids = make(map[string]struct{}, len(s.jobs))
		for id := range s.jobs {
			ids[id] = struct{}{}
		}
	} else {
		ids = s.byState[filter.State]
	}

	out := make([]Record, 0, len(ids))
	for id := range ids {
		out = append(out, s.jobs[id].Copy())
	}

	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// Transition moves jobID to newState, enforcing the state machine, and
// applies the given field mutation (may be nil). Returns ErrInvalidTransition
// if the move is not legal, including any attempt to leave a terminal state.
func (s *Store) Transition(jobID string, newState State, mutate func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return &ErrNotFound{ID: jobID}
	}
	if !isAllowed(rec.State, newState) {
		return &ErrInvalidTransition{From: rec.State, To: newState}
	}

	oldState := rec.State
	rec.State = newState
	if newState == Preparing && rec.StartedAt == nil {
		t := s.now()
		rec.StartedAt = &t
	}
	if newState.IsTerminal() {
		t := s.now()
		rec.CompletedAt = &t
		s.recordTerminalLocked(rec)
	}
	if mutate != nil {
		mutate(rec)
	}

	delete(s.byState[oldState], jobID)
	s.indexLocked(jobID, newState)

	if rec.BatchID != "" {
		s.updateBatchCountersLocked(rec.BatchID, oldState, newState)
	}

	return nil
}

// Mutate applies fn to jobID's record without changing its state, for
// ambient fields (like EffectiveDevice) set mid-state rather than at a
// transition boundary.
func (s *Store) Mutate(jobID string, fn func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return &ErrNotFound{ID: jobID}
	}
	fn(rec)
	return nil
}

// IncrementProgress clamps percent to [0,100] and enforces monotonicity:
// progress never moves backward.
func (s *Store) IncrementProgress(jobID string, percent int, phase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return &ErrNotFound{ID: jobID}
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent > rec.Progress {
		rec.Progress = percent
	}
	return nil
}

// SnapshotStats returns process-wide counters.
func (s *Store) SnapshotStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byState := make(map[State]int, len(s.byState))
	for st, ids := range s.byState {
		byState[st] = len(ids)
	}

	avg := 0.0
	if s.totalProcessed > 0 {
		avg = s.totalProcessSec / float64(s.totalProcessed)
	}

	return Stats{
		ByState:               byState,
		TotalProcessed:        s.totalProcessed,
		TotalSuccess:          s.totalSuccess,
		TotalFailed:           s.totalFailed,
		AverageProcessingSecs: avg,
	}
}

// ListCompletedBefore returns every job whose CompletedAt predates cutoff,
// for the Janitor's record-eviction sweep.
func (s *Store) ListCompletedBefore(cutoff time.Time) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, rec := range s.jobs {
		if rec.CompletedAt != nil && rec.CompletedAt.Before(cutoff) {
			out = append(out, rec.Copy())
		}
	}
	return out
}

// Delete removes jobID's record outright (used by the Janitor's record
// eviction sweep). No-op if already absent.
func (s *Store) Delete(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return
	}
	delete(s.byState[rec.State], jobID)
	delete(s.jobs, jobID)
}

// DeleteBatch removes batchID's record outright.
func (s *Store) DeleteBatch(batchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.batches, batchID)
}

func (s *Store) indexLocked(jobID string, state State) {
	if s.byState[state] == nil {
		s.byState[state] = make(map[string]struct{})
	}
	s.byState[state][jobID] = struct{}{}
}

func (s *Store) recordTerminalLocked(rec *Record) {
	s.totalProcessed++
	if rec.State == Completed {
		s.totalSuccess++
	} else {
		s.totalFailed++
	}
	if rec.StartedAt != nil && rec.CompletedAt != nil {
		s.totalProcessSec += rec.CompletedAt.Sub(*rec.StartedAt).Seconds()
	}
}

func (s *Store) updateBatchCountersLocked(batchID string, oldState, newState State) {
	b, ok := s.batches[batchID]
	if !ok {
		return
	}
	if !oldState.IsTerminal() && newState.IsTerminal() {
		b.Pending--
		switch newState {
		case Completed:
			b.Completed++
		default:
			b.Failed++
		}
		if b.Pending == 0 {
			now := s.now()
			b.CompletedAt = &now
		}
	}
}
