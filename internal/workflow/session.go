// Package workflow implements the staged execution runtime and its
// persistent sessions.
//
// A workflow is a named sequence of stages. Each run executes against a
// session keyed by (workflow name, trading date): stages read and write a
// shared key/value state, every run is appended to the session's history,
// and the whole record persists as one JSON file so a restart mid-day
// resumes exactly where the last run left off. Cross-session reads let one
// workflow consume another's artifacts (execution reads the morning
// analysis; post-trade reads everything).
package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"intradesk/pkg/types"
)

// StageStatus is the outcome of one stage inside a run.
type StageStatus string

const (
	StageOK      StageStatus = "OK"
	StageFailed  StageStatus = "FAILED"
	StageSkipped StageStatus = "SKIPPED" // tolerant stage failed, run continued
	StageHalted  StageStatus = "HALT"    // gating stage short-circuited the run
)

// StageResult records one stage execution.
type StageResult struct {
	Stage     string          `json:"stage"`
	Status    StageStatus     `json:"status"`
	Error     string          `json:"error,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"` // artifact envelope
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
}

// RunRecord is one complete workflow run, appended to the session history.
type RunRecord struct {
	RunID      string          `json:"run_id"`
	Workflow   string          `json:"workflow"`
	SessionID  string          `json:"session_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Status     types.RunStatus `json:"status"`
	HaltReason string          `json:"halt_reason,omitempty"`
	Stages     []StageResult   `json:"stages"`
	Final      json.RawMessage `json:"final,omitempty"` // last stage's artifact envelope
}

// SessionRecord is the persisted form of one (workflow, session) pair.
type SessionRecord struct {
	Workflow  string                     `json:"workflow"`
	SessionID string                     `json:"session_id"`
	State     map[string]json.RawMessage `json:"state"`
	Runs      []RunRecord                `json:"runs"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// Store persists sessions as one JSON file per (workflow, session) under
// root/<workflow>/<session_id>.json. Writes are atomic (temp file + rename)
// and serialized by a mutex, so concurrent workflows never interleave
// partial writes.
type Store struct {
	mu   sync.Mutex
	root string
}

// NewStore creates the store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session root: %w", err)
	}
	return &Store{root: dir}, nil
}

func (s *Store) path(workflow, sessionID string) string {
	return filepath.Join(s.root, workflow, sessionID+".json")
}

// Load returns the session, or a fresh empty record if none exists yet.
func (s *Store) Load(workflow, sessionID string) (*SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(workflow, sessionID)
}

func (s *Store) loadLocked(workflow, sessionID string) (*SessionRecord, error) {
	data, err := os.ReadFile(s.path(workflow, sessionID))
	if os.IsNotExist(err) {
		return &SessionRecord{
			Workflow:  workflow,
			SessionID: sessionID,
			State:     make(map[string]json.RawMessage),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s/%s: %w", workflow, sessionID, err)
	}
	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse session %s/%s: %w", workflow, sessionID, err)
	}
	if rec.State == nil {
		rec.State = make(map[string]json.RawMessage)
	}
	return &rec, nil
}

// Save persists the session atomically.
func (s *Store) Save(rec *SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session %s/%s: %w", rec.Workflow, rec.SessionID, err)
	}

	path := s.path(rec.Workflow, rec.SessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename session file: %w", err)
	}
	return nil
}

// History returns the last n runs of a workflow session, newest last. It is
// the read behind workflow_history(n).
func (s *Store) History(workflow, sessionID string, n int) ([]RunRecord, error) {
	rec, err := s.Load(workflow, sessionID)
	if err != nil {
		return nil, err
	}
	if n <= 0 || n >= len(rec.Runs) {
		return rec.Runs, nil
	}
	return rec.Runs[len(rec.Runs)-n:], nil
}

// Sessions lists the stored session IDs for one workflow, sorted ascending.
// Date-shaped IDs therefore come back chronologically.
func (s *Store) Sessions(workflow string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.root, workflow))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list sessions %s: %w", workflow, err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) == ".json" {
			out = append(out, name[:len(name)-len(".json")]) // ReadDir sorts by name
		}
	}
	return out, nil
}

// ————————————————————————————————————————————————————————————————————————
// In-run session view
// ————————————————————————————————————————————————————————————————————————

// ErrReadOnlySession is returned when a parallel group member writes
// session state. Members merge their outputs in a following stage instead.
var ErrReadOnlySession = fmt.Errorf("session state is read-only inside a parallel group")

// Session is the state view handed to stages. Writes stay in the run's
// own copy of the state map; the runner commits the whole map back to the
// record in one save when the run ends, so readers of the stored session
// never observe mid-run writes.
type Session struct {
	mu       *sync.Mutex // shared with read-only views
	state    map[string]json.RawMessage
	readOnly bool
}

func newSession(rec *SessionRecord) *Session {
	state := make(map[string]json.RawMessage, len(rec.State))
	for k, v := range rec.State {
		state[k] = v
	}
	return &Session{mu: &sync.Mutex{}, state: state}
}

// snapshot copies the current state for the run-end commit.
func (s *Session) snapshot() map[string]json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]json.RawMessage, len(s.state))
	for k, v := range s.state {
		out[k] = v
	}
	return out
}

// Set stores an artifact under key as a tagged envelope.
func (s *Session) Set(key string, a types.Artifact) error {
	if s.readOnly {
		return ErrReadOnlySession
	}
	raw, err := types.MarshalArtifact(a)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[key] = raw
	return nil
}

// SetRaw stores a pre-encoded value under key.
func (s *Session) SetRaw(key string, raw json.RawMessage) error {
	if s.readOnly {
		return ErrReadOnlySession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[key] = raw
	return nil
}

// Get decodes the artifact stored under key; ok is false when absent.
func (s *Session) Get(key string) (types.Artifact, bool, error) {
	s.mu.Lock()
	raw, ok := s.state[key]
	s.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	a, err := types.UnmarshalArtifact(raw)
	if err != nil {
		return nil, true, err
	}
	return a, true, nil
}

// GetRaw returns the stored bytes under key.
func (s *Session) GetRaw(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.state[key]
	return raw, ok
}

// readOnlyView returns a view that rejects writes, for parallel members.
func (s *Session) readOnlyView() *Session {
	return &Session{mu: s.mu, state: s.state, readOnly: true}
}
