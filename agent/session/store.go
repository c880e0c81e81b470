package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentloop/core/agent/stream"
	"github.com/agentloop/core/agent/turn"
)

// EventRecord is the NDJSON-serializable form of one stream.Event (§4.14:
// "events.ndjson - append-only event log; one JSON object per line, each
// with sessionSeq").
type EventRecord struct {
	Type          stream.EventType `json:"type"`
	Timestamp     time.Time        `json:"timestamp"`
	SessionID     string           `json:"sessionId"`
	RunID         string           `json:"runId,omitempty"`
	AgentID       string           `json:"agentId,omitempty"`
	ParentAgentID string           `json:"parentAgentId,omitempty"`
	ToolCallID    string           `json:"toolCallId,omitempty"`
	SessionSeq    int64            `json:"sessionSeq"`
	Data          any              `json:"data,omitempty"`
}

func toRecord(e stream.Event) EventRecord {
	return EventRecord{
		Type: e.Type(), Timestamp: e.Timestamp(), SessionID: e.SessionID(),
		RunID: e.RunID(), AgentID: e.AgentID(), ParentAgentID: e.ParentAgentID(),
		ToolCallID: e.ToolCallID(), SessionSeq: e.SessionSeq(), Data: e.Data(),
	}
}

// workQueue serializes a sequence of jobs on a dedicated goroutine, per
// §5's replacement for fire-and-forget fan-out: "a bounded channel plus a
// dedicated writer task guarantees ordering and allows visibility of write
// errors at shutdown."
type workQueue struct {
	jobs chan func() error
	wg   sync.WaitGroup

	mu   sync.Mutex
	errs []error
}

func newWorkQueue(capacity int) *workQueue {
	q := &workQueue{jobs: make(chan func() error, capacity)}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *workQueue) run() {
	defer q.wg.Done()
	for job := range q.jobs {
		if err := job(); err != nil {
			q.mu.Lock()
			q.errs = append(q.errs, err)
			q.mu.Unlock()
		}
	}
}

// Enqueue submits job for serialized execution. Fire-and-forget: callers do
// not block on completion, only on channel capacity.
func (q *workQueue) Enqueue(job func() error) {
	q.jobs <- job
}

// Close stops accepting new jobs, waits for the queue to drain, and returns
// every error collected along the way so a caller can surface them at
// shutdown instead of silently dropping them.
func (q *workQueue) Close() []error {
	close(q.jobs)
	q.wg.Wait()
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.errs
}

// sessionState holds the mutable, in-process state the store keeps per
// open session: its serialization queues, its per-run sessionSeq counters,
// the turn assembler, and the latest snapshot of every turn.
type sessionState struct {
	eventQueue *workQueue
	turnQueue  *workQueue

	mu      sync.Mutex
	runSeq  map[string]int64
	turnSeq int64

	assembler *turn.Assembler
	turns     []*turn.Turn
	turnIdx   map[string]int
}

// Store implements the session store (§4.14): append-only NDJSON events,
// a turns.json snapshot, and progressive-summarization conversation
// retrieval, all serialized through per-session queues.
type Store struct {
	baseDir string

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// New returns a Store rooted at baseDir, creating it if necessary.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create base dir: %w", err)
	}
	return &Store{baseDir: baseDir, sessions: make(map[string]*sessionState)}, nil
}

func (s *Store) sessionDir(sessionID string) string {
	return filepath.Join(s.baseDir, sessionID)
}

func (s *Store) eventsPath(sessionID string) string {
	return filepath.Join(s.sessionDir(sessionID), "events.ndjson")
}

func (s *Store) turnsPath(sessionID string) string {
	return filepath.Join(s.sessionDir(sessionID), "turns.json")
}

// state returns the session's in-process state, lazily opening it
// (scanning existing NDJSON/turns.json to seed counters per §4.14's
// "Migration" and "Per-run sequence" rules) the first time a session is
// touched in this process.
func (s *Store) state(sessionID string) (*sessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.sessions[sessionID]; ok {
		return st, nil
	}
	if err := os.MkdirAll(s.sessionDir(sessionID), 0o755); err != nil {
		return nil, fmt.Errorf("session: create session dir: %w", err)
	}

	runSeq, records, err := scanEvents(s.eventsPath(sessionID))
	if err != nil {
		return nil, err
	}

	st := &sessionState{
		eventQueue: newWorkQueue(256),
		turnQueue:  newWorkQueue(256),
		runSeq:     runSeq,
		turnIdx:    make(map[string]int),
	}
	seqAlloc := &fileBackedSeq{st: st}
	st.assembler = turn.New(seqAlloc)

	turns, turnSeq, err := loadOrRebuildTurns(s.turnsPath(sessionID), st.assembler, records)
	if err != nil {
		return nil, err
	}
	st.turns = turns
	st.turnSeq = turnSeq
	for i, t := range turns {
		st.turnIdx[t.ID] = i
	}

	s.sessions[sessionID] = st
	return st, nil
}

type fileBackedSeq struct{ st *sessionState }

func (f *fileBackedSeq) NextTurnSequence(sessionID string) (int64, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	f.st.turnSeq++
	return f.st.turnSeq, nil
}

// scanEvents replays an existing NDJSON file (if any) to recover the
// per-run sessionSeq high-water marks and the full record list, used both
// to seed new sessionSeq assignment and, when turns.json is missing, to
// rebuild turn snapshots (§4.14 "Migration").
func scanEvents(path string) (map[string]int64, []EventRecord, error) {
	runSeq := make(map[string]int64)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return runSeq, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("session: open events log: %w", err)
	}
	defer f.Close()

	var records []EventRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec EventRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// A torn last line from a crash mid-write; NDJSON readers
			// tolerate this by ignoring it (§5).
			continue
		}
		records = append(records, rec)
		if rec.SessionSeq > runSeq[rec.RunID] {
			runSeq[rec.RunID] = rec.SessionSeq
		}
	}
	return runSeq, records, scanner.Err()
}

func loadOrRebuildTurns(path string, assembler *turn.Assembler, records []EventRecord) ([]*turn.Turn, int64, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		var snap turnsSnapshot
		if jsonErr := json.Unmarshal(raw, &snap); jsonErr == nil {
			return snap.Turns, snap.TurnSeq, nil
		}
	} else if !os.IsNotExist(err) {
		return nil, 0, fmt.Errorf("session: read turns snapshot: %w", err)
	}

	// Migration: rebuild by replaying every event through a fresh assembler.
	var turns []*turn.Turn
	seen := make(map[string]int)
	for _, rec := range records {
		ev := recordToEvent(rec)
		t, err := assembler.Apply(ev)
		if err != nil {
			return nil, 0, err
		}
		if t == nil {
			continue
		}
		if idx, ok := seen[t.ID]; ok {
			turns[idx] = t
		} else {
			seen[t.ID] = len(turns)
			turns = append(turns, t)
		}
	}
	var maxSeq int64
	for _, t := range turns {
		if t.Sequence > maxSeq {
			maxSeq = t.Sequence
		}
	}
	return turns, maxSeq, nil
}

type turnsSnapshot struct {
	Turns   []*turn.Turn `json:"turns"`
	TurnSeq int64        `json:"turnSeq"`
}

// recordToEvent adapts a deserialized EventRecord back into a stream.Event
// for replay through the assembler.
func recordToEvent(rec EventRecord) stream.Event {
	b := stream.NewBase(rec.Type, rec.SessionID, rec.Data).
		WithRun(rec.RunID, rec.AgentID).
		WithParentAgent(rec.ParentAgentID).
		WithToolCallID(rec.ToolCallID).
		WithSessionSeq(rec.SessionSeq)
	return b
}

// Sink adapts the Store to a stream.Sink so callers can wire it onto a
// stream.Bus directly (bus.Subscribe(store.Sink())); AddEvent's fire-and-
// forget write errors surface only through Flush, matching Sink's
// best-effort-delivery contract.
func (s *Store) Sink() stream.Sink {
	return stream.SinkFunc(func(event stream.Event) error {
		_, err := s.AddEvent(context.Background(), event)
		return err
	})
}

// AddEvent assigns event a monotone sessionSeq for its (sessionId, runId)
// pair and enqueues it for append to the NDJSON log, fire-and-forget; the
// resolved event (with sessionSeq populated) is also folded into the
// session's turn snapshot on the turn queue. Errors from either write are
// collected, not returned, per §4.14/§5 - call Flush to observe them.
func (s *Store) AddEvent(ctx context.Context, event stream.Event) (stream.Event, error) {
	st, err := s.state(event.SessionID())
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	st.runSeq[event.RunID()]++
	seq := st.runSeq[event.RunID()]
	st.mu.Unlock()

	sessionID := event.SessionID()
	withSeq := withSessionSeq(event, seq)

	st.eventQueue.Enqueue(func() error {
		return appendNDJSON(s.eventsPath(sessionID), toRecord(withSeq))
	})
	st.turnQueue.Enqueue(func() error {
		t, err := st.assembler.Apply(withSeq)
		if err != nil {
			return err
		}
		if t == nil {
			return nil
		}
		st.mu.Lock()
		if idx, ok := st.turnIdx[t.ID]; ok {
			st.turns[idx] = t
		} else {
			st.turnIdx[t.ID] = len(st.turns)
			st.turns = append(st.turns, t)
		}
		snap := turnsSnapshot{Turns: st.turns, TurnSeq: st.turnSeq}
		st.mu.Unlock()
		return writeJSONAtomic(s.turnsPath(sessionID), snap)
	})

	return withSeq, nil
}

// withSessionSeq returns a copy of event stamped with seq, using
// stream.Base's WithSessionSeq when the concrete type is Base (the only
// concrete Event type this module produces).
func withSessionSeq(event stream.Event, seq int64) stream.Event {
	if b, ok := event.(stream.Base); ok {
		return b.WithSessionSeq(seq)
	}
	return event
}

func appendNDJSON(path string, rec EventRecord) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("session: open events log for append: %w", err)
	}
	defer f.Close()
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: marshal event: %w", err)
	}
	line = append(line, '\n')
	_, err = f.Write(line)
	return err
}

func writeJSONAtomic(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal turns snapshot: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("session: write turns snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// Flush drains a session's queues and returns every write error collected
// since the session was opened, giving callers shutdown-time visibility
// into failures that fire-and-forget AddEvent calls would otherwise hide.
func (s *Store) Flush(sessionID string) []error {
	s.mu.Lock()
	st, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	var errs []error
	errs = append(errs, st.eventQueue.Close()...)
	errs = append(errs, st.turnQueue.Close()...)
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return errs
}

// Turns returns the current turn snapshots for sessionID, ordered by
// Sequence.
func (s *Store) Turns(sessionID string) ([]*turn.Turn, error) {
	st, err := s.state(sessionID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*turn.Turn, len(st.turns))
	copy(out, st.turns)
	return out, nil
}
