package session

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/travelmesh/core"
	"github.com/hupe1980/travelmesh/internal/util"
)

// EvictFunc is invoked after a session has been evicted.
type EvictFunc func(ctx context.Context, sess *core.Session)

// Options configure an InMemoryStore.
type Options struct {
	// IdleTimeout makes CreateOrGet replace sessions idle longer than this.
	// Zero disables lazy eviction.
	IdleTimeout time.Duration
	// Clock returns the current time; defaults to time.Now.
	Clock func() time.Time
	// OnEvict observes evicted sessions, e.g. to release dangling holds.
	OnEvict EvictFunc
}

// InMemoryStore is a volatile SessionStore storing sessions in a process
// local map. It is safe for concurrent access. Each returned session is
// cloned to prevent external mutation of internal state.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
	byUser   map[string]string
	opts     Options
}

var _ core.SessionStore = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{Clock: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &InMemoryStore{
		sessions: make(map[string]*core.Session),
		byUser:   make(map[string]string),
		opts:     opts,
	}
}

// CreateOrGet returns the live session of userID, creating one on first
// contact or after the previous session went idle.
func (s *InMemoryStore) CreateOrGet(ctx context.Context, userID string) (*core.Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("create session: empty user id")
	}
	now := s.opts.Clock()

	s.mu.Lock()
	var evicted *core.Session
	if id, ok := s.byUser[userID]; ok {
		sess := s.sessions[id]
		if s.opts.IdleTimeout > 0 && sess.IdleSince(now) > s.opts.IdleTimeout {
			evicted = s.deleteLocked(id)
		} else {
			sess.LastActive = now
			out := sess.Clone()
			s.mu.Unlock()
			return out, nil
		}
	}
	sess := core.NewSession(util.NewID("sess"), userID, now)
	s.sessions[sess.ID] = sess
	s.byUser[userID] = sess.ID
	out := sess.Clone()
	s.mu.Unlock()

	if evicted != nil && s.opts.OnEvict != nil {
		s.opts.OnEvict(ctx, evicted)
	}
	return out, nil
}

// Get returns a clone of the session.
func (s *InMemoryStore) Get(_ context.Context, sessionID string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", sessionID, core.ErrSessionNotFound)
	}
	return sess.Clone(), nil
}

// AppendTurn appends turn. A zero timestamp is stamped with the store
// clock; a timestamp equal to the last turn is bumped by 1ns; an earlier one
// is rejected.
func (s *InMemoryStore) AppendTurn(_ context.Context, sessionID string, turn core.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("append turn to %s: %w", sessionID, core.ErrSessionNotFound)
	}
	ts, err := NextTimestamp(sess.Turns, turn.Timestamp, s.opts.Clock())
	if err != nil {
		return fmt.Errorf("append turn to %s: %w", sessionID, err)
	}
	turn.Timestamp = ts
	sess.Turns = append(sess.Turns, turn)
	if ts.After(sess.LastActive) {
		sess.LastActive = ts
	}
	return nil
}

// NextTimestamp resolves the timestamp of a turn appended after turns.
// Store-stamped turns never precede history; an explicit timestamp earlier
// than the last turn yields core.ErrTurnOutOfOrder.
func NextTimestamp(turns []core.Turn, ts, now time.Time) (time.Time, error) {
	stamped := ts.IsZero()
	if stamped {
		ts = now
	}
	n := len(turns)
	if n == 0 {
		return ts, nil
	}
	last := turns[n-1].Timestamp
	if ts.Before(last) && !stamped {
		return time.Time{}, core.ErrTurnOutOfOrder
	}
	if !ts.After(last) {
		ts = last.Add(time.Nanosecond)
	}
	return ts, nil
}

// ReadMemory returns the value stored under key.
func (s *InMemoryStore) ReadMemory(_ context.Context, sessionID, key string) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, false, fmt.Errorf("read memory of %s: %w", sessionID, core.ErrSessionNotFound)
	}
	v, ok := sess.Memory[key]
	return v, ok, nil
}

// WriteMemory stores value under key; a nil value deletes the key.
func (s *InMemoryStore) WriteMemory(_ context.Context, sessionID, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("write memory of %s: %w", sessionID, core.ErrSessionNotFound)
	}
	if value == nil {
		delete(sess.Memory, key)
		return nil
	}
	sess.Memory[key] = value
	return nil
}

// Memory returns a snapshot of the session memory.
func (s *InMemoryStore) Memory(ctx context.Context, sessionID string) (map[string]any, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Memory, nil
}

// SetAgentPath records the agent kinds that handled the latest turn.
func (s *InMemoryStore) SetAgentPath(_ context.Context, sessionID string, path []core.AgentKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("set agent path of %s: %w", sessionID, core.ErrSessionNotFound)
	}
	sess.ActiveAgentPath = slices.Clone(path)
	return nil
}

// EvictIfIdle removes the session when idle longer than threshold.
func (s *InMemoryStore) EvictIfIdle(ctx context.Context, sessionID string, threshold time.Duration) (bool, error) {
	now := s.opts.Clock()
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	if sess.IdleSince(now) <= threshold {
		s.mu.Unlock()
		return false, nil
	}
	evicted := s.deleteLocked(sessionID)
	s.mu.Unlock()

	if s.opts.OnEvict != nil {
		s.opts.OnEvict(ctx, evicted)
	}
	return true, nil
}

// EvictIdle removes every session idle longer than threshold.
func (s *InMemoryStore) EvictIdle(ctx context.Context, threshold time.Duration) ([]string, error) {
	now := s.opts.Clock()
	var evicted []*core.Session
	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.IdleSince(now) > threshold {
			evicted = append(evicted, s.deleteLocked(id))
		}
	}
	s.mu.Unlock()

	ids := make([]string, 0, len(evicted))
	for _, sess := range evicted {
		ids = append(ids, sess.ID)
		if s.opts.OnEvict != nil {
			s.opts.OnEvict(ctx, sess)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Len returns the number of live sessions.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// deleteLocked removes a session; caller must hold the write lock.
func (s *InMemoryStore) deleteLocked(id string) *core.Session {
	sess := s.sessions[id]
	delete(s.sessions, id)
	if s.byUser[sess.UserID] == id {
		delete(s.byUser, sess.UserID)
	}
	return sess
}
