package core

import (
	"context"
	"maps"
	"slices"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Turn is one message exchange unit. It is immutable once appended.
type Turn struct {
	Role      Role
	Content   string
	Payload   Payload
	Timestamp time.Time
}

// NewUserTurn builds a user turn; the store stamps the timestamp.
func NewUserTurn(text string) Turn { return Turn{Role: RoleUser, Content: text} }

// NewAgentTurn builds an agent turn with an optional payload.
func NewAgentTurn(text string, p Payload) Turn {
	return Turn{Role: RoleAgent, Content: text, Payload: p}
}

// Session is per-user conversation state. It is owned by a SessionStore;
// everything outside the store works on clones.
//
// Contract:
//   - Turns are append-only and strictly time-ordered
//   - Memory holds agent-visible facts keyed by name
//   - ActiveAgentPath records the agent kinds that handled the latest turn
type Session struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	CreatedAt       time.Time      `json:"created_at"`
	LastActive      time.Time      `json:"last_active"`
	Turns           []Turn         `json:"turns"`
	Memory          map[string]any `json:"memory"`
	ActiveAgentPath []AgentKind    `json:"active_agent_path"`
}

// NewSession creates an empty session for userID.
func NewSession(id, userID string, now time.Time) *Session {
	return &Session{
		ID:         id,
		UserID:     userID,
		CreatedAt:  now,
		LastActive: now,
		Turns:      []Turn{},
		Memory:     map[string]any{},
	}
}

// Clone returns a deep copy of the session's maps and slices. Memory values
// are copied shallowly.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Turns = slices.Clone(s.Turns)
	c.Memory = maps.Clone(s.Memory)
	if c.Memory == nil {
		c.Memory = map[string]any{}
	}
	c.ActiveAgentPath = slices.Clone(s.ActiveAgentPath)
	return &c
}

// History returns at most the last n turns (all when n <= 0).
func (s *Session) History(n int) []Turn {
	if n <= 0 || n >= len(s.Turns) {
		return slices.Clone(s.Turns)
	}
	return slices.Clone(s.Turns[len(s.Turns)-n:])
}

// IdleSince reports how long the session has been inactive at now.
func (s *Session) IdleSince(now time.Time) time.Duration { return now.Sub(s.LastActive) }

// SessionStore holds per-user sessions. All methods are safe for concurrent
// use. Backends that cannot be reached return errors wrapping ErrStorageUnavailable.
type SessionStore interface {
	// CreateOrGet returns the live session of userID, creating one when none
	// exists or the previous one was evicted.
	CreateOrGet(ctx context.Context, userID string) (*Session, error)
	// Get returns a clone of the session or ErrSessionNotFound.
	Get(ctx context.Context, sessionID string) (*Session, error)
	// AppendTurn is the sole mutator of turn history.
	AppendTurn(ctx context.Context, sessionID string, turn Turn) error
	ReadMemory(ctx context.Context, sessionID, key string) (any, bool, error)
	WriteMemory(ctx context.Context, sessionID, key string, value any) error
	// Memory returns a snapshot of the session's memory map.
	Memory(ctx context.Context, sessionID string) (map[string]any, error)
	SetAgentPath(ctx context.Context, sessionID string, path []AgentKind) error
	// EvictIfIdle removes the session when it has been idle longer than threshold.
	EvictIfIdle(ctx context.Context, sessionID string, threshold time.Duration) (bool, error)
	// EvictIdle sweeps every session and returns the ids removed.
	EvictIdle(ctx context.Context, threshold time.Duration) ([]string, error)
}
