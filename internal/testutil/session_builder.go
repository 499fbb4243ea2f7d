package testutil

import (
	"time"

	"github.com/hupe1980/travelmesh/core"
)

// SessionBuilder helps construct sessions with fluent chaining for tests.
// Example:
//
//	sess := NewSessionBuilder("sess-1").User("u1").Memory("k","v").UserTurn("hi").Build()
type SessionBuilder struct {
	id     string
	userID string
	start  time.Time
	memory map[string]any
	turns  []core.Turn
}

// NewSessionBuilder creates a new builder for a session with the given id.
func NewSessionBuilder(id string) *SessionBuilder {
	return &SessionBuilder{id: id, userID: "user-" + id, start: time.Unix(1_700_000_000, 0).UTC(), memory: map[string]any{}}
}

// User sets the owning user id (chainable).
func (b *SessionBuilder) User(userID string) *SessionBuilder { b.userID = userID; return b }

// Memory sets a memory key/value pair (chainable).
func (b *SessionBuilder) Memory(key string, val any) *SessionBuilder {
	b.memory[key] = val
	return b
}

// UserTurn appends a user turn one second after the previous turn (chainable).
func (b *SessionBuilder) UserTurn(text string) *SessionBuilder {
	return b.turn(core.NewUserTurn(text))
}

// AgentTurn appends an agent turn one second after the previous turn (chainable).
func (b *SessionBuilder) AgentTurn(text string, p core.Payload) *SessionBuilder {
	return b.turn(core.NewAgentTurn(text, p))
}

func (b *SessionBuilder) turn(t core.Turn) *SessionBuilder {
	t.Timestamp = b.start.Add(time.Duration(len(b.turns)+1) * time.Second)
	b.turns = append(b.turns, t)
	return b
}

// Build returns a *core.Session with pre-populated memory and turns.
func (b *SessionBuilder) Build() *core.Session {
	s := core.NewSession(b.id, b.userID, b.start)
	for k, v := range b.memory {
		s.Memory[k] = v
	}
	s.Turns = append(s.Turns, b.turns...)
	if n := len(b.turns); n > 0 {
		s.LastActive = b.turns[n-1].Timestamp
	}
	return s
}
