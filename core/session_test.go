package core

import (
	"testing"
	"time"
)

func TestSession_CloneIsolation(t *testing.T) {
	s := NewSession("s1", "u1", time.Unix(0, 0))
	s.Memory["origin"] = "BLR"
	s.Turns = append(s.Turns, NewUserTurn("hi"))
	s.ActiveAgentPath = []AgentKind{KindPlanning}

	c := s.Clone()
	if c == s {
		t.Fatal("Clone should return a different pointer")
	}
	c.Memory["origin"] = "DEL"
	c.Turns[0].Content = "changed"
	c.ActiveAgentPath[0] = KindBooking

	if s.Memory["origin"] != "BLR" {
		t.Error("memory leaked into original")
	}
	if s.Turns[0].Content != "hi" {
		t.Error("turns leaked into original")
	}
	if s.ActiveAgentPath[0] != KindPlanning {
		t.Error("agent path leaked into original")
	}
}

func TestSession_History(t *testing.T) {
	s := NewSession("s1", "u1", time.Now())
	for _, txt := range []string{"a", "b", "c"} {
		s.Turns = append(s.Turns, NewUserTurn(txt))
	}
	if got := s.History(2); len(got) != 2 || got[0].Content != "b" {
		t.Fatalf("unexpected window: %+v", got)
	}
	if got := s.History(0); len(got) != 3 {
		t.Fatalf("expected full history, got %d", len(got))
	}
}

func TestOracleBudget(t *testing.T) {
	b := NewOracleBudget(2)
	if err := b.Spend(); err != nil {
		t.Fatal(err)
	}
	if err := b.Spend(); err != nil {
		t.Fatal(err)
	}
	if err := b.Spend(); err == nil {
		t.Fatal("expected budget error")
	}
	if b.Remaining() != 0 {
		t.Errorf("remaining = %d", b.Remaining())
	}

	var unlimited *OracleBudget
	if err := unlimited.Spend(); err != nil || unlimited.Remaining() != -1 {
		t.Error("nil budget should be unlimited")
	}
}
