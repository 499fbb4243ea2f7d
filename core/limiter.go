package core

import (
	"fmt"
	"sync"
)

// OracleBudget enforces a maximum number of oracle calls per turn. It is
// shared by every agent taking part in the turn, including delegates.
type OracleBudget struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewOracleBudget creates a budget of max calls. If max == 0, unlimited
// calls are allowed.
func NewOracleBudget(max int) *OracleBudget {
	return &OracleBudget{max: max}
}

// Spend consumes one call and returns ErrOracleBudgetExceeded once the limit
// is passed. A nil budget is unlimited.
func (b *OracleBudget) Spend() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.count++
	if b.max > 0 && b.count > b.max {
		return fmt.Errorf("%w: %d calls", ErrOracleBudgetExceeded, b.max)
	}

	return nil
}

// Count returns the number of calls made.
func (b *OracleBudget) Count() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.count
}

// Remaining returns how many calls are left, or -1 when unlimited.
func (b *OracleBudget) Remaining() int {
	if b == nil {
		return -1
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max == 0 {
		return -1
	}

	return max(b.max-b.count, 0)
}
