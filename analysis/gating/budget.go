// Package gating decides whether an ambiguous heuristic classification
// warrants escalation to the costly external model, under dedup, rate and
// budget constraints.
package gating

import (
	"sync"
	"time"
)

// Budget is the shared escalation-spend collaborator. Implementations must
// make the check-then-reserve sequence atomic: two concurrent requests must
// never both pass a "remaining > 0" check and jointly overshoot the budget.
type Budget interface {
	// TryReserve atomically reserves tokens from the remaining allowance.
	// A false return means the budget is exhausted. A non-nil error means the
	// collaborator is unreachable; callers fail closed on spend.
	TryReserve(tokens int64) (bool, error)
	// Remaining reports the tokens left in the current budget day.
	Remaining() int64
}

// TokenBudget is an in-process daily token budget. The allowance resets when
// the local calendar day rolls over.
type TokenBudget struct {
	mu    sync.Mutex
	daily int64
	used  int64
	day   string

	now func() time.Time // test seam
}

// NewTokenBudget creates a budget of daily tokens per calendar day.
func NewTokenBudget(daily int64) *TokenBudget {
	return &TokenBudget{daily: daily, now: time.Now}
}

// TryReserve implements Budget.
func (b *TokenBudget) TryReserve(tokens int64) (bool, error) {
	if tokens < 0 {
		tokens = 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollLocked()
	if b.used+tokens > b.daily {
		return false, nil
	}
	b.used += tokens
	return true, nil
}

// Remaining implements Budget.
func (b *TokenBudget) Remaining() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollLocked()
	return b.daily - b.used
}

// Record settles a reservation against the actual spend. Overshoot is
// charged, unspent reservation (including a failed call's full reserve) is
// returned.
func (b *TokenBudget) Record(actual, reserved int64) {
	delta := actual - reserved
	if delta == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	b.used += delta
	if b.used < 0 {
		b.used = 0
	}
}

func (b *TokenBudget) rollLocked() {
	day := b.now().Format("2006-01-02")
	if day != b.day {
		b.day = day
		b.used = 0
	}
}
