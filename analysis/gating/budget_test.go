package gating

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenBudgetReserve(t *testing.T) {
	b := NewTokenBudget(100)

	ok, err := b.TryReserve(60)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(40), b.Remaining())

	ok, err = b.TryReserve(50)
	assert.NoError(t, err)
	assert.False(t, ok, "reservation past the allowance must fail")
	assert.Equal(t, int64(40), b.Remaining(), "failed reservation must not consume budget")

	ok, _ = b.TryReserve(40)
	assert.True(t, ok)
	assert.Equal(t, int64(0), b.Remaining())
}

func TestTokenBudgetNoConcurrentOvershoot(t *testing.T) {
	b := NewTokenBudget(100)

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := b.TryReserve(10); ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), granted.Load(), "exactly daily/reserve requests may pass")
	assert.Equal(t, int64(0), b.Remaining())
}

func TestTokenBudgetSettle(t *testing.T) {
	t.Run("overshoot is charged", func(t *testing.T) {
		b := NewTokenBudget(100)
		ok, _ := b.TryReserve(30)
		assert.True(t, ok)

		b.Record(50, 30)
		assert.Equal(t, int64(50), b.Remaining())
	})

	t.Run("unspent reservation is returned", func(t *testing.T) {
		b := NewTokenBudget(100)
		ok, _ := b.TryReserve(30)
		assert.True(t, ok)

		b.Record(0, 30)
		assert.Equal(t, int64(100), b.Remaining())
	})
}

func TestTokenBudgetDailyRollover(t *testing.T) {
	now := time.Date(2026, 8, 28, 23, 50, 0, 0, time.UTC)
	b := NewTokenBudget(100)
	b.now = func() time.Time { return now }

	ok, _ := b.TryReserve(100)
	assert.True(t, ok)
	assert.Equal(t, int64(0), b.Remaining())

	now = now.Add(20 * time.Minute) // past midnight
	assert.Equal(t, int64(100), b.Remaining(), "allowance must reset on day change")
	ok, _ = b.TryReserve(100)
	assert.True(t, ok)
}

func TestUserRateLimiter(t *testing.T) {
	l := NewUserRateLimiter(2, time.Hour)

	assert.True(t, l.Allow("u1"))
	assert.True(t, l.Allow("u1"))
	assert.False(t, l.Allow("u1"), "third escalation inside the window must be denied")

	// Other users have their own allowance.
	assert.True(t, l.Allow("u2"))
}
