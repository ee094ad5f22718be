package activation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"carwash/internal/activation"
)

func newTestGuard(t *testing.T, clock *fakeClock) *activation.AttemptGuard {
	t.Helper()
	guard := activation.NewAttemptGuard(activation.GuardConfig{
		MaxFailedAttempts: 3,
		Window:            10 * time.Minute,
		BlockDuration:     15 * time.Minute,
		CleanupInterval:   time.Hour,
	}, activation.WithGuardClock(clock.Now))
	t.Cleanup(guard.Close)
	return guard
}

func TestAttemptGuard(t *testing.T) {
	ctx := context.Background()

	t.Run("blocks after max failures", func(t *testing.T) {
		clock := newFakeClock(time.Now())
		guard := newTestGuard(t, clock)

		assert.False(t, guard.RecordFailure(ctx, "10.0.0.1"))
		assert.False(t, guard.RecordFailure(ctx, "10.0.0.1"))
		assert.True(t, guard.RecordFailure(ctx, "10.0.0.1"))

		blocked, remaining := guard.IsBlocked("10.0.0.1")
		assert.True(t, blocked)
		assert.Equal(t, 15*time.Minute, remaining)

		// other identifiers are unaffected
		blocked, _ = guard.IsBlocked("10.0.0.2")
		assert.False(t, blocked)
	})

	t.Run("block expires", func(t *testing.T) {
		clock := newFakeClock(time.Now())
		guard := newTestGuard(t, clock)

		for i := 0; i < 3; i++ {
			guard.RecordFailure(ctx, "10.0.0.1")
		}

		clock.Advance(14 * time.Minute)
		blocked, remaining := guard.IsBlocked("10.0.0.1")
		assert.True(t, blocked)
		assert.Equal(t, time.Minute, remaining)

		clock.Advance(time.Minute)
		blocked, _ = guard.IsBlocked("10.0.0.1")
		assert.False(t, blocked)

		// the counter starts over after a block
		assert.False(t, guard.RecordFailure(ctx, "10.0.0.1"))
	})

	t.Run("success resets the counter", func(t *testing.T) {
		clock := newFakeClock(time.Now())
		guard := newTestGuard(t, clock)

		guard.RecordFailure(ctx, "10.0.0.1")
		guard.RecordFailure(ctx, "10.0.0.1")
		guard.RecordSuccess("10.0.0.1")

		assert.False(t, guard.RecordFailure(ctx, "10.0.0.1"))
		assert.False(t, guard.RecordFailure(ctx, "10.0.0.1"))
		assert.True(t, guard.RecordFailure(ctx, "10.0.0.1"))
	})

	t.Run("failures outside the window do not accumulate", func(t *testing.T) {
		clock := newFakeClock(time.Now())
		guard := newTestGuard(t, clock)

		guard.RecordFailure(ctx, "10.0.0.1")
		guard.RecordFailure(ctx, "10.0.0.1")
		clock.Advance(11 * time.Minute)

		assert.False(t, guard.RecordFailure(ctx, "10.0.0.1"))
		blocked, _ := guard.IsBlocked("10.0.0.1")
		assert.False(t, blocked)
	})

	t.Run("stats and close", func(t *testing.T) {
		clock := newFakeClock(time.Now())
		guard := newTestGuard(t, clock)

		guard.RecordFailure(ctx, "10.0.0.1")
		for i := 0; i < 3; i++ {
			guard.RecordFailure(ctx, "10.0.0.2")
		}

		stats := guard.Stats()
		assert.Equal(t, 1, stats["tracked_identifiers"])
		assert.Equal(t, 1, stats["blocked_identifiers"])
		assert.Equal(t, 3, stats["max_attempts"])
		assert.Equal(t, "15m0s", stats["block_duration"])

		assert.NotPanics(t, func() {
			guard.Close()
			guard.Close()
		})
	})

	t.Run("zero config falls back to defaults", func(t *testing.T) {
		guard := activation.NewAttemptGuard(activation.GuardConfig{})
		defer guard.Close()

		stats := guard.Stats()
		assert.Equal(t, 5, stats["max_attempts"])
		assert.Equal(t, "10m0s", stats["window_duration"])
	})
}
