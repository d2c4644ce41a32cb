package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsNonPositiveInterval(t *testing.T) {
	_, err := New(Options{}, zerolog.Nop())
	require.Error(t, err)
}

func TestRunTicksUntilCancelled(t *testing.T) {
	s, err := New(Options{Interval: 10 * time.Millisecond, Immediate: true}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var ticks atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error {
			if ticks.Add(1) >= 3 {
				cancel()
			}
			return errors.New("tick errors are logged only")
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
	assert.GreaterOrEqual(t, ticks.Load(), int32(3))
}

func TestImmediateTickRunsBeforeInterval(t *testing.T) {
	s, err := New(Options{Interval: time.Hour, Immediate: true}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	go func() {
		_ = s.Run(ctx, func(context.Context, time.Time) error {
			ran.Store(true)
			cancel()
			return nil
		})
	}()

	assert.Eventually(t, ran.Load, time.Second, 5*time.Millisecond)
	cancel()
}

func TestNextTickAlignment(t *testing.T) {
	s, err := New(Options{Interval: time.Minute, AlignToStart: true}, zerolog.Nop())
	require.NoError(t, err)

	now := time.Date(2025, 1, 1, 12, 0, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 1, 1, 12, 1, 0, 0, time.UTC), s.nextTick(now))

	onBoundary := time.Date(2025, 1, 1, 12, 1, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 1, 1, 12, 2, 0, 0, time.UTC), s.nextTick(onBoundary))

	unaligned, err := New(Options{Interval: time.Minute}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), unaligned.nextTick(now))
}

func TestStartupDelayHonoursCancel(t *testing.T) {
	s, err := New(Options{Interval: time.Minute, StartupDelay: time.Hour}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = s.Run(ctx, func(context.Context, time.Time) error {
		t.Error("tick must not run during startup delay")
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
