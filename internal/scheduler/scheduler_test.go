package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunInvokesTicks(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond, TickTimeout: time.Second}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var ticks int32
	err := s.Run(ctx, func(tickCtx context.Context, bucket time.Time) error {
		if bucket.IsZero() {
			t.Error("bucket must be set")
		}
		if tickCtx.Done() == nil {
			t.Error("tick context must carry the timeout")
		}
		if atomic.AddInt32(&ticks, 1) >= 3 {
			cancel()
		}
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run should return the cancellation cause, got %v", err)
	}
	if got := atomic.LoadInt32(&ticks); got < 3 {
		t.Fatalf("expected at least 3 ticks, got %d", got)
	}
}

func TestRunTicksNeverOverlap(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond, TickTimeout: time.Second}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var running, ticks int32
	_ = s.Run(ctx, func(context.Context, time.Time) error {
		if !atomic.CompareAndSwapInt32(&running, 0, 1) {
			t.Error("two ticks ran concurrently")
		}
		time.Sleep(12 * time.Millisecond) // overrun the interval
		atomic.StoreInt32(&running, 0)
		if atomic.AddInt32(&ticks, 1) >= 3 {
			cancel()
		}
		return nil
	})

	if got := atomic.LoadInt32(&ticks); got < 3 {
		t.Fatalf("expected at least 3 ticks, got %d", got)
	}
}

func TestRunShutdownLetsInFlightTickFinish(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond, TickTimeout: time.Second}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var completed, interrupted int32
	err := s.Run(ctx, func(tickCtx context.Context, _ time.Time) error {
		// Shutdown arrives mid-tick. The tick's own context must stay live
		// so already-issued calls can finish.
		cancel()
		select {
		case <-tickCtx.Done():
			atomic.StoreInt32(&interrupted, 1)
		case <-time.After(20 * time.Millisecond):
			atomic.StoreInt32(&completed, 1)
		}
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run should stop after the tick, got %v", err)
	}
	if atomic.LoadInt32(&interrupted) == 1 {
		t.Fatal("shutdown must not cancel the in-flight tick's context")
	}
	if atomic.LoadInt32(&completed) != 1 {
		t.Fatal("in-flight tick should run to completion")
	}
}

func TestRunStopsBeforeFirstTickWhenCancelled(t *testing.T) {
	s := New(Options{Interval: time.Hour, StartupDelay: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Run(ctx, func(context.Context, time.Time) error {
		t.Error("tick must not run after cancellation")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunTickErrorDoesNotStopLoop(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond, TickTimeout: time.Second}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var ticks int32
	_ = s.Run(ctx, func(context.Context, time.Time) error {
		if atomic.AddInt32(&ticks, 1) >= 2 {
			cancel()
		}
		return errors.New("tick exploded")
	})

	if got := atomic.LoadInt32(&ticks); got < 2 {
		t.Fatalf("loop should survive tick errors, got %d ticks", got)
	}
}

func TestNextTickAlignsToInterval(t *testing.T) {
	s := New(Options{Interval: time.Minute, AlignToStart: true}, zerolog.Nop())

	now := time.Date(2026, 3, 1, 12, 0, 25, 0, time.UTC)
	next := s.nextTick(now)
	if want := time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("nextTick = %s, want %s", next, want)
	}

	// Exactly on a boundary the next bucket is still a full interval away.
	onBoundary := time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC)
	next = s.nextTick(onBoundary)
	if want := onBoundary.Add(time.Minute); !next.Equal(want) {
		t.Fatalf("nextTick on boundary = %s, want %s", next, want)
	}
}
