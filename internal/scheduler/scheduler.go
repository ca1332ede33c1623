package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every interval boundary.
type TickFunc func(ctx context.Context, bucket time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	TickTimeout  time.Duration
}

// Scheduler drives the monitoring loop. Ticks run synchronously, so two
// ticks can never overlap: if a tick overruns its interval, the missed
// buckets are skipped and logged, never queued.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if opts.TickTimeout <= 0 {
		opts.TickTimeout = 2 * time.Minute
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the tick function at each interval until ctx is
// cancelled. An in-flight tick is allowed to finish on shutdown; the
// per-tick timeout aborts a stuck tick so the loop never hangs.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	next := s.nextTick(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			// The previous tick overran. Skip every bucket that fell due
			// while it was running instead of queueing them.
			skippedTo := s.nextTick(time.Now().UTC())
			skipped := int(skippedTo.Sub(next) / s.opts.Interval)
			if skipped > 0 {
				s.logger.Warn().Int("skipped_ticks", skipped).Time("resume_at", skippedTo).
					Msg("tick overran interval; skipping missed buckets")
			}
			next = skippedTo
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_bucket", next).Msg("waiting for next bucket")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		bucket := s.bucketStart(next)
		s.logger.Info().Time("bucket", bucket).Msg("executing scheduled tick")

		if err := s.runTick(tick, bucket); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("tick execution failed")
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		next = next.Add(s.opts.Interval)
	}
}

// runTick detaches the tick context from the run context: shutdown stops the
// loop from scheduling further ticks but must not abort HTTP calls the
// in-flight tick has already issued. The per-tick timeout still bounds it.
func (s *Scheduler) runTick(tick TickFunc, bucket time.Time) error {
	tickCtx, cancel := context.WithTimeout(context.Background(), s.opts.TickTimeout)
	defer cancel()
	return tick(tickCtx, bucket)
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
