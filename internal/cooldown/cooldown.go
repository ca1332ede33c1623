package cooldown

import (
	"context"
	"time"
)

// ReleaseFunc undoes a tentative cooldown acquisition. The dispatcher calls
// it when delivery fails so the asset stays eligible on the next tick.
type ReleaseFunc func(ctx context.Context) error

// Store tracks the last alert time per key and arbitrates alert eligibility.
// Keys are independent; check-then-record for a single key must be atomic.
type Store interface {
	// IsEligible reports whether no alert fired for key within window.
	IsEligible(ctx context.Context, key string, now time.Time, window time.Duration) (bool, error)

	// RecordAlert unconditionally overwrites the last-alert timestamp.
	RecordAlert(ctx context.Context, key string, now time.Time) error

	// TryAcquire performs the eligibility check and the record as one
	// logical transaction. On success it returns a release func that
	// restores the previous state.
	TryAcquire(ctx context.Context, key string, now time.Time, window time.Duration) (ReleaseFunc, bool, error)
}
