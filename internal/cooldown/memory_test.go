package cooldown

import (
	"context"
	"testing"
	"time"
)

func TestMemoryEligibility(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	window := 30 * time.Minute

	ok, err := store.IsEligible(ctx, "USDT:free", now, window)
	if err != nil || !ok {
		t.Fatalf("unseen key should be eligible, got ok=%v err=%v", ok, err)
	}

	if err := store.RecordAlert(ctx, "USDT:free", now); err != nil {
		t.Fatalf("RecordAlert: %v", err)
	}

	ok, _ = store.IsEligible(ctx, "USDT:free", now.Add(29*time.Minute), window)
	if ok {
		t.Fatal("key inside the window should not be eligible")
	}

	ok, _ = store.IsEligible(ctx, "USDT:free", now.Add(30*time.Minute), window)
	if !ok {
		t.Fatal("key at window boundary should be eligible again")
	}
}

func TestMemoryTryAcquireSuppressesSecondClaim(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	now := time.Now().UTC()
	window := 5 * time.Minute

	_, acquired, err := store.TryAcquire(ctx, "DAI:premium", now, window)
	if err != nil || !acquired {
		t.Fatalf("first acquire should succeed, got acquired=%v err=%v", acquired, err)
	}

	_, acquired, _ = store.TryAcquire(ctx, "DAI:premium", now.Add(time.Minute), window)
	if acquired {
		t.Fatal("second acquire inside the window should be refused")
	}
}

func TestMemoryReleaseRestoresEligibility(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	now := time.Now().UTC()
	window := 5 * time.Minute

	release, acquired, err := store.TryAcquire(ctx, "USDC:free", now, window)
	if err != nil || !acquired {
		t.Fatalf("acquire failed: acquired=%v err=%v", acquired, err)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	_, acquired, _ = store.TryAcquire(ctx, "USDC:free", now, window)
	if !acquired {
		t.Fatal("released claim should leave the key eligible")
	}
}

func TestMemoryReleaseRestoresPriorTimestamp(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	window := 10 * time.Minute

	if err := store.RecordAlert(ctx, "USDS:free", base); err != nil {
		t.Fatalf("RecordAlert: %v", err)
	}

	// Acquire after the first window, then roll it back.
	release, acquired, err := store.TryAcquire(ctx, "USDS:free", base.Add(11*time.Minute), window)
	if err != nil || !acquired {
		t.Fatalf("acquire failed: acquired=%v err=%v", acquired, err)
	}
	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	// The original timestamp is back: still eligible relative to base.
	ok, _ := store.IsEligible(ctx, "USDS:free", base.Add(11*time.Minute), window)
	if !ok {
		t.Fatal("release should restore the prior timestamp, not the new one")
	}
	ok, _ = store.IsEligible(ctx, "USDS:free", base.Add(5*time.Minute), window)
	if ok {
		t.Fatal("prior timestamp should still suppress inside its own window")
	}
}

func TestMemoryKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	now := time.Now().UTC()
	window := 30 * time.Minute

	if _, acquired, _ := store.TryAcquire(ctx, "USDT:free", now, window); !acquired {
		t.Fatal("first key should acquire")
	}
	if _, acquired, _ := store.TryAcquire(ctx, "USDT:premium", now, window); !acquired {
		t.Fatal("same symbol under another audience should acquire independently")
	}
}
