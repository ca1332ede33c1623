package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pegwatch/internal/alerting"
	"pegwatch/internal/catalog"
	"pegwatch/internal/cooldown"
	"pegwatch/internal/gateway"
	"pegwatch/internal/peg"
	"pegwatch/internal/storage"
)

type fakeNotifier struct {
	sent []alerting.Notification
	fail error
}

func (f *fakeNotifier) Notify(_ context.Context, n alerting.Notification) error {
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, n)
	return nil
}

type fakeAudit struct {
	records []storage.AlertRecord
}

func (f *fakeAudit) InsertAlert(_ context.Context, rec storage.AlertRecord) (storage.AlertRecord, error) {
	rec.ID = int64(len(f.records) + 1)
	f.records = append(f.records, rec)
	return rec, nil
}

type failingCooldowns struct{}

func (failingCooldowns) IsEligible(context.Context, string, time.Time, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

func (failingCooldowns) RecordAlert(context.Context, string, time.Time) error {
	return errors.New("connection refused")
}

func (failingCooldowns) TryAcquire(context.Context, string, time.Time, time.Duration) (cooldown.ReleaseFunc, bool, error) {
	return nil, false, errors.New("connection refused")
}

func testInput(status peg.Status, now time.Time) Input {
	price := decimal.RequireFromString("0.9932")
	return Input{
		Asset:     catalog.Asset{Symbol: "USDT", Name: "Tether", ProviderID: "tether", Tier: 1},
		Audience:  catalog.TierFree,
		Status:    status,
		Deviation: peg.Deviation(price),
		Threshold: decimal.RequireFromString("0.005"),
		Sample:    gateway.PriceSample{AssetID: "tether", Price: price, Timestamp: now},
		Now:       now,
	}
}

func testWindows() map[catalog.Tier]time.Duration {
	return map[catalog.Tier]time.Duration{
		catalog.TierFree:    30 * time.Minute,
		catalog.TierPremium: 5 * time.Minute,
	}
}

func TestEvaluateDispatchesThenSuppresses(t *testing.T) {
	ctx := context.Background()
	notifier := &fakeNotifier{}
	d := New(cooldown.NewMemory(), notifier, nil, testWindows(), zerolog.Nop())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	decision, err := d.Evaluate(ctx, testInput(peg.StatusWarning, now))
	if err != nil {
		t.Fatalf("first evaluate: %v", err)
	}
	if !decision.Dispatched {
		t.Fatalf("first breach should dispatch: %+v", decision)
	}

	// Same asset still in breach a few ticks later: suppressed.
	decision, err = d.Evaluate(ctx, testInput(peg.StatusWarning, now.Add(2*time.Minute)))
	if err != nil {
		t.Fatalf("second evaluate: %v", err)
	}
	if decision.Dispatched {
		t.Fatal("breach inside the cooldown window must be suppressed")
	}

	// After the window elapses the same breach may alert again.
	decision, err = d.Evaluate(ctx, testInput(peg.StatusWarning, now.Add(31*time.Minute)))
	if err != nil {
		t.Fatalf("third evaluate: %v", err)
	}
	if !decision.Dispatched {
		t.Fatal("breach after the cooldown window should dispatch again")
	}

	if len(notifier.sent) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(notifier.sent))
	}
}

func TestEvaluateStableNeverDispatches(t *testing.T) {
	ctx := context.Background()
	notifier := &fakeNotifier{}
	d := New(cooldown.NewMemory(), notifier, nil, testWindows(), zerolog.Nop())

	decision, err := d.Evaluate(ctx, testInput(peg.StatusStable, time.Now().UTC()))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Dispatched || len(notifier.sent) != 0 {
		t.Fatal("stable status must never produce a notification")
	}
}

func TestEvaluateDeliveryFailureLeavesAssetEligible(t *testing.T) {
	ctx := context.Background()
	notifier := &fakeNotifier{fail: errors.New("telegram down")}
	d := New(cooldown.NewMemory(), notifier, nil, testWindows(), zerolog.Nop())
	now := time.Now().UTC()

	if _, err := d.Evaluate(ctx, testInput(peg.StatusDepegged, now)); err == nil {
		t.Fatal("failed delivery should surface an error")
	}

	// The cooldown claim was rolled back; the next tick dispatches.
	notifier.fail = nil
	decision, err := d.Evaluate(ctx, testInput(peg.StatusDepegged, now.Add(time.Minute)))
	if err != nil {
		t.Fatalf("retry evaluate: %v", err)
	}
	if !decision.Dispatched {
		t.Fatal("asset must stay eligible after a failed delivery")
	}
}

func TestEvaluateCooldownStoreFailureFailsSafe(t *testing.T) {
	ctx := context.Background()
	notifier := &fakeNotifier{}
	d := New(failingCooldowns{}, notifier, nil, testWindows(), zerolog.Nop())

	_, err := d.Evaluate(ctx, testInput(peg.StatusDepegged, time.Now().UTC()))
	if !errors.Is(err, ErrCooldownUnavailable) {
		t.Fatalf("expected ErrCooldownUnavailable, got %v", err)
	}
	if len(notifier.sent) != 0 {
		t.Fatal("no notification may go out when cooldown state is unknown")
	}
}

func TestEvaluateAudiencesCoolDownIndependently(t *testing.T) {
	ctx := context.Background()
	notifier := &fakeNotifier{}
	d := New(cooldown.NewMemory(), notifier, nil, testWindows(), zerolog.Nop())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	free := testInput(peg.StatusWarning, now)
	premium := testInput(peg.StatusWarning, now)
	premium.Audience = catalog.TierPremium

	for _, in := range []Input{free, premium} {
		decision, err := d.Evaluate(ctx, in)
		if err != nil {
			t.Fatalf("evaluate %s: %v", in.Audience, err)
		}
		if !decision.Dispatched {
			t.Fatalf("%s audience should dispatch on its own cooldown", in.Audience)
		}
	}

	// Premium's 5 minute window reopens while free is still cooling down.
	later := now.Add(6 * time.Minute)
	free.Now, premium.Now = later, later

	decision, _ := d.Evaluate(ctx, free)
	if decision.Dispatched {
		t.Fatal("free audience should still be cooling down")
	}
	decision, _ = d.Evaluate(ctx, premium)
	if !decision.Dispatched {
		t.Fatal("premium audience should be eligible again")
	}
}

func TestEvaluateWritesAuditRecord(t *testing.T) {
	ctx := context.Background()
	audit := &fakeAudit{}
	d := New(cooldown.NewMemory(), &fakeNotifier{}, audit, testWindows(), zerolog.Nop())
	now := time.Now().UTC()

	in := testInput(peg.StatusDepegged, now)
	if _, err := d.Evaluate(ctx, in); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	if len(audit.records) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(audit.records))
	}
	rec := audit.records[0]
	if rec.Symbol != "USDT" || rec.Audience != string(catalog.TierFree) || rec.Status != string(peg.StatusDepegged) {
		t.Fatalf("audit record wrong: %+v", rec)
	}
}

func TestCooldownKey(t *testing.T) {
	if got := CooldownKey("USDT", catalog.TierPremium); got != "USDT:premium" {
		t.Fatalf("CooldownKey = %q", got)
	}
}
