package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pegwatch/internal/alerting"
	"pegwatch/internal/catalog"
	"pegwatch/internal/cooldown"
	"pegwatch/internal/gateway"
	"pegwatch/internal/peg"
	"pegwatch/internal/risk"
	"pegwatch/internal/storage"
)

// ErrCooldownUnavailable marks a dispatch decision that could not consult
// the cooldown store. Callers should fail the dispatch phase safe rather
// than risk double-firing.
var ErrCooldownUnavailable = errors.New("cooldown store unavailable")

// AuditStore persists dispatched alerts for deduplication review and audit.
type AuditStore interface {
	InsertAlert(ctx context.Context, rec storage.AlertRecord) (storage.AlertRecord, error)
}

// Input is one classified asset under one audience tier.
type Input struct {
	Asset     catalog.Asset
	Audience  catalog.Tier
	Status    peg.Status
	Deviation decimal.Decimal
	Threshold decimal.Decimal
	Sample    gateway.PriceSample
	Risk      *risk.Assessment
	Board     []alerting.BoardLine
	Now       time.Time
}

// Decision records the outcome of one dispatch evaluation.
type Decision struct {
	Dispatched bool
	Reason     string
}

// Dispatcher gates notifications on peg status and cooldown state. The
// cooldown is recorded only after the channel confirms delivery; a failed
// send releases the claim so the asset stays eligible on the next tick.
//
// A transition back to stable after a prior alert does not emit a recovery
// notice. That is a deliberate policy choice, not an omission.
type Dispatcher struct {
	cooldowns cooldown.Store
	notifier  alerting.Notifier
	audit     AuditStore
	windows   map[catalog.Tier]time.Duration
	logger    zerolog.Logger
}

// New constructs a dispatcher. audit may be nil; windows missing an audience
// fall back to 30 minutes.
func New(cooldowns cooldown.Store, notifier alerting.Notifier, audit AuditStore, windows map[catalog.Tier]time.Duration, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		cooldowns: cooldowns,
		notifier:  notifier,
		audit:     audit,
		windows:   windows,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
	}
}

// CooldownKey scopes cooldown records to one asset within one audience
// channel, matching how alerts are actually delivered.
func CooldownKey(symbol string, audience catalog.Tier) string {
	return symbol + ":" + string(audience)
}

// Evaluate decides whether the classified asset should alert the audience,
// and if so delivers the notification. A cooldown-store error is returned to
// the caller so the tick's dispatch phase can fail safe rather than
// double-fire.
func (d *Dispatcher) Evaluate(ctx context.Context, in Input) (Decision, error) {
	if !in.Status.Alertable() {
		return Decision{Reason: "status below alert gate"}, nil
	}
	if d.notifier == nil {
		return Decision{Reason: "no notifier configured"}, nil
	}

	key := CooldownKey(in.Asset.Symbol, in.Audience)
	release, acquired, err := d.cooldowns.TryAcquire(ctx, key, in.Now, d.window(in.Audience))
	if err != nil {
		return Decision{Reason: "cooldown store unavailable"},
			fmt.Errorf("%w: acquire cooldown for %s: %v", ErrCooldownUnavailable, key, err)
	}
	if !acquired {
		d.logger.Debug().Str("key", key).Msg("alert suppressed by cooldown")
		return Decision{Reason: "cooldown active"}, nil
	}

	note := alerting.Notification{
		Audience:     in.Audience,
		Symbol:       in.Asset.Symbol,
		Price:        in.Sample.Price,
		DeviationPct: in.Deviation,
		ThresholdPct: in.Threshold,
		Status:       in.Status,
		At:           in.Now,
		Board:        in.Board,
	}
	if in.Risk != nil {
		score := in.Risk.Score
		conf := in.Risk.Confidence
		note.RiskScore = &score
		note.Confidence = &conf
	}

	if err := d.notifier.Notify(ctx, note); err != nil {
		if relErr := release(ctx); relErr != nil {
			d.logger.Error().Err(relErr).Str("key", key).Msg("failed to release cooldown after delivery failure")
		}
		return Decision{Reason: "delivery failed"}, fmt.Errorf("deliver alert for %s: %w", key, err)
	}

	if d.audit != nil {
		rec := storage.AlertRecord{
			Symbol:       in.Asset.Symbol,
			Audience:     string(in.Audience),
			Status:       string(in.Status),
			Price:        in.Sample.Price,
			DeviationPct: in.Deviation,
			ThresholdPct: in.Threshold,
			SentAt:       in.Now,
		}
		if in.Risk != nil {
			score := in.Risk.Score
			rec.RiskScore = &score
		}
		if _, err := d.audit.InsertAlert(ctx, rec); err != nil {
			d.logger.Error().Err(err).Str("key", key).Msg("failed to persist alert record")
		}
	}

	d.logger.Info().Str("key", key).
		Str("status", string(in.Status)).
		Str("deviation_pct", in.Deviation.Mul(decimal.NewFromInt(100)).StringFixed(3)).
		Msg("alert dispatched")
	return Decision{Dispatched: true, Reason: "dispatched"}, nil
}

func (d *Dispatcher) window(audience catalog.Tier) time.Duration {
	if w, ok := d.windows[audience]; ok && w > 0 {
		return w
	}
	return 30 * time.Minute
}
