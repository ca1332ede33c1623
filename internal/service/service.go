package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"pegwatch/internal/alerting"
	"pegwatch/internal/cache"
	"pegwatch/internal/catalog"
	"pegwatch/internal/config"
	"pegwatch/internal/dispatch"
	"pegwatch/internal/gateway"
	"pegwatch/internal/peg"
	"pegwatch/internal/risk"
	"pegwatch/internal/scheduler"
	"pegwatch/internal/storage"
)

// SentimentSource supplies an optional numeric sentiment score in
// [-100, 100] for a symbol. A nil score means no signal is available.
type SentimentSource interface {
	Sentiment(ctx context.Context, symbol string) (*float64, error)
}

// Monitor orchestrates the tick pipeline: fetch, classify, score, dispatch.
type Monitor struct {
	scheduler  *scheduler.Scheduler
	catalog    *catalog.Catalog
	gateway    gateway.MarketDataGateway
	store      storage.SampleStore
	snapshots  cache.SnapshotCache
	aggregator *risk.Aggregator
	dispatcher *dispatch.Dispatcher
	sentiment  SentimentSource
	locker     storage.AdvisoryLocker
	logger     zerolog.Logger

	thresholds map[catalog.Tier]decimal.Decimal
	alertsOn   bool
	riskOn     bool
	window     int
	retention  time.Duration
	maxWorkers int
	lockKey    int64

	mu      sync.Mutex
	flagged map[string]string // provider ID -> terminal failure reason
	memory  map[string][]gateway.PriceSample
}

// Deps collects the monitor's collaborators. Store, snapshot cache,
// aggregator, dispatcher, sentiment, and locker may each be nil; the monitor
// degrades around them.
type Deps struct {
	Scheduler  *scheduler.Scheduler
	Catalog    *catalog.Catalog
	Gateway    gateway.MarketDataGateway
	Store      storage.SampleStore
	Snapshots  cache.SnapshotCache
	Aggregator *risk.Aggregator
	Dispatcher *dispatch.Dispatcher
	Sentiment  SentimentSource
	Locker     storage.AdvisoryLocker
}

// New constructs the monitoring service.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Monitor {
	maxWorkers := cfg.Scheduler.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 8
	}

	hundred := decimal.NewFromInt(100)
	thresholds := map[catalog.Tier]decimal.Decimal{
		catalog.TierFree:    decimal.NewFromFloat(cfg.Tiers.Free.ThresholdPct).Div(hundred),
		catalog.TierPremium: decimal.NewFromFloat(cfg.Tiers.Premium.ThresholdPct).Div(hundred),
	}

	return &Monitor{
		scheduler:  deps.Scheduler,
		catalog:    deps.Catalog,
		gateway:    deps.Gateway,
		store:      deps.Store,
		snapshots:  deps.Snapshots,
		aggregator: deps.Aggregator,
		dispatcher: deps.Dispatcher,
		sentiment:  deps.Sentiment,
		locker:     deps.Locker,
		logger:     logger.With().Str("component", "monitor").Logger(),
		thresholds: thresholds,
		alertsOn:   cfg.Alerting.Enabled,
		riskOn:     cfg.Risk.Enabled && deps.Aggregator != nil,
		window:     cfg.Risk.WindowSamples,
		retention:  cfg.Risk.WindowRetention,
		maxWorkers: maxWorkers,
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
		flagged:    make(map[string]string),
		memory:     make(map[string][]gateway.PriceSample),
	}
}

// Run begins the monitoring loop.
func (m *Monitor) Run(ctx context.Context) error {
	if m.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return m.scheduler.Run(ctx, m.ProcessTick)
}

// ProcessTick executes one full monitoring pass. Component-local failures
// degrade the tick and are logged; only a lost advisory lock or a cancelled
// context surfaces as a tick error.
func (m *Monitor) ProcessTick(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := m.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		m.logger.Debug().Time("bucket", bucket).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	assets := m.activeAssets()
	if len(assets) == 0 {
		m.logger.Warn().Msg("no active assets to monitor")
		return nil
	}

	samples, failures := m.gateway.Fetch(ctx, catalog.ProviderIDs(assets))
	m.recordFailures(failures)

	if len(samples) == 0 {
		m.logger.Warn().Time("bucket", bucket).Int("failed", len(failures)).
			Msg("tick degraded: no samples fetched")
		return nil
	}

	m.persistSamples(ctx, samples)

	evals := m.classify(assets, samples)
	if m.riskOn {
		m.score(ctx, evals)
	}
	m.publishSnapshots(ctx, evals)

	if m.alertsOn && m.dispatcher != nil {
		m.dispatchAlerts(ctx, evals, bucket)
	}

	m.logger.Info().Time("bucket", bucket).
		Int("classified", len(evals)).
		Int("failed", len(failures)).
		Msg("tick complete")
	return nil
}

// evaluation is the transient per-tick state for one asset.
type evaluation struct {
	asset     catalog.Asset
	sample    gateway.PriceSample
	deviation decimal.Decimal
	status    map[catalog.Tier]peg.Status
	risk      *risk.Assessment
}

func (m *Monitor) activeAssets() []catalog.Asset {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.catalog.All()
	active := make([]catalog.Asset, 0, len(all))
	for _, a := range all {
		if _, bad := m.flagged[a.ProviderID]; bad {
			continue
		}
		active = append(active, a)
	}
	return active
}

// recordFailures logs degraded assets and flags terminal ones so they are
// not retried every tick until an operator intervenes.
func (m *Monitor) recordFailures(failures []gateway.FetchFailure) {
	for _, f := range failures {
		if !f.Terminal {
			m.logger.Warn().Str("asset_id", f.AssetID).Str("reason", f.Reason).
				Msg("asset skipped this tick")
			continue
		}

		m.mu.Lock()
		_, known := m.flagged[f.AssetID]
		if !known {
			m.flagged[f.AssetID] = f.Reason
		}
		m.mu.Unlock()

		if !known {
			m.logger.Error().Str("asset_id", f.AssetID).Str("reason", f.Reason).
				Msg("asset flagged; excluded from monitoring until restart")
		}
	}
}

// FlaggedAssets returns the provider IDs currently excluded with reasons.
func (m *Monitor) FlaggedAssets() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.flagged))
	for k, v := range m.flagged {
		out[k] = v
	}
	return out
}

func (m *Monitor) persistSamples(ctx context.Context, samples map[string]gateway.PriceSample) {
	if m.store == nil {
		m.mu.Lock()
		for id, s := range samples {
			window := append(m.memory[id], s)
			if len(window) > m.window {
				window = window[len(window)-m.window:]
			}
			m.memory[id] = window
		}
		m.mu.Unlock()
		return
	}

	for _, s := range samples {
		if err := m.store.UpsertSample(ctx, s); err != nil {
			m.logger.Error().Err(err).Str("asset_id", s.AssetID).Msg("failed to persist sample")
		}
	}
	if m.retention > 0 {
		if err := m.store.TrimSamplesBefore(ctx, time.Now().UTC().Add(-m.retention)); err != nil {
			m.logger.Error().Err(err).Msg("failed to trim sample window")
		}
	}
}

func (m *Monitor) recentSamples(ctx context.Context, assetID string) []gateway.PriceSample {
	if m.store == nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		window := m.memory[assetID]
		out := make([]gateway.PriceSample, len(window))
		copy(out, window)
		return out
	}

	window, err := m.store.ListRecentSamples(ctx, assetID, m.window)
	if err != nil {
		m.logger.Error().Err(err).Str("asset_id", assetID).Msg("failed to load sample window")
		return nil
	}
	return window
}

func (m *Monitor) classify(assets []catalog.Asset, samples map[string]gateway.PriceSample) []*evaluation {
	evals := make([]*evaluation, 0, len(samples))
	for _, a := range assets {
		sample, ok := samples[a.ProviderID]
		if !ok {
			continue
		}

		deviation := peg.Deviation(sample.Price)
		status := make(map[catalog.Tier]peg.Status, len(a.Tiers()))
		for _, tier := range a.Tiers() {
			status[tier] = peg.Classify(deviation, m.thresholds[tier])
		}

		evals = append(evals, &evaluation{
			asset:     a,
			sample:    sample,
			deviation: deviation,
			status:    status,
		})
	}
	return evals
}

// score runs the risk aggregator across assets under the worker limit.
// Assessment never blocks the status-based pipeline; a thin window simply
// yields low confidence.
func (m *Monitor) score(ctx context.Context, evals []*evaluation) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.maxWorkers)

	for _, ev := range evals {
		ev := ev
		g.Go(func() error {
			window := m.recentSamples(gctx, ev.asset.ProviderID)

			var sentiment *float64
			if m.sentiment != nil {
				score, err := m.sentiment.Sentiment(gctx, ev.asset.Symbol)
				if err != nil {
					m.logger.Debug().Err(err).Str("symbol", ev.asset.Symbol).
						Msg("sentiment unavailable")
				} else {
					sentiment = score
				}
			}

			assessment := m.aggregator.Assess(ev.asset.ProviderID, window, sentiment)
			ev.risk = &assessment
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Monitor) publishSnapshots(ctx context.Context, evals []*evaluation) {
	if m.snapshots == nil {
		return
	}

	for _, ev := range evals {
		snap := cache.Snapshot{
			Symbol:       ev.asset.Symbol,
			Price:        ev.sample.Price,
			DeviationPct: ev.deviation,
			Status:       ev.status[catalog.TierPremium],
			UpdatedAt:    ev.sample.Timestamp,
		}
		if ev.risk != nil {
			score := ev.risk.Score
			conf := ev.risk.Confidence
			snap.RiskScore = &score
			snap.Confidence = &conf
		}
		if err := m.snapshots.SetSnapshot(ctx, snap); err != nil {
			m.logger.Warn().Err(err).Str("symbol", ev.asset.Symbol).Msg("failed to cache snapshot")
		}
	}
}

// dispatchAlerts evaluates every (asset, audience) pair under the worker
// limit. A cooldown-store failure aborts the remaining dispatches for the
// tick: skipping alerts is safer than double-firing them.
func (m *Monitor) dispatchAlerts(ctx context.Context, evals []*evaluation, bucket time.Time) {
	boards := map[catalog.Tier][]alerting.BoardLine{
		catalog.TierFree:    m.board(evals, catalog.TierFree),
		catalog.TierPremium: m.board(evals, catalog.TierPremium),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.maxWorkers)

	for _, ev := range evals {
		for _, tier := range ev.asset.Tiers() {
			ev, tier := ev, tier
			if !ev.status[tier].Alertable() {
				continue
			}
			g.Go(func() error {
				in := dispatch.Input{
					Asset:     ev.asset,
					Audience:  tier,
					Status:    ev.status[tier],
					Deviation: ev.deviation,
					Threshold: m.thresholds[tier],
					Sample:    ev.sample,
					Risk:      ev.risk,
					Board:     boards[tier],
					Now:       bucket,
				}
				_, err := m.dispatcher.Evaluate(gctx, in)
				if err != nil {
					if errors.Is(err, dispatch.ErrCooldownUnavailable) {
						// Returning the error cancels gctx and with it the
						// rest of the dispatch phase.
						return err
					}
					m.logger.Error().Err(err).Str("symbol", ev.asset.Symbol).
						Str("audience", string(tier)).Msg("alert dispatch failed")
				}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		m.logger.Error().Err(err).Time("bucket", bucket).
			Msg("dispatch phase aborted: cooldown store unavailable")
	}
}

func (m *Monitor) board(evals []*evaluation, tier catalog.Tier) []alerting.BoardLine {
	lines := make([]alerting.BoardLine, 0, len(evals))
	for _, ev := range evals {
		status, visible := ev.status[tier]
		if !visible {
			continue
		}
		lines = append(lines, alerting.BoardLine{
			Symbol:       ev.asset.Symbol,
			Price:        ev.sample.Price,
			DeviationPct: ev.deviation,
			Status:       status,
		})
	}
	sort.Slice(lines, func(i, j int) bool {
		return lines[i].DeviationPct.Abs().GreaterThan(lines[j].DeviationPct.Abs())
	})
	return lines
}

// CheckResult is a one-off classification of a single asset.
type CheckResult struct {
	Asset         catalog.Asset
	Sample        gateway.PriceSample
	Deviation     decimal.Decimal
	FreeStatus    peg.Status
	PremiumStatus peg.Status
	Risk          *risk.Assessment
}

// CheckSymbol fetches and classifies one asset outside the scheduled loop.
func (m *Monitor) CheckSymbol(ctx context.Context, symbol string) (*CheckResult, error) {
	asset, ok := m.catalog.BySymbol(symbol)
	if !ok {
		return nil, fmt.Errorf("asset %s not found in catalog", symbol)
	}

	samples, failures := m.gateway.Fetch(ctx, []string{asset.ProviderID})
	sample, ok := samples[asset.ProviderID]
	if !ok {
		reason := "no data returned"
		if len(failures) > 0 {
			reason = failures[0].Reason
		}
		return nil, fmt.Errorf("fetch %s: %s", symbol, reason)
	}

	deviation := peg.Deviation(sample.Price)
	result := &CheckResult{
		Asset:         asset,
		Sample:        sample,
		Deviation:     deviation,
		FreeStatus:    peg.Classify(deviation, m.thresholds[catalog.TierFree]),
		PremiumStatus: peg.Classify(deviation, m.thresholds[catalog.TierPremium]),
	}

	if m.riskOn {
		window := m.recentSamples(ctx, asset.ProviderID)
		assessment := m.aggregator.Assess(asset.ProviderID, append(window, sample), nil)
		result.Risk = &assessment
	}
	return result, nil
}

func (m *Monitor) acquireLock(ctx context.Context) (func(), bool, error) {
	if m.lockKey == 0 || m.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := m.locker.TryAdvisoryLock(ctx, m.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
