package app

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"pegwatch/internal/cache"
	"pegwatch/internal/peg"
)

// Status prints the latest board of monitored assets. It prefers the display
// cache and falls back to the sample store when no cache is configured.
func (a *App) Status(ctx context.Context, opts StatusOptions) error {
	snaps, err := a.loadSnapshots(ctx)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		return fmt.Errorf("no snapshots available; is the monitor running?")
	}

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].DeviationPct.Abs().GreaterThan(snaps[j].DeviationPct.Abs())
	})
	if opts.Limit > 0 && len(snaps) > opts.Limit {
		snaps = snaps[:opts.Limit]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tPRICE\tDEVIATION\tSTATUS\tRISK\tUPDATED")
	for _, s := range snaps {
		risk := "-"
		if s.RiskScore != nil {
			risk = fmt.Sprintf("%.0f", *s.RiskScore)
			if s.Confidence != nil {
				risk = fmt.Sprintf("%.0f (conf %.0f%%)", *s.RiskScore, *s.Confidence)
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s%%\t%s\t%s\t%s\n",
			s.Symbol,
			s.Price.StringFixed(6),
			s.DeviationPct.Mul(decimal.NewFromInt(100)).StringFixed(3),
			s.Status,
			risk,
			s.UpdatedAt.UTC().Format(time.RFC3339),
		)
	}
	return w.Flush()
}

func (a *App) loadSnapshots(ctx context.Context) ([]cache.Snapshot, error) {
	symbols := make([]string, 0, len(a.Catalog.All()))
	for _, asset := range a.Catalog.All() {
		symbols = append(symbols, asset.Symbol)
	}

	snapshots, closeCache, err := a.openCache()
	if err != nil {
		return nil, err
	}
	if closeCache != nil {
		defer closeCache()
	}
	if snapshots != nil {
		snaps, err := snapshots.ListSnapshots(ctx, symbols)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("snapshot cache unreachable; falling back to store")
		} else if len(snaps) > 0 {
			return snaps, nil
		}
	}

	return a.snapshotsFromStore(ctx)
}

// snapshotsFromStore rebuilds the board from the most recent persisted sample
// per asset. Risk scores are not persisted per sample, so they show as absent.
func (a *App) snapshotsFromStore(ctx context.Context) ([]cache.Snapshot, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("neither redis.addr nor database.dsn configured")
	}
	defer closeStore()

	hundred := decimal.NewFromInt(100)
	premiumThreshold := decimal.NewFromFloat(a.Config.Tiers.Premium.ThresholdPct).Div(hundred)

	snaps := make([]cache.Snapshot, 0, len(a.Catalog.All()))
	for _, asset := range a.Catalog.All() {
		window, err := store.ListRecentSamples(ctx, asset.ProviderID, 1)
		if err != nil {
			return nil, fmt.Errorf("load latest sample for %s: %w", asset.Symbol, err)
		}
		if len(window) == 0 {
			continue
		}

		sample := window[len(window)-1]
		deviation := peg.Deviation(sample.Price)
		snaps = append(snaps, cache.Snapshot{
			Symbol:       asset.Symbol,
			Price:        sample.Price,
			DeviationPct: deviation,
			Status:       peg.Classify(deviation, premiumThreshold),
			UpdatedAt:    sample.Timestamp,
		})
	}
	return snaps, nil
}
