package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"pegwatch/internal/service"
)

// Check fetches and classifies a single asset right now, outside the
// scheduled loop, and prints the result.
func (a *App) Check(ctx context.Context, symbol string) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	deps := service.Deps{
		Catalog:    a.Catalog,
		Gateway:    a.newGateway(),
		Aggregator: a.newAggregator(),
	}
	if store != nil {
		deps.Store = store
	}
	monitor := service.New(a.Config, deps, a.Logger)

	result, err := monitor.CheckSymbol(ctx, symbol)
	if err != nil {
		return err
	}

	hundred := decimal.NewFromInt(100)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Asset:\t%s (%s)\n", result.Asset.Symbol, result.Asset.Name)
	fmt.Fprintf(w, "Price:\t%s USD\n", result.Sample.Price.StringFixed(6))
	fmt.Fprintf(w, "Deviation:\t%s%%\n", result.Deviation.Mul(hundred).StringFixed(3))
	fmt.Fprintf(w, "Free tier:\t%s (threshold %.2f%%)\n", result.FreeStatus, a.Config.Tiers.Free.ThresholdPct)
	fmt.Fprintf(w, "Premium tier:\t%s (threshold %.2f%%)\n", result.PremiumStatus, a.Config.Tiers.Premium.ThresholdPct)
	if result.Risk != nil {
		fmt.Fprintf(w, "Risk score:\t%.1f/100 (confidence %.0f%%, horizon %s)\n",
			result.Risk.Score, result.Risk.Confidence, result.Risk.Horizon)
		for _, c := range result.Risk.Contributions {
			fmt.Fprintf(w, "  %s:\t%.1f (weight %.2f)\n", c.Signal, c.Score, c.Weight)
		}
	}
	fmt.Fprintf(w, "Sampled at:\t%s\n", result.Sample.Timestamp.UTC().Format(time.RFC3339))
	return w.Flush()
}
