package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pegwatch/internal/cooldown"
	"pegwatch/internal/dispatch"
	"pegwatch/internal/gateway"
	"pegwatch/internal/service"
)

// staticGateway returns a fixed price for one asset and skips everything
// else, letting the real pipeline run against an injected quote.
type staticGateway struct {
	assetID string
	price   decimal.Decimal
}

func (g *staticGateway) Fetch(_ context.Context, assetIDs []string) (map[string]gateway.PriceSample, []gateway.FetchFailure) {
	samples := make(map[string]gateway.PriceSample, 1)
	var failures []gateway.FetchFailure
	for _, id := range assetIDs {
		if id != g.assetID {
			failures = append(failures, gateway.FetchFailure{AssetID: id, Reason: "not simulated"})
			continue
		}
		samples[id] = gateway.PriceSample{
			AssetID:    id,
			Price:      g.price,
			Timestamp:  time.Now().UTC(),
			Provenance: "simulated",
		}
	}
	return samples, failures
}

var _ gateway.MarketDataGateway = (*staticGateway)(nil)

// SimulateAlert drives the classify and dispatch path with an injected price
// for one asset. Real notifications are sent, so the Telegram channel must be
// configured. Cooldowns are in-memory only so a simulation never suppresses
// production alerts.
func (a *App) SimulateAlert(ctx context.Context, symbol string, price float64) error {
	asset, ok := a.Catalog.BySymbol(symbol)
	if !ok {
		return fmt.Errorf("asset %s not found in catalog", symbol)
	}
	if !a.Config.Alerting.Telegram.Enabled {
		return fmt.Errorf("alerting.telegram must be enabled to simulate an alert")
	}

	dispatcher := dispatch.New(cooldown.NewMemory(), a.newNotifier(), nil, a.cooldownWindows(), a.Logger)

	cfg := *a.Config
	cfg.Alerting.Enabled = true
	cfg.Risk.Enabled = false

	monitor := service.New(&cfg, service.Deps{
		Catalog:    a.Catalog,
		Gateway:    &staticGateway{assetID: asset.ProviderID, price: decimal.NewFromFloat(price)},
		Dispatcher: dispatcher,
	}, a.Logger)

	a.Logger.Info().Str("symbol", asset.Symbol).Float64("price", price).
		Msg("simulating alert dispatch")

	if err := monitor.ProcessTick(ctx, time.Now().UTC()); err != nil {
		return fmt.Errorf("simulate tick: %w", err)
	}

	fmt.Printf("Simulated %s at %.6f USD; see logs for dispatch decisions.\n", asset.Symbol, price)
	return nil
}
