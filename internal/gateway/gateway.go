package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceSample is one normalised observation from the market data provider.
type PriceSample struct {
	AssetID    string
	Price      decimal.Decimal
	Volume24h  decimal.Decimal
	MarketCap  decimal.Decimal
	Timestamp  time.Time
	Provenance string
}

// FetchFailure reports a per-asset fetch problem for the current tick.
// Terminal failures (unknown identifier, auth rejection) should not be
// retried every tick by the caller.
type FetchFailure struct {
	AssetID  string
	Reason   string
	Terminal bool
}

// MarketDataGateway fetches current prices for a batch of asset identifiers.
// Partial provider failures are returned as data, never as a batch error.
type MarketDataGateway interface {
	Fetch(ctx context.Context, assetIDs []string) (map[string]PriceSample, []FetchFailure)
}
