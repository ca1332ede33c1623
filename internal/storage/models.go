package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertRecord captures an emitted alert for de-duplication review and audit.
type AlertRecord struct {
	ID           int64
	Symbol       string
	Audience     string
	Status       string
	Price        decimal.Decimal
	DeviationPct decimal.Decimal
	ThresholdPct decimal.Decimal
	RiskScore    *float64
	SentAt       time.Time
	CreatedAt    time.Time
}
