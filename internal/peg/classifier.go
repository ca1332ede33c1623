package peg

import "github.com/shopspring/decimal"

// Status grades how far an asset has drifted from its reference value.
type Status string

const (
	StatusStable   Status = "stable"
	StatusWarning  Status = "warning"
	StatusDepegged Status = "depegged"
)

var reference = decimal.NewFromInt(1)

// Deviation returns the signed relative distance of price from the 1.00 peg.
func Deviation(price decimal.Decimal) decimal.Decimal {
	return price.Sub(reference).Div(reference)
}

// Classify maps an absolute deviation onto a status band for the supplied
// tier threshold: stable below the threshold, warning up to twice the
// threshold, depegged beyond that. Threshold is a fraction (0.005 = 0.5%).
func Classify(deviation, threshold decimal.Decimal) Status {
	abs := deviation.Abs()
	switch {
	case abs.LessThan(threshold):
		return StatusStable
	case abs.LessThan(threshold.Mul(decimal.NewFromInt(2))):
		return StatusWarning
	default:
		return StatusDepegged
	}
}

// Severity orders statuses for comparisons; larger means worse.
func (s Status) Severity() int {
	switch s {
	case StatusWarning:
		return 1
	case StatusDepegged:
		return 2
	default:
		return 0
	}
}

// Alertable reports whether the status crosses the notification gate.
func (s Status) Alertable() bool {
	return s == StatusWarning || s == StatusDepegged
}
