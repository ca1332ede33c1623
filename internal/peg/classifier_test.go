package peg

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestDeviationSign(t *testing.T) {
	cases := []struct {
		price string
		want  string
	}{
		{"1.00", "0"},
		{"0.99", "-0.01"},
		{"1.01", "0.01"},
		{"0.95", "-0.05"},
	}
	for _, tc := range cases {
		got := Deviation(decimal.RequireFromString(tc.price))
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("Deviation(%s) = %s, want %s", tc.price, got, tc.want)
		}
	}
}

func TestClassifyBands(t *testing.T) {
	threshold := decimal.RequireFromString("0.005") // 0.5%

	cases := []struct {
		price string
		want  Status
	}{
		{"1.000", StatusStable},
		{"0.996", StatusStable},  // 0.4% below, inside band
		{"1.004", StatusStable},  // 0.4% above, inside band
		{"0.995", StatusWarning}, // exactly at threshold escalates
		{"0.993", StatusWarning},
		{"1.007", StatusWarning},
		{"0.990", StatusDepegged}, // exactly at twice the threshold
		{"0.985", StatusDepegged},
		{"1.020", StatusDepegged},
	}
	for _, tc := range cases {
		deviation := Deviation(decimal.RequireFromString(tc.price))
		if got := Classify(deviation, threshold); got != tc.want {
			t.Fatalf("Classify(price=%s) = %s, want %s", tc.price, got, tc.want)
		}
	}
}

func TestClassifyTighterThresholdEscalatesFirst(t *testing.T) {
	free := decimal.RequireFromString("0.005")    // 0.5%
	premium := decimal.RequireFromString("0.002") // 0.2%

	// A 0.3% drop alerts the premium audience while the free tier stays calm.
	deviation := Deviation(decimal.RequireFromString("0.997"))
	if got := Classify(deviation, free); got != StatusStable {
		t.Fatalf("free tier at 0.3%% = %s, want stable", got)
	}
	if got := Classify(deviation, premium); got != StatusWarning {
		t.Fatalf("premium tier at 0.3%% = %s, want warning", got)
	}
}

func TestStatusMonotoneInDeviation(t *testing.T) {
	threshold := decimal.RequireFromString("0.005")

	prices := []string{"1.000", "1.001", "1.003", "1.005", "1.007", "1.010", "1.050"}
	prev := StatusStable
	for _, p := range prices {
		status := Classify(Deviation(decimal.RequireFromString(p)), threshold)
		if status.Severity() < prev.Severity() {
			t.Fatalf("severity decreased at price %s: %s after %s", p, status, prev)
		}
		prev = status
	}
}

func TestAlertable(t *testing.T) {
	if StatusStable.Alertable() {
		t.Fatal("stable must never alert")
	}
	if !StatusWarning.Alertable() || !StatusDepegged.Alertable() {
		t.Fatal("warning and depegged must alert")
	}
}
