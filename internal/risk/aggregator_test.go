package risk

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pegwatch/internal/gateway"
)

func sampleSeries(prices ...float64) []gateway.PriceSample {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := make([]gateway.PriceSample, 0, len(prices))
	for i, p := range prices {
		out = append(out, gateway.PriceSample{
			AssetID:   "tether",
			Price:     decimal.NewFromFloat(p),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return out
}

func flatSeries(n int) []gateway.PriceSample {
	prices := make([]float64, n)
	for i := range prices {
		prices[i] = 1.0
	}
	return sampleSeries(prices...)
}

func newTestAggregator(opts Options) *Aggregator {
	return NewAggregator(opts, zerolog.Nop())
}

func TestAssessFlatWindowScoresLow(t *testing.T) {
	agg := newTestAggregator(Options{MinSamples: 10})
	got := agg.Assess("tether", flatSeries(20), nil)

	if got.Score != 0 {
		t.Fatalf("flat window should score 0, got %.2f", got.Score)
	}
	if got.AssetID != "tether" {
		t.Fatalf("asset id not carried through: %q", got.AssetID)
	}
	if len(got.Contributions) != 2 {
		t.Fatalf("expected volatility and trend contributions, got %d", len(got.Contributions))
	}
}

func TestAssessVolatileWindowScoresHigher(t *testing.T) {
	agg := newTestAggregator(Options{MinSamples: 10})

	calm := agg.Assess("tether", flatSeries(20), nil)
	rough := agg.Assess("tether", sampleSeries(
		1.000, 0.996, 1.004, 0.993, 1.006, 0.991, 1.008, 0.990, 1.010, 0.988,
		1.000, 0.996, 1.004, 0.993, 1.006, 0.991, 1.008, 0.990, 1.010, 0.988,
	), nil)

	if rough.Score <= calm.Score {
		t.Fatalf("volatile window should score above calm: %.2f <= %.2f", rough.Score, calm.Score)
	}
}

func TestConfidenceCappedWithoutSentiment(t *testing.T) {
	agg := newTestAggregator(Options{MinSamples: 10})
	got := agg.Assess("tether", flatSeries(20), nil)

	if got.Confidence > 70 {
		t.Fatalf("confidence without sentiment must stay at or below 70, got %.2f", got.Confidence)
	}
}

func TestConfidenceCappedByThinWindow(t *testing.T) {
	agg := newTestAggregator(Options{MinSamples: 10})
	got := agg.Assess("tether", flatSeries(3), nil)

	if got.Confidence > 30 {
		t.Fatalf("thin window must cap confidence at 30, got %.2f", got.Confidence)
	}
	if got.Confidence < 10 {
		t.Fatalf("confidence must not fall below the floor, got %.2f", got.Confidence)
	}
}

func TestConfidenceNonIncreasingAsSamplesDrop(t *testing.T) {
	agg := newTestAggregator(Options{MinSamples: 10})

	prev := 101.0
	for _, n := range []int{12, 10, 8, 5, 3, 2} {
		got := agg.Assess("tether", flatSeries(n), nil)
		if got.Confidence > prev {
			t.Fatalf("confidence increased as samples dropped: %d samples -> %.2f after %.2f", n, got.Confidence, prev)
		}
		prev = got.Confidence
	}
}

func TestSentimentRaisesCeilingAndScore(t *testing.T) {
	agg := newTestAggregator(Options{MinSamples: 10})

	bearish := -80.0
	with := agg.Assess("tether", flatSeries(20), &bearish)
	without := agg.Assess("tether", flatSeries(20), nil)

	if with.Score <= without.Score {
		t.Fatalf("bearish sentiment should raise the score: %.2f <= %.2f", with.Score, without.Score)
	}
	if len(with.Contributions) != 3 {
		t.Fatalf("sentiment contribution missing: %d signals", len(with.Contributions))
	}
}

func TestBullishSentimentDoesNotAddRisk(t *testing.T) {
	agg := newTestAggregator(Options{MinSamples: 10})

	bullish := 90.0
	with := agg.Assess("tether", flatSeries(20), &bullish)
	for _, c := range with.Contributions {
		if c.Signal == "sentiment" && c.Score != 0 {
			t.Fatalf("bullish sentiment must map to zero risk, got %.2f", c.Score)
		}
	}
}

func TestHorizonMultiplierOrdersScores(t *testing.T) {
	series := sampleSeries(
		1.000, 0.998, 0.996, 0.994, 0.992, 0.990, 0.988, 0.986, 0.984, 0.982,
		0.980, 0.978,
	)

	var prev float64
	for i, h := range []Horizon{Horizon1h, Horizon6h, Horizon24h} {
		agg := newTestAggregator(Options{MinSamples: 10, Horizon: h})
		got := agg.Assess("tether", series, nil)
		if got.Horizon != h {
			t.Fatalf("horizon not carried through: %s", got.Horizon)
		}
		if i > 0 && got.Score < prev {
			t.Fatalf("longer horizon should not lower the score: %s gave %.2f after %.2f", h, got.Score, prev)
		}
		prev = got.Score
	}
}

func TestContributionsSortedByShare(t *testing.T) {
	agg := newTestAggregator(Options{MinSamples: 10})

	bearish := -100.0
	got := agg.Assess("tether", flatSeries(20), &bearish)
	for i := 1; i < len(got.Contributions); i++ {
		if got.Contributions[i].Contribution > got.Contributions[i-1].Contribution {
			t.Fatalf("contributions out of order at %d: %v", i, got.Contributions)
		}
	}
}

func TestWeightsRenormalisedWithoutSentiment(t *testing.T) {
	agg := newTestAggregator(Options{
		Weights:    Weights{Volatility: 0.5, Trend: 0.3, Sentiment: 0.2},
		MinSamples: 10,
	})

	got := agg.Assess("tether", flatSeries(20), nil)
	total := 0.0
	for _, c := range got.Contributions {
		total += c.Weight
	}
	if diff := total - 1.0; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("weights should renormalise to 1.0 without sentiment, got %s", fmt.Sprintf("%.12f", total))
	}
}

func TestScoreStaysInBand(t *testing.T) {
	agg := newTestAggregator(Options{MinSamples: 2, VolatilityScale: 1e9, TrendScale: 1e9})
	got := agg.Assess("tether", sampleSeries(1.0, 0.5, 1.5, 0.2), nil)
	if got.Score < 0 || got.Score > 100 {
		t.Fatalf("score escaped the 0-100 band: %.2f", got.Score)
	}
}
