package risk

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"pegwatch/internal/gateway"
	"pegwatch/internal/peg"
)

// Horizon tags the time frame an assessment speaks to.
type Horizon string

const (
	Horizon1h  Horizon = "1h"
	Horizon6h  Horizon = "6h"
	Horizon24h Horizon = "24h"
)

// Confidence ceilings: assessments built from a short window, or without the
// optional sentiment signal, must not claim full certainty.
const (
	ceilingFullSignal  = 100.0
	ceilingNoSentiment = 70.0
	ceilingLowSamples  = 30.0
	floorConfidence    = 10.0
)

const (
	signalVolatility = "volatility"
	signalTrend      = "trend"
	signalSentiment  = "sentiment"
)

// Weights configure the contribution of each sub-signal to the fused score.
type Weights struct {
	Volatility float64 `mapstructure:"volatility"`
	Trend      float64 `mapstructure:"trend"`
	Sentiment  float64 `mapstructure:"sentiment"`
}

// Options tune the aggregator. Scales convert raw signal magnitudes onto the
// 0-100 band; they are configuration, not constants baked into the math.
type Options struct {
	Weights         Weights
	MinSamples      int
	VolatilityScale float64
	TrendScale      float64
	Horizon         Horizon
}

// Contribution is one sub-signal's share of the fused score, reported for
// explainability in the order it was weighed.
type Contribution struct {
	Signal       string
	Score        float64
	Weight       float64
	Contribution float64
}

// Assessment is the fused 0-100 risk view for one asset.
type Assessment struct {
	AssetID       string
	Score         float64
	Confidence    float64
	Horizon       Horizon
	Contributions []Contribution
	GeneratedAt   time.Time
}

// Aggregator fuses volatility, trend, and optional sentiment into one score.
// It is a transparent weighted heuristic; a trained model could replace it
// behind the same Assess contract.
type Aggregator struct {
	opts   Options
	logger zerolog.Logger
}

// NewAggregator constructs the aggregator, defaulting unset options.
func NewAggregator(opts Options, logger zerolog.Logger) *Aggregator {
	if opts.Weights.Volatility <= 0 && opts.Weights.Trend <= 0 && opts.Weights.Sentiment <= 0 {
		opts.Weights = Weights{Volatility: 0.5, Trend: 0.3, Sentiment: 0.2}
	}
	if opts.MinSamples <= 0 {
		opts.MinSamples = 10
	}
	if opts.VolatilityScale <= 0 {
		opts.VolatilityScale = 20000
	}
	if opts.TrendScale <= 0 {
		opts.TrendScale = 50000
	}
	if opts.Horizon == "" {
		opts.Horizon = Horizon24h
	}
	return &Aggregator{opts: opts, logger: logger.With().Str("component", "risk_aggregator").Logger()}
}

// Assess fuses the sub-signals for one asset. samples must be ordered oldest
// first; sentiment is an optional score in [-100, 100] where negative means
// bearish. Missing data degrades confidence, never correctness: Assess always
// returns a usable assessment.
func (a *Aggregator) Assess(assetID string, samples []gateway.PriceSample, sentiment *float64) Assessment {
	deviations := make([]float64, 0, len(samples))
	for _, s := range samples {
		deviations = append(deviations, peg.Deviation(s.Price).InexactFloat64())
	}

	volScore := clamp(stddev(deviations)*a.opts.VolatilityScale, 0, 100)
	trendScore := clamp(math.Abs(slope(deviations))*a.opts.TrendScale, 0, 100)

	signals := []Contribution{
		{Signal: signalVolatility, Score: volScore, Weight: a.opts.Weights.Volatility},
		{Signal: signalTrend, Score: trendScore, Weight: a.opts.Weights.Trend},
	}
	if sentiment != nil {
		signals = append(signals, Contribution{
			Signal: signalSentiment,
			Score:  sentimentRisk(*sentiment),
			Weight: a.opts.Weights.Sentiment,
		})
	}
	normalizeWeights(signals)

	score := 0.0
	for i := range signals {
		signals[i].Contribution = signals[i].Score * signals[i].Weight
		score += signals[i].Contribution
	}
	score = clamp(score*horizonMultiplier(a.opts.Horizon), 0, 100)

	confidence := a.confidence(signals, len(samples), sentiment != nil)

	sort.SliceStable(signals, func(i, j int) bool {
		return signals[i].Contribution > signals[j].Contribution
	})

	return Assessment{
		AssetID:       assetID,
		Score:         score,
		Confidence:    confidence,
		Horizon:       a.opts.Horizon,
		Contributions: signals,
		GeneratedAt:   time.Now().UTC(),
	}
}

// confidence reflects signal agreement, capped when history is thin or the
// optional sentiment signal is absent.
func (a *Aggregator) confidence(signals []Contribution, sampleCount int, hasSentiment bool) float64 {
	scores := make([]float64, 0, len(signals))
	for _, s := range signals {
		scores = append(scores, s.Score)
	}

	agreement := clamp(100-2*stddev(scores), floorConfidence, ceilingFullSignal)

	ceiling := ceilingFullSignal
	if !hasSentiment {
		ceiling = ceilingNoSentiment
	}
	if sampleCount < a.opts.MinSamples {
		// Thin history is the harder cap: keep confidence proportional to
		// how much of the window is filled so it is non-increasing as
		// samples drop.
		fill := float64(sampleCount) / float64(a.opts.MinSamples)
		ceiling = math.Min(ceiling, ceilingLowSamples*fill)
		ceiling = math.Max(ceiling, floorConfidence)
	}

	return math.Min(agreement, ceiling)
}

// sentimentRisk maps a [-100,100] sentiment score onto 0-100 risk. Only
// bearish sentiment contributes; bullish chatter is not a depeg signal.
func sentimentRisk(score float64) float64 {
	return clamp(-score, 0, 100)
}

func horizonMultiplier(h Horizon) float64 {
	switch h {
	case Horizon1h:
		return 0.3
	case Horizon6h:
		return 0.7
	default:
		return 1.0
	}
}

func normalizeWeights(signals []Contribution) {
	total := 0.0
	for _, s := range signals {
		total += s.Weight
	}
	if total <= 0 {
		for i := range signals {
			signals[i].Weight = 1.0 / float64(len(signals))
		}
		return
	}
	for i := range signals {
		signals[i].Weight /= total
	}
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values) - 1)
	return math.Sqrt(variance)
}

// slope is the least-squares slope of the deviation series over its index,
// the directional trend of the window.
func slope(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, v := range values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
