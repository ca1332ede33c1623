package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pegwatch/internal/peg"
)

const latestKeyPrefix = "pegwatch:latest:"

// Snapshot is the latest per-asset view cached for display reads. It is
// derived state: losing it costs nothing but a slower status command.
type Snapshot struct {
	Symbol       string          `json:"symbol"`
	Price        decimal.Decimal `json:"price"`
	DeviationPct decimal.Decimal `json:"deviation_pct"`
	Status       peg.Status      `json:"status"`
	RiskScore    *float64        `json:"risk_score,omitempty"`
	Confidence   *float64        `json:"confidence,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// SnapshotCache stores and reads the latest classification snapshots.
type SnapshotCache interface {
	SetSnapshot(ctx context.Context, snap Snapshot) error
	GetSnapshot(ctx context.Context, symbol string) (*Snapshot, error)
	ListSnapshots(ctx context.Context, symbols []string) ([]Snapshot, error)
	Ping(ctx context.Context) error
}

// Redis implements SnapshotCache on a Redis instance.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedis wraps a go-redis client. TTL bounds how stale a displayed
// snapshot can be before it simply disappears.
func NewRedis(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *Redis {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Redis{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "snapshot_cache").Logger(),
	}
}

// SetSnapshot stores the latest snapshot for an asset with expiry.
func (r *Redis) SetSnapshot(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := r.client.Set(ctx, latestKeyPrefix+snap.Symbol, payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("set snapshot: %w", err)
	}
	return nil
}

// GetSnapshot reads one asset's snapshot; nil when absent or expired.
func (r *Redis) GetSnapshot(ctx context.Context, symbol string) (*Snapshot, error) {
	payload, err := r.client.Get(ctx, latestKeyPrefix+symbol).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// ListSnapshots reads snapshots for the requested symbols, skipping misses.
func (r *Redis) ListSnapshots(ctx context.Context, symbols []string) ([]Snapshot, error) {
	keys := make([]string, 0, len(symbols))
	for _, s := range symbols {
		keys = append(keys, latestKeyPrefix+s)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget snapshots: %w", err)
	}

	snaps := make([]Snapshot, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			r.logger.Warn().Err(err).Msg("dropping undecodable snapshot")
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// Ping checks cache connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

var _ SnapshotCache = (*Redis)(nil)
