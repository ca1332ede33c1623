package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"pegwatch/internal/cooldown"
	"pegwatch/internal/gateway"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertSampleSQL = `INSERT INTO price_samples (
        asset_id,
        ts,
        price,
        volume_24h,
        market_cap,
        provenance
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (asset_id, ts) DO UPDATE
    SET
        price      = EXCLUDED.price,
        volume_24h = EXCLUDED.volume_24h,
        market_cap = EXCLUDED.market_cap,
        provenance = EXCLUDED.provenance;`

	listRecentSamplesSQL = `SELECT
        asset_id, ts, price, volume_24h, market_cap, provenance
    FROM price_samples
    WHERE asset_id = $1
    ORDER BY ts DESC
    LIMIT $2;`

	listSamplesBetweenSQL = `SELECT
        asset_id, ts, price, volume_24h, market_cap, provenance
    FROM price_samples
    WHERE asset_id = $1
      AND ts >= $2
      AND ts < $3
    ORDER BY ts;`

	trimSamplesSQL = `DELETE FROM price_samples WHERE ts < $1;`

	countSamplesSQL = `SELECT COUNT(*) FROM price_samples;`

	selectCooldownSQL = `SELECT last_alert_at FROM alert_cooldowns WHERE cooldown_key = $1;`

	recordCooldownSQL = `INSERT INTO alert_cooldowns (cooldown_key, last_alert_at)
    VALUES ($1, $2)
    ON CONFLICT (cooldown_key) DO UPDATE
    SET last_alert_at = EXCLUDED.last_alert_at;`

	// Check-then-record as one statement: the conditional UPDATE only fires
	// when the previous alert is outside the window, and the RETURNING
	// clause hands back the prior timestamp so a failed delivery can be
	// rolled back.
	tryAcquireCooldownSQL = `WITH prev AS (
        SELECT last_alert_at FROM alert_cooldowns WHERE cooldown_key = $1
    )
    INSERT INTO alert_cooldowns (cooldown_key, last_alert_at)
    VALUES ($1, $2)
    ON CONFLICT (cooldown_key) DO UPDATE
    SET last_alert_at = EXCLUDED.last_alert_at
    WHERE alert_cooldowns.last_alert_at <= $3
    RETURNING (SELECT last_alert_at FROM prev);`

	restoreCooldownSQL = `UPDATE alert_cooldowns SET last_alert_at = $2 WHERE cooldown_key = $1;`
	deleteCooldownSQL  = `DELETE FROM alert_cooldowns WHERE cooldown_key = $1;`

	insertAlertSQL = `INSERT INTO alerts (
        symbol,
        audience,
        status,
        price,
        deviation_pct,
        threshold_pct,
        risk_score,
        sent_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id, symbol, audience, status, price, deviation_pct, threshold_pct, risk_score, sent_at, created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SampleStore defines operations on the rolling price-sample window.
type SampleStore interface {
	UpsertSample(ctx context.Context, sample gateway.PriceSample) error
	ListRecentSamples(ctx context.Context, assetID string, limit int) ([]gateway.PriceSample, error)
	ListSamplesBetween(ctx context.Context, assetID string, from, to time.Time) ([]gateway.PriceSample, error)
	TrimSamplesBefore(ctx context.Context, cutoff time.Time) error
	CountSamples(ctx context.Context) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to samples, cooldowns, and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertSample persists or updates one price observation.
func (s *Store) UpsertSample(ctx context.Context, sample gateway.PriceSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertSampleSQL,
		sample.AssetID,
		sample.Timestamp,
		sample.Price.String(),
		sample.Volume24h.String(),
		sample.MarketCap.String(),
		sample.Provenance,
	)
	if execErr != nil {
		return fmt.Errorf("upsert price sample: %w", execErr)
	}
	return nil
}

// ListRecentSamples returns the newest samples for an asset ordered oldest
// first, ready for trend and volatility computation.
func (s *Store) ListRecentSamples(ctx context.Context, assetID string, limit int) ([]gateway.PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, assetID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	samples, scanErr := scanSamples(rows, limit)
	if scanErr != nil {
		return nil, scanErr
	}

	// Query is newest-first for the LIMIT; callers want oldest-first.
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
	return samples, nil
}

// ListSamplesBetween lists an asset's samples within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, assetID string, from, to time.Time) ([]gateway.PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, assetID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	return scanSamples(rows, 0)
}

// TrimSamplesBefore drops samples older than the rolling window cutoff.
func (s *Store) TrimSamplesBefore(ctx context.Context, cutoff time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, trimSamplesSQL, cutoff); execErr != nil {
		return fmt.Errorf("trim samples: %w", execErr)
	}
	return nil
}

// CountSamples counts stored samples.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// IsEligible reports whether the cooldown key is outside its window.
func (s *Store) IsEligible(ctx context.Context, key string, now time.Time, window time.Duration) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	var last time.Time
	scanErr := pool.QueryRow(ctx, selectCooldownSQL, key).Scan(&last)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return true, nil
		}
		return false, fmt.Errorf("read cooldown: %w", scanErr)
	}
	return now.Sub(last) >= window, nil
}

// RecordAlert unconditionally overwrites the last-alert timestamp.
func (s *Store) RecordAlert(ctx context.Context, key string, now time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, recordCooldownSQL, key, now); execErr != nil {
		return fmt.Errorf("record cooldown: %w", execErr)
	}
	return nil
}

// TryAcquire performs check-then-record atomically in a single statement and
// returns a release func that restores the previous cooldown state.
func (s *Store) TryAcquire(ctx context.Context, key string, now time.Time, window time.Duration) (cooldown.ReleaseFunc, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	var prev sql.NullTime
	scanErr := pool.QueryRow(ctx, tryAcquireCooldownSQL, key, now, now.Add(-window)).Scan(&prev)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("acquire cooldown: %w", scanErr)
	}

	release := func(relCtx context.Context) error {
		if prev.Valid {
			_, relErr := pool.Exec(relCtx, restoreCooldownSQL, key, prev.Time)
			return relErr
		}
		_, relErr := pool.Exec(relCtx, deleteCooldownSQL, key)
		return relErr
	}
	return release, true, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	var riskScore interface{}
	if alert.RiskScore != nil {
		riskScore = *alert.RiskScore
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Symbol,
		alert.Audience,
		alert.Status,
		alert.Price.String(),
		alert.DeviationPct.String(),
		alert.ThresholdPct.String(),
		riskScore,
		alert.SentAt,
	)

	rec := alert
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var rec AlertRecord
		var priceStr, deviationStr, thresholdStr string
		var riskScore sql.NullFloat64
		if err := rows.Scan(
			&rec.ID,
			&rec.Symbol,
			&rec.Audience,
			&rec.Status,
			&priceStr,
			&deviationStr,
			&thresholdStr,
			&riskScore,
			&rec.SentAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		rec.Price, convErr = decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse alert price: %w", convErr)
		}
		rec.DeviationPct, convErr = decimal.NewFromString(deviationStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse deviation pct: %w", convErr)
		}
		rec.ThresholdPct, convErr = decimal.NewFromString(thresholdStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse threshold pct: %w", convErr)
		}
		if riskScore.Valid {
			score := riskScore.Float64
			rec.RiskScore = &score
		}

		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a
// release func. Only one scheduler instance should sample at a time.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Unlock is best effort; the session drop releases it regardless.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func scanSamples(rows pgx.Rows, sizeHint int) ([]gateway.PriceSample, error) {
	samples := make([]gateway.PriceSample, 0, sizeHint)
	for rows.Next() {
		var (
			assetID      string
			ts           time.Time
			priceStr     string
			volumeStr    string
			marketCapStr string
			provenance   string
		)
		if err := rows.Scan(&assetID, &ts, &priceStr, &volumeStr, &marketCapStr, &provenance); err != nil {
			return nil, err
		}

		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("parse sample price: %w", err)
		}
		volume, err := decimal.NewFromString(volumeStr)
		if err != nil {
			return nil, fmt.Errorf("parse sample volume: %w", err)
		}
		marketCap, err := decimal.NewFromString(marketCapStr)
		if err != nil {
			return nil, fmt.Errorf("parse sample market cap: %w", err)
		}

		samples = append(samples, gateway.PriceSample{
			AssetID:    assetID,
			Price:      price,
			Volume24h:  volume,
			MarketCap:  marketCap,
			Timestamp:  ts,
			Provenance: provenance,
		})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

var (
	_ SampleStore    = (*Store)(nil)
	_ AlertStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
	_ cooldown.Store = (*Store)(nil)
)
