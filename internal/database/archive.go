// Package database persists confirmed candles to PostgreSQL so restarts
// and backfills do not depend solely on the exchange's history depth.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"bybit-chart-server/internal/market"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// New connects to PostgreSQL and verifies the connection.
func New(ctx context.Context, url string, logger zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	db := &DB{Pool: pool, logger: logger.With().Str("component", "Database").Logger()}
	db.logger.Info().Msg("connected to postgres")
	return db, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// InitSchema creates the candle archive table if it does not exist.
func (db *DB) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			symbol VARCHAR(20) NOT NULL,
			interval VARCHAR(8) NOT NULL,
			time BIGINT NOT NULL,
			open DOUBLE PRECISION NOT NULL,
			high DOUBLE PRECISION NOT NULL,
			low DOUBLE PRECISION NOT NULL,
			close DOUBLE PRECISION NOT NULL,
			volume DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (symbol, interval, time)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_candles_symbol_interval_time
			ON candles(symbol, interval, time DESC)`,
	}
	for _, stmt := range statements {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("running schema statement: %w", err)
		}
	}
	return nil
}

// CandleArchive stores and retrieves confirmed candles.
type CandleArchive struct {
	db *DB
}

// NewCandleArchive wraps db for candle persistence.
func NewCandleArchive(db *DB) *CandleArchive {
	return &CandleArchive{db: db}
}

// UpsertCandles batch-upserts candles for a symbol/interval. Conflicting
// rows are overwritten: a confirmed bar supersedes a provisional one.
func (a *CandleArchive) UpsertCandles(ctx context.Context, symbol, interval string, candles []market.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(
			`INSERT INTO candles (symbol, interval, time, open, high, low, close, volume)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (symbol, interval, time)
			 DO UPDATE SET open = $4, high = $5, low = $6, close = $7, volume = $8`,
			symbol, interval, c.Time, c.Open, c.High, c.Low, c.Close, c.Volume,
		)
	}

	results := a.db.Pool.SendBatch(ctx, batch)
	defer results.Close()
	for range candles {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upserting candles for %s/%s: %w", symbol, interval, err)
		}
	}
	return nil
}

// GetCandles returns archived candles in [from, to] ascending by time,
// capped at limit rows (0 means no cap).
func (a *CandleArchive) GetCandles(ctx context.Context, symbol, interval string, from, to int64, limit int) ([]market.Candle, error) {
	query := `SELECT time, open, high, low, close, volume
		FROM candles
		WHERE symbol = $1 AND interval = $2 AND time >= $3 AND time <= $4
		ORDER BY time ASC`
	args := []any{symbol, interval, from, to}
	if limit > 0 {
		query += ` LIMIT $5`
		args = append(args, limit)
	}

	rows, err := a.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying candles for %s/%s: %w", symbol, interval, err)
	}
	defer rows.Close()

	var candles []market.Candle
	for rows.Next() {
		var c market.Candle
		if err := rows.Scan(&c.Time, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scanning candle row: %w", err)
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}
