package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	_ "github.com/lib/pq"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Open создает подключение к PostgreSQL и проверяет его
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// schema - таблицы бота; создаются при старте, если отсутствуют
var schema = []string{
	`CREATE TABLE IF NOT EXISTS candles (
		market VARCHAR(20) NOT NULL,
		open_time TIMESTAMPTZ NOT NULL,
		close_time TIMESTAMPTZ NOT NULL,
		open NUMERIC(30, 10) NOT NULL,
		high NUMERIC(30, 10) NOT NULL,
		low NUMERIC(30, 10) NOT NULL,
		close NUMERIC(30, 10) NOT NULL,
		volume NUMERIC(30, 10) NOT NULL DEFAULT 0,
		PRIMARY KEY (market, close_time)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id UUID PRIMARY KEY,
		exchange_order_id VARCHAR(64) NOT NULL DEFAULT '',
		market VARCHAR(20) NOT NULL,
		side VARCHAR(10) NOT NULL,
		requested_quantity NUMERIC(30, 10) NOT NULL,
		requested_price NUMERIC(30, 10),
		status VARCHAR(20) NOT NULL,
		filled_quantity NUMERIC(30, 10) NOT NULL DEFAULT 0,
		average_fill_price NUMERIC(30, 10) NOT NULL DEFAULT 0,
		fills JSONB NOT NULL DEFAULT '[]',
		last_error TEXT NOT NULL DEFAULT '',
		cycle_id BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_market_status ON orders (market, status)`,
	`CREATE TABLE IF NOT EXISTS audit_events (
		id BIGSERIAL PRIMARY KEY,
		seq BIGINT NOT NULL,
		cycle_id BIGINT NOT NULL DEFAULT 0,
		kind VARCHAR(20) NOT NULL,
		payload JSONB NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_cycle ON audit_events (cycle_id)`,
	`CREATE TABLE IF NOT EXISTS cycles (
		id BIGINT PRIMARY KEY,
		market VARCHAR(20) NOT NULL,
		trigger VARCHAR(20) NOT NULL,
		direction VARCHAR(10) NOT NULL DEFAULT '',
		strength NUMERIC(20, 10) NOT NULL DEFAULT 0,
		decision VARCHAR(20) NOT NULL DEFAULT '',
		rule VARCHAR(50) NOT NULL DEFAULT '',
		order_id VARCHAR(64) NOT NULL DEFAULT '',
		order_status VARCHAR(20) NOT NULL DEFAULT '',
		outcome VARCHAR(20) NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS trades (
		id BIGSERIAL PRIMARY KEY,
		market VARCHAR(20) NOT NULL,
		order_id VARCHAR(64) NOT NULL,
		quantity NUMERIC(30, 10) NOT NULL,
		pnl NUMERIC(30, 10) NOT NULL,
		closed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_market_closed ON trades (market, closed_at)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id SERIAL PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		type VARCHAR(50) NOT NULL,
		severity VARCHAR(10) NOT NULL DEFAULT 'info',
		market VARCHAR(20) NOT NULL DEFAULT '',
		message TEXT NOT NULL,
		meta JSONB NOT NULL DEFAULT '{}'
	)`,
}

// Migrate создает таблицы, если их нет
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// normalizeLimit ограничивает размер выборки
func normalizeLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
