package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS trade_journal (
		id BIGSERIAL PRIMARY KEY,
		session_id TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		action TEXT NOT NULL,
		strategy TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		position_multiplier DOUBLE PRECISION NOT NULL,
		regime TEXT NOT NULL,
		phase TEXT NOT NULL,
		order_id TEXT,
		fill_price DOUBLE PRECISION,
		quantity DOUBLE PRECISION,
		pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
		success BOOLEAN NOT NULL,
		error TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trade_journal_session ON trade_journal (session_id, ts)`,
	`CREATE INDEX IF NOT EXISTS idx_trade_journal_symbol ON trade_journal (symbol, ts)`,
	`CREATE TABLE IF NOT EXISTS regime_history (
		ts TIMESTAMPTZ PRIMARY KEY,
		label TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		volatility_percentile DOUBLE PRECISION NOT NULL,
		trend_strength DOUBLE PRECISION NOT NULL,
		mean_reversion_strength DOUBLE PRECISION NOT NULL,
		thresholds JSONB,
		signals JSONB
	)`,
}

// Migrate creates the journal and regime tables when absent. Statements
// are idempotent, so running it on every startup is safe.
func Migrate(ctx context.Context, db *sqlx.DB, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema migration failed: %w", err)
		}
	}
	return nil
}
