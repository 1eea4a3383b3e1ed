package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/tradepilot/tradepilot/internal/persistence"
)

// tradesRepo implements TradesRepo for PostgreSQL
type tradesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewTradesRepo creates a PostgreSQL trade journal
func NewTradesRepo(db *sqlx.DB, timeout time.Duration) persistence.TradesRepo {
	return &tradesRepo{db: db, timeout: timeout}
}

// Insert journals one trade record
func (r *tradesRepo) Insert(ctx context.Context, record persistence.TradeRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO trade_journal
		(session_id, ts, symbol, action, strategy, confidence, position_multiplier,
		 regime, phase, order_id, fill_price, quantity, pnl, success, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.db.ExecContext(ctx, query,
		record.SessionID, record.Timestamp, record.Symbol, record.Action,
		record.Strategy, record.Confidence, record.PositionMultiplier,
		record.Regime, record.Phase, record.OrderID, record.FillPrice,
		record.Quantity, record.PnL, record.Success, record.Error)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate trade record: %w", err)
		}
		return fmt.Errorf("failed to insert trade record: %w", err)
	}
	return nil
}

// ListBySession retrieves a session's trades in execution order
func (r *tradesRepo) ListBySession(ctx context.Context, sessionID string, limit int) ([]persistence.TradeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, session_id, ts, symbol, action, strategy, confidence,
		       position_multiplier, regime, phase, order_id, fill_price,
		       quantity, pnl, success, error, created_at
		FROM trade_journal
		WHERE session_id = $1
		ORDER BY ts ASC
		LIMIT $2`

	var records []persistence.TradeRecord
	if err := r.db.SelectContext(ctx, &records, query, sessionID, limit); err != nil {
		return nil, fmt.Errorf("failed to list trades for session %s: %w", sessionID, err)
	}
	return records, nil
}

// ListBySymbol retrieves trades for a symbol within a time range
func (r *tradesRepo) ListBySymbol(ctx context.Context, symbol string, tr persistence.TimeRange, limit int) ([]persistence.TradeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, session_id, ts, symbol, action, strategy, confidence,
		       position_multiplier, regime, phase, order_id, fill_price,
		       quantity, pnl, success, error, created_at
		FROM trade_journal
		WHERE symbol = $1 AND ts >= $2 AND ts < $3
		ORDER BY ts ASC
		LIMIT $4`

	var records []persistence.TradeRecord
	if err := r.db.SelectContext(ctx, &records, query, symbol, tr.From, tr.To, limit); err != nil {
		return nil, fmt.Errorf("failed to list trades for %s: %w", symbol, err)
	}
	return records, nil
}
