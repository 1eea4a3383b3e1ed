package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/tradepilot/tradepilot/internal/regime"
)

// regimeStore implements regime.Store on PostgreSQL, one row per classify
// call keyed by timestamp
type regimeStore struct {
	db      *sqlx.DB
	timeout time.Duration
	limit   int
}

// NewRegimeStore creates a PostgreSQL-backed regime history store
func NewRegimeStore(db *sqlx.DB, timeout time.Duration, limit int) regime.Store {
	if limit <= 0 {
		limit = 100
	}
	return &regimeStore{db: db, timeout: timeout, limit: limit}
}

type regimeRow struct {
	Timestamp             time.Time `db:"ts"`
	Label                 string    `db:"label"`
	Confidence            float64   `db:"confidence"`
	VolatilityPercentile  float64   `db:"volatility_percentile"`
	TrendStrength         float64   `db:"trend_strength"`
	MeanReversionStrength float64   `db:"mean_reversion_strength"`
	Thresholds            []byte    `db:"thresholds"`
	Signals               []byte    `db:"signals"`
}

// Save upserts the history, keyed by classification timestamp
func (s *regimeStore) Save(ctx context.Context, history []regime.Classification) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		INSERT INTO regime_history
		(ts, label, confidence, volatility_percentile, trend_strength,
		 mean_reversion_strength, thresholds, signals)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (ts) DO UPDATE SET
			label = EXCLUDED.label,
			confidence = EXCLUDED.confidence,
			volatility_percentile = EXCLUDED.volatility_percentile,
			trend_strength = EXCLUDED.trend_strength,
			mean_reversion_strength = EXCLUDED.mean_reversion_strength,
			thresholds = EXCLUDED.thresholds,
			signals = EXCLUDED.signals`

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin regime save: %w", err)
	}
	defer tx.Rollback()

	for _, c := range history {
		thresholdsJSON, err := json.Marshal(c.Thresholds)
		if err != nil {
			return fmt.Errorf("failed to marshal thresholds: %w", err)
		}
		signalsJSON, err := json.Marshal(c.Signals)
		if err != nil {
			return fmt.Errorf("failed to marshal signals: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query,
			c.Timestamp, string(c.Label), c.Confidence,
			c.VolatilityPercentile, c.TrendStrength, c.MeanReversionStrength,
			thresholdsJSON, signalsJSON); err != nil {
			if pqErr, ok := err.(*pq.Error); ok {
				return fmt.Errorf("failed to upsert regime row (%s): %w", pqErr.Code, err)
			}
			return fmt.Errorf("failed to upsert regime row: %w", err)
		}
	}
	return tx.Commit()
}

// Load returns the most recent classifications in chronological order
func (s *regimeStore) Load(ctx context.Context) ([]regime.Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT ts, label, confidence, volatility_percentile, trend_strength,
		       mean_reversion_strength, thresholds, signals
		FROM regime_history
		ORDER BY ts DESC
		LIMIT $1`

	var rows []regimeRow
	if err := s.db.SelectContext(ctx, &rows, query, s.limit); err != nil {
		return nil, fmt.Errorf("failed to load regime history: %w", err)
	}

	history := make([]regime.Classification, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		c := regime.Classification{
			Timestamp:             row.Timestamp,
			Label:                 regime.Label(row.Label),
			Confidence:            row.Confidence,
			VolatilityPercentile:  row.VolatilityPercentile,
			TrendStrength:         row.TrendStrength,
			MeanReversionStrength: row.MeanReversionStrength,
		}
		if len(row.Thresholds) > 0 {
			if err := json.Unmarshal(row.Thresholds, &c.Thresholds); err != nil {
				return nil, fmt.Errorf("failed to unmarshal thresholds at %s: %w", row.Timestamp, err)
			}
		}
		if len(row.Signals) > 0 {
			if err := json.Unmarshal(row.Signals, &c.Signals); err != nil {
				return nil, fmt.Errorf("failed to unmarshal signals at %s: %w", row.Timestamp, err)
			}
		}
		history = append(history, c)
	}
	return history, nil
}
