package persistence

import (
	"context"
	"sync"
)

// MemoryTradesRepo keeps the journal in process memory. It is the
// fallback when no durable backend is configured and the backend used
// by tests.
type MemoryTradesRepo struct {
	mu      sync.RWMutex
	nextID  int64
	records []TradeRecord
}

// NewMemoryTradesRepo creates an empty in-memory journal
func NewMemoryTradesRepo() *MemoryTradesRepo {
	return &MemoryTradesRepo{nextID: 1}
}

// Insert adds one trade record
func (r *MemoryTradesRepo) Insert(_ context.Context, record TradeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record.ID = r.nextID
	r.nextID++
	r.records = append(r.records, record)
	return nil
}

// ListBySession retrieves a session's trades in execution order
func (r *MemoryTradesRepo) ListBySession(_ context.Context, sessionID string, limit int) ([]TradeRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	out := make([]TradeRecord, 0, limit)
	for _, rec := range r.records {
		if rec.SessionID != sessionID {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// ListBySymbol retrieves trades for a symbol within a time range
func (r *MemoryTradesRepo) ListBySymbol(_ context.Context, symbol string, tr TimeRange, limit int) ([]TradeRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	out := make([]TradeRecord, 0, limit)
	for _, rec := range r.records {
		if rec.Symbol != symbol {
			continue
		}
		if rec.Timestamp.Before(tr.From) || !rec.Timestamp.Before(tr.To) {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
