package storage

import (
	"context"
	"sync"
	"time"

	"xstream/internal/application/port"
	"xstream/internal/domain"
)

// Snapshot one persisted status line
type Snapshot struct {
	TsMs    int64
	Payload string
}

// Memory is an in-process Repository, used when no backend is enabled.
// Trades are capped at maxTrades, oldest first out.
type Memory struct {
	mu        sync.RWMutex
	maxTrades int
	tickers   map[string]domain.Ticker
	trades    []domain.Trade
	snapshots []Snapshot
	account   *domain.Account
}

// NewMemory creates an in-memory repository
func NewMemory(maxTrades int) *Memory {
	if maxTrades <= 0 {
		maxTrades = 10000
	}
	return &Memory{
		maxTrades: maxTrades,
		tickers:   make(map[string]domain.Ticker),
	}
}

func (r *Memory) UpsertTicker(ctx context.Context, t domain.Ticker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tickers[t.Symbol] = t
	return nil
}

func (r *Memory) InsertTrade(ctx context.Context, t domain.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, t)
	if over := len(r.trades) - r.maxTrades; over > 0 {
		r.trades = append(r.trades[:0:0], r.trades[over:]...)
	}
	return nil
}

func (r *Memory) SaveAccount(ctx context.Context, a domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.account = &a
	return nil
}

func (r *Memory) InsertSnapshot(ctx context.Context, ts int64, payload string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, Snapshot{TsMs: ts, Payload: payload})
	return nil
}

func (r *Memory) Close() error {
	return nil
}

func (r *Memory) Ticker(symbol string) (domain.Ticker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tickers[symbol]
	return t, ok
}

// Trades retrieves trades for a symbol with trade time in [start, end)
func (r *Memory) Trades(symbol string, start, end time.Time) []domain.Trade {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.Trade
	for _, t := range r.trades {
		at := time.UnixMilli(t.TradeTime)
		if t.Symbol == symbol && !at.Before(start) && at.Before(end) {
			result = append(result, t)
		}
	}
	return result
}

// DeleteOldTrades removes trades older than the specified time
func (r *Memory) DeleteOldTrades(before time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	filtered := r.trades[:0]
	for _, t := range r.trades {
		if !time.UnixMilli(t.TradeTime).Before(before) {
			filtered = append(filtered, t)
		}
	}
	r.trades = filtered
}

func (r *Memory) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Snapshot(nil), r.snapshots...)
}

func (r *Memory) Account() (domain.Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.account == nil {
		return domain.Account{}, false
	}
	return *r.account, true
}

var _ port.Repository = (*Memory)(nil)
