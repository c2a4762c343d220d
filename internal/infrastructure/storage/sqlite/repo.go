package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"xstream/internal/application/port"
	"xstream/internal/domain"
)

type Repo struct {
	db       *sql.DB
	clientID string
}

func New(path, clientID string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &Repo{db: db, clientID: clientID}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS tickers (
  symbol TEXT PRIMARY KEY,
  last_price TEXT NOT NULL,
  price_change_pct TEXT NOT NULL,
  high_price TEXT NOT NULL,
  low_price TEXT NOT NULL,
  volume TEXT NOT NULL,
  event_ms INTEGER NOT NULL,
  local_us INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
  symbol TEXT NOT NULL,
  agg_id INTEGER NOT NULL,
  price TEXT NOT NULL,
  qty TEXT NOT NULL,
  side TEXT NOT NULL,
  trade_ms INTEGER NOT NULL,
  local_us INTEGER NOT NULL,
  PRIMARY KEY (symbol, agg_id)
);
CREATE INDEX IF NOT EXISTS idx_trades_time ON trades(symbol, trade_ms);

CREATE TABLE IF NOT EXISTS balances (
  asset TEXT PRIMARY KEY,
  free TEXT NOT NULL,
  locked TEXT NOT NULL,
  reason TEXT NOT NULL,
  event_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshots (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  client_id TEXT NOT NULL DEFAULT '',
  ts_ms INTEGER NOT NULL,
  payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON snapshots(ts_ms);
`)
	return err
}

func (r *Repo) UpsertTicker(ctx context.Context, t domain.Ticker) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tickers(symbol, last_price, price_change_pct, high_price, low_price, volume, event_ms, local_us)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
		last_price=excluded.last_price, price_change_pct=excluded.price_change_pct,
		high_price=excluded.high_price, low_price=excluded.low_price, volume=excluded.volume,
		event_ms=excluded.event_ms, local_us=excluded.local_us
	`, t.Symbol, t.LastPrice.String(), t.PriceChangePercent.String(), t.HighPrice.String(), t.LowPrice.String(),
		t.Volume.String(), t.EventTime, t.LocalMicros())
	return err
}

func (r *Repo) InsertTrade(ctx context.Context, t domain.Trade) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trades(symbol, agg_id, price, qty, side, trade_ms, local_us)
		VALUES(?, ?, ?, ?, ?, ?, ?)
	`, t.Symbol, t.TradeID, t.Price.String(), t.Qty.String(), string(t.TakerSide()), t.TradeTime, t.LocalMicros())
	return err
}

// SaveAccount upserts every balance carried by the update. Delta-only
// updates (balanceUpdate) have no absolute balance and are skipped.
func (r *Repo) SaveAccount(ctx context.Context, a domain.Account) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, b := range a.Balances {
		if b.Free.IsZero() && b.Locked.IsZero() && !b.Delta.IsZero() {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO balances(asset, free, locked, reason, event_ms) VALUES(?, ?, ?, ?, ?)
			ON CONFLICT(asset) DO UPDATE SET
			free=excluded.free, locked=excluded.locked, reason=excluded.reason, event_ms=excluded.event_ms
		`, b.Asset, b.Free.String(), b.Locked.String(), a.Reason, a.EventTime); err != nil {
			return fmt.Errorf("upsert balance %s: %w", b.Asset, err)
		}
	}
	return tx.Commit()
}

func (r *Repo) InsertSnapshot(ctx context.Context, ts int64, payload string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO snapshots(client_id, ts_ms, payload) VALUES(?, ?, ?)`, r.clientID, ts, payload)
	return err
}

// LatestPrice returns the stored last price of a symbol.
func (r *Repo) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, int64, error) {
	var price string
	var eventMs int64
	err := r.db.QueryRowContext(ctx, `SELECT last_price, event_ms FROM tickers WHERE symbol=?`, symbol).
		Scan(&price, &eventMs)
	if err != nil {
		return decimal.Zero, 0, err
	}
	d, err := decimal.NewFromString(price)
	return d, eventMs, err
}

// RecentTrades lists the newest trades of a symbol, newest first.
func (r *Repo) RecentTrades(ctx context.Context, symbol string, limit int) ([]domain.Trade, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT agg_id, price, qty, side, trade_ms FROM trades
		WHERE symbol=? ORDER BY trade_ms DESC, agg_id DESC LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var price, qty, side string
		if err := rows.Scan(&t.TradeID, &price, &qty, &side, &t.TradeTime); err != nil {
			return nil, err
		}
		t.Symbol = symbol
		t.Price, _ = decimal.NewFromString(price)
		t.Qty, _ = decimal.NewFromString(qty)
		t.BuyerIsMaker = domain.Side(side) == domain.SideSell
		out = append(out, t)
	}
	return out, rows.Err()
}

// Balances lists stored balances by asset.
func (r *Repo) Balances(ctx context.Context) ([]domain.Balance, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT asset, free, locked FROM balances ORDER BY asset`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Balance
	for rows.Next() {
		var b domain.Balance
		var free, locked string
		if err := rows.Scan(&b.Asset, &free, &locked); err != nil {
			return nil, err
		}
		b.Free, _ = decimal.NewFromString(free)
		b.Locked, _ = decimal.NewFromString(locked)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Repo) CountSnapshots(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n)
	return n, err
}

var _ port.Repository = (*Repo)(nil)
