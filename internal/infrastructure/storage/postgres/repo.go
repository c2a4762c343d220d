package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"xstream/internal/application/port"
	"xstream/internal/domain"
)

type Repo struct {
	db       *sql.DB
	clientID string
}

// New opens the database and creates the tables. clientID tags snapshot rows
// so several processes can share one database.
func New(dsn, clientID string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

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
CREATE TABLE IF NOT EXISTS snapshots (
  id BIGSERIAL PRIMARY KEY,
  client_id TEXT NOT NULL DEFAULT '',
  ts_ms BIGINT NOT NULL,
  payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON snapshots(ts_ms);

CREATE TABLE IF NOT EXISTS tickers (
  symbol TEXT PRIMARY KEY,
  last_price NUMERIC NOT NULL,
  price_change_pct NUMERIC NOT NULL,
  volume NUMERIC NOT NULL,
  quote_volume NUMERIC NOT NULL,
  event_ms BIGINT NOT NULL,
  local_us BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
  symbol TEXT NOT NULL,
  agg_id BIGINT NOT NULL,
  price NUMERIC NOT NULL,
  qty NUMERIC NOT NULL,
  side TEXT NOT NULL,
  trade_ms BIGINT NOT NULL,
  local_us BIGINT NOT NULL,
  PRIMARY KEY (symbol, agg_id)
);
CREATE INDEX IF NOT EXISTS idx_trades_time ON trades(symbol, trade_ms);

CREATE TABLE IF NOT EXISTS accounts (
  id BIGSERIAL PRIMARY KEY,
  reason TEXT NOT NULL,
  event_ms BIGINT NOT NULL,
  balances JSONB NOT NULL
);
`)
	return err
}

func (r *Repo) UpsertTicker(ctx context.Context, t domain.Ticker) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO tickers(symbol, last_price, price_change_pct, volume, quote_volume, event_ms, local_us)
VALUES($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT(symbol) DO UPDATE SET
  last_price = EXCLUDED.last_price,
  price_change_pct = EXCLUDED.price_change_pct,
  volume = EXCLUDED.volume,
  quote_volume = EXCLUDED.quote_volume,
  event_ms = EXCLUDED.event_ms,
  local_us = EXCLUDED.local_us
`, t.Symbol, t.LastPrice.String(), t.PriceChangePercent.String(), t.Volume.String(), t.QuoteVolume.String(),
		t.EventTime, t.LocalMicros())
	return err
}

func (r *Repo) InsertTrade(ctx context.Context, t domain.Trade) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO trades(symbol, agg_id, price, qty, side, trade_ms, local_us)
VALUES($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT(symbol, agg_id) DO NOTHING
`, t.Symbol, t.TradeID, t.Price.String(), t.Qty.String(), string(t.TakerSide()), t.TradeTime, t.LocalMicros())
	return err
}

func (r *Repo) SaveAccount(ctx context.Context, a domain.Account) error {
	b, err := json.Marshal(a.Balances)
	if err != nil {
		return fmt.Errorf("marshal balances: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO accounts(reason, event_ms, balances) VALUES($1, $2, $3)`,
		a.Reason, a.EventTime, string(b))
	return err
}

func (r *Repo) InsertSnapshot(ctx context.Context, ts int64, payload string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO snapshots(client_id, ts_ms, payload) VALUES($1, $2, $3)`,
		r.clientID, ts, payload)
	return err
}

var _ port.Repository = (*Repo)(nil)
