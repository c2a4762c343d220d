package redis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"xstream/internal/application/port"
	"xstream/internal/domain"
)

const (
	tradeStreamMaxLen = 100000
	snapshotKeep      = 1000
)

type Repo struct {
	rdb          redis.Cmdable
	ttl          time.Duration
	keyTickers   string // prefix + ":tickers"
	keyAccount   string // prefix + ":account"
	keySnapshots string // prefix + ":snapshots"
	tradeStream  string
	accountTopic string
}

// LatestTicker is the JSON value stored per symbol in the tickers hash.
type LatestTicker struct {
	Symbol      string `json:"symbol"`
	LastPrice   string `json:"last_price"`
	ChangePct   string `json:"change_pct"`
	Volume      string `json:"volume"`
	EventTimeMs int64  `json:"event_ms"`
	LocalUs     int64  `json:"local_us"`
}

type accountMessage struct {
	Reason      string           `json:"reason"`
	EventTimeMs int64            `json:"event_ms"`
	Balances    []domain.Balance `json:"balances"`
}

func New(rdb redis.Cmdable, prefix string, ttl time.Duration, tradeStream, accountTopic string) *Repo {
	if strings.TrimSpace(tradeStream) == "" {
		tradeStream = prefix + ":trades"
	}
	if strings.TrimSpace(accountTopic) == "" {
		accountTopic = prefix + ":account:pub"
	}
	return &Repo{
		rdb:          rdb,
		ttl:          ttl,
		keyTickers:   prefix + ":tickers",
		keyAccount:   prefix + ":account",
		keySnapshots: prefix + ":snapshots",
		tradeStream:  tradeStream,
		accountTopic: accountTopic,
	}
}

func (r *Repo) UpsertTicker(ctx context.Context, t domain.Ticker) error {
	b, _ := json.Marshal(LatestTicker{
		Symbol:      t.Symbol,
		LastPrice:   t.LastPrice.String(),
		ChangePct:   t.PriceChangePercent.String(),
		Volume:      t.Volume.String(),
		EventTimeMs: t.EventTime,
		LocalUs:     t.LocalMicros(),
	})

	// Hash: field = "BTCUSDT" -> json
	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, r.keyTickers, t.Symbol, string(b))
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keyTickers, r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Repo) InsertTrade(ctx context.Context, t domain.Trade) error {
	// XADD <stream> MAXLEN ~ N * ...
	return r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.tradeStream,
		MaxLen: tradeStreamMaxLen,
		Approx: true,
		Values: map[string]any{
			"symbol":   t.Symbol,
			"agg_id":   t.TradeID,
			"price":    t.Price.String(),
			"qty":      t.Qty.String(),
			"side":     string(t.TakerSide()),
			"trade_ms": t.TradeTime,
		},
	}).Err()
}

// SaveAccount stores the latest account update and publishes it.
func (r *Repo) SaveAccount(ctx context.Context, a domain.Account) error {
	b, err := json.Marshal(accountMessage{Reason: a.Reason, EventTimeMs: a.EventTime, Balances: a.Balances})
	if err != nil {
		return err
	}
	pipe := r.rdb.Pipeline()
	pipe.Set(ctx, r.keyAccount, string(b), r.ttl)
	pipe.Publish(ctx, r.accountTopic, string(b))
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Repo) InsertSnapshot(ctx context.Context, ts int64, payload string) error {
	pipe := r.rdb.Pipeline()
	b, _ := json.Marshal(map[string]any{"ts_ms": ts, "payload": payload})
	// newest first, capped list
	pipe.LPush(ctx, r.keySnapshots, string(b))
	pipe.LTrim(ctx, r.keySnapshots, 0, snapshotKeep-1)
	_, err := pipe.Exec(ctx)
	return err
}

// Close is a no-op; the client is owned and closed by the service context.
func (r *Repo) Close() error { return nil }

var _ port.Repository = (*Repo)(nil)
