package feed

import (
	"context"
	"time"

	"xstream/internal/application/port"
	"xstream/internal/domain"
	"xstream/internal/stream"
)

// Source is the typed event surface of a stream client.
type Source interface {
	OnConnected(fn func(stream.Connected)) func()
	OnDisconnected(fn func(stream.Disconnected)) func()
	OnReconnectExhausted(fn func(stream.ReconnectExhausted)) func()
	OnError(fn func(error)) func()
	OnTicker(fn func(domain.Ticker)) func()
	OnBookTicker(fn func(domain.BookTicker)) func()
	OnDepth(fn func(domain.Depth)) func()
	OnTrade(fn func(domain.Trade)) func()
	OnAccount(fn func(domain.Account)) func()
}

// Subscriber changes the wanted channel set.
type Subscriber interface {
	Subscribe(channels ...string) error
	Unsubscribe(channels ...string) error
}

// Streams starts and stops the underlying connections.
type Streams interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Options 适配器配置
type Options struct {
	TradeHistory   int
	TrackOrderBook bool
	// AcceptAll 接受未登记交易对的事件（全市场 ticker）
	AcceptAll bool
	// MetricsInterval 吞吐量窗口，默认 1s
	MetricsInterval time.Duration

	// Channels 交易对 -> 需要订阅的频道
	Channels func(symbol string) []string

	// ResyncOnGap 深度序列出现缺口时通过 Snapshots 拉取 REST 快照
	ResyncOnGap bool
	Snapshots   port.DepthSnapshotter
	DepthLimit  int

	Recorder *Recorder
}

const (
	defaultTradeHistory    = 100
	defaultMetricsInterval = time.Second
	resyncTimeout          = 10 * time.Second
)
