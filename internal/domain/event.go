package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind 行情事件类型
type Kind int

const (
	KindTicker Kind = iota + 1
	KindBookTicker
	KindDepth
	KindTrade
	KindAccount
)

func (k Kind) String() string {
	switch k {
	case KindTicker:
		return "ticker"
	case KindBookTicker:
		return "book-ticker"
	case KindDepth:
		return "depth"
	case KindTrade:
		return "trade"
	case KindAccount:
		return "account"
	default:
		return "unknown"
	}
}

// Meta 所有事件共有的字段
// EventTime 是交易所下发的毫秒时间戳，LocalTime 是本地分发时刻（微秒精度，单调时钟）
type Meta struct {
	Symbol    string
	EventTime int64
	LocalTime time.Time
}

// LocalMicros returns the local arrival time in unix microseconds.
func (m Meta) LocalMicros() int64 { return m.LocalTime.UnixMicro() }

// Latency is the local arrival time minus the exchange-reported time.
// Returns 0 when the exchange did not report a time.
func (m Meta) Latency() time.Duration {
	if m.EventTime <= 0 {
		return 0
	}
	return m.LocalTime.Sub(time.UnixMilli(m.EventTime))
}

// Event 统一的行情事件接口，便于记录器按 Kind 分流
type Event interface {
	Kind() Kind
	Header() Meta
}

// Ticker 24 小时滚动行情
type Ticker struct {
	Meta
	PriceChange        decimal.Decimal
	PriceChangePercent decimal.Decimal
	WeightedAvgPrice   decimal.Decimal
	LastPrice          decimal.Decimal
	LastQty            decimal.Decimal
	BidPrice           decimal.Decimal
	BidQty             decimal.Decimal
	AskPrice           decimal.Decimal
	AskQty             decimal.Decimal
	OpenPrice          decimal.Decimal
	HighPrice          decimal.Decimal
	LowPrice           decimal.Decimal
	Volume             decimal.Decimal
	QuoteVolume        decimal.Decimal
	OpenTime           int64
	CloseTime          int64
	FirstTradeID       int64
	LastTradeID        int64
	Count              int64
}

func (Ticker) Kind() Kind     { return KindTicker }
func (t Ticker) Header() Meta { return t.Meta }

// BookTicker 最优买卖价
type BookTicker struct {
	Meta
	UpdateID int64
	BidPrice decimal.Decimal
	BidQty   decimal.Decimal
	AskPrice decimal.Decimal
	AskQty   decimal.Decimal
}

func (BookTicker) Kind() Kind     { return KindBookTicker }
func (b BookTicker) Header() Meta { return b.Meta }

// Spread returns ask minus bid.
func (b BookTicker) Spread() decimal.Decimal { return b.AskPrice.Sub(b.BidPrice) }

// PriceLevel 一档价格/数量
type PriceLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// Depth 订单簿增量或部分快照
// 增量更新的 FirstUpdateID..FinalUpdateID 连续递增，消费方据此检测缺口
type Depth struct {
	Meta
	FirstUpdateID     int64
	FinalUpdateID     int64
	PrevFinalUpdateID int64
	Bids              []PriceLevel
	Asks              []PriceLevel
	// Partial 为 true 表示 depth{N} 快照流（只有 lastUpdateId）
	Partial bool
}

func (Depth) Kind() Kind     { return KindDepth }
func (d Depth) Header() Meta { return d.Meta }

// Side 主动方方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Trade 归集成交
type Trade struct {
	Meta
	TradeID      int64
	Price        decimal.Decimal
	Qty          decimal.Decimal
	FirstTradeID int64
	LastTradeID  int64
	TradeTime    int64
	BuyerIsMaker bool
}

func (Trade) Kind() Kind     { return KindTrade }
func (t Trade) Header() Meta { return t.Meta }

// TakerSide derives the aggressor side: a maker buyer means the taker sold.
func (t Trade) TakerSide() Side {
	if t.BuyerIsMaker {
		return SideSell
	}
	return SideBuy
}

// Balance 资产余额及本次变动
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
	Delta  decimal.Decimal
}

// Position 合约持仓快照
type Position struct {
	Symbol        string
	Amount        decimal.Decimal
	EntryPrice    decimal.Decimal
	UnrealizedPnL decimal.Decimal
	PositionSide  string
}

// OrderUpdate 订单状态变化（仅用于展示，不做下单）
type OrderUpdate struct {
	Symbol        string
	ClientOrderID string
	OrderID       int64
	Side          Side
	Status        string
	Price         decimal.Decimal
	Qty           decimal.Decimal
	FilledQty     decimal.Decimal
}

// Account 账户/订单更新，每次整体替换
type Account struct {
	Meta
	// Reason 原始事件类型，如 outboundAccountPosition / ACCOUNT_UPDATE
	Reason    string
	Balances  []Balance
	Positions []Position
	Order     *OrderUpdate
}

func (Account) Kind() Kind     { return KindAccount }
func (a Account) Header() Meta { return a.Meta }
