package stream

import (
	"github.com/shopspring/decimal"

	"xstream/internal/domain"
)

// Binance 推送的字段名大小写敏感（e/E、b/B ...），encoding/json 在没有精确匹配时会
// 回退到大小写不敏感匹配，所以每个结构体都把成对的 key 全部声明出来。

type wireTicker struct {
	EventType          string          `json:"e"`
	EventTime          int64           `json:"E"`
	Symbol             string          `json:"s"`
	PriceChange        decimal.Decimal `json:"p"`
	PriceChangePercent decimal.Decimal `json:"P"`
	WeightedAvgPrice   decimal.Decimal `json:"w"`
	PrevClosePrice     decimal.Decimal `json:"x"`
	LastPrice          decimal.Decimal `json:"c"`
	LastQty            decimal.Decimal `json:"Q"`
	BidPrice           decimal.Decimal `json:"b"`
	BidQty             decimal.Decimal `json:"B"`
	AskPrice           decimal.Decimal `json:"a"`
	AskQty             decimal.Decimal `json:"A"`
	OpenPrice          decimal.Decimal `json:"o"`
	HighPrice          decimal.Decimal `json:"h"`
	LowPrice           decimal.Decimal `json:"l"`
	Volume             decimal.Decimal `json:"v"`
	QuoteVolume        decimal.Decimal `json:"q"`
	OpenTime           int64           `json:"O"`
	CloseTime          int64           `json:"C"`
	FirstTradeID       int64           `json:"F"`
	LastTradeID        int64           `json:"L"`
	Count              int64           `json:"n"`
}

func (w wireTicker) toDomain(meta domain.Meta) domain.Ticker {
	return domain.Ticker{
		Meta:               meta,
		PriceChange:        w.PriceChange,
		PriceChangePercent: w.PriceChangePercent,
		WeightedAvgPrice:   w.WeightedAvgPrice,
		LastPrice:          w.LastPrice,
		LastQty:            w.LastQty,
		BidPrice:           w.BidPrice,
		BidQty:             w.BidQty,
		AskPrice:           w.AskPrice,
		AskQty:             w.AskQty,
		OpenPrice:          w.OpenPrice,
		HighPrice:          w.HighPrice,
		LowPrice:           w.LowPrice,
		Volume:             w.Volume,
		QuoteVolume:        w.QuoteVolume,
		OpenTime:           w.OpenTime,
		CloseTime:          w.CloseTime,
		FirstTradeID:       w.FirstTradeID,
		LastTradeID:        w.LastTradeID,
		Count:              w.Count,
	}
}

type wireBookTicker struct {
	EventType string          `json:"e"`
	EventTime int64           `json:"E"`
	TradeTime int64           `json:"T"`
	UpdateID  int64           `json:"u"`
	Symbol    string          `json:"s"`
	BidPrice  decimal.Decimal `json:"b"`
	BidQty    decimal.Decimal `json:"B"`
	AskPrice  decimal.Decimal `json:"a"`
	AskQty    decimal.Decimal `json:"A"`
}

type wireDepth struct {
	EventType         string               `json:"e"`
	EventTime         int64                `json:"E"`
	TradeTime         int64                `json:"T"`
	Symbol            string               `json:"s"`
	FirstUpdateID     int64                `json:"U"`
	FinalUpdateID     int64                `json:"u"`
	PrevFinalUpdateID int64                `json:"pu"`
	Bids              [][2]decimal.Decimal `json:"b"`
	Asks              [][2]decimal.Decimal `json:"a"`
}

// PartialDepth depth{N} 快照推送，与 REST /api/v3/depth 响应结构相同
type PartialDepth struct {
	LastUpdateID int64                `json:"lastUpdateId"`
	Bids         [][2]decimal.Decimal `json:"bids"`
	Asks         [][2]decimal.Decimal `json:"asks"`
}

// ToDomain converts a snapshot into a Depth event.
func (w PartialDepth) ToDomain(meta domain.Meta) domain.Depth {
	return domain.Depth{
		Meta:          meta,
		FirstUpdateID: w.LastUpdateID,
		FinalUpdateID: w.LastUpdateID,
		Bids:          levels(w.Bids),
		Asks:          levels(w.Asks),
		Partial:       true,
	}
}

type wireAggTrade struct {
	EventType    string          `json:"e"`
	EventTime    int64           `json:"E"`
	Symbol       string          `json:"s"`
	AggTradeID   int64           `json:"a"`
	Price        decimal.Decimal `json:"p"`
	Qty          decimal.Decimal `json:"q"`
	FirstTradeID int64           `json:"f"`
	LastTradeID  int64           `json:"l"`
	TradeTime    int64           `json:"T"`
	BuyerIsMaker bool            `json:"m"`
	Ignore       bool            `json:"M"`
}

type wireAccountPosition struct {
	EventType  string `json:"e"`
	EventTime  int64  `json:"E"`
	LastUpdate int64  `json:"u"`
	Balances   []struct {
		Asset  string          `json:"a"`
		Free   decimal.Decimal `json:"f"`
		Locked decimal.Decimal `json:"l"`
	} `json:"B"`
}

type wireBalanceUpdate struct {
	EventType string          `json:"e"`
	EventTime int64           `json:"E"`
	Asset     string          `json:"a"`
	Delta     decimal.Decimal `json:"d"`
	ClearTime int64           `json:"T"`
}

type wireFuturesAccountUpdate struct {
	EventType       string `json:"e"`
	EventTime       int64  `json:"E"`
	TransactionTime int64  `json:"T"`
	Data            struct {
		Reason   string `json:"m"`
		Balances []struct {
			Asset         string          `json:"a"`
			WalletBalance decimal.Decimal `json:"wb"`
			CrossWallet   decimal.Decimal `json:"cw"`
			BalanceChange decimal.Decimal `json:"bc"`
		} `json:"B"`
		Positions []struct {
			Symbol        string          `json:"s"`
			Amount        decimal.Decimal `json:"pa"`
			EntryPrice    decimal.Decimal `json:"ep"`
			UnrealizedPnL decimal.Decimal `json:"up"`
			PositionSide  string          `json:"ps"`
		} `json:"P"`
	} `json:"a"`
}

func levels(in [][2]decimal.Decimal) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, lv := range in {
		out = append(out, domain.PriceLevel{Price: lv[0], Qty: lv[1]})
	}
	return out
}
