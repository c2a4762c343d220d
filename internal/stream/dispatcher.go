package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"xstream/internal/domain"
)

// 事件类型判别字段 e 的取值
const (
	eventTicker           = "24hrTicker"
	eventBookTicker       = "bookTicker"
	eventDepthUpdate      = "depthUpdate"
	eventAggTrade         = "aggTrade"
	eventAccountPosition  = "outboundAccountPosition"
	eventBalanceUpdate    = "balanceUpdate"
	eventAccountUpdate    = "ACCOUNT_UPDATE"
	eventExecutionReport  = "executionReport"
	eventOrderTradeUpdate = "ORDER_TRADE_UPDATE"
	eventListenKeyExpired = "listenKeyExpired"
	maxLoggedFrameSnippet = 256
)

var errUnknownFrame = errors.New("unrecognised frame")

// Dispatcher 解析入站帧、打本地时间戳并按类型分发
// Dispatch 在连接的读 goroutine 上同步执行
type Dispatcher struct {
	name string
	bus  *Bus
	now  func() time.Time
}

// NewDispatcher 创建分发器
func NewDispatcher(name string, bus *Bus) *Dispatcher {
	return &Dispatcher{name: name, bus: bus, now: time.Now}
}

// Dispatch handles one inbound frame. Unparseable frames are logged and dropped.
func (d *Dispatcher) Dispatch(frame []byte) {
	local := d.now()
	if err := d.dispatch(frame, local); err != nil {
		log.Warn().
			Str("stream", d.name).
			Err(err).
			Str("frame", snippet(frame)).
			Msg("drop frame")
	}
}

func (d *Dispatcher) dispatch(frame []byte, local time.Time) error {
	data := frame
	streamName := ""

	// combined stream envelope: {"stream":"btcusdt@depth5","data":{...}}
	if inner, _, _, err := jsonparser.Get(frame, "data"); err == nil {
		data = inner
		streamName, _ = jsonparser.GetString(frame, "stream")
	}

	_, typ, _, err := jsonparser.Get(data)
	if err != nil {
		return fmt.Errorf("parse frame: %w", err)
	}
	switch typ {
	case jsonparser.Array:
		return d.dispatchTickerArray(data, local)
	case jsonparser.Object:
		return d.dispatchObject(data, streamName, local)
	default:
		return errUnknownFrame
	}
}

// dispatchTickerArray fans out the all-market ticker broadcast. Every element
// shares the same local timestamp. Elements are decoded before any is emitted.
func (d *Dispatcher) dispatchTickerArray(data []byte, local time.Time) error {
	var raw []wireTicker
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode ticker array: %w", err)
	}
	for _, w := range raw {
		d.bus.emitTicker(w.toDomain(meta(w.Symbol, w.EventTime, local)))
	}
	return nil
}

func (d *Dispatcher) dispatchObject(data []byte, streamName string, local time.Time) error {
	if isControlReply(data) {
		return d.controlReply(data)
	}

	eventType, _ := jsonparser.GetString(data, "e")
	switch eventType {
	case eventTicker:
		var w wireTicker
		if err := json.Unmarshal(data, &w); err != nil {
			return fmt.Errorf("decode ticker: %w", err)
		}
		d.bus.emitTicker(w.toDomain(meta(w.Symbol, w.EventTime, local)))

	case eventBookTicker:
		return d.bookTicker(data, local)

	case eventDepthUpdate:
		var w wireDepth
		if err := json.Unmarshal(data, &w); err != nil {
			return fmt.Errorf("decode depth: %w", err)
		}
		d.bus.emitDepth(domain.Depth{
			Meta:              meta(w.Symbol, w.EventTime, local),
			FirstUpdateID:     w.FirstUpdateID,
			FinalUpdateID:     w.FinalUpdateID,
			PrevFinalUpdateID: w.PrevFinalUpdateID,
			Bids:              levels(w.Bids),
			Asks:              levels(w.Asks),
		})

	case eventAggTrade:
		var w wireAggTrade
		if err := json.Unmarshal(data, &w); err != nil {
			return fmt.Errorf("decode aggTrade: %w", err)
		}
		d.bus.emitTrade(domain.Trade{
			Meta:         meta(w.Symbol, w.EventTime, local),
			TradeID:      w.AggTradeID,
			Price:        w.Price,
			Qty:          w.Qty,
			FirstTradeID: w.FirstTradeID,
			LastTradeID:  w.LastTradeID,
			TradeTime:    w.TradeTime,
			BuyerIsMaker: w.BuyerIsMaker,
		})

	case eventAccountPosition, eventBalanceUpdate, eventAccountUpdate, eventExecutionReport, eventOrderTradeUpdate:
		acct, err := decodeAccount(eventType, data, local)
		if err != nil {
			return err
		}
		d.bus.emitAccount(acct)

	case eventListenKeyExpired:
		key, _ := jsonparser.GetString(data, "listenKey")
		d.bus.emitError(fmt.Errorf("%w: %s", ErrListenKeyExpired, key))

	case "":
		// spot partial depth and spot bookTicker carry no event type
		if _, _, _, err := jsonparser.Get(data, "lastUpdateId"); err == nil {
			var w PartialDepth
			if err := json.Unmarshal(data, &w); err != nil {
				return fmt.Errorf("decode partial depth: %w", err)
			}
			symbol, _, _ := domain.SplitChannel(streamName)
			d.bus.emitDepth(w.ToDomain(meta(symbol, 0, local)))
			return nil
		}
		if hasKeys(data, "u", "s", "b", "a") {
			return d.bookTicker(data, local)
		}
		return errUnknownFrame

	default:
		log.Debug().Str("stream", d.name).Str("event", eventType).Msg("ignore unsupported event")
	}
	return nil
}

func (d *Dispatcher) bookTicker(data []byte, local time.Time) error {
	var w wireBookTicker
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode bookTicker: %w", err)
	}
	d.bus.emitBookTicker(domain.BookTicker{
		Meta:     meta(w.Symbol, w.EventTime, local),
		UpdateID: w.UpdateID,
		BidPrice: w.BidPrice,
		BidQty:   w.BidQty,
		AskPrice: w.AskPrice,
		AskQty:   w.AskQty,
	})
	return nil
}

// controlReply handles {"result":null,"id":1} and {"code":2,"msg":"...","id":1}.
func (d *Dispatcher) controlReply(data []byte) error {
	id, _ := jsonparser.GetInt(data, "id")
	code, err := jsonparser.GetInt(data, "code")
	if err != nil {
		if code, err = jsonparser.GetInt(data, "error", "code"); err != nil {
			log.Debug().Str("stream", d.name).Int64("id", id).Msg("control frame acknowledged")
			return nil
		}
		msg, _ := jsonparser.GetString(data, "error", "msg")
		d.bus.emitError(&ExchangeError{ID: id, Code: int(code), Msg: msg})
		return nil
	}
	msg, _ := jsonparser.GetString(data, "msg")
	d.bus.emitError(&ExchangeError{ID: id, Code: int(code), Msg: msg})
	return nil
}

func decodeAccount(eventType string, data []byte, local time.Time) (domain.Account, error) {
	switch eventType {
	case eventAccountPosition:
		var w wireAccountPosition
		if err := json.Unmarshal(data, &w); err != nil {
			return domain.Account{}, fmt.Errorf("decode %s: %w", eventType, err)
		}
		acct := domain.Account{Meta: meta("", w.EventTime, local), Reason: eventType}
		for _, b := range w.Balances {
			acct.Balances = append(acct.Balances, domain.Balance{Asset: b.Asset, Free: b.Free, Locked: b.Locked})
		}
		return acct, nil

	case eventBalanceUpdate:
		var w wireBalanceUpdate
		if err := json.Unmarshal(data, &w); err != nil {
			return domain.Account{}, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return domain.Account{
			Meta:     meta("", w.EventTime, local),
			Reason:   eventType,
			Balances: []domain.Balance{{Asset: w.Asset, Delta: w.Delta}},
		}, nil

	case eventAccountUpdate:
		var w wireFuturesAccountUpdate
		if err := json.Unmarshal(data, &w); err != nil {
			return domain.Account{}, fmt.Errorf("decode %s: %w", eventType, err)
		}
		acct := domain.Account{Meta: meta("", w.EventTime, local), Reason: eventType}
		for _, b := range w.Data.Balances {
			acct.Balances = append(acct.Balances, domain.Balance{
				Asset: b.Asset,
				Free:  b.WalletBalance,
				Delta: b.BalanceChange,
			})
		}
		for _, p := range w.Data.Positions {
			acct.Positions = append(acct.Positions, domain.Position{
				Symbol:        p.Symbol,
				Amount:        p.Amount,
				EntryPrice:    p.EntryPrice,
				UnrealizedPnL: p.UnrealizedPnL,
				PositionSide:  p.PositionSide,
			})
		}
		return acct, nil

	default:
		// executionReport is flat, ORDER_TRADE_UPDATE nests the order under "o".
		// Their keys collide case-insensitively (s/S, x/X, q/Q ...) so they are
		// read key by key.
		var path []string
		if eventType == eventOrderTradeUpdate {
			path = []string{"o"}
		}
		eventTime, _ := jsonparser.GetInt(data, "E")
		order, err := decodeOrder(data, path)
		if err != nil {
			return domain.Account{}, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return domain.Account{
			Meta:   meta(order.Symbol, eventTime, local),
			Reason: eventType,
			Order:  order,
		}, nil
	}
}

func decodeOrder(data []byte, path []string) (*domain.OrderUpdate, error) {
	key := func(k string) []string { return append(append([]string{}, path...), k) }

	symbol, err := jsonparser.GetString(data, key("s")...)
	if err != nil {
		return nil, err
	}
	o := &domain.OrderUpdate{Symbol: symbol}
	o.ClientOrderID, _ = jsonparser.GetString(data, key("c")...)
	o.OrderID, _ = jsonparser.GetInt(data, key("i")...)
	side, _ := jsonparser.GetString(data, key("S")...)
	o.Side = domain.Side(side)
	o.Status, _ = jsonparser.GetString(data, key("X")...)
	o.Price = decimalAt(data, key("p"))
	o.Qty = decimalAt(data, key("q"))
	o.FilledQty = decimalAt(data, key("z"))
	return o, nil
}

func decimalAt(data []byte, path []string) decimal.Decimal {
	s, err := jsonparser.GetString(data, path...)
	if err != nil {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}

func isControlReply(data []byte) bool {
	if _, _, _, err := jsonparser.Get(data, "id"); err != nil {
		return false
	}
	return hasAnyKey(data, "result", "code", "error")
}

func hasKeys(data []byte, keys ...string) bool {
	for _, k := range keys {
		if _, _, _, err := jsonparser.Get(data, k); err != nil {
			return false
		}
	}
	return true
}

func hasAnyKey(data []byte, keys ...string) bool {
	for _, k := range keys {
		if _, _, _, err := jsonparser.Get(data, k); err == nil {
			return true
		}
	}
	return false
}

func meta(symbol string, eventTime int64, local time.Time) domain.Meta {
	return domain.Meta{
		Symbol:    strings.ToUpper(symbol),
		EventTime: eventTime,
		LocalTime: local,
	}
}

func snippet(b []byte) string {
	if len(b) > maxLoggedFrameSnippet {
		return string(b[:maxLoggedFrameSnippet]) + "..."
	}
	return string(b)
}
