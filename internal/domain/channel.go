package domain

import (
	"fmt"
	"strings"
)

// 频道类型
const (
	StreamTicker     = "ticker"
	StreamBookTicker = "bookTicker"
	StreamAggTrade   = "aggTrade"
	StreamDepth      = "depth"

	// AllTickersChannel 全市场 ticker 广播频道
	AllTickersChannel = "!ticker@arr"
)

// Channel builds a per-symbol channel name: {symbol-lowercase}@{streamType}.
func Channel(symbol, streamType string) string {
	return strings.ToLower(strings.TrimSpace(symbol)) + "@" + streamType
}

// TickerChannel returns btcusdt@ticker.
func TickerChannel(symbol string) string { return Channel(symbol, StreamTicker) }

// BookTickerChannel returns btcusdt@bookTicker.
func BookTickerChannel(symbol string) string { return Channel(symbol, StreamBookTicker) }

// TradeChannel returns btcusdt@aggTrade.
func TradeChannel(symbol string) string { return Channel(symbol, StreamAggTrade) }

// DepthChannel returns btcusdt@depth, btcusdt@depth@100ms, btcusdt@depth5@100ms ...
// levels <= 0 selects the diff stream.
func DepthChannel(symbol string, levels int, speed string) string {
	name := StreamDepth
	if levels > 0 {
		name = fmt.Sprintf("%s%d", StreamDepth, levels)
	}
	if speed = strings.TrimSpace(speed); speed != "" {
		name += "@" + speed
	}
	return Channel(symbol, name)
}

// SplitChannel parses "btcusdt@depth5@100ms" into ("BTCUSDT", "depth5@100ms").
// Channels without '@' (listen keys) return ok=false.
func SplitChannel(ch string) (symbol, streamType string, ok bool) {
	i := strings.IndexByte(ch, '@')
	if i <= 0 || i == len(ch)-1 {
		return "", "", false
	}
	return strings.ToUpper(ch[:i]), ch[i+1:], true
}
