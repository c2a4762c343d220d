package exchange

import (
	"strings"
)

// SymbolConverter 币种与交易对互转
type SymbolConverter interface {
	// Symbol2Coin 例: BTCUSDT -> BTC
	Symbol2Coin(symbol string) string
	// Coin2Symbol 例: BTC -> BTCUSDT, BTCUSDT -> BTCUSDT
	Coin2Symbol(coin string) string
	// SymbolSuffix 例: USDT, FDUSD
	SymbolSuffix() string
}

// CommonSymbolConverter 以计价货币为后缀的转换器（Binance 现货/U 本位合约通用）
type CommonSymbolConverter struct {
	suffix string
}

// NewCommonSymbolConverter 创建通用符号转换器
func NewCommonSymbolConverter(suffix string) *CommonSymbolConverter {
	return &CommonSymbolConverter{suffix: strings.ToUpper(strings.TrimSpace(suffix))}
}

func (c *CommonSymbolConverter) SymbolSuffix() string {
	return c.suffix
}

// Symbol2Coin strips the quote suffix. Symbols without it are returned as-is.
func (c *CommonSymbolConverter) Symbol2Coin(symbol string) string {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" || c.suffix == "" || sym == c.suffix {
		return sym
	}
	return strings.TrimSuffix(sym, c.suffix)
}

func (c *CommonSymbolConverter) Coin2Symbol(coin string) string {
	coin = strings.ToUpper(strings.TrimSpace(coin))
	if coin == "" {
		return ""
	}
	if strings.HasSuffix(coin, c.suffix) {
		return coin
	}
	return coin + c.suffix
}

// Pairs converts a mixed list of coins and pairs into de-duplicated pairs,
// preserving order.
func Pairs(conv SymbolConverter, list []string) []string {
	out := make([]string, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, s := range list {
		p := conv.Coin2Symbol(s)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
