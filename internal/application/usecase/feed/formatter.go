package feed

import (
	"fmt"
	"strings"

	"xstream/internal/domain"
)

const (
	ansiReset    = "\033[0m"
	ansiRed      = "\033[31m"
	ansiGreen    = "\033[32m"
	ansiYellow   = "\033[33m"
	ansiDim      = "\033[2m"
	ansiClearEOL = "\033[K"
)

func colorize(s, c string) string { return c + s + ansiReset }

type RenderMode int

const (
	RenderLive RenderMode = iota
	RenderSnapshot
)

type Formatter struct {
	Color bool
}

func NewFormatter(color bool) *Formatter {
	return &Formatter{Color: color}
}

func (f *Formatter) paint(s, c string) string {
	if !f.Color {
		return s
	}
	return colorize(s, c)
}

func dirColor(d domain.Direction) string {
	switch d {
	case domain.DirectionUp:
		return ansiGreen
	case domain.DirectionDown:
		return ansiRed
	default:
		return ansiYellow
	}
}

// Render prints one line: per symbol last price, 24h change and best
// bid/ask when tracked, followed by the message rate.
func (f *Formatter) Render(st *State, m Metrics, mode RenderMode) string {
	var sb strings.Builder
	if mode == RenderLive {
		sb.WriteString("\r")
	}
	sb.WriteString(f.paint("[XSTREAM] ", ansiDim))

	for i, sym := range st.Symbols() {
		if i > 0 {
			sb.WriteString(f.paint("  ||  ", ansiDim))
		}
		sb.WriteString(sym)
		sb.WriteString(" ")

		t, ok := st.Ticker(sym)
		if !ok {
			sb.WriteString(f.paint("--", ansiYellow))
		} else {
			sb.WriteString(f.paint(t.LastPrice.String(), dirColor(st.Direction(sym))))
			sb.WriteString(fmt.Sprintf(" (%s%%)", t.PriceChangePercent.StringFixed(2)))
		}

		if b, ok := st.BookTicker(sym); ok {
			sb.WriteString(fmt.Sprintf(" B:%s A:%s", b.BidPrice.String(), b.AskPrice.String()))
		}
		if trades := st.Trades(sym); len(trades) > 0 {
			last := trades[len(trades)-1]
			sb.WriteString(fmt.Sprintf(" T:%s@%s", last.TakerSide(), last.Price.String()))
		}
	}

	if acct, ok := st.Account(); ok {
		sb.WriteString(f.paint("  |  ", ansiDim))
		sb.WriteString(fmt.Sprintf("acct:%d assets", len(acct.Balances)))
	}

	sb.WriteString(f.paint(fmt.Sprintf("  |  %d msg/s", m.Rate), ansiDim))
	if m.Gaps > 0 {
		sb.WriteString(f.paint(fmt.Sprintf(" gaps:%d", m.Gaps), ansiRed))
	}

	if mode == RenderLive {
		sb.WriteString(ansiClearEOL)
	}
	return sb.String()
}
