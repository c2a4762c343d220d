package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xstream/internal/domain"
	"xstream/internal/stream"
)

// fakeSource records handlers and lets tests emit events synchronously.
type fakeSource struct {
	connected    []func(stream.Connected)
	disconnected []func(stream.Disconnected)
	tickers      []func(domain.Ticker)
	books        []func(domain.BookTicker)
	depths       []func(domain.Depth)
	trades       []func(domain.Trade)
	accounts     []func(domain.Account)
	errs         []func(error)
}

func noop() {}

func (f *fakeSource) OnConnected(fn func(stream.Connected)) func() {
	f.connected = append(f.connected, fn)
	return noop
}
func (f *fakeSource) OnDisconnected(fn func(stream.Disconnected)) func() {
	f.disconnected = append(f.disconnected, fn)
	return noop
}
func (f *fakeSource) OnReconnectExhausted(func(stream.ReconnectExhausted)) func() { return noop }
func (f *fakeSource) OnError(fn func(error)) func() {
	f.errs = append(f.errs, fn)
	return noop
}
func (f *fakeSource) OnTicker(fn func(domain.Ticker)) func() {
	f.tickers = append(f.tickers, fn)
	return noop
}
func (f *fakeSource) OnBookTicker(fn func(domain.BookTicker)) func() {
	f.books = append(f.books, fn)
	return noop
}
func (f *fakeSource) OnDepth(fn func(domain.Depth)) func() {
	f.depths = append(f.depths, fn)
	return noop
}
func (f *fakeSource) OnTrade(fn func(domain.Trade)) func() {
	f.trades = append(f.trades, fn)
	return noop
}
func (f *fakeSource) OnAccount(fn func(domain.Account)) func() {
	f.accounts = append(f.accounts, fn)
	return noop
}

func (f *fakeSource) connect() {
	for _, fn := range f.connected {
		fn(stream.Connected{At: time.Now()})
	}
}

func (f *fakeSource) drop() {
	for _, fn := range f.disconnected {
		fn(stream.Disconnected{At: time.Now(), Err: errors.New("reset")})
	}
}

func (f *fakeSource) fail(err error) {
	for _, fn := range f.errs {
		fn(err)
	}
}

func (f *fakeSource) ticker(sym, price string) {
	for _, fn := range f.tickers {
		fn(domain.Ticker{Meta: domain.Meta{Symbol: sym}, LastPrice: decimal.RequireFromString(price)})
	}
}

func (f *fakeSource) depth(d domain.Depth) {
	for _, fn := range f.depths {
		fn(d)
	}
}

func (f *fakeSource) trade(sym string, id int64) {
	for _, fn := range f.trades {
		fn(domain.Trade{Meta: domain.Meta{Symbol: sym}, TradeID: id})
	}
}

func (f *fakeSource) account(reason string) {
	for _, fn := range f.accounts {
		fn(domain.Account{Reason: reason})
	}
}

type fakeSubscriber struct {
	mu    sync.Mutex
	subs  [][]string
	unsub [][]string
}

func (f *fakeSubscriber) Subscribe(channels ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, channels)
	return nil
}

func (f *fakeSubscriber) Unsubscribe(channels ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsub = append(f.unsub, channels)
	return nil
}

type fakeSnapshots struct {
	mu    sync.Mutex
	calls int
	last  int64
	err   error
}

func (f *fakeSnapshots) DepthSnapshot(_ context.Context, symbol string, _ int) (*domain.Depth, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Depth{Meta: domain.Meta{Symbol: symbol}, FinalUpdateID: f.last, Partial: true}, nil
}

func (f *fakeSnapshots) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func channelsFor(sym string) []string { return []string{sym + "@ticker"} }

func TestTradeHistoryKeepsLastHundred(t *testing.T) {
	src := &fakeSource{}
	a := NewAdapter(nil, []string{"BTCUSDT"}, Options{TradeHistory: 100})
	a.Attach(src)
	defer a.Close()

	for i := 1; i <= 150; i++ {
		src.trade("BTCUSDT", int64(i))
	}

	trades := a.State().Trades("BTCUSDT")
	require.Len(t, trades, 100)
	for i, tr := range trades {
		assert.Equal(t, int64(51+i), tr.TradeID)
	}
}

func TestTickerSurvivesReconnect(t *testing.T) {
	src := &fakeSource{}
	a := NewAdapter(nil, []string{"BTCUSDT"}, Options{})
	a.Attach(src)
	defer a.Close()

	src.connect()
	src.ticker("BTCUSDT", "43000.5")
	src.drop()

	got, ok := a.State().Ticker("BTCUSDT")
	require.True(t, ok, "projection kept across the gap")
	assert.Equal(t, "43000.5", got.LastPrice.String())

	src.connect()
	src.ticker("BTCUSDT", "43001")
	got, _ = a.State().Ticker("BTCUSDT")
	assert.Equal(t, "43001", got.LastPrice.String())
	assert.Equal(t, domain.DirectionUp, a.State().Direction("BTCUSDT"))
}

func TestEventsForUntrackedSymbolsIgnored(t *testing.T) {
	src := &fakeSource{}
	sub := &fakeSubscriber{}
	a := NewAdapter(sub, []string{"BTCUSDT"}, Options{Channels: channelsFor})
	a.Attach(src)
	defer a.Close()

	src.ticker("ETHUSDT", "2000")
	_, ok := a.State().Ticker("ETHUSDT")
	assert.False(t, ok)

	require.NoError(t, a.Subscribe("ethusdt"))
	src.ticker("ETHUSDT", "2001")
	_, ok = a.State().Ticker("ETHUSDT")
	assert.True(t, ok)

	require.NoError(t, a.Unsubscribe("BTCUSDT"))
	// late frame after unsubscribe
	src.ticker("BTCUSDT", "1")
	_, ok = a.State().Ticker("BTCUSDT")
	assert.False(t, ok)

	assert.Equal(t, [][]string{{"ETHUSDT@ticker"}}, sub.subs)
	assert.Equal(t, [][]string{{"BTCUSDT@ticker"}}, sub.unsub)
	assert.Equal(t, int64(2), a.Metrics().Ignored)
	assert.Equal(t, []string{"ETHUSDT"}, a.State().Symbols())
}

func TestSubscribeKnownSymbolSendsNothing(t *testing.T) {
	sub := &fakeSubscriber{}
	a := NewAdapter(sub, []string{"BTCUSDT"}, Options{Channels: channelsFor})
	defer a.Close()

	require.NoError(t, a.Subscribe("BTCUSDT"))
	require.NoError(t, a.Unsubscribe("SOLUSDT"))
	assert.Empty(t, sub.subs)
	assert.Empty(t, sub.unsub)
}

func TestAcceptAllRegistersNewSymbols(t *testing.T) {
	src := &fakeSource{}
	a := NewAdapter(nil, nil, Options{AcceptAll: true})
	a.Attach(src)
	defer a.Close()

	src.ticker("BNBUSDT", "600")
	src.ticker("BTCUSDT", "43000")
	assert.Equal(t, []string{"BNBUSDT", "BTCUSDT"}, a.State().Symbols())
}

func TestAccountReplacedWholesale(t *testing.T) {
	src := &fakeSource{}
	a := NewAdapter(nil, nil, Options{})
	a.Attach(src)
	defer a.Close()

	a.SeedAccount(domain.Account{Reason: "accountSnapshot", Balances: []domain.Balance{{Asset: "BTC"}, {Asset: "USDT"}}})
	src.account("outboundAccountPosition")

	acct, ok := a.State().Account()
	require.True(t, ok)
	assert.Equal(t, "outboundAccountPosition", acct.Reason)
	assert.Empty(t, acct.Balances, "not merged with the previous snapshot")

	a.SeedAccount(domain.Account{Reason: "accountSnapshot"})
	acct, _ = a.State().Account()
	assert.Equal(t, "outboundAccountPosition", acct.Reason, "late seed does not override a pushed update")
}

func diff(sym string, first, final int64) domain.Depth {
	return domain.Depth{Meta: domain.Meta{Symbol: sym}, FirstUpdateID: first, FinalUpdateID: final}
}

func TestDepthGapTriggersResync(t *testing.T) {
	src := &fakeSource{}
	snaps := &fakeSnapshots{last: 500}
	a := NewAdapter(nil, []string{"BTCUSDT"}, Options{
		TrackOrderBook: true,
		ResyncOnGap:    true,
		Snapshots:      snaps,
	})
	a.Attach(src)
	defer a.Close()

	src.depth(diff("BTCUSDT", 100, 110))
	src.depth(diff("BTCUSDT", 111, 120))
	assert.Zero(t, a.Metrics().Gaps)

	// 121..129 missed
	src.depth(diff("BTCUSDT", 130, 140))
	assert.Equal(t, int64(1), a.Metrics().Gaps)

	require.Eventually(t, func() bool { return a.Metrics().Resyncs == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, snaps.count())
	d, ok := a.State().Depth("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, int64(500), d.FinalUpdateID)

	// stale diff already covered by the snapshot
	src.depth(diff("BTCUSDT", 141, 150))
	d, _ = a.State().Depth("BTCUSDT")
	assert.Equal(t, int64(500), d.FinalUpdateID)

	src.depth(diff("BTCUSDT", 495, 510))
	d, _ = a.State().Depth("BTCUSDT")
	assert.Equal(t, int64(510), d.FinalUpdateID)
	assert.Equal(t, int64(1), a.Metrics().Gaps)
}

func TestDepthGapWithoutTrackingIsNotDetected(t *testing.T) {
	src := &fakeSource{}
	a := NewAdapter(nil, []string{"BTCUSDT"}, Options{})
	a.Attach(src)
	defer a.Close()

	src.depth(diff("BTCUSDT", 100, 110))
	src.depth(diff("BTCUSDT", 200, 210))
	assert.Zero(t, a.Metrics().Gaps)
	_, ok := a.State().Depth("BTCUSDT")
	assert.False(t, ok)
}

func TestResyncFailureAllowsRetry(t *testing.T) {
	src := &fakeSource{}
	snaps := &fakeSnapshots{err: fmt.Errorf("http 503")}
	a := NewAdapter(nil, []string{"BTCUSDT"}, Options{TrackOrderBook: true, ResyncOnGap: true, Snapshots: snaps})
	a.Attach(src)
	defer a.Close()

	src.depth(diff("BTCUSDT", 1, 10))
	src.depth(diff("BTCUSDT", 20, 30))
	require.Eventually(t, func() bool { return snaps.count() == 1 }, time.Second, time.Millisecond)

	// each check opens a fresh gap; the first one after the failed fetch resyncs again
	next := int64(1000)
	require.Eventually(t, func() bool {
		next += 100
		src.depth(diff("BTCUSDT", next, next+1))
		return snaps.count() >= 2
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, a.Metrics().Resyncs)
}

func TestMeterRollover(t *testing.T) {
	var m meter
	for range 7 {
		m.hit()
	}
	at := time.Unix(100, 0)
	m.rollover(at)
	got := m.snapshot()
	assert.Equal(t, int64(7), got.Rate, "reports the finished window")
	assert.Zero(t, got.Window, "counter resets at the boundary")
	assert.Equal(t, at, got.LastRollover)

	m.hit()
	m.rollover(at.Add(time.Second))
	got = m.snapshot()
	assert.Equal(t, int64(1), got.Rate)
	assert.Equal(t, int64(8), got.Total)

	m.rollover(at.Add(2 * time.Second))
	assert.Zero(t, m.snapshot().Rate)
}

func TestMetricsFollowConnectionLifetime(t *testing.T) {
	src := &fakeSource{}
	a := NewAdapter(nil, []string{"BTCUSDT"}, Options{MetricsInterval: 5 * time.Millisecond})
	a.Attach(src)
	defer a.Close()

	src.connect()
	src.ticker("BTCUSDT", "1")
	src.ticker("BTCUSDT", "2")
	require.Eventually(t, func() bool { return !a.Metrics().LastRollover.IsZero() }, time.Second, time.Millisecond)

	src.drop()
	stopped := a.Metrics()
	assert.Zero(t, stopped.Rate)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped.LastRollover, a.Metrics().LastRollover, "no rollover while disconnected")
	assert.Equal(t, int64(2), a.Metrics().Total)
}

func TestRingEviction(t *testing.T) {
	r := NewRing[int](3)
	_, ok := r.Last()
	assert.False(t, ok)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	assert.Equal(t, []int{3, 4, 5}, r.Items())
	assert.Equal(t, 3, r.Len())
	last, _ := r.Last()
	assert.Equal(t, 5, last)
}

func TestStreamErrorsAreCounted(t *testing.T) {
	src := &fakeSource{}
	a := NewAdapter(nil, []string{"BTCUSDT"}, Options{})
	a.Attach(src)
	defer a.Close()

	require.Len(t, src.errs, 1, "adapter handles stream errors")
	src.fail(&stream.SessionRefreshError{ListenKey: "lk-1", Err: errors.New("-1125 listen key does not exist")})
	src.fail(&stream.ExchangeError{ID: 3, Code: 2, Msg: "Invalid request"})
	src.fail(&stream.TransportError{Op: "read", Err: errors.New("reset")})

	assert.Equal(t, int64(3), a.Metrics().Errors)
}
