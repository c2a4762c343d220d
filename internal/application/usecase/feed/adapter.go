package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"xstream/internal/domain"
	"xstream/internal/stream"
)

// Adapter projects typed stream events into State and tracks throughput.
// Handlers only update in-memory state; persistence goes through the
// Recorder's buffer and resync runs in its own goroutine.
type Adapter struct {
	state *State
	meter meter
	sub   Subscriber
	opts  Options

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	live      int
	stopMeter func()
	detach    []func()

	changed chan struct{}
}

func NewAdapter(sub Subscriber, symbols []string, opts Options) *Adapter {
	if opts.TradeHistory <= 0 {
		opts.TradeHistory = defaultTradeHistory
	}
	if opts.MetricsInterval <= 0 {
		opts.MetricsInterval = defaultMetricsInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		state:   NewState(symbols, opts.TradeHistory, opts.TrackOrderBook, opts.AcceptAll),
		sub:     sub,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		changed: make(chan struct{}, 1),
	}
}

// Attach listens to a source's lifecycle and market events.
func (a *Adapter) Attach(src Source) {
	cancels := []func(){
		src.OnConnected(a.onConnected),
		src.OnDisconnected(a.onDisconnected),
		src.OnReconnectExhausted(func(e stream.ReconnectExhausted) {
			log.Error().Int("attempts", e.Attempts).Msg("stream gave up reconnecting")
		}),
		src.OnError(a.onError),
		src.OnTicker(a.onTicker),
		src.OnBookTicker(a.onBookTicker),
		src.OnDepth(a.onDepth),
		src.OnTrade(a.onTrade),
		src.OnAccount(a.onAccount),
	}
	a.mu.Lock()
	a.detach = append(a.detach, cancels...)
	a.mu.Unlock()
}

// Subscribe starts tracking symbols and subscribes their channels.
func (a *Adapter) Subscribe(symbols ...string) error {
	var channels []string
	for _, sym := range symbols {
		if a.state.Track(sym) && a.opts.Channels != nil {
			channels = append(channels, a.opts.Channels(normalize(sym))...)
		}
	}
	if len(channels) == 0 || a.sub == nil {
		return nil
	}
	return a.sub.Subscribe(channels...)
}

// Unsubscribe drops symbols and their projections. Frames already in flight
// for them are ignored.
func (a *Adapter) Unsubscribe(symbols ...string) error {
	var channels []string
	for _, sym := range symbols {
		if a.state.Untrack(sym) && a.opts.Channels != nil {
			channels = append(channels, a.opts.Channels(normalize(sym))...)
		}
	}
	if len(channels) == 0 || a.sub == nil {
		return nil
	}
	return a.sub.Unsubscribe(channels...)
}

// SeedAccount installs a REST account snapshot unless a pushed update won.
func (a *Adapter) SeedAccount(acct domain.Account) {
	if a.state.seedAccount(acct) {
		a.notify()
	}
}

func (a *Adapter) State() *State { return a.state }

func (a *Adapter) Metrics() Metrics { return a.meter.snapshot() }

// Changes signals, coalesced, that a rendered view may be stale.
func (a *Adapter) Changes() <-chan struct{} { return a.changed }

// Close detaches from every source and stops background work.
func (a *Adapter) Close() error {
	a.mu.Lock()
	detach := a.detach
	a.detach = nil
	if a.stopMeter != nil {
		a.stopMeter()
		a.stopMeter = nil
	}
	a.live = 0
	a.mu.Unlock()

	for _, cancel := range detach {
		cancel()
	}
	a.cancel()
	return nil
}

func (a *Adapter) notify() {
	select {
	case a.changed <- struct{}{}:
	default:
	}
}

func (a *Adapter) onConnected(stream.Connected) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.live++
	if a.live > 1 || a.ctx.Err() != nil {
		return
	}
	a.stopMeter = a.startMeter()
}

// startMeter runs the rollover schedule; the returned stop waits for it to exit.
func (a *Adapter) startMeter() func() {
	ctx, cancel := context.WithCancel(a.ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.rolloverLoop(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func (a *Adapter) onDisconnected(stream.Disconnected) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.live == 0 {
		return
	}
	a.live--
	if a.live == 0 && a.stopMeter != nil {
		a.stopMeter()
		a.stopMeter = nil
		a.meter.idle(time.Now())
	}
}

func (a *Adapter) rolloverLoop(ctx context.Context) {
	t := time.NewTicker(a.opts.MetricsInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			a.meter.rollover(now)
		}
	}
}

// onError counts stream errors. A failed session refresh is not retried
// by the client and needs a new SubscribeUserData.
func (a *Adapter) onError(err error) {
	a.meter.errored()
	var refresh *stream.SessionRefreshError
	var transport *stream.TransportError
	switch {
	case errors.As(err, &refresh):
		log.Error().Err(err).Msg("user data session lost, resubscribe required")
	case errors.Is(err, stream.ErrListenKeyExpired):
		log.Error().Err(err).Msg("user data listen key expired")
	case errors.As(err, &transport):
		// already logged by the controller, the close drives the reconnect
		log.Debug().Err(err).Msg("stream transport error")
	default:
		log.Warn().Err(err).Msg("stream error")
	}
}

func (a *Adapter) onTicker(t domain.Ticker) {
	a.meter.hit()
	accepted, changed := a.state.applyTicker(t)
	if !accepted {
		a.meter.ignored()
		return
	}
	a.record(t)
	if changed {
		a.notify()
	}
}

func (a *Adapter) onBookTicker(b domain.BookTicker) {
	a.meter.hit()
	if !a.state.applyBookTicker(b) {
		a.meter.ignored()
		return
	}
	if a.opts.TrackOrderBook {
		a.notify()
	}
}

func (a *Adapter) onDepth(d domain.Depth) {
	a.meter.hit()
	accepted, gap := a.state.applyDepth(d)
	if !accepted {
		a.meter.ignored()
		return
	}
	if !gap {
		return
	}
	a.meter.gap()
	log.Warn().
		Str("symbol", d.Symbol).
		Int64("first_update_id", d.FirstUpdateID).
		Msg("depth sequence gap")
	if a.opts.ResyncOnGap && a.opts.Snapshots != nil {
		a.resync(d.Symbol)
	}
}

func (a *Adapter) onTrade(t domain.Trade) {
	a.meter.hit()
	if !a.state.applyTrade(t) {
		a.meter.ignored()
		return
	}
	a.record(t)
}

func (a *Adapter) onAccount(acct domain.Account) {
	a.meter.hit()
	a.state.applyAccount(acct)
	a.record(acct)
	a.notify()
}

func (a *Adapter) record(ev domain.Event) {
	if a.opts.Recorder != nil {
		a.opts.Recorder.Record(ev)
	}
}

// resync fetches a REST snapshot off the dispatch goroutine.
func (a *Adapter) resync(symbol string) {
	if !a.state.beginResync(symbol) {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, resyncTimeout)
		defer cancel()

		snap, err := a.opts.Snapshots.DepthSnapshot(ctx, symbol, a.opts.DepthLimit)
		if err != nil {
			a.state.endResync(symbol, nil)
			if !errors.Is(err, context.Canceled) {
				log.Error().Str("symbol", symbol).Err(err).Msg("depth resync failed")
			}
			return
		}
		if a.state.endResync(symbol, snap) {
			a.meter.resync()
			log.Info().
				Str("symbol", symbol).
				Int64("last_update_id", snap.FinalUpdateID).
				Msg("✓ depth resynced")
			a.notify()
		}
	}()
}
