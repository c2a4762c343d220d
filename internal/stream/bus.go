package stream

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"xstream/internal/domain"
)

// Connected 连接建立
type Connected struct {
	At time.Time
}

// Disconnected 连接断开；Manual 为 true 表示调用方主动断开，不会自动重连
type Disconnected struct {
	At     time.Time
	Manual bool
	Err    error
}

// ReconnectExhausted 重连次数耗尽，自动重试停止，需要调用方重新 Connect
type ReconnectExhausted struct {
	At       time.Time
	Attempts int
}

// slot holds the handlers of one event kind. Handlers are called
// synchronously in registration order; a panicking handler is isolated.
type slot[T any] struct {
	name     string
	mu       sync.RWMutex
	next     uint64
	handlers []handler[T]
}

type handler[T any] struct {
	id uint64
	fn func(T)
}

func (s *slot[T]) add(fn func(T)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	s.next++
	id := s.next
	s.handlers = append(s.handlers, handler[T]{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *slot[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, h := range s.handlers {
		if h.id == id {
			s.handlers = append(s.handlers[:i:i], s.handlers[i+1:]...)
			return
		}
	}
}

func (s *slot[T]) emit(v T) {
	s.mu.RLock()
	hs := s.handlers
	s.mu.RUnlock()
	for _, h := range hs {
		s.call(h.fn, v)
	}
}

func (s *slot[T]) call(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", s.name).
				Str("panic", fmt.Sprint(r)).
				Msg("event handler panicked")
		}
	}()
	fn(v)
}

func (s *slot[T]) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}

// Bus 强类型事件总线，每种事件一个 slot
type Bus struct {
	connected    slot[Connected]
	disconnected slot[Disconnected]
	errs         slot[error]
	watch        slot[error] // internal observers, not counted as handlers
	exhausted    slot[ReconnectExhausted]
	ticker       slot[domain.Ticker]
	bookTicker   slot[domain.BookTicker]
	depth        slot[domain.Depth]
	trade        slot[domain.Trade]
	account      slot[domain.Account]
}

// NewBus 创建事件总线
func NewBus() *Bus {
	b := &Bus{}
	b.connected.name = "connected"
	b.disconnected.name = "disconnected"
	b.errs.name = "error"
	b.watch.name = "error"
	b.exhausted.name = "reconnect-exhausted"
	b.ticker.name = domain.KindTicker.String()
	b.bookTicker.name = domain.KindBookTicker.String()
	b.depth.name = domain.KindDepth.String()
	b.trade.name = domain.KindTrade.String()
	b.account.name = domain.KindAccount.String()
	return b
}

// Each On* method registers a handler and returns a func that removes it.
// Handlers run on the connection's read goroutine and must not block.

func (b *Bus) OnConnected(fn func(Connected)) func()       { return b.connected.add(fn) }
func (b *Bus) OnDisconnected(fn func(Disconnected)) func() { return b.disconnected.add(fn) }
func (b *Bus) OnError(fn func(error)) func()               { return b.errs.add(fn) }
func (b *Bus) OnReconnectExhausted(fn func(ReconnectExhausted)) func() {
	return b.exhausted.add(fn)
}
func (b *Bus) OnTicker(fn func(domain.Ticker)) func()         { return b.ticker.add(fn) }
func (b *Bus) OnBookTicker(fn func(domain.BookTicker)) func() { return b.bookTicker.add(fn) }
func (b *Bus) OnDepth(fn func(domain.Depth)) func()           { return b.depth.add(fn) }
func (b *Bus) OnTrade(fn func(domain.Trade)) func()           { return b.trade.add(fn) }
func (b *Bus) OnAccount(fn func(domain.Account)) func()       { return b.account.add(fn) }

// watchErrors observes errors without suppressing the unhandled warning.
func (b *Bus) watchErrors(fn func(error)) func() { return b.watch.add(fn) }

func (b *Bus) emitConnected(v Connected)          { b.connected.emit(v) }
func (b *Bus) emitDisconnected(v Disconnected)    { b.disconnected.emit(v) }
func (b *Bus) emitExhausted(v ReconnectExhausted) { b.exhausted.emit(v) }
func (b *Bus) emitTicker(v domain.Ticker)         { b.ticker.emit(v) }
func (b *Bus) emitBookTicker(v domain.BookTicker) { b.bookTicker.emit(v) }
func (b *Bus) emitDepth(v domain.Depth)           { b.depth.emit(v) }
func (b *Bus) emitTrade(v domain.Trade)           { b.trade.emit(v) }
func (b *Bus) emitAccount(v domain.Account)       { b.account.emit(v) }

// emitError logs and publishes err. Errors are never fatal by themselves.
func (b *Bus) emitError(err error) {
	if err == nil {
		return
	}
	b.watch.emit(err)
	if b.errs.len() == 0 {
		log.Warn().Err(err).Msg("stream error (no error handler)")
		return
	}
	b.errs.emit(err)
}
