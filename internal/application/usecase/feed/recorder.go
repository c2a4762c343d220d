package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"xstream/internal/application/port"
	"xstream/internal/domain"
)

const (
	defaultRecordBuffer = 4096
	writeTimeout        = 5 * time.Second
)

// Recorder persists tickers, trades and account updates in the background.
// Record never blocks; a full buffer drops the event.
type Recorder struct {
	repo port.Repository
	in   chan domain.Event

	// closed is set under the write lock once Run stops; a Record that saw
	// it unset has queued its event before the final flush starts
	mu     sync.RWMutex
	closed bool

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64

	dropLog zerolog.Logger
}

func NewRecorder(repo port.Repository, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = defaultRecordBuffer
	}
	return &Recorder{
		repo:    repo,
		in:      make(chan domain.Event, buffer),
		dropLog: log.Sample(&zerolog.BasicSampler{N: 1000}),
	}
}

// Record queues ev. Kinds without a repository method are skipped.
func (r *Recorder) Record(ev domain.Event) bool {
	switch ev.Kind() {
	case domain.KindTicker, domain.KindTrade, domain.KindAccount:
	default:
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		n := r.dropped.Add(1)
		r.dropLog.Warn().
			Str("kind", ev.Kind().String()).
			Int64("dropped", n).
			Msg("recorder stopped, event dropped")
		return false
	}
	select {
	case r.in <- ev:
		return true
	default:
		n := r.dropped.Add(1)
		r.dropLog.Warn().
			Str("kind", ev.Kind().String()).
			Int64("dropped", n).
			Msg("recorder buffer full, event dropped")
		return false
	}
}

// Run writes queued events until ctx is done, then stops accepting new
// ones and flushes what is left. It returns after the flush.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.closed = true
			r.mu.Unlock()
			r.flush()
			return
		case ev := <-r.in:
			r.write(ctx, ev)
		}
	}
}

func (r *Recorder) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	for {
		select {
		case ev := <-r.in:
			r.write(ctx, ev)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, ev domain.Event) {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	var err error
	switch v := ev.(type) {
	case domain.Ticker:
		err = r.repo.UpsertTicker(wctx, v)
	case domain.Trade:
		err = r.repo.InsertTrade(wctx, v)
	case domain.Account:
		err = r.repo.SaveAccount(wctx, v)
	}
	if err != nil {
		r.failed.Add(1)
		log.Warn().
			Err(err).
			Str("kind", ev.Kind().String()).
			Str("symbol", ev.Header().Symbol).
			Msg("persist event failed")
		return
	}
	r.written.Add(1)
}

func (r *Recorder) Written() int64 { return r.written.Load() }
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }
func (r *Recorder) Failed() int64  { return r.failed.Load() }
