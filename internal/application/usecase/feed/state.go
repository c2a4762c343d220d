package feed

import (
	"slices"
	"strings"
	"sync"

	"xstream/internal/domain"
)

type symState struct {
	ticker *domain.Ticker
	price  domain.PriceState

	// order book tracking only
	book      *domain.BookTicker
	depth     *domain.Depth
	lastFinal int64
	resyncing bool

	trades *Ring[domain.Trade]
}

// State 按交易对维护的最新投影；断线期间保留，不清空
type State struct {
	mu sync.Mutex

	historyCap int
	trackBook  bool
	// acceptAll 时未登记的交易对收到事件会自动登记（!ticker@arr 且未配置交易对）
	acceptAll bool

	order   []string
	syms    map[string]*symState
	account *domain.Account
}

func NewState(symbols []string, historyCap int, trackBook, acceptAll bool) *State {
	s := &State{
		historyCap: historyCap,
		trackBook:  trackBook,
		acceptAll:  acceptAll,
		syms:       make(map[string]*symState, len(symbols)),
	}
	for _, sym := range symbols {
		s.Track(sym)
	}
	return s
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Track registers interest in a symbol. Returns false if already tracked.
func (s *State) Track(symbol string) bool {
	sym := normalize(symbol)
	if sym == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.syms[sym]; ok {
		return false
	}
	s.addLocked(sym)
	return true
}

// Untrack drops a symbol and its projections. Late events for it are ignored.
func (s *State) Untrack(symbol string) bool {
	sym := normalize(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.syms[sym]; !ok {
		return false
	}
	delete(s.syms, sym)
	s.order = slices.DeleteFunc(s.order, func(v string) bool { return v == sym })
	return true
}

func (s *State) addLocked(sym string) *symState {
	st := &symState{trades: NewRing[domain.Trade](s.historyCap)}
	s.syms[sym] = st
	s.order = append(s.order, sym)
	return st
}

// entryLocked returns the state of a tracked symbol, or nil when the event
// is for a symbol nobody is interested in.
func (s *State) entryLocked(symbol string) *symState {
	if st, ok := s.syms[symbol]; ok {
		return st
	}
	if s.acceptAll && symbol != "" {
		return s.addLocked(symbol)
	}
	return nil
}

func (s *State) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

func (s *State) Tracked(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.syms[normalize(symbol)]
	return ok
}

// applyTicker reports (accepted, last price changed).
func (s *State) applyTicker(t domain.Ticker) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.entryLocked(t.Symbol)
	if st == nil {
		return false, false
	}
	st.ticker = &t
	return true, st.price.Update(t.LastPrice)
}

func (s *State) applyBookTicker(b domain.BookTicker) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.entryLocked(b.Symbol)
	if st == nil {
		return false
	}
	if s.trackBook {
		st.book = &b
	}
	return true
}

// applyDepth stores the latest depth event and checks sequence continuity of
// diff updates. gap is true when updates were missed.
func (s *State) applyDepth(d domain.Depth) (accepted, gap bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.entryLocked(d.Symbol)
	if st == nil {
		return false, false
	}
	if !s.trackBook {
		return true, false
	}
	if d.Partial {
		st.depth = &d
		st.lastFinal = d.FinalUpdateID
		return true, false
	}
	if st.lastFinal > 0 && d.FinalUpdateID <= st.lastFinal {
		// already covered by the snapshot
		return true, false
	}
	gap = st.lastFinal > 0 && d.FirstUpdateID > st.lastFinal+1 && !st.resyncing
	st.depth = &d
	st.lastFinal = d.FinalUpdateID
	return true, gap
}

func (s *State) beginResync(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.syms[symbol]
	if !ok || st.resyncing {
		return false
	}
	st.resyncing = true
	return true
}

// endResync installs a REST snapshot unless newer diffs already moved past it.
func (s *State) endResync(symbol string, snap *domain.Depth) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.syms[symbol]
	if !ok {
		return false
	}
	st.resyncing = false
	if snap == nil || snap.FinalUpdateID < st.lastFinal {
		return false
	}
	st.depth = snap
	st.lastFinal = snap.FinalUpdateID
	return true
}

func (s *State) applyTrade(t domain.Trade) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.entryLocked(t.Symbol)
	if st == nil {
		return false
	}
	st.trades.Push(t)
	return true
}

// applyAccount replaces the account snapshot wholesale.
func (s *State) applyAccount(a domain.Account) {
	s.mu.Lock()
	s.account = &a
	s.mu.Unlock()
}

// seedAccount installs a snapshot only if no update has arrived yet.
func (s *State) seedAccount(a domain.Account) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account != nil {
		return false
	}
	s.account = &a
	return true
}

func (s *State) Ticker(symbol string) (domain.Ticker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.syms[normalize(symbol)]
	if !ok || st.ticker == nil {
		return domain.Ticker{}, false
	}
	return *st.ticker, true
}

// Direction returns the last move of the symbol's last price.
func (s *State) Direction(symbol string) domain.Direction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.syms[normalize(symbol)]; ok {
		return st.price.Direction
	}
	return domain.DirectionSame
}

func (s *State) BookTicker(symbol string) (domain.BookTicker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.syms[normalize(symbol)]
	if !ok || st.book == nil {
		return domain.BookTicker{}, false
	}
	return *st.book, true
}

func (s *State) Depth(symbol string) (domain.Depth, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.syms[normalize(symbol)]
	if !ok || st.depth == nil {
		return domain.Depth{}, false
	}
	return *st.depth, true
}

// Trades returns the symbol's trade history, oldest first.
func (s *State) Trades(symbol string) []domain.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.syms[normalize(symbol)]
	if !ok {
		return nil
	}
	return st.trades.Items()
}

func (s *State) Account() (domain.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account == nil {
		return domain.Account{}, false
	}
	return *s.account, true
}
