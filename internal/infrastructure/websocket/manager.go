package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"xstream/internal/application/port"
	"xstream/internal/domain"
	"xstream/internal/infrastructure/config"
	"xstream/internal/infrastructure/exchange"
	"xstream/internal/stream"
)

// ErrNoChannels 配置没有产生任何频道
var ErrNoChannels = errors.New("no channels configured")

// UserStreamName 私有流实例名
const UserStreamName = "user"

// RetryConfig WebSocket 连接重试配置
type RetryConfig struct {
	MaxRetries int           // 连续失败上限，超过后发出 reconnect-exhausted
	InitialDel time.Duration // 初始延迟
	MaxDelay   time.Duration // 最大延迟
}

// DefaultRetryConfig 默认重试配置
var DefaultRetryConfig = RetryConfig{
	MaxRetries: 10,
	InitialDel: 500 * time.Millisecond,
	MaxDelay:   30 * time.Second,
}

// Backoff converts the retry settings into the client's backoff policy.
func (r RetryConfig) Backoff() stream.Backoff {
	return stream.Backoff{Base: r.InitialDel, Cap: r.MaxDelay, MaxAttempts: r.MaxRetries}
}

// instance 一个独立的流客户端
type instance struct {
	client  *stream.Client
	private bool
}

// Manager 管理多个相互独立的流客户端：行情频道按 shard_size 分片到多条连接，
// 私有流单独一条连接
type Manager struct {
	retryConfig RetryConfig
	listenKeys  port.ListenKeyService
	newDialer   func(url string) port.Dialer

	mu        sync.Mutex
	order     []string
	instances map[string]*instance
	symbols   []string
}

// NewManager 创建管理器；listenKeys 为 nil 时不支持私有流
func NewManager(listenKeys port.ListenKeyService) *Manager {
	return &Manager{
		retryConfig: DefaultRetryConfig,
		listenKeys:  listenKeys,
		instances:   make(map[string]*instance),
	}
}

// SetRetryConfig 设置重试配置
func (m *Manager) SetRetryConfig(cfg RetryConfig) {
	m.retryConfig = cfg
}

// Initialize builds one client per channel shard, plus one for the user
// data stream when enabled. Nothing is dialled until Start.
func (m *Manager) Initialize(cfg *config.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.newDialer == nil {
		m.newDialer = func(url string) port.Dialer {
			return NewDialer(DialerConfig{
				URL:              url,
				HandshakeTimeout: cfg.HandshakeTimeout(),
				ReadTimeout:      cfg.ReadTimeout(),
			})
		}
	}
	m.retryConfig = RetryConfig{
		MaxRetries: cfg.Stream.MaxReconnectAttempts,
		InitialDel: time.Duration(cfg.Stream.BackoffBaseMs) * time.Millisecond,
		MaxDelay:   time.Duration(cfg.Stream.BackoffCapMs) * time.Millisecond,
	}

	conv := exchange.NewCommonSymbolConverter(cfg.Symbols.Quote)
	m.symbols = exchange.Pairs(conv, cfg.Symbols.List)

	channels := MarketChannels(cfg, m.symbols)
	for i, shard := range Shard(channels, cfg.Stream.ShardSize) {
		name := fmt.Sprintf("market-%d", i)
		m.add(name, cfg, shard, false)
		log.Info().
			Str("stream", name).
			Int("channels", len(shard)).
			Msg("✓ market stream initialized")
	}

	if cfg.Streams.UserData {
		m.add(UserStreamName, cfg, nil, true)
		log.Info().Str("stream", UserStreamName).Msg("✓ user data stream initialized")
	}

	if len(m.order) == 0 {
		return ErrNoChannels
	}
	return nil
}

func (m *Manager) add(name string, cfg *config.Config, channels []string, private bool) {
	var keys port.ListenKeyService
	if private {
		keys = m.listenKeys
	}
	client := stream.NewClient(stream.Config{
		Name:            name,
		Heartbeat:       cfg.Heartbeat(),
		Backoff:         m.retryConfig.Backoff(),
		SessionValidity: cfg.ListenKeyValidity(),
	}, m.newDialer(cfg.Stream.WsURL), keys)

	// offline: only fills the wanted set, sent on connect
	_ = client.Subscribe(channels...)
	m.instances[name] = &instance{client: client, private: private}
	m.order = append(m.order, name)
}

// Start connects every client. A user data stream without credential fails
// here with stream.ErrMissingCredential.
func (m *Manager) Start(ctx context.Context) error {
	insts := m.snapshot()
	// sessions first so a missing credential fails before anything is dialled
	for _, inst := range insts {
		if !inst.private {
			continue
		}
		if _, err := inst.client.SubscribeUserData(ctx); err != nil {
			return fmt.Errorf("%s: %w", inst.client.Name(), err)
		}
	}
	for _, inst := range insts {
		if err := inst.client.Connect(); err != nil {
			return fmt.Errorf("%s: connect: %w", inst.client.Name(), err)
		}
	}
	return nil
}

// Stop closes every client, revoking the user data session.
func (m *Manager) Stop(ctx context.Context) error {
	var errs []error
	for _, inst := range m.snapshot() {
		if err := inst.client.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", inst.client.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Subscribe routes new channels to the market shard with the most room.
func (m *Manager) Subscribe(channels ...string) error {
	var fresh []string
	for _, ch := range channels {
		if m.holder(ch) == nil {
			fresh = append(fresh, ch)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	target := m.roomiest()
	if target == nil {
		return ErrNoChannels
	}
	return target.Subscribe(fresh...)
}

// Unsubscribe removes each channel from whichever client holds it.
func (m *Manager) Unsubscribe(channels ...string) error {
	var errs []error
	for _, ch := range channels {
		if c := m.holder(ch); c != nil {
			if err := c.Unsubscribe(ch); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Clients returns the clients in creation order.
func (m *Manager) Clients() []*stream.Client {
	insts := m.snapshot()
	out := make([]*stream.Client, 0, len(insts))
	for _, inst := range insts {
		out = append(out, inst.client)
	}
	return out
}

// Client looks up a client by name.
func (m *Manager) Client(name string) (*stream.Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[name]
	if !ok {
		return nil, false
	}
	return inst.client, true
}

// Symbols returns the configured trading pairs.
func (m *Manager) Symbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.symbols...)
}

func (m *Manager) snapshot() []*instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*instance, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.instances[name])
	}
	return out
}

func (m *Manager) holder(channel string) *stream.Client {
	for _, inst := range m.snapshot() {
		if inst.client.Subscribed(channel) {
			return inst.client
		}
	}
	return nil
}

func (m *Manager) roomiest() *stream.Client {
	var best *stream.Client
	bestLen := 0
	for _, inst := range m.snapshot() {
		if inst.private {
			continue
		}
		n := len(inst.client.Wanted())
		if best == nil || n < bestLen {
			best, bestLen = inst.client, n
		}
	}
	return best
}

// MarketChannels expands the enabled stream groups into channel names.
func MarketChannels(cfg *config.Config, symbols []string) []string {
	var out []string
	if cfg.Streams.AllTickers {
		out = append(out, domain.AllTickersChannel)
	}
	for _, sym := range symbols {
		out = append(out, SymbolChannels(cfg, sym)...)
	}
	return out
}

// SymbolChannels lists the per-symbol channels enabled in cfg.
func SymbolChannels(cfg *config.Config, symbol string) []string {
	var out []string
	s := cfg.Streams
	if s.Ticker && !s.AllTickers {
		out = append(out, domain.TickerChannel(symbol))
	}
	if s.BookTicker {
		out = append(out, domain.BookTickerChannel(symbol))
	}
	if s.Depth {
		out = append(out, domain.DepthChannel(symbol, s.DepthLevels, s.DepthSpeed))
	}
	if s.AggTrade {
		out = append(out, domain.TradeChannel(symbol))
	}
	return out
}

// Shard splits channels into groups of at most size.
func Shard(channels []string, size int) [][]string {
	if len(channels) == 0 {
		return nil
	}
	if size <= 0 {
		return [][]string{channels}
	}
	var out [][]string
	for start := 0; start < len(channels); start += size {
		end := min(start+size, len(channels))
		out = append(out, channels[start:end:end])
	}
	return out
}
