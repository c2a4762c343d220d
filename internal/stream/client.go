package stream

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"xstream/internal/application/port"
	"xstream/internal/domain"
)

// Config 客户端配置
type Config struct {
	Name      string
	Heartbeat time.Duration
	Backoff   Backoff

	// 私有流 listen key 有效期与续期间隔，Refresh 为 0 时取 Validity/2
	SessionValidity time.Duration
	SessionRefresh  time.Duration
}

// Client 一个实例持有一条物理连接、一份订阅集合和一条事件总线
// 多个实例之间没有共享状态
type Client struct {
	id  string
	cfg Config

	bus        *Bus
	controller *Controller
	registry   *Registry
	dispatcher *Dispatcher
	sessions   *SessionManager

	closed atomic.Bool
}

// NewClient wires a client. sessions may be nil when no private stream is used.
func NewClient(cfg Config, dialer port.Dialer, sessions port.ListenKeyService) *Client {
	c := &Client{
		id:  uuid.NewString(),
		cfg: cfg,
		bus: NewBus(),
	}
	if cfg.Name == "" {
		c.cfg.Name = "stream-" + c.id[:8]
	}
	c.dispatcher = NewDispatcher(c.cfg.Name, c.bus)

	// controller and registry reference each other through callbacks only
	var registry *Registry
	c.controller = NewController(ControllerConfig{
		Name:      c.cfg.Name,
		Heartbeat: cfg.Heartbeat,
		Backoff:   cfg.Backoff,
	}, dialer, c.bus, func(synced func()) error { return registry.resync(synced) }, c.dispatcher.Dispatch)
	registry = NewRegistry(c.controller)
	c.registry = registry

	if sessions != nil {
		c.sessions = NewSessionManager(sessions, registry, c.bus, cfg.SessionValidity, cfg.SessionRefresh)
		c.bus.watchErrors(func(err error) {
			if errors.Is(err, ErrListenKeyExpired) {
				c.sessions.expire()
			}
		})
		// no connection is left to read the key once retries are exhausted
		c.bus.OnReconnectExhausted(func(ReconnectExhausted) {
			go c.releaseSession()
		})
	}
	return c
}

func (c *Client) releaseSession() {
	ctx, cancel := context.WithTimeout(context.Background(), sessionCallTimeout)
	defer cancel()
	if err := c.sessions.Close(ctx); err != nil {
		log.Warn().Str("stream", c.cfg.Name).Err(err).Msg("revoke user data session failed")
	}
}

// ID returns the unique instance id.
func (c *Client) ID() string { return c.id }

// Name returns the configured name used in logs.
func (c *Client) Name() string { return c.cfg.Name }

// Connect starts the connection in the background. Observe OnConnected
// for completion. Calling it while connected is a no-op; calling it after
// reconnect exhaustion starts a fresh attempt cycle.
func (c *Client) Connect() error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	c.controller.Connect()
	return nil
}

// Disconnect revokes the user data session, if any, and closes the
// connection without scheduling a reconnect. The wanted set is kept so a
// later Connect resubscribes it.
func (c *Client) Disconnect(ctx context.Context) error {
	var err error
	if c.sessions != nil {
		// revoke while still connected so the UNSUBSCRIBE frame goes out
		err = c.sessions.Close(ctx)
		if err != nil {
			log.Warn().Str("stream", c.cfg.Name).Err(err).Msg("revoke user data session failed")
		}
	}
	c.controller.Disconnect()
	return err
}

// Close disconnects and makes the client unusable.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.Disconnect(ctx)
}

// Subscribe adds channels to the wanted set.
func (c *Client) Subscribe(channels ...string) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	return c.registry.Subscribe(channels...)
}

// Unsubscribe removes channels from the wanted set.
func (c *Client) Unsubscribe(channels ...string) error {
	return c.registry.Unsubscribe(channels...)
}

// SubscribeUserData opens the private account stream. Without a configured
// credential it returns ErrMissingCredential before any network call.
func (c *Client) SubscribeUserData(ctx context.Context) (Session, error) {
	if c.closed.Load() {
		return Session{}, ErrClientClosed
	}
	if c.sessions == nil {
		return Session{}, ErrNoSessionService
	}
	return c.sessions.Subscribe(ctx)
}

// Session returns the current user data session.
func (c *Client) Session() (Session, bool) {
	if c.sessions == nil {
		return Session{}, false
	}
	return c.sessions.Current()
}

func (c *Client) State() State                   { return c.controller.State() }
func (c *Client) Attempts() int                  { return c.controller.Attempts() }
func (c *Client) LastHeartbeat() time.Time       { return c.controller.LastHeartbeat() }
func (c *Client) Wanted() []string               { return c.registry.Wanted() }
func (c *Client) Subscribed(channel string) bool { return c.registry.Has(channel) }

// Events returns the typed event bus.
func (c *Client) Events() *Bus { return c.bus }

func (c *Client) OnConnected(fn func(Connected)) func()       { return c.bus.OnConnected(fn) }
func (c *Client) OnDisconnected(fn func(Disconnected)) func() { return c.bus.OnDisconnected(fn) }
func (c *Client) OnError(fn func(error)) func()               { return c.bus.OnError(fn) }
func (c *Client) OnReconnectExhausted(fn func(ReconnectExhausted)) func() {
	return c.bus.OnReconnectExhausted(fn)
}
func (c *Client) OnTicker(fn func(domain.Ticker)) func()         { return c.bus.OnTicker(fn) }
func (c *Client) OnBookTicker(fn func(domain.BookTicker)) func() { return c.bus.OnBookTicker(fn) }
func (c *Client) OnDepth(fn func(domain.Depth)) func()           { return c.bus.OnDepth(fn) }
func (c *Client) OnTrade(fn func(domain.Trade)) func()           { return c.bus.OnTrade(fn) }
func (c *Client) OnAccount(fn func(domain.Account)) func()       { return c.bus.OnAccount(fn) }
