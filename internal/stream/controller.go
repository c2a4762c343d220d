package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"xstream/internal/application/port"
)

// State 连接状态
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ControllerConfig 连接控制器配置
type ControllerConfig struct {
	Name      string
	Heartbeat time.Duration
	Backoff   Backoff
}

// link is one physical connection. gen identifies it; callbacks carrying
// an older gen are ignored.
type link struct {
	gen    uint64
	conn   port.Conn
	broken atomic.Bool
}

// Controller 持有唯一的物理连接：拨号、心跳、断线重连与退避
type Controller struct {
	cfg    ControllerConfig
	dialer port.Dialer
	bus    *Bus

	onOpen    func(synced func()) error
	onMessage func([]byte)

	mu            sync.Mutex
	state         State
	synced        bool // onOpen has resent the wanted set on the current link
	attempts      int
	delay         time.Duration
	lastHeartbeat time.Time
	gen           uint64
	link          *link
	ctx           context.Context
	cancel        context.CancelFunc
	retry         *time.Timer
	stopHeartbeat context.CancelFunc
}

// NewController 创建连接控制器
// onOpen 在每次连接建立后调用（重发订阅），完成后调用 synced；onMessage 接收每一帧原始数据
func NewController(cfg ControllerConfig, dialer port.Dialer, bus *Bus, onOpen func(synced func()) error, onMessage func([]byte)) *Controller {
	cfg.Backoff = cfg.Backoff.normalize()
	if cfg.Name == "" {
		cfg.Name = "stream"
	}
	return &Controller{
		cfg:       cfg,
		dialer:    dialer,
		bus:       bus,
		onOpen:    onOpen,
		onMessage: onMessage,
		state:     StateDisconnected,
	}
}

// Connect starts connecting in the background. It is a no-op while a
// connection is open or being established. Completion is observed via the
// connected event.
func (c *Controller) Connect() {
	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateConnected, StateReconnecting:
		c.mu.Unlock()
		return
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.attempts = 0
	c.delay = 0
	c.gen++
	gen := c.gen
	ctx := c.ctx
	c.state = StateConnecting
	c.mu.Unlock()

	log.Info().Str("stream", c.cfg.Name).Msg("ws connecting")
	go c.dial(ctx, gen)
}

// Disconnect closes the connection and suppresses any pending reconnect.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	wasOpen := c.state == StateConnected
	c.state = StateClosing
	c.synced = false
	c.gen++
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.haltHeartbeatLocked()
	l := c.link
	c.link = nil
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	if l != nil {
		l.broken.Store(true)
		_ = l.conn.Close()
	}

	c.mu.Lock()
	// a Connect() may have slipped in while the socket was closing
	if c.state == StateClosing {
		c.state = StateDisconnected
		c.attempts = 0
		c.delay = 0
	}
	c.mu.Unlock()

	log.Info().Str("stream", c.cfg.Name).Msg("ws disconnected by caller")
	if wasOpen {
		c.bus.emitDisconnected(Disconnected{At: time.Now(), Manual: true})
	}
}

// Send writes one frame on the current connection.
func (c *Controller) Send(frame []byte) error {
	c.mu.Lock()
	l := c.link
	open := c.state == StateConnected
	c.mu.Unlock()
	if l == nil || !open {
		return ErrNotConnected
	}
	if err := l.conn.WriteMessage(frame); err != nil {
		terr := &TransportError{Op: "write", Err: err}
		c.breakLink(l, terr)
		return terr
	}
	return nil
}

// Connected reports whether the connection is open and the wanted set
// has been resent on it.
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected && c.synced
}

// State returns the current connection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the number of consecutive failed reconnect attempts.
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// CurrentDelay returns the delay used for the pending reconnect, if any.
func (c *Controller) CurrentDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delay
}

// LastHeartbeat returns when the last keepalive frame was written.
func (c *Controller) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}

func (c *Controller) markSynced(gen uint64) {
	c.mu.Lock()
	if c.gen == gen && c.state == StateConnected {
		c.synced = true
	}
	c.mu.Unlock()
}

func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

func (c *Controller) dial(ctx context.Context, gen uint64) {
	conn, err := c.dialer.Dial(ctx)

	c.mu.Lock()
	if gen != c.gen || c.state != StateConnecting {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		log.Error().Str("stream", c.cfg.Name).Err(err).Msg("ws dial failed")
		c.bus.emitError(&TransportError{Op: "dial", Err: err})
		c.closed(gen, err, false)
		return
	}

	l := &link{gen: gen, conn: conn}
	c.link = l
	c.state = StateConnected
	c.synced = false
	c.attempts = 0
	c.delay = 0
	hbCtx, stop := context.WithCancel(ctx)
	c.stopHeartbeat = stop
	c.mu.Unlock()

	log.Info().Str("stream", c.cfg.Name).Msg("ws connected")
	go c.heartbeat(hbCtx, l)

	c.bus.emitConnected(Connected{At: time.Now()})
	markSynced := func() { c.markSynced(gen) }
	if c.onOpen == nil {
		markSynced()
	} else if err := c.onOpen(markSynced); err != nil {
		log.Error().Str("stream", c.cfg.Name).Err(err).Msg("resubscribe failed")
		c.bus.emitError(err)
	}

	c.readLoop(l)
}

// readLoop is the only producer of inbound frames for a link.
func (c *Controller) readLoop(l *link) {
	for {
		b, err := l.conn.ReadMessage()
		if err != nil {
			c.breakLink(l, &TransportError{Op: "read", Err: err})
			c.closed(l.gen, err, true)
			return
		}
		if c.onMessage != nil {
			c.onMessage(b)
		}
	}
}

// breakLink reports err once per link and closes the connection so the
// read loop always observes a close after an error.
func (c *Controller) breakLink(l *link, err error) {
	if !l.broken.CompareAndSwap(false, true) {
		return
	}
	if c.current(l.gen) {
		log.Warn().Str("stream", c.cfg.Name).Err(err).Msg("ws transport error")
		c.bus.emitError(err)
	}
	_ = l.conn.Close()
}

func (c *Controller) closed(gen uint64, cause error, wasOpen bool) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.haltHeartbeatLocked()
	c.link = nil
	c.synced = false
	c.mu.Unlock()

	if wasOpen {
		log.Warn().Str("stream", c.cfg.Name).Err(cause).Msg("ws disconnected, reconnecting")
		c.bus.emitDisconnected(Disconnected{At: time.Now(), Err: cause})
	}
	c.scheduleReconnect(gen)
}

func (c *Controller) scheduleReconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.cfg.Backoff.Exhausted(c.attempts) {
		attempts := c.attempts
		c.state = StateFailed
		c.delay = 0
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Unlock()

		log.Error().
			Str("stream", c.cfg.Name).
			Int("attempts", attempts).
			Msg("reconnect attempts exhausted")
		c.bus.emitExhausted(ReconnectExhausted{At: time.Now(), Attempts: attempts})
		return
	}

	delay := c.cfg.Backoff.Delay(c.attempts)
	c.attempts++
	c.delay = delay
	c.state = StateReconnecting
	attempt := c.attempts
	c.retry = time.AfterFunc(delay, func() { c.reconnect(gen) })
	c.mu.Unlock()

	log.Info().
		Str("stream", c.cfg.Name).
		Int("attempt", attempt).
		Int64("delay_ms", delay.Milliseconds()).
		Msg("retrying websocket connection")
}

func (c *Controller) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	c.gen++
	next := c.gen
	ctx := c.ctx
	c.state = StateConnecting
	c.mu.Unlock()

	c.dial(ctx, next)
}

func (c *Controller) heartbeat(ctx context.Context, l *link) {
	if c.cfg.Heartbeat <= 0 {
		return
	}
	t := time.NewTicker(c.cfg.Heartbeat)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := l.conn.WritePing(); err != nil {
				c.breakLink(l, &TransportError{Op: "ping", Err: err})
				return
			}
			c.mu.Lock()
			c.lastHeartbeat = time.Now()
			c.mu.Unlock()
		}
	}
}

func (c *Controller) haltHeartbeatLocked() {
	if c.stopHeartbeat != nil {
		c.stopHeartbeat()
		c.stopHeartbeat = nil
	}
}
