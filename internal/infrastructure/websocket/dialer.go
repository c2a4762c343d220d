package websocket

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"

	"xstream/internal/application/port"
)

// DialerConfig 单条 WebSocket 连接参数
type DialerConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	// ReadTimeout 每收到一帧（含 ping/pong）顺延读超时，超时即视为断线
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Header       http.Header
}

// Dialer 基于 gorilla/websocket 的 port.Dialer 实现
type Dialer struct {
	cfg    DialerConfig
	dialer *gws.Dialer
}

func NewDialer(cfg DialerConfig) *Dialer {
	cfg.URL = strings.TrimSpace(cfg.URL)
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	d := *gws.DefaultDialer
	d.HandshakeTimeout = cfg.HandshakeTimeout
	return &Dialer{cfg: cfg, dialer: &d}
}

func (d *Dialer) Dial(ctx context.Context) (port.Conn, error) {
	cctx, cancel := context.WithTimeout(ctx, d.cfg.HandshakeTimeout)
	defer cancel()

	conn, resp, err := d.dialer.DialContext(cctx, d.cfg.URL, d.cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (http %d)", d.cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", d.cfg.URL, err)
	}
	return newConn(conn, d.cfg.ReadTimeout, d.cfg.WriteTimeout), nil
}

// Conn wraps a gorilla connection. gorilla allows one concurrent writer,
// so data frames are serialised; control frames use WriteControl which is
// safe alongside them.
type Conn struct {
	conn         *gws.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newConn(conn *gws.Conn, readTimeout, writeTimeout time.Duration) *Conn {
	c := &Conn{conn: conn, readTimeout: readTimeout, writeTimeout: writeTimeout}

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	// the server pings every few minutes and drops us without a pong
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		err := conn.WriteControl(gws.PongMessage, []byte(data), time.Now().Add(writeTimeout))
		if err == gws.ErrCloseSent {
			return nil
		}
		return err
	})
	return c
}

func (c *Conn) ReadMessage() ([]byte, error) {
	_, b, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	return b, nil
}

func (c *Conn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(gws.TextMessage, data)
}

func (c *Conn) WritePing() error {
	return c.conn.WriteControl(gws.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Close sends a close frame and tears the socket down. Safe to call twice.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(
			gws.CloseMessage,
			gws.FormatCloseMessage(gws.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

var _ port.Dialer = (*Dialer)(nil)
var _ port.Conn = (*Conn)(nil)
