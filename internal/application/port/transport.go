package port

import "context"

// Conn 一条物理双工连接
// ReadMessage 阻塞直到收到一帧或连接出错；WriteMessage/WritePing 可并发调用
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	WritePing() error
	Close() error
}

// Dialer 建立新连接，每次重连都会调用一次
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }
