package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCredential 私有流需要 API key，未配置时同步失败，不发起任何网络请求
	ErrMissingCredential = errors.New("user data stream requires an api credential")
	// ErrNotConnected 未连接时无法发送控制帧
	ErrNotConnected = errors.New("stream not connected")
	// ErrListenKeyExpired 交易所推送 listenKeyExpired
	ErrListenKeyExpired = errors.New("listen key expired")
	// ErrNoSessionService 未注入鉴权侧通道
	ErrNoSessionService = errors.New("no listen key service configured")
	// ErrClientClosed Close 之后客户端不可再使用
	ErrClientClosed = errors.New("stream client closed")
)

// TransportError wraps a read/write/dial failure of the underlying connection.
// It is reported on the error bus; the close that follows drives reconnection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// SessionRefreshError is surfaced when a listen key keep-alive fails.
// The session is marked failed and is not retried automatically.
type SessionRefreshError struct {
	ListenKey string
	Err       error
}

func (e *SessionRefreshError) Error() string {
	return fmt.Sprintf("listen key refresh failed: %v", e.Err)
}

func (e *SessionRefreshError) Unwrap() error { return e.Err }

// ExchangeError is an error reply to a control frame.
type ExchangeError struct {
	ID   int64
	Code int
	Msg  string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange error (id=%d code=%d): %s", e.ID, e.Code, e.Msg)
}
