package port

import "context"

// ListenKeyService 私有数据流 session token 的鉴权侧通道
type ListenKeyService interface {
	// HasCredential reports whether an API key is configured. Checked before any network call.
	HasCredential() bool
	CreateListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, listenKey string) error
	CloseListenKey(ctx context.Context, listenKey string) error
}
