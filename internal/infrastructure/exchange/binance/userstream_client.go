package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"xstream/internal/application/port"
)

const userDataStreamPath = "/api/v3/userDataStream"

// UserStreamClient listenKey 的创建、续期与撤销
type UserStreamClient struct {
	*APIClient
}

// NewUserStreamClient 创建私有流 listenKey 客户端
func NewUserStreamClient(client *APIClient) *UserStreamClient {
	return &UserStreamClient{APIClient: client}
}

// HasCredential listenKey 接口只需要 API Key
func (c *UserStreamClient) HasCredential() bool {
	return c.credentials.APIKey() != ""
}

// CreateListenKey POST /api/v3/userDataStream
func (c *UserStreamClient) CreateListenKey(ctx context.Context) (string, error) {
	body, err := c.keyedRequest(ctx, http.MethodPost, userDataStreamPath, nil)
	if err != nil {
		return "", fmt.Errorf("create listen key: %w", err)
	}
	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode listen key failed: %w", err)
	}
	if resp.ListenKey == "" {
		return "", fmt.Errorf("create listen key: empty listenKey in %s", body)
	}
	return resp.ListenKey, nil
}

// KeepAliveListenKey PUT /api/v3/userDataStream
func (c *UserStreamClient) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	if _, err := c.keyedRequest(ctx, http.MethodPut, userDataStreamPath, listenKeyParams(listenKey)); err != nil {
		return fmt.Errorf("keepalive listen key: %w", err)
	}
	return nil
}

// CloseListenKey DELETE /api/v3/userDataStream
func (c *UserStreamClient) CloseListenKey(ctx context.Context, listenKey string) error {
	if _, err := c.keyedRequest(ctx, http.MethodDelete, userDataStreamPath, listenKeyParams(listenKey)); err != nil {
		return fmt.Errorf("close listen key: %w", err)
	}
	return nil
}

func listenKeyParams(listenKey string) url.Values {
	params := url.Values{}
	params.Set("listenKey", listenKey)
	return params
}

var _ port.ListenKeyService = (*UserStreamClient)(nil)
