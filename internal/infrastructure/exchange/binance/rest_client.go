package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"xstream/internal/application/port"
	"xstream/internal/domain"
	"xstream/internal/stream"
)

const (
	defaultDepthLimit = 100
	maxDepthLimit     = 5000
)

// DepthClient Binance 订单簿快照 REST 客户端
type DepthClient struct {
	*APIClient
}

// NewDepthClient 创建订单簿快照客户端
func NewDepthClient(client *APIClient) *DepthClient {
	return &DepthClient{APIClient: client}
}

// DepthSnapshot 获取订单簿快照 GET /api/v3/depth
func (c *DepthClient) DepthSnapshot(ctx context.Context, symbol string, limit int) (*domain.Depth, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("depth snapshot: empty symbol")
	}
	if limit <= 0 {
		limit = defaultDepthLimit
	}
	limit = min(limit, maxDepthLimit)

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))
	body, err := c.publicRequest(ctx, "/api/v3/depth", params)
	if err != nil {
		return nil, fmt.Errorf("depth snapshot %s: %w", symbol, err)
	}

	var snap stream.PartialDepth
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("decode depth snapshot failed: %w", err)
	}
	depth := snap.ToDomain(domain.Meta{Symbol: symbol, LocalTime: time.Now()})
	return &depth, nil
}

var _ port.DepthSnapshotter = (*DepthClient)(nil)
