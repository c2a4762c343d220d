package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"xstream/internal/application/port"
	"xstream/internal/domain"
)

// ErrNoCredential 签名接口需要 api_key 与 api_secret
var ErrNoCredential = errors.New("binance: api key and secret required")

// SnapshotReason 启动快照的 Account.Reason
const SnapshotReason = "accountSnapshot"

// AccountClient Binance 现货账户查询客户端
type AccountClient struct {
	*APIClient
}

// NewAccountClient 创建现货账户客户端
func NewAccountClient(client *APIClient) *AccountClient {
	return &AccountClient{APIClient: client}
}

// accountResponse 现货账户响应结构
type accountResponse struct {
	CanTrade    bool   `json:"canTrade"`
	UpdateTime  int64  `json:"updateTime"`
	AccountType string `json:"accountType"`
	Balances    []struct {
		Asset  string          `json:"asset"`
		Free   decimal.Decimal `json:"free"`
		Locked decimal.Decimal `json:"locked"`
	} `json:"balances"`
}

// AccountSnapshot 获取现货账户余额，只保留非零资产
func (c *AccountClient) AccountSnapshot(ctx context.Context) (*domain.Account, error) {
	if !c.credentials.CanSign() {
		return nil, ErrNoCredential
	}
	body, err := c.signedRequest(ctx, http.MethodGet, "/api/v3/account", nil)
	if err != nil {
		return nil, fmt.Errorf("account snapshot: %w", err)
	}

	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode account response failed: %w", err)
	}

	acct := &domain.Account{
		Meta:   domain.Meta{EventTime: resp.UpdateTime, LocalTime: time.Now()},
		Reason: SnapshotReason,
	}
	for _, b := range resp.Balances {
		if b.Free.IsZero() && b.Locked.IsZero() {
			continue
		}
		acct.Balances = append(acct.Balances, domain.Balance{
			Asset:  b.Asset,
			Free:   b.Free,
			Locked: b.Locked,
		})
	}
	return acct, nil
}

var _ port.AccountSnapshotter = (*AccountClient)(nil)
