package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ===== Credentials 凭证 =====

// Credentials 包含 API 凭证和签名方法
type Credentials struct {
	apiKey    string
	apiSecret string
}

// NewCredentials 创建凭证对象
func NewCredentials(apiKey, apiSecret string) *Credentials {
	return &Credentials{
		apiKey:    strings.TrimSpace(apiKey),
		apiSecret: strings.TrimSpace(apiSecret),
	}
}

// Sign 生成 HMAC-SHA256 签名
func (c *Credentials) Sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// APIKey 返回 API Key
func (c *Credentials) APIKey() string {
	return c.apiKey
}

// CanSign reports whether both key and secret are present.
func (c *Credentials) CanSign() bool {
	return c.apiKey != "" && c.apiSecret != ""
}

// ClientConfig REST 侧通道参数
type ClientConfig struct {
	BaseURL           string
	APIKey            string
	APISecret         string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// APIClient 共享的 HTTP 连接、凭证与限速器
type APIClient struct {
	credentials *Credentials
	httpClient  *http.Client
	limiter     *rate.Limiter
	baseURL     string
}

// NewAPIClient 创建 REST 客户端；RequestsPerSecond <= 0 表示不限速
func NewAPIClient(cfg ClientConfig) *APIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.binance.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = max(1, int(cfg.RequestsPerSecond))
	}
	return &APIClient{
		credentials: NewCredentials(cfg.APIKey, cfg.APISecret),
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		limiter:     rate.NewLimiter(limit, burst),
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// Clients Binance 现货侧通道统一入口
type Clients struct {
	UserStream *UserStreamClient
	Depth      *DepthClient
	Account    *AccountClient
}

// NewClients 通过一组凭证创建全部侧通道客户端，共用同一个限速器
func NewClients(cfg ClientConfig) *Clients {
	api := NewAPIClient(cfg)
	return &Clients{
		UserStream: NewUserStreamClient(api),
		Depth:      NewDepthClient(api),
		Account:    NewAccountClient(api),
	}
}
