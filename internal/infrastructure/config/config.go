package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// 环境变量覆盖配置文件中的密钥
const (
	EnvAPIKey    = "XSTREAM_API_KEY"
	EnvAPISecret = "XSTREAM_API_SECRET"
)

type Config struct {
	App struct {
		LogLevel          string `toml:"log_level"`
		PrintEveryMin     int    `toml:"print_every_min"`
		MetricsIntervalMs int    `toml:"metrics_interval_ms"`
	} `toml:"app"`

	Symbols struct {
		List  []string `toml:"list"`
		Quote string   `toml:"quote"` // e.g. USDT，list 中可只写币种
	} `toml:"symbols"`

	Streams struct {
		Ticker      bool   `toml:"ticker"`
		BookTicker  bool   `toml:"book_ticker"`
		Depth       bool   `toml:"depth"`
		DepthLevels int    `toml:"depth_levels"` // 0 = 增量流，5/10/20 = 部分快照流
		DepthSpeed  string `toml:"depth_speed"`  // "" | "100ms"
		AggTrade    bool   `toml:"agg_trade"`
		AllTickers  bool   `toml:"all_tickers"`
		UserData    bool   `toml:"user_data"`
	} `toml:"streams"`

	Stream struct {
		WsURL                string `toml:"ws_url"` // e.g. wss://stream.binance.com:9443/stream
		HeartbeatSec         int    `toml:"heartbeat_sec"`
		HandshakeTimeoutSec  int    `toml:"handshake_timeout_sec"`
		ReadTimeoutSec       int    `toml:"read_timeout_sec"`
		BackoffBaseMs        int    `toml:"backoff_base_ms"`
		BackoffCapMs         int    `toml:"backoff_cap_ms"`
		MaxReconnectAttempts int    `toml:"max_reconnect_attempts"`
		ShardSize            int    `toml:"shard_size"` // 每条连接最多承载的频道数
	} `toml:"stream"`

	Binance struct {
		RestURL              string  `toml:"rest_url"`
		APIKey               string  `toml:"api_key"`
		APISecret            string  `toml:"api_secret"`
		ListenKeyValidityMin int     `toml:"listen_key_validity_min"`
		RequestsPerSecond    float64 `toml:"requests_per_second"`
	} `toml:"binance"`

	Consumer struct {
		TradeHistory   int  `toml:"trade_history"`
		TrackOrderBook bool `toml:"track_order_book"`
		ResyncOnGap    bool `toml:"resync_on_gap"`
		RecordBuffer   int  `toml:"record_buffer"`
	} `toml:"consumer"`

	Redis struct {
		Enabled      bool   `toml:"enabled"`
		Addr         string `toml:"addr"`
		Password     string `toml:"password"`
		DB           int    `toml:"db"`
		Prefix       string `toml:"prefix"`
		TTLSeconds   int    `toml:"ttl_seconds"`
		TradeStream  string `toml:"trade_stream"`
		AccountTopic string `toml:"account_topic"`
	} `toml:"redis"`

	SQLite struct {
		Enabled bool   `toml:"enabled"`
		Path    string `toml:"path"`
	} `toml:"sqlite"`

	Postgres struct {
		Enabled bool   `toml:"enabled"`
		DSN     string `toml:"dsn"`
	} `toml:"postgres"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvAPIKey)); v != "" {
		cfg.Binance.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAPISecret)); v != "" {
		cfg.Binance.APISecret = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.PrintEveryMin <= 0 {
		cfg.App.PrintEveryMin = 5
	}
	if cfg.App.MetricsIntervalMs <= 0 {
		cfg.App.MetricsIntervalMs = 1000
	}
	if cfg.Symbols.Quote == "" {
		cfg.Symbols.Quote = "USDT"
	}
	if cfg.Stream.WsURL == "" {
		cfg.Stream.WsURL = "wss://stream.binance.com:9443/stream"
	}
	if cfg.Stream.HeartbeatSec <= 0 {
		cfg.Stream.HeartbeatSec = 25
	}
	if cfg.Stream.HandshakeTimeoutSec <= 0 {
		cfg.Stream.HandshakeTimeoutSec = 10
	}
	if cfg.Stream.ReadTimeoutSec <= 0 {
		cfg.Stream.ReadTimeoutSec = 60
	}
	if cfg.Stream.BackoffBaseMs <= 0 {
		cfg.Stream.BackoffBaseMs = 500
	}
	if cfg.Stream.BackoffCapMs <= 0 {
		cfg.Stream.BackoffCapMs = 30000
	}
	if cfg.Stream.MaxReconnectAttempts <= 0 {
		cfg.Stream.MaxReconnectAttempts = 10
	}
	if cfg.Stream.ShardSize <= 0 {
		cfg.Stream.ShardSize = 200
	}
	if cfg.Binance.RestURL == "" {
		cfg.Binance.RestURL = "https://api.binance.com"
	}
	if cfg.Binance.ListenKeyValidityMin <= 0 {
		cfg.Binance.ListenKeyValidityMin = 60
	}
	if cfg.Binance.RequestsPerSecond <= 0 {
		cfg.Binance.RequestsPerSecond = 10
	}
	if cfg.Consumer.TradeHistory <= 0 {
		cfg.Consumer.TradeHistory = 100
	}
	if cfg.Consumer.RecordBuffer <= 0 {
		cfg.Consumer.RecordBuffer = 4096
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "xstream"
	}
}

func validate(cfg *Config) error {
	cfg.Symbols.Quote = strings.ToUpper(strings.TrimSpace(cfg.Symbols.Quote))
	cfg.Symbols.List = normalizeSymbols(cfg.Symbols.List)
	if len(cfg.Symbols.List) == 0 && !cfg.Streams.AllTickers && !cfg.Streams.UserData {
		return errors.New("symbols.list is empty")
	}
	if !cfg.AnyStreamEnabled() {
		return errors.New("no stream enabled in [streams]")
	}

	u, err := url.Parse(strings.TrimSpace(cfg.Stream.WsURL))
	if err != nil {
		return fmt.Errorf("stream.ws_url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("stream.ws_url: unsupported scheme %q", u.Scheme)
	}
	if cfg.Stream.BackoffCapMs < cfg.Stream.BackoffBaseMs {
		return errors.New("stream.backoff_cap_ms must be >= backoff_base_ms")
	}
	switch cfg.Streams.DepthLevels {
	case 0, 5, 10, 20:
	default:
		return fmt.Errorf("streams.depth_levels must be 0, 5, 10 or 20, got %d", cfg.Streams.DepthLevels)
	}

	if cfg.Redis.Enabled && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return errors.New("redis.addr empty but enabled")
	}
	if cfg.SQLite.Enabled && strings.TrimSpace(cfg.SQLite.Path) == "" {
		return errors.New("sqlite.path empty but enabled")
	}
	if cfg.Postgres.Enabled && strings.TrimSpace(cfg.Postgres.DSN) == "" {
		return errors.New("postgres.dsn empty but enabled")
	}
	return nil
}

// AnyStreamEnabled reports whether at least one stream group is switched on.
func (c *Config) AnyStreamEnabled() bool {
	s := c.Streams
	return s.Ticker || s.BookTicker || s.Depth || s.AggTrade || s.AllTickers || s.UserData
}

// HasCredential reports whether an API key is configured.
func (c *Config) HasCredential() bool {
	return strings.TrimSpace(c.Binance.APIKey) != ""
}

func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.Stream.HeartbeatSec) * time.Second
}

func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Stream.HandshakeTimeoutSec) * time.Second
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Stream.ReadTimeoutSec) * time.Second
}

func (c *Config) ListenKeyValidity() time.Duration {
	return time.Duration(c.Binance.ListenKeyValidityMin) * time.Minute
}

func (c *Config) MetricsInterval() time.Duration {
	return time.Duration(c.App.MetricsIntervalMs) * time.Millisecond
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
