package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[symbols]
list = ["btc", " ethusdt ", "BTC", ""]

[streams]
ticker = true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC", "ETHUSDT"}, cfg.Symbols.List)
	assert.Equal(t, "USDT", cfg.Symbols.Quote)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, 25*time.Second, cfg.Heartbeat())
	assert.Equal(t, 500, cfg.Stream.BackoffBaseMs)
	assert.Equal(t, 30000, cfg.Stream.BackoffCapMs)
	assert.Equal(t, 10, cfg.Stream.MaxReconnectAttempts)
	assert.Equal(t, 100, cfg.Consumer.TradeHistory)
	assert.Equal(t, time.Hour, cfg.ListenKeyValidity())
	assert.Equal(t, time.Second, cfg.MetricsInterval())
	assert.False(t, cfg.HasCredential())
}

func TestLoadEnvOverridesCredential(t *testing.T) {
	t.Setenv(EnvAPIKey, "env-key")
	t.Setenv(EnvAPISecret, "env-secret")
	path := writeConfig(t, `
[symbols]
list = ["BTCUSDT"]

[streams]
user_data = true

[binance]
api_key = "file-key"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Binance.APIKey)
	assert.Equal(t, "env-secret", cfg.Binance.APISecret)
	assert.True(t, cfg.HasCredential())
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no streams": `
[symbols]
list = ["BTCUSDT"]
`,
		"no symbols": `
[streams]
ticker = true
`,
		"bad scheme": `
[symbols]
list = ["BTCUSDT"]
[streams]
ticker = true
[stream]
ws_url = "https://stream.binance.com"
`,
		"bad depth levels": `
[symbols]
list = ["BTCUSDT"]
[streams]
depth = true
depth_levels = 7
`,
		"redis without addr": `
[symbols]
list = ["BTCUSDT"]
[streams]
ticker = true
[redis]
enabled = true
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestAllTickersNeedsNoSymbols(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[streams]
all_tickers = true
`))
	require.NoError(t, err)
	assert.Empty(t, cfg.Symbols.List)
}
