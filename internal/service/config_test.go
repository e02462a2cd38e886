package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
broker:
  gateway_url: "ws://127.0.0.1:9000/ws"
  broker_id: "1001"
  account: "test-account"
  password: "env:TEST_TRADE_PASSWORD"
  account_type: "stock"

orders:
  volume_per_trade: 100

paths:
  data_root: "testdata-root"
`

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(sampleConfig), 0o644))
	t.Setenv("TEST_TRADE_PASSWORD", "s3cret")

	cfg := LoadConfig(dir)
	assert.Equal(t, "ws://127.0.0.1:9000/ws", cfg.Broker.GatewayURL)
	assert.Equal(t, "s3cret", cfg.Broker.Password)
	assert.Equal(t, int64(100), cfg.Orders.VolumePerTrade)

	// 未显式配置的项使用默认值
	assert.Equal(t, 10, cfg.Strategy.ShortWindow)
	assert.Equal(t, 20, cfg.Strategy.LongWindow)
	assert.Equal(t, []int{1, 2, 4}, cfg.Orders.Retry.BackoffSeconds)
	assert.Equal(t, 4, cfg.MarketData.FetchWorkers)

	// 数据目录布局全部挂在 data_root 下
	assert.Equal(t, filepath.Join("testdata-root", "stocks"), cfg.Paths.StocksDir())
	assert.Equal(t, filepath.Join("testdata-root", "pending_orders"), cfg.Paths.PendingOrdersDir())
	assert.Equal(t, filepath.Join("testdata-root", "trading.db"), cfg.Paths.PositionDB())
}

func TestValidate(t *testing.T) {
	valid := Config{
		Strategy: StrategyConfig{ShortWindow: 10, LongWindow: 20},
		Orders: OrderConfig{
			VolumePerTrade: 100,
			Retry:          RetryConfig{Attempts: 3, BackoffSeconds: []int{1}},
		},
	}
	assert.NoError(t, validate(&valid))

	bad := valid
	bad.Strategy.ShortWindow = 20
	assert.Error(t, validate(&bad), "short window must be less than long window")

	bad = valid
	bad.Orders.VolumePerTrade = 0
	assert.Error(t, validate(&bad))

	bad = valid
	bad.Orders.Retry.BackoffSeconds = nil
	assert.Error(t, validate(&bad))
}

func TestResolveSecretPlainValue(t *testing.T) {
	assert.Equal(t, "plain", resolveSecret("plain"))
}

func TestResolveSecretFromEnv(t *testing.T) {
	t.Setenv("SOME_SECRET", "from-env")
	assert.Equal(t, "from-env", resolveSecret("env:SOME_SECRET"))
}
