package service

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// BrokerConfig 定义了柜台登录信息。Password 支持 "env:NAME" 形式，
// 从环境变量读取，避免把口令写进配置文件。
type BrokerConfig struct {
	GatewayURL   string `mapstructure:"gateway_url"`
	BrokerID     string `mapstructure:"broker_id"`
	DepartmentID string `mapstructure:"department_id"`
	Account      string `mapstructure:"account"`
	Password     string `mapstructure:"password"`
	AccountType  string `mapstructure:"account_type"`
}

// StrategyConfig 定义了 CHO 指标与信号相关参数
type StrategyConfig struct {
	ShortWindow    int `mapstructure:"short"`
	LongWindow     int `mapstructure:"long"`
	SmoothWindow   int `mapstructure:"smooth"`
	MinHistoryDays int `mapstructure:"min_history_days"`
}

// RetryConfig 重试策略：最大尝试次数与退避间隔（秒）序列
type RetryConfig struct {
	Attempts       int   `mapstructure:"attempts"`
	BackoffSeconds []int `mapstructure:"backoff_seconds"`
}

// OrderConfig 报单相关参数
type OrderConfig struct {
	VolumePerTrade int64       `mapstructure:"volume_per_trade"`
	Retry          RetryConfig `mapstructure:"retry"`
}

// PriceLimitConfig 各板块涨跌停比例，留空则使用交易所默认值
type PriceLimitConfig struct {
	Overrides map[string]float64 `mapstructure:"overrides"`
}

// MarketDataConfig 行情拉取参数
type MarketDataConfig struct {
	QuoteURL     string `mapstructure:"quote_url"`
	FetchWorkers int    `mapstructure:"fetch_workers"`
	FetchDays    int    `mapstructure:"fetch_days"`
}

// PathsConfig 数据目录布局，全部挂在 DataRoot 之下
type PathsConfig struct {
	DataRoot string `mapstructure:"data_root"`
	LogFile  string `mapstructure:"log_file"`
	PoolFile string `mapstructure:"pool_file"`
}

// StocksDir 个股行情 CSV 目录
func (p PathsConfig) StocksDir() string { return filepath.Join(p.DataRoot, "stocks") }

// PendingOrdersDir 每个交易日的待报订单批次目录
func (p PathsConfig) PendingOrdersDir() string { return filepath.Join(p.DataRoot, "pending_orders") }

// TradesDir 对账成交 CSV 目录
func (p PathsConfig) TradesDir() string { return filepath.Join(p.DataRoot, "trades") }

// ReportsDir 失败报单/对账摘要等报告目录
func (p PathsConfig) ReportsDir() string { return filepath.Join(p.DataRoot, "reports") }

// PositionDB 持仓 SQLite 文件
func (p PathsConfig) PositionDB() string { return filepath.Join(p.DataRoot, "trading.db") }

// Config 汇总一次运行所需的全部配置，加载后不可变
type Config struct {
	Broker     BrokerConfig     `mapstructure:"broker"`
	Strategy   StrategyConfig   `mapstructure:"strategy"`
	Orders     OrderConfig      `mapstructure:"orders"`
	PriceLimit PriceLimitConfig `mapstructure:"price_limit"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	Paths      PathsConfig      `mapstructure:"paths"`
}

// GlobalConfig 存储加载后的全局配置
var GlobalConfig Config

// LoadConfig 读取并解析配置文件，填充默认值并做基本校验
func LoadConfig(configPath string) *Config {
	viper.SetConfigName("config") // 文件名是 config
	viper.SetConfigType("yaml")   // 文件类型是 yaml
	viper.AddConfigPath(configPath)

	viper.SetDefault("strategy.short", 10)
	viper.SetDefault("strategy.long", 20)
	viper.SetDefault("strategy.smooth", 6)
	viper.SetDefault("strategy.min_history_days", 60)
	viper.SetDefault("orders.retry.attempts", 3)
	viper.SetDefault("orders.retry.backoff_seconds", []int{1, 2, 4})
	viper.SetDefault("market_data.fetch_workers", 4)
	viper.SetDefault("market_data.fetch_days", 120)
	viper.SetDefault("paths.data_root", "data")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Fatalf("Config file not found: %s", err)
		} else {
			log.Fatalf("Error reading config file: %s", err)
		}
	}

	if err := viper.Unmarshal(&GlobalConfig); err != nil {
		log.Fatalf("Unable to decode config into struct: %s", err)
	}

	if err := validate(&GlobalConfig); err != nil {
		log.Fatalf("Invalid config: %s", err)
	}

	GlobalConfig.Broker.Password = resolveSecret(GlobalConfig.Broker.Password)
	return &GlobalConfig
}

func validate(cfg *Config) error {
	if cfg.Strategy.ShortWindow >= cfg.Strategy.LongWindow {
		return fmt.Errorf("strategy.short (%d) must be less than strategy.long (%d)",
			cfg.Strategy.ShortWindow, cfg.Strategy.LongWindow)
	}
	if cfg.Orders.VolumePerTrade <= 0 {
		return fmt.Errorf("orders.volume_per_trade is required")
	}
	if len(cfg.Orders.Retry.BackoffSeconds) == 0 {
		return fmt.Errorf("orders.retry.backoff_seconds must be a non-empty list")
	}
	return nil
}

// resolveSecret 解析 "env:NAME" 形式的敏感配置项
func resolveSecret(value string) string {
	if strings.HasPrefix(value, "env:") {
		key := strings.TrimPrefix(value, "env:")
		env, ok := os.LookupEnv(key)
		if !ok {
			log.Fatalf("Environment variable %q is not set", key)
		}
		return env
	}
	return value
}
