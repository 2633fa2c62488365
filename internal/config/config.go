package config

import (
	"crypto-bots-go/internal/models"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig 表示配置内容不合法
var ErrInvalidConfig = errors.New("invalid config")

// LoadConfig 从指定路径加载配置文件 (JSON 或 YAML, 按扩展名区分), 填充默认值并校验
func LoadConfig(path string) (*models.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &models.Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults 为未设置的字段填充默认值
func ApplyDefaults(cfg *models.Config) {
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.LogConfig.Output == "" {
		cfg.LogConfig.Output = "console"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.Driver == "sqlite" && cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "bots.db"
	}
	if cfg.Storage.Driver == "badger" && cfg.Storage.Path == "" {
		cfg.Storage.Path = "data/activity"
	}
	if cfg.Storage.MaxOpenConns == 0 {
		cfg.Storage.MaxOpenConns = 10
	}
	if cfg.Storage.MaxIdleConns == 0 {
		cfg.Storage.MaxIdleConns = 5
	}
	if cfg.Storage.ConnMaxLifetimeSec == 0 {
		cfg.Storage.ConnMaxLifetimeSec = 300
	}
	if cfg.Storage.WriteTimeoutSec == 0 {
		cfg.Storage.WriteTimeoutSec = 5
	}
	if cfg.ShutdownTimeoutSec == 0 {
		cfg.ShutdownTimeoutSec = 60
	}
	if cfg.EventBufferSize == 0 {
		cfg.EventBufferSize = 1024
	}
	if cfg.StatusIntervalSec == 0 {
		cfg.StatusIntervalSec = 30
	}
	if cfg.Binance.RequestsPerSecond == 0 {
		cfg.Binance.RequestsPerSecond = 10
	}
	if cfg.Binance.Burst == 0 {
		cfg.Binance.Burst = 5
	}
	if cfg.Binance.WSBaseURL == "" {
		cfg.Binance.WSBaseURL = "wss://stream.binance.com:9443"
	}
	if cfg.Backtest.FeeRate == 0 {
		cfg.Backtest.FeeRate = 0.001
	}
	if cfg.Backtest.InitialCash == 0 {
		cfg.Backtest.InitialCash = 1000
	}
}

// Validate 检查配置的一致性, 任何问题都直接返回错误而不是静默使用默认值
func Validate(cfg *models.Config) error {
	switch cfg.Storage.Driver {
	case "postgres", "sqlite":
		if cfg.Storage.DSN == "" {
			return fmt.Errorf("%w: storage.dsn is required for driver %s", ErrInvalidConfig, cfg.Storage.Driver)
		}
	case "badger":
	default:
		return fmt.Errorf("%w: unsupported storage driver %q", ErrInvalidConfig, cfg.Storage.Driver)
	}

	accounts := make(map[string]bool, len(cfg.Accounts))
	for i, acc := range cfg.Accounts {
		if acc.UserEmail == "" || acc.Platform == "" {
			return fmt.Errorf("%w: accounts[%d] needs user_email and platform", ErrInvalidConfig, i)
		}
		accounts[AccountKey(acc.UserEmail, acc.Platform)] = true
	}

	for i, spec := range cfg.Bots {
		if !accounts[AccountKey(spec.UserEmail, spec.Platform)] {
			return fmt.Errorf("%w: bots[%d] references unknown account %s on %s", ErrInvalidConfig, i, spec.UserEmail, spec.Platform)
		}
		switch spec.Type {
		case models.GridBot:
			if spec.Params.Grid == nil {
				return fmt.Errorf("%w: bots[%d] is missing grid params", ErrInvalidConfig, i)
			}
		case models.MarketSpreadBot:
			if spec.Params.MarketSpread == nil {
				return fmt.Errorf("%w: bots[%d] is missing market_spread params", ErrInvalidConfig, i)
			}
		case models.ArbitrageBot:
			if spec.Params.Arbitrage == nil {
				return fmt.Errorf("%w: bots[%d] is missing arbitrage params", ErrInvalidConfig, i)
			}
		default:
			return fmt.Errorf("%w: bots[%d] has unsupported type %q", ErrInvalidConfig, i, spec.Type)
		}
	}
	return nil
}

// FindAccount 按用户和平台查找账户配置
func FindAccount(cfg *models.Config, userEmail, platform string) (models.AccountConfig, bool) {
	for _, acc := range cfg.Accounts {
		if acc.UserEmail == userEmail && acc.Platform == platform {
			return acc, true
		}
	}
	return models.AccountConfig{}, false
}

// AccountKey 返回 (用户, 平台) 的唯一键
func AccountKey(userEmail, platform string) string {
	return platform + "/" + userEmail
}
