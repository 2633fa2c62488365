package config

import (
	"crypto-bots-go/internal/models"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"log": {"level": "debug", "output": "console"},
		"storage": {"driver": "postgres", "dsn": "postgres://localhost/bots"},
		"accounts": [{"user_email": "a@b.c", "user_id": 7, "platform": "binance", "api_key_env": "K", "secret_key_env": "S"}],
		"bots": [{"user_email": "a@b.c", "platform": "binance", "type": "grid",
			"params": {"grid": {"coin_id": "doge", "maximum_investment": 100, "strategy": "neutral"}}}]
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogConfig.Level)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	require.Len(t, cfg.Bots, 1)
	require.NotNil(t, cfg.Bots[0].Params.Grid)
	assert.Equal(t, "doge", cfg.Bots[0].Params.Grid.CoinID)
	assert.Equal(t, models.StrategyNeutral, cfg.Bots[0].Params.Grid.Strategy)
	assert.Equal(t, int64(7), cfg.Accounts[0].UserID)
	// defaults
	assert.Equal(t, 1024, cfg.EventBufferSize)
	assert.Equal(t, 60, cfg.ShutdownTimeoutSec)
	assert.Equal(t, 10, cfg.Storage.MaxOpenConns)
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
storage:
  driver: badger
accounts:
  - user_email: a@b.c
    platform: paper
bots:
  - user_email: a@b.c
    platform: paper
    type: arbitrage
    params:
      arbitrage:
        trading_pairs:
          - id: ETHBTC
          - id: BTCUSDT
            traversed: true
        compare_pair: ETHUSDT
        amount: 0.1
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "data/activity", cfg.Storage.Path)
	arb := cfg.Bots[0].Params.Arbitrage
	require.NotNil(t, arb)
	assert.Equal(t, []models.TradingPair{{ID: "ETHBTC"}, {ID: "BTCUSDT", Traversed: true}}, arb.TradingPairs)
	assert.Equal(t, "ETHUSDT", arb.ComparePair)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name string
		cfg  models.Config
	}{
		{
			name: "unknown storage driver",
			cfg:  models.Config{Storage: models.StorageConfig{Driver: "mysql", DSN: "x"}},
		},
		{
			name: "postgres without dsn",
			cfg:  models.Config{Storage: models.StorageConfig{Driver: "postgres"}},
		},
		{
			name: "bot for unknown account",
			cfg: models.Config{
				Storage: models.StorageConfig{Driver: "badger"},
				Bots:    []models.BotSpec{{UserEmail: "x@y.z", Platform: "binance", Type: models.GridBot}},
			},
		},
		{
			name: "unsupported bot type",
			cfg: models.Config{
				Storage:  models.StorageConfig{Driver: "badger"},
				Accounts: []models.AccountConfig{{UserEmail: "x@y.z", Platform: "binance"}},
				Bots:     []models.BotSpec{{UserEmail: "x@y.z", Platform: "binance", Type: "savings"}},
			},
		},
		{
			name: "grid without params",
			cfg: models.Config{
				Storage:  models.StorageConfig{Driver: "badger"},
				Accounts: []models.AccountConfig{{UserEmail: "x@y.z", Platform: "binance"}},
				Bots:     []models.BotSpec{{UserEmail: "x@y.z", Platform: "binance", Type: models.GridBot}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestFindAccount(t *testing.T) {
	cfg := &models.Config{Accounts: []models.AccountConfig{
		{UserEmail: "a@b.c", Platform: "binance", UserID: 1},
		{UserEmail: "a@b.c", Platform: "paper", UserID: 2},
	}}

	acc, ok := FindAccount(cfg, "a@b.c", "paper")
	require.True(t, ok)
	assert.Equal(t, int64(2), acc.UserID)

	_, ok = FindAccount(cfg, "nobody@b.c", "paper")
	assert.False(t, ok)
}
