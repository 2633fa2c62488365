package bot

import (
	"crypto-bots-go/internal/models"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jxskiss/base62"
)

// GridID 返回网格机器人的确定性标识
func GridID(platform, userEmail, coinID string) string {
	return fmt.Sprintf("GRID_%s_%s_%s", platform, userEmail, coinID)
}

// MarketSpreadID 返回做市价差机器人的确定性标识
func MarketSpreadID(platform, userEmail, coinID string) string {
	return fmt.Sprintf("MARKET_SPREAD_%s_%s_%s", platform, userEmail, coinID)
}

// ArbitrageID 返回套利机器人的确定性标识, 交易对的顺序是标识的一部分
func ArbitrageID(platform, userEmail string, pairs []models.TradingPair, comparePair string) string {
	return fmt.Sprintf("ARBITRAGE_%s_%s_TRADING_PAIRS_<%s>_COMPARE_PAIR_%s", platform, userEmail, strings.Join(pairIDs(pairs), ","), comparePair)
}

// IdentityFor 从请求参数重新计算标识, 停止机器人时使用
func IdentityFor(botType models.BotType, platform, userEmail string, params models.BotParams) (string, error) {
	switch botType {
	case models.GridBot:
		if params.Grid == nil || params.Grid.CoinID == "" {
			return "", fmt.Errorf("%w: grid coin id missing", ErrInvalidParams)
		}
		return GridID(platform, userEmail, params.Grid.CoinID), nil
	case models.MarketSpreadBot:
		if params.MarketSpread == nil || params.MarketSpread.CoinID == "" {
			return "", fmt.Errorf("%w: market spread coin id missing", ErrInvalidParams)
		}
		return MarketSpreadID(platform, userEmail, params.MarketSpread.CoinID), nil
	case models.ArbitrageBot:
		if params.Arbitrage == nil || len(params.Arbitrage.TradingPairs) == 0 || params.Arbitrage.ComparePair == "" {
			return "", fmt.Errorf("%w: arbitrage pairs missing", ErrInvalidParams)
		}
		return ArbitrageID(platform, userEmail, params.Arbitrage.TradingPairs, params.Arbitrage.ComparePair), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, botType)
	}
}

// NewCorrelationID 生成一个进程内唯一的关联ID (UUID 的 base62 编码)
func NewCorrelationID() string {
	id := uuid.New()
	return base62.EncodeToString(id[:])
}
