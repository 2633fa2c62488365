package main

import (
	"context"
	"crypto-bots-go/internal/config"
	"crypto-bots-go/internal/logger"
	"crypto-bots-go/internal/models"
	"crypto-bots-go/internal/persistence"
	"crypto-bots-go/internal/storage"
	"errors"
	"flag"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// options 汇总命令行参数
type options struct {
	configPath string
	mode       string
	dataPath   string
	symbol     string
	startDate  string
	endDate    string
	pairs      string
	compare    string
	uuid       string
}

func main() {
	// --- 命令行参数定义 ---
	var opts options
	flag.StringVar(&opts.configPath, "config", "config.json", "path to the config file (.json or .yaml)")
	flag.StringVar(&opts.mode, "mode", "live", "running mode: live, backtest, opportunity or history")
	flag.StringVar(&opts.dataPath, "data", "", "path to historical data file for backtesting")
	flag.StringVar(&opts.symbol, "symbol", "", "symbol to backtest (e.g., ETHUSDT)")
	flag.StringVar(&opts.startDate, "start", "", "start date for backtesting (YYYY-MM-DD)")
	flag.StringVar(&opts.endDate, "end", "", "end date for backtesting (YYYY-MM-DD)")
	flag.StringVar(&opts.pairs, "pairs", "", "arbitrage cycle, e.g. ETHBTC,BTCUSDT:t (suffix :t marks a traversed leg)")
	flag.StringVar(&opts.compare, "compare", "", "compare pair for -mode opportunity, e.g. ETHUSDT")
	flag.StringVar(&opts.uuid, "uuid", "", "bot uuid for -mode history")
	flag.Parse()

	// 先用默认配置初始化日志, 加载 .env 和配置文件时就能输出
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	// --- 使用文件中的配置重新初始化日志 ---
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch opts.mode {
	case "live":
		err = runLiveMode(ctx, cfg)
	case "backtest":
		err = runBacktestMode(ctx, cfg, opts)
	case "opportunity":
		err = runOpportunityMode(ctx, cfg, opts)
	case "history":
		err = runHistoryMode(ctx, cfg, opts.uuid)
	default:
		err = fmt.Errorf("未知的运行模式: %s。请选择 live, backtest, opportunity 或 history", opts.mode)
	}
	if err != nil {
		logger.S().Fatal(err)
	}
}

// openStore 按配置打开活动日志的持久化存储
func openStore(ctx context.Context, cfg models.StorageConfig, log *zap.Logger) (persistence.Store, error) {
	if cfg.Driver == "badger" {
		log.Info("使用 badger 存储活动日志", zap.String("path", cfg.Path))
		return persistence.NewBadgerSink(cfg.Path)
	}
	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return storage.Open(openCtx, cfg, log)
}

// parsePairs 解析 "ETHBTC,BTCUSDT:t" 形式的套利环路
func parsePairs(s string) ([]models.TradingPair, error) {
	var pairs []models.TradingPair
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, mark, _ := strings.Cut(part, ":")
		switch mark {
		case "":
			pairs = append(pairs, models.TradingPair{ID: id})
		case "t":
			pairs = append(pairs, models.TradingPair{ID: id, Traversed: true})
		default:
			return nil, fmt.Errorf("无法解析交易对 %q", part)
		}
	}
	if len(pairs) == 0 {
		return nil, errors.New("至少需要一个交易对")
	}
	return pairs, nil
}

// extractSymbolFromPath 从数据文件路径中提取交易对名称
// 例如: "data/BNBUSDT-2025-03-15-2025-06-15.csv" -> "BNBUSDT"
func extractSymbolFromPath(path string) string {
	name := strings.TrimSuffix(path, ".csv")
	parts := strings.Split(name, "/")
	fileName := parts[len(parts)-1]

	symbolParts := strings.Split(fileName, "-")
	return symbolParts[0]
}

func seconds(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
