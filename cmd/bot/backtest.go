package main

import (
	"context"
	"crypto-bots-go/internal/bot"
	"crypto-bots-go/internal/downloader"
	"crypto-bots-go/internal/exchange"
	"crypto-bots-go/internal/logger"
	"crypto-bots-go/internal/models"
	"crypto-bots-go/internal/reporter"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// handleBacktestData 处理回测模式的数据来源, 需要时先下载。
// 成功后返回数据文件路径。
func handleBacktestData(ctx context.Context, cfg *models.Config, opts options) (string, error) {
	shouldDownload := opts.symbol != "" && opts.startDate != "" && opts.endDate != ""
	if !shouldDownload {
		if opts.dataPath == "" {
			return "", errors.New("回测模式需要通过 -data 或 -symbol/-start/-end 参数指定数据源")
		}
		return opts.dataPath, nil
	}

	startTime, err1 := time.Parse("2006-01-02", opts.startDate)
	endTime, err2 := time.Parse("2006-01-02", opts.endDate)
	if err1 != nil || err2 != nil {
		return "", fmt.Errorf("日期格式错误，请使用 YYYY-MM-DD 格式。start: %v, end: %v", err1, err2)
	}

	fileName := fmt.Sprintf("data/%s-%s-%s.csv", opts.symbol, opts.startDate, opts.endDate)
	d := downloader.NewKlineDownloader(cfg.Binance.BaseURL, logger.L().Named("downloader"))
	if err := d.DownloadKlines(ctx, opts.symbol, fileName, startTime, endTime); err != nil {
		return "", fmt.Errorf("下载数据失败: %w", err)
	}
	return fileName, nil
}

// runBacktestMode 在模拟交易所上逐根K线回放网格策略
func runBacktestMode(ctx context.Context, cfg *models.Config, opts options) error {
	log := logger.L()
	log.Info("--- 启动回测模式 ---")

	dataPath, err := handleBacktestData(ctx, cfg, opts)
	if err != nil {
		return err
	}
	symbol := opts.symbol
	if symbol == "" {
		symbol = extractSymbolFromPath(dataPath)
	}
	if symbol == "" {
		return fmt.Errorf("无法从数据文件路径 %s 中提取交易对", dataPath)
	}

	klines, err := downloader.LoadKlines(dataPath)
	if err != nil {
		return err
	}
	if len(klines) == 0 {
		return errors.New("历史数据文件为空或只有表头。")
	}

	m, err := replayGrid(ctx, cfg, symbol, klines, log)
	if err != nil {
		return err
	}
	reporter.RenderBacktestReport(os.Stdout, dataPath, symbol, m)
	return nil
}

// replayGrid 用K线驱动网格机器人, 返回回测指标
func replayGrid(ctx context.Context, cfg *models.Config, symbol string, klines []downloader.Kline, log *zap.Logger) (*reporter.Metrics, error) {
	coin, err := exchange.ResolvePair(symbol)
	if err != nil {
		return nil, err
	}
	base, quote := coin.Base, coin.Quote
	if base == "" {
		base = coin.Symbol
	}
	if quote == "" {
		quote = "USDT"
	}

	params := cfg.Backtest.Grid
	params.CoinID = symbol // 未设置起始价时以第一根K线的收盘价建网格

	now := klines[0].OpenTime
	clock := func() time.Time { return now }
	paper := exchange.NewPaper(cfg.Backtest.InitialCash, cfg.Backtest.FeeRate)
	paper.SetClock(clock)

	gridBot, err := bot.NewGridBot(bot.Deps{
		UserEmail: "backtest",
		Platform:  "paper",
		Gateway:   paper,
		Logger:    log.Named("grid"),
		Clock:     clock,
	}, params)
	if err != nil {
		return nil, err
	}

	log.Info("开始回测...", zap.String("symbol", symbol), zap.Int("klines", len(klines)))
	for i, k := range klines {
		if ctx.Err() != nil {
			log.Warn("回测被中断", zap.Int("processed", i))
			break
		}
		now = k.OpenTime
		if err := paper.ReplayCandle(symbol, k.Open, k.High, k.Low, k.Close, k.OpenTime); err != nil {
			return nil, err
		}
		gridBot.Tick(ctx)

		// 第一根K线建网格后, 按初始持仓买入底仓
		if i == 0 {
			if held := gridBot.InvestedFunds(); held > 0 {
				if _, err := paper.CreateOrder(ctx, symbol, 0, held, models.Buy, models.Market); err != nil {
					return nil, fmt.Errorf("建立初始持仓失败: %w", err)
				}
			}
			log.Info("完成机器人初始化", zap.Float64("startingPrice", gridBot.StartingPrice()), zap.Float64("investedFunds", gridBot.InvestedFunds()))
		}
	}
	log.Info("回测结束。")

	last := klines[len(klines)-1]
	m := reporter.CalculateMetrics(paper, base, quote, cfg.Backtest.InitialCash, last.Close)
	m.StartTime = klines[0].OpenTime
	m.EndTime = last.OpenTime
	return m, nil
}
