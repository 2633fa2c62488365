package main

import (
	"context"
	"crypto-bots-go/internal/activitylog"
	"crypto-bots-go/internal/config"
	"crypto-bots-go/internal/exchange"
	"crypto-bots-go/internal/logger"
	"crypto-bots-go/internal/metrics"
	"crypto-bots-go/internal/models"
	"crypto-bots-go/internal/reporter"
	"crypto-bots-go/internal/tracker"
	"errors"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// 纸面账户同步真实行情的间隔
const paperMirrorInterval = 5 * time.Second

// 机器人停止后活动日志写完剩余事件的时限, 不与机器人共用停止时限
const activityDrainTimeout = 10 * time.Second

// runLiveMode 启动配置中的所有机器人, 收到退出信号后按配置软/硬停止
func runLiveMode(ctx context.Context, cfg *models.Config) error {
	log := logger.L()
	log.Info("--- 启动实时交易模式 ---", zap.Int("bots", len(cfg.Bots)))

	store, err := openStore(ctx, cfg.Storage, log.Named("storage"))
	if err != nil {
		return err
	}
	defer store.Close()

	activity := activitylog.New(store, log.Named("activity"), activitylog.Options{
		BufferSize:   cfg.EventBufferSize,
		WriteTimeout: seconds(cfg.Storage.WriteTimeoutSec),
	})
	activity.Start()

	// 行情流和纸面同步要比机器人活得久, 软停止时还需要价格来成交卖单
	feedCtx, stopFeeds := context.WithCancel(context.Background())
	var wg conc.WaitGroup
	defer wg.Wait()
	defer stopFeeds()

	var stream *exchange.TickerStream
	if cfg.Binance.UseStream {
		stream = exchange.NewTickerStream(cfg.Binance.WSBaseURL, marketSymbols(cfg.Bots), log.Named("stream"))
		wg.Go(func() { _ = stream.Run(feedCtx) })
	}
	feed := exchange.NewBinanceGateway("", "", cfg.Binance.BaseURL, stream, log.Named("feed"))

	pool := exchange.NewPool()
	pool.Register("binance", exchange.NewBinanceFactory(cfg.Binance, stream, log.Named("binance")))
	pool.Register("paper", exchange.NewPaperFactory(cfg.Backtest.InitialCash, cfg.Backtest.FeeRate, func(acc models.AccountConfig, p *exchange.Paper) {
		pairs := pairsFor(cfg.Bots, acc)
		paperLog := log.Named("paper").With(zap.String("user", acc.UserEmail))
		wg.Go(func() { _ = p.Mirror(feedCtx, feed, pairs, paperMirrorInterval, paperLog) })
	}))

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		wg.Go(func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics 服务异常退出", zap.Error(err))
			}
		})
		log.Info("metrics 服务已启动", zap.String("addr", cfg.MetricsAddr))
	}

	tr := tracker.New(activity, log.Named("tracker"))
	startConfiguredBots(ctx, cfg, pool, tr, log)

	statusTicker := time.NewTicker(seconds(cfg.StatusIntervalSec))
	defer statusTicker.Stop()
	for running := true; running; {
		select {
		case <-ctx.Done():
			running = false
		case <-statusTicker.C:
			reporter.RenderBotStatus(os.Stdout, tr.List())
		}
	}

	log.Info("收到退出信号, 正在停止所有机器人", zap.Bool("soft", cfg.SoftShutdown))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), seconds(cfg.ShutdownTimeoutSec))
	defer cancel()

	if err := tr.Shutdown(shutdownCtx, cfg.SoftShutdown); err != nil {
		log.Warn("机器人未能在超时内全部停止", zap.Error(err))
	}
	stopFeeds()
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	drainActivity(activity, activityDrainTimeout, log)
	log.Info("所有机器人已停止。")
	return nil
}

// drainActivity 在独立的时限内写完活动日志, 即使机器人停止已经耗尽了它的时限
func drainActivity(activity *activitylog.Log, timeout time.Duration, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := activity.Stop(ctx); err != nil {
		log.Warn("活动日志未能写完", zap.Error(err))
	}
}

// startConfiguredBots 依次启动配置中的机器人, 单个失败不影响其他机器人
func startConfiguredBots(ctx context.Context, cfg *models.Config, pool *exchange.Pool, tr *tracker.Tracker, log *zap.Logger) {
	seen := make(map[string]bool)
	for _, spec := range cfg.Bots {
		acc, ok := config.FindAccount(cfg, spec.UserEmail, spec.Platform)
		if !ok {
			log.Error("找不到账户", zap.String("user", spec.UserEmail), zap.String("platform", spec.Platform))
			continue
		}
		gw, err := pool.Get(acc)
		if err != nil {
			log.Error("无法创建交易所网关", zap.String("user", acc.UserEmail), zap.Error(err))
			continue
		}
		if key := config.AccountKey(acc.UserEmail, acc.Platform); !seen[key] {
			seen[key] = true
			logBalances(ctx, gw, acc, log)
		}

		if _, err := tr.StartBotForUser(ctx, tracker.StartRequest{
			UserEmail:    acc.UserEmail,
			UserID:       acc.UserID,
			BotType:      spec.Type,
			PlatformName: acc.Platform,
			Gateway:      gw,
			Params:       spec.Params,
		}); err != nil {
			log.Error("机器人启动失败", zap.String("type", string(spec.Type)), zap.Error(err))
		}
	}
}

func logBalances(ctx context.Context, gw exchange.Gateway, acc models.AccountConfig, log *zap.Logger) {
	balances, err := gw.Balance(ctx)
	if err != nil {
		log.Warn("查询余额失败", zap.String("user", acc.UserEmail), zap.Error(err))
		return
	}
	for _, b := range balances {
		log.Info("账户余额",
			zap.String("user", acc.UserEmail),
			zap.String("platform", acc.Platform),
			zap.String("asset", b.Asset),
			zap.Float64("free", b.Free),
			zap.Float64("locked", b.Locked))
	}
}

// marketSymbols 收集所有机器人用到的交易所市场代码, 用于订阅行情流
func marketSymbols(specs []models.BotSpec) []string {
	set := make(map[string]bool)
	for _, spec := range specs {
		for _, pair := range specPairs(spec) {
			if coin, err := exchange.ResolvePair(pair); err == nil {
				set[coin.Symbol] = true
			}
		}
	}
	symbols := make([]string, 0, len(set))
	for s := range set {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// pairsFor 返回某个账户的机器人需要的交易对
func pairsFor(specs []models.BotSpec, acc models.AccountConfig) []string {
	set := make(map[string]bool)
	var pairs []string
	for _, spec := range specs {
		if spec.UserEmail != acc.UserEmail || spec.Platform != acc.Platform {
			continue
		}
		for _, pair := range specPairs(spec) {
			if !set[pair] {
				set[pair] = true
				pairs = append(pairs, pair)
			}
		}
	}
	return pairs
}

func specPairs(spec models.BotSpec) []string {
	switch {
	case spec.Params.Grid != nil && spec.Type == models.GridBot:
		return []string{spec.Params.Grid.CoinID}
	case spec.Params.MarketSpread != nil && spec.Type == models.MarketSpreadBot:
		return []string{spec.Params.MarketSpread.CoinID}
	case spec.Params.Arbitrage != nil && spec.Type == models.ArbitrageBot:
		var pairs []string
		for _, p := range spec.Params.Arbitrage.TradingPairs {
			pairs = append(pairs, p.ID)
		}
		return append(pairs, spec.Params.Arbitrage.ComparePair)
	}
	return nil
}
