package main

import (
	"context"
	"crypto-bots-go/internal/exchange"
	"crypto-bots-go/internal/logger"
	"crypto-bots-go/internal/models"
	"crypto-bots-go/internal/opportunity"
	"crypto-bots-go/internal/reporter"
	"crypto-bots-go/internal/tracker"
	"errors"
	"os"

	"go.uber.org/zap"
)

// runOpportunityMode 只计算一次套利机会并打印, 不下单
func runOpportunityMode(ctx context.Context, cfg *models.Config, opts options) error {
	pairs, err := parsePairs(opts.pairs)
	if err != nil {
		return err
	}
	if opts.compare == "" {
		return errors.New("opportunity 模式需要 -compare 参数")
	}

	log := logger.L()
	feed := exchange.NewBinanceGateway("", "", cfg.Binance.BaseURL, nil, log.Named("feed"))
	tr := tracker.New(nil, log.Named("tracker"))
	opp, err := tr.CheckOpportunity(ctx, feed, pairs, opts.compare)
	if err != nil {
		return err
	}
	reporter.RenderOpportunity(os.Stdout, opts.compare, opp, opportunity.DefaultThreshold)
	return nil
}

// runHistoryMode 打印某个机器人持久化的记录和成交汇总
func runHistoryMode(ctx context.Context, cfg *models.Config, uuid string) error {
	if uuid == "" {
		return errors.New("history 模式需要 -uuid 参数")
	}
	log := logger.L()
	store, err := openStore(ctx, cfg.Storage, log.Named("storage"))
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.GetBot(ctx, uuid)
	if err != nil {
		return err
	}
	log.Info("机器人记录",
		zap.String("uuid", rec.UUID),
		zap.String("type", string(rec.BotType)),
		zap.String("platform", rec.PlatformName),
		zap.Bool("active", rec.Active),
		zap.Time("createdAt", rec.CreatedAt))

	txs, err := store.ListTransactions(ctx, uuid)
	if err != nil {
		return err
	}
	reporter.RenderTransactions(os.Stdout, uuid, txs)
	for _, s := range summarizeByPair(txs) {
		reporter.RenderTradeSummary(os.Stdout, s)
	}
	return nil
}

// summarizeByPair 按交易对汇总成交, 以该交易对最后一笔成交价估值
func summarizeByPair(txs []models.TransactionRecord) []reporter.TradeSummary {
	var order []string
	trades := make(map[string][]models.MyTrade)
	lastPrice := make(map[string]float64)
	for _, tx := range txs {
		if _, ok := trades[tx.Pair]; !ok {
			order = append(order, tx.Pair)
		}
		trades[tx.Pair] = append(trades[tx.Pair], models.MyTrade{
			Side:      tx.Type,
			Amount:    tx.Amount,
			Price:     tx.Price,
			Cost:      tx.Amount * tx.Price,
			Timestamp: tx.CreatedAt,
		})
		lastPrice[tx.Pair] = tx.Price
	}

	summaries := make([]reporter.TradeSummary, 0, len(order))
	for _, pair := range order {
		base, quote := pair, "USDT"
		if coin, err := exchange.ResolvePair(pair); err == nil && coin.Base != "" {
			base, quote = coin.Base, coin.Quote
		}
		summaries = append(summaries, reporter.AggregateTrades(base, quote, trades[pair], lastPrice[pair]))
	}
	return summaries
}
