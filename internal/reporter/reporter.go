package reporter

import (
	"crypto-bots-go/internal/exchange"
	"crypto-bots-go/internal/models"
	"crypto-bots-go/internal/opportunity"
	"crypto-bots-go/internal/tracker"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Metrics 存储计算出的所有回测性能指标
type Metrics struct {
	InitialBalance   float64
	FinalBalance     float64
	TotalProfit      float64
	ProfitPercentage float64
	TotalTrades      int
	WinningTrades    int
	LosingTrades     int
	WinRate          float64
	AvgProfitLoss    float64
	MaxDrawdown      float64
	EndingCash       float64 // 期末现金
	EndingAssetValue float64 // 期末持仓市值
	TotalAssetQty    float64 // 持有资产的总数量
	StartTime        time.Time
	EndTime          time.Time
}

// CalculateMetrics 根据模拟交易所的成交记录和权益曲线计算回测指标。
// 只有卖出成交计入胜负, 买入只是建仓。
func CalculateMetrics(p *exchange.Paper, base, quote string, initialBalance, lastPrice float64) *Metrics {
	m := &Metrics{InitialBalance: initialBalance}

	var totalProfit, totalLoss float64
	for _, fill := range p.Fills() {
		if fill.Side != models.Sell {
			continue
		}
		m.TotalTrades++
		if fill.Profit > 0 {
			m.WinningTrades++
			totalProfit += fill.Profit
		} else {
			m.LosingTrades++
			totalLoss += fill.Profit
		}
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	}
	if m.LosingTrades > 0 && m.WinningTrades > 0 {
		avgWin := totalProfit / float64(m.WinningTrades)
		avgLoss := math.Abs(totalLoss / float64(m.LosingTrades))
		m.AvgProfitLoss = avgWin / avgLoss
	}

	// 期末资产详情
	m.EndingCash = p.Holding(quote)
	m.TotalAssetQty = p.Holding(base)
	m.EndingAssetValue = m.TotalAssetQty * lastPrice
	m.FinalBalance = m.EndingCash + m.EndingAssetValue

	m.TotalProfit = m.FinalBalance - m.InitialBalance
	if m.InitialBalance != 0 {
		m.ProfitPercentage = (m.TotalProfit / m.InitialBalance) * 100
	}
	m.MaxDrawdown = calculateMaxDrawdown(p.EquityCurve()) * 100
	return m
}

func calculateMaxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) < 2 {
		return 0.0
	}
	peak := equityCurve[0]
	maxDrawdown := 0.0

	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		if peak <= 0 {
			continue
		}
		drawdown := (peak - equity) / peak
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}

// RenderBacktestReport 打印回测结果报告
func RenderBacktestReport(w io.Writer, dataPath, symbol string, m *Metrics) {
	t := newTable(w, "回测结果报告")
	t.AppendRows([]table.Row{
		{"数据文件", dataPath},
		{"交易对", symbol},
		{"回测周期", fmt.Sprintf("%s 到 %s", m.StartTime.Format("2006-01-02 15:04"), m.EndTime.Format("2006-01-02 15:04"))},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"初始资金", fmt.Sprintf("%.2f", m.InitialBalance)},
		{"最终资金", fmt.Sprintf("%.2f", m.FinalBalance)},
		{"总利润", colorPL(m.TotalProfit, "%.2f")},
		{"收益率", colorPL(m.ProfitPercentage, "%.2f%%")},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"卖出次数", m.TotalTrades},
		{"盈利次数", m.WinningTrades},
		{"亏损次数", m.LosingTrades},
		{"胜率", fmt.Sprintf("%.2f%%", m.WinRate)},
		{"平均盈亏比", fmt.Sprintf("%.2f", m.AvgProfitLoss)},
		{"最大回撤", fmt.Sprintf("%.2f%%", m.MaxDrawdown)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"期末现金", fmt.Sprintf("%.2f", m.EndingCash)},
		{"期末持仓市值", fmt.Sprintf("%.2f (共 %.4f)", m.EndingAssetValue, m.TotalAssetQty)},
	})
	t.Render()
}

// TradeSummary 汇总用户在一个交易对上的成交
type TradeSummary struct {
	Base         string
	Quote        string
	Buys         int
	Sells        int
	BoughtAmount float64 // 买入的基础货币数量
	BuyCost      float64 // 买入花费的计价货币
	SoldAmount   float64
	SellProceeds float64
	BaseFees     float64
	QuoteFees    float64
	AvgBuyPrice  float64
	AvgSellPrice float64
	BasePL       float64 // 基础货币净变化 (扣除以基础货币收取的手续费)
	QuotePL      float64 // 计价货币净变化 (扣除以计价货币收取的手续费)
	RelativePL   float64 // 以当前价格折算为计价货币的总盈亏
	CurrentPrice float64
}

// AggregateTrades 汇总成交记录, currentPrice 用于把基础货币的盈亏折算成计价货币
func AggregateTrades(base, quote string, trades []models.MyTrade, currentPrice float64) TradeSummary {
	s := TradeSummary{Base: base, Quote: quote, CurrentPrice: currentPrice}
	for _, tr := range trades {
		cost := tr.Cost
		if cost == 0 {
			cost = tr.Amount * tr.Price
		}
		if tr.Side == models.Buy {
			s.Buys++
			s.BoughtAmount += tr.Amount
			s.BuyCost += cost
		} else {
			s.Sells++
			s.SoldAmount += tr.Amount
			s.SellProceeds += cost
		}
		if tr.FeeCurrency == quote || tr.FeeCurrency == "" {
			s.QuoteFees += tr.Fee
		} else {
			s.BaseFees += tr.Fee
		}
	}
	if s.BoughtAmount > 0 {
		s.AvgBuyPrice = s.BuyCost / s.BoughtAmount
	}
	if s.SoldAmount > 0 {
		s.AvgSellPrice = s.SellProceeds / s.SoldAmount
	}
	s.BasePL = s.BoughtAmount - s.SoldAmount - s.BaseFees
	s.QuotePL = s.SellProceeds - s.BuyCost - s.QuoteFees
	s.RelativePL = s.QuotePL + s.BasePL*currentPrice
	return s
}

// RenderTradeSummary 打印成交汇总
func RenderTradeSummary(w io.Writer, s TradeSummary) {
	t := newTable(w, fmt.Sprintf("成交汇总 %s/%s", s.Base, s.Quote))
	t.AppendHeader(table.Row{"", "笔数", s.Base, s.Quote, "均价"})
	t.AppendRows([]table.Row{
		{"买入", s.Buys, s.BoughtAmount, s.BuyCost, s.AvgBuyPrice},
		{"卖出", s.Sells, s.SoldAmount, s.SellProceeds, s.AvgSellPrice},
		{"手续费", "", s.BaseFees, s.QuoteFees, ""},
	})
	t.AppendFooter(table.Row{"盈亏", "", s.BasePL, s.QuotePL, colorPL(s.RelativePL, "%.4f "+s.Quote)})
	t.Render()
}

// RenderBotStatus 打印所有已注册机器人的状态表
func RenderBotStatus(w io.Writer, statuses []tracker.Status) {
	t := newTable(w, "机器人状态")
	t.AppendHeader(table.Row{"ID", "UUID", "类型", "状态", "运行时长", "详情"})
	for _, s := range statuses {
		t.AppendRow(table.Row{s.ID, s.UUID, s.Type, s.State, time.Since(s.StartedAt).Truncate(time.Second), summarize(s.Snapshot)})
	}
	t.AppendFooter(table.Row{"", "", "", "", "总数", len(statuses)})
	t.Render()
}

// RenderTransactions 打印一个机器人的历史成交
func RenderTransactions(w io.Writer, uuid string, records []models.TransactionRecord) {
	t := newTable(w, "历史成交 "+uuid)
	t.AppendHeader(table.Row{"时间", "方向", "交易对", "数量", "价格"})
	for _, r := range records {
		t.AppendRow(table.Row{r.CreatedAt.Format(time.DateTime), r.Type, r.Pair, r.Amount, r.Price})
	}
	t.Render()
}

// RenderOpportunity 打印一次套利机会的计算结果
func RenderOpportunity(w io.Writer, compare string, opp opportunity.Opportunity, threshold float64) {
	t := newTable(w, "套利机会")
	t.AppendHeader(table.Row{"交易对", "Bid", "Ask"})
	ids := make([]string, 0, len(opp.Tickers))
	for id := range opp.Tickers {
		if id != compare {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		t.AppendRow(table.Row{id, opp.Tickers[id].Bid, opp.Tickers[id].Ask})
	}
	t.AppendRow(table.Row{compare + " (对比)", opp.ComparePair.Bid, opp.ComparePair.Ask})
	t.AppendFooter(table.Row{"正向 / 反向",
		flagged(opp.PositiveOpp, opp.Positive(threshold)),
		flagged(opp.NegativeOpp, opp.Negative(threshold))})
	t.Render()
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.SetStyle(table.StyleLight)
	return t
}

func colorPL(v float64, format string) string {
	s := fmt.Sprintf(format, v)
	if v < 0 {
		return text.FgRed.Sprint(s)
	}
	return text.FgGreen.Sprint(s)
}

func flagged(ratio float64, hit bool) string {
	s := fmt.Sprintf("%.6f", ratio)
	if hit {
		return text.FgGreen.Sprint(s + " *")
	}
	return s
}

// summarize 把快照中最常用的几个字段压成一行
func summarize(snapshot map[string]any) string {
	keys := []string{"coinId", "investedFunds", "lastExecutedGrid", "openOrder", "positiveOpp", "negativeOpp"}
	out := ""
	for _, k := range keys {
		v, ok := snapshot[k]
		if !ok {
			continue
		}
		if out != "" {
			out += " "
		}
		out += fmt.Sprintf("%s=%v", k, v)
	}
	return out
}
