package downloader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	pageLimit    = 1000 // 币安单次请求最多1000条
	maxTries     = 5
	pagePacing   = 200 * time.Millisecond
	klineColumns = 11
)

var header = []string{"open_time", "open", "high", "low", "close", "volume", "close_time", "quote_asset_volume", "number_of_trades", "taker_buy_base_asset_volume", "taker_buy_quote_asset_volume"}

// Kline 一根1分钟K线
type Kline struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// KlineDownloader 用于从币安下载K线数据
type KlineDownloader struct {
	client     *binance.Client
	logger     *zap.Logger
	limiter    *rate.Limiter
	newBackOff func() backoff.BackOff
}

// NewKlineDownloader 创建一个新的下载器实例, baseURL 为空时使用 go-binance 默认地址
func NewKlineDownloader(baseURL string, logger *zap.Logger) *KlineDownloader {
	client := binance.NewClient("", "") // 公共接口不需要API Key
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KlineDownloader{
		client:     client,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Every(pagePacing), 1),
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
}

// DownloadKlines 下载指定交易对和时间范围内的1分钟K线数据，并保存到CSV文件
// 如果文件已存在，则会跳过下载，直接使用缓存。
func (d *KlineDownloader) DownloadKlines(ctx context.Context, symbol, filePath string, startTime, endTime time.Time) error {
	if _, err := os.Stat(filePath); err == nil {
		d.logger.Info("从缓存加载数据", zap.String("file", filePath))
		return nil
	}

	d.logger.Info("开始下载K线数据",
		zap.String("symbol", symbol),
		zap.String("from", startTime.Format("2006-01-02")),
		zap.String("to", endTime.Format("2006-01-02")))

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("无法创建目录 %s: %w", dir, err)
	}

	// 先写临时文件, 完整下载后再改名, 中途失败不会留下被当作缓存的半截文件
	tmp, err := os.CreateTemp(dir, filepath.Base(filePath)+".*.part")
	if err != nil {
		return fmt.Errorf("无法创建文件 %s: %w", filePath, err)
	}
	defer os.Remove(tmp.Name())

	rows, err := d.writeKlines(ctx, tmp, symbol, startTime, endTime)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return fmt.Errorf("保存K线文件失败: %w", err)
	}

	d.logger.Info("成功下载K线数据", zap.String("file", filePath), zap.Int("rows", rows))
	return nil
}

func (d *KlineDownloader) writeKlines(ctx context.Context, w io.Writer, symbol string, startTime, endTime time.Time) (int, error) {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return 0, fmt.Errorf("写入CSV表头失败: %w", err)
	}

	rows := 0
	for t := startTime; t.Before(endTime); {
		if err := d.limiter.Wait(ctx); err != nil {
			return rows, err
		}
		klines, err := d.fetchPage(ctx, symbol, t, endTime)
		if err != nil {
			return rows, fmt.Errorf("下载K线数据失败: %w", err)
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			record := []string{
				strconv.FormatInt(k.OpenTime, 10),
				k.Open,
				k.High,
				k.Low,
				k.Close,
				k.Volume,
				strconv.FormatInt(k.CloseTime, 10),
				k.QuoteAssetVolume,
				strconv.FormatInt(k.TradeNum, 10),
				k.TakerBuyBaseAssetVolume,
				k.TakerBuyQuoteAssetVolume,
			}
			if err := writer.Write(record); err != nil {
				return rows, fmt.Errorf("写入CSV记录失败: %w", err)
			}
			rows++
		}

		// 更新下一次请求的开始时间
		t = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		d.logger.Debug("已下载数据", zap.Time("until", t))
	}

	writer.Flush()
	return rows, writer.Error()
}

// fetchPage 带指数退避地请求一页K线
func (d *KlineDownloader) fetchPage(ctx context.Context, symbol string, from, to time.Time) ([]*binance.Kline, error) {
	op := func() ([]*binance.Kline, error) {
		klines, err := d.client.NewKlinesService().
			Symbol(symbol).
			Interval("1m").
			StartTime(from.UnixMilli()).
			EndTime(to.UnixMilli() - 1).
			Limit(pageLimit).
			Do(ctx)
		if err != nil && ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return klines, err
	}
	notify := func(err error, wait time.Duration) {
		d.logger.Warn("K线请求失败, 稍后重试", zap.Error(err), zap.Duration("wait", wait))
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(d.newBackOff()),
		backoff.WithMaxTries(maxTries),
		backoff.WithNotify(notify))
}

// LoadKlines 读取 DownloadKlines 写出的CSV文件
func LoadKlines(filePath string) ([]Kline, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("无法打开文件 %s: %w", filePath, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = klineColumns
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("读取CSV失败: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("空的K线文件")
	}

	klines := make([]Kline, 0, len(records)-1)
	for i, rec := range records[1:] {
		k, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("第 %d 行: %w", i+2, err)
		}
		klines = append(klines, k)
	}
	return klines, nil
}

func parseRecord(rec []string) (Kline, error) {
	openTime, err := strconv.ParseInt(rec[0], 10, 64)
	if err != nil {
		return Kline{}, fmt.Errorf("open_time: %w", err)
	}
	var values [5]float64
	for i := range values {
		v, err := strconv.ParseFloat(rec[i+1], 64)
		if err != nil {
			return Kline{}, fmt.Errorf("%s: %w", header[i+1], err)
		}
		values[i] = v
	}
	return Kline{
		OpenTime: time.UnixMilli(openTime).UTC(),
		Open:     values[0],
		High:     values[1],
		Low:      values[2],
		Close:    values[3],
		Volume:   values[4],
	}, nil
}
