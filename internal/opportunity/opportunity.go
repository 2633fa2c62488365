// Package opportunity computes triangular arbitrage ratios from ticker snapshots.
package opportunity

import (
	"context"
	"crypto-bots-go/internal/exchange"
	"crypto-bots-go/internal/models"
	"errors"
	"fmt"

	"github.com/sourcegraph/conc/iter"
)

var (
	// ErrEmptyCycle is returned when no trading pairs are given.
	ErrEmptyCycle = errors.New("trading pair cycle is empty")
	// ErrInvalidTicker is returned when a ticker is missing or has a non-positive bid/ask.
	ErrInvalidTicker = errors.New("invalid ticker")
)

// DefaultThreshold is the minimum ratio above 1 worth trading.
const DefaultThreshold = 0.01

// Opportunity is the result of one evaluation of a cycle against its compare pair.
type Opportunity struct {
	Tickers     map[string]models.Ticker `json:"tickers"`
	ComparePair models.Ticker            `json:"compare_pair"`
	PositiveOpp float64                  `json:"positive_opp"` // buy through the cycle, sell the compare pair
	NegativeOpp float64                  `json:"negative_opp"` // buy the compare pair, sell through the cycle
}

// Positive reports whether the positive ratio clears threshold.
func (o Opportunity) Positive(threshold float64) bool {
	return o.PositiveOpp-1 > threshold
}

// Negative reports whether the negative ratio clears threshold.
func (o Opportunity) Negative(threshold float64) bool {
	return o.NegativeOpp-1 > threshold
}

// Calculate evaluates the cycle using the given ticker snapshot. It has no side
// effects; identical inputs always produce identical ratios.
func Calculate(tickers map[string]models.Ticker, pairs []models.TradingPair, compare string) (Opportunity, error) {
	if len(pairs) == 0 {
		return Opportunity{}, ErrEmptyCycle
	}
	for _, id := range append(pairIDs(pairs), compare) {
		t, ok := tickers[id]
		if !ok || t.Bid <= 0 || t.Ask <= 0 {
			return Opportunity{}, fmt.Errorf("%w: %s", ErrInvalidTicker, id)
		}
	}

	first := tickers[pairs[0].ID]
	buy, sell := first.Ask, first.Bid
	for _, pair := range pairs[1:] {
		t := tickers[pair.ID]
		if pair.Traversed {
			buy /= 1 / t.Ask
			sell /= 1 / t.Bid
		} else {
			buy /= t.Ask
			sell /= t.Bid
		}
	}

	cmp := tickers[compare]
	snapshot := make(map[string]models.Ticker, len(pairs)+1)
	for _, id := range append(pairIDs(pairs), compare) {
		snapshot[id] = tickers[id]
	}
	return Opportunity{
		Tickers:     snapshot,
		ComparePair: cmp,
		PositiveOpp: cmp.Bid / buy,
		NegativeOpp: sell / cmp.Ask,
	}, nil
}

// Check fetches every ticker of the cycle and the compare pair concurrently and
// evaluates them. It never places orders.
func Check(ctx context.Context, fetcher exchange.TickerFetcher, pairs []models.TradingPair, compare string) (Opportunity, error) {
	if len(pairs) == 0 {
		return Opportunity{}, ErrEmptyCycle
	}
	ids := append(pairIDs(pairs), compare)

	fetched, err := iter.MapErr(ids, func(id *string) (models.Ticker, error) {
		t, err := fetcher.FetchTicker(ctx, *id)
		if err != nil {
			return models.Ticker{}, fmt.Errorf("fetch ticker %s: %w", *id, err)
		}
		return t, nil
	})
	if err != nil {
		return Opportunity{}, err
	}

	tickers := make(map[string]models.Ticker, len(ids))
	for i, id := range ids {
		tickers[id] = fetched[i]
	}
	return Calculate(tickers, pairs, compare)
}

func pairIDs(pairs []models.TradingPair) []string {
	ids := make([]string, 0, len(pairs)+1)
	for _, p := range pairs {
		ids = append(ids, p.ID)
	}
	return ids
}
