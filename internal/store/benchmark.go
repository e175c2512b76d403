package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Benchmark serves the daily close-to-close returns of an index symbol read
// from a BarStore. It satisfies the portfolio's market-return provider.
type Benchmark struct {
	bars     BarStore
	symbol   string
	market   string
	lookback int

	mu      sync.RWMutex
	returns []float64
}

// NewBenchmark creates a Benchmark for symbol keeping at most lookback
// returns.
func NewBenchmark(bars BarStore, symbol, market string, lookback int) *Benchmark {
	if market == "" {
		market = DefaultMarket
	}
	return &Benchmark{bars: bars, symbol: symbol, market: market, lookback: lookback}
}

// Symbol returns the benchmark symbol.
func (b *Benchmark) Symbol() string { return b.symbol }

// Load reads the bars up to asOf and recomputes the return series. It
// returns the number of returns loaded.
func (b *Benchmark) Load(ctx context.Context, asOf time.Time) (int, error) {
	// Calendar days cover the lookback in trading days with room to spare.
	start := asOf.AddDate(0, 0, -2*b.lookback-10)
	bars, err := b.bars.ReadBars(ctx, b.symbol, b.market, start, asOf)
	if err != nil {
		return 0, fmt.Errorf("loading benchmark %s: %w", b.symbol, err)
	}

	closes := make([]float64, 0, len(bars))
	for _, bar := range bars {
		closes = append(closes, bar.Close)
	}
	returns := CloseReturns(closes)
	if b.lookback > 0 && len(returns) > b.lookback {
		returns = returns[len(returns)-b.lookback:]
	}

	b.mu.Lock()
	b.returns = returns
	b.mu.Unlock()
	return len(returns), nil
}

// MarketReturns returns a copy of the loaded return series, oldest first.
func (b *Benchmark) MarketReturns() []float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]float64, len(b.returns))
	copy(out, b.returns)
	return out
}

// CloseReturns converts a close series into simple returns. Steps from a
// non-positive close are skipped.
func CloseReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 {
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}
