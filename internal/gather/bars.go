package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"riskdesk/internal/domain"
	"riskdesk/internal/store"
	"riskdesk/internal/util"
)

const (
	fetchAttempts  = 3
	fetchBaseDelay = time.Second
)

// DailyBarGatherer keeps a rolling window of daily bars for a fixed symbol
// list in a BarStore. Bars are adjusted for splits and dividends so close
// to close steps are total returns.
type DailyBarGatherer struct {
	client     MarketData
	store      store.BarStore
	symbols    []string
	lookback   int // trading days
	feed       marketdata.Feed
	retryDelay time.Duration
	log        *slog.Logger
}

// NewDailyBarGatherer creates a gatherer writing lookback trading days of
// bars per symbol to s. An empty feed uses the client's default.
func NewDailyBarGatherer(md MarketData, s store.BarStore, symbols []string, lookback int, feed string, log *slog.Logger) *DailyBarGatherer {
	return &DailyBarGatherer{
		client:     md,
		store:      s,
		symbols:    symbols,
		lookback:   lookback,
		feed:       feed,
		retryDelay: fetchBaseDelay,
		log:        util.OrDefault(log).With("gatherer", "daily-bars"),
	}
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "daily-bars" }

// Run fetches the window ending at asOf for every symbol and writes it to the
// store. Stored bars with the same timestamp are replaced, so repeated runs
// are idempotent. It returns the number of bars written; symbols that fail
// are reported in the joined error and do not stop the others.
func (g *DailyBarGatherer) Run(ctx context.Context, asOf time.Time) (int, error) {
	start := asOf.AddDate(0, 0, -(g.lookback*7/5 + 14))

	var (
		written int
		errs    []error
	)
	for _, sym := range g.symbols {
		if ctx.Err() != nil {
			return written, ctx.Err()
		}
		bars, err := g.fetch(ctx, sym, start, asOf)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(bars) == 0 {
			g.log.Warn("no bars returned", "symbol", sym, "start", start, "end", asOf)
			continue
		}
		if err := g.store.WriteBars(ctx, bars); err != nil {
			errs = append(errs, fmt.Errorf("writing bars for %s: %w", sym, err))
			continue
		}
		written += len(bars)
		g.log.Info("bars refreshed", "symbol", sym, "bars", len(bars),
			"from", bars[0].Timestamp, "to", bars[len(bars)-1].Timestamp)
	}
	return written, errors.Join(errs...)
}

func (g *DailyBarGatherer) fetch(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	var raw []marketdata.Bar
	err := util.Retry(ctx, fetchAttempts, g.retryDelay, func() error {
		var err error
		raw, err = g.client.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame:  marketdata.OneDay,
			Adjustment: marketdata.AdjustmentAll,
			Start:      start,
			End:        end,
			Feed:       g.feed,
			Sort:       marketdata.SortAsc,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}

	bars := make([]domain.Bar, 0, len(raw))
	for _, ab := range raw {
		bars = append(bars, domain.Bar{
			Symbol:     strings.ToUpper(symbol),
			Timestamp:  ab.Timestamp,
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	return bars, nil
}
