package gather

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"riskdesk/internal/domain"
	"riskdesk/internal/util"
)

// DefaultQuoteInterval is the polling period used when none is configured.
const DefaultQuoteInterval = 15 * time.Second

// TickSink receives price ticks. The broker feeds implement it.
type TickSink interface {
	PublishTick(t domain.PriceTick)
}

// QuotePoller publishes the latest trade price of a changing symbol set as
// last-price ticks.
type QuotePoller struct {
	client   MarketData
	sink     TickSink
	symbols  func() []string
	interval time.Duration
	feed     marketdata.Feed
	log      *slog.Logger
}

// NewQuotePoller creates a poller that asks symbols for the set to price on
// every round.
func NewQuotePoller(md MarketData, sink TickSink, symbols func() []string, interval time.Duration, feed string, log *slog.Logger) *QuotePoller {
	if interval <= 0 {
		interval = DefaultQuoteInterval
	}
	return &QuotePoller{
		client:   md,
		sink:     sink,
		symbols:  symbols,
		interval: interval,
		feed:     feed,
		log:      util.OrDefault(log).With("gatherer", "quotes"),
	}
}

// Name returns the gatherer identifier.
func (p *QuotePoller) Name() string { return "quotes" }

// Poll runs one round and returns the number of ticks published.
func (p *QuotePoller) Poll(ctx context.Context) (int, error) {
	symbols := p.symbols()
	if len(symbols) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	trades, err := p.client.GetLatestTrades(symbols, marketdata.GetLatestTradeRequest{Feed: p.feed})
	if err != nil {
		return 0, fmt.Errorf("GetLatestTrades: %w", err)
	}

	var n int
	for sym, tr := range trades {
		if tr.Price <= 0 {
			continue
		}
		at := tr.Timestamp
		if at.IsZero() {
			at = time.Now()
		}
		p.sink.PublishTick(domain.PriceTick{
			Symbol: strings.ToUpper(sym),
			Field:  domain.TickLast,
			Price:  tr.Price,
			At:     at,
		})
		n++
	}
	return n, nil
}

// Run polls immediately and then every interval until ctx is cancelled.
// Failed rounds are logged and retried on the next tick.
func (p *QuotePoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Info("quote polling started", "interval", p.interval)
	for {
		if n, err := p.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Warn("quote poll failed", "error", err)
		} else {
			p.log.Debug("quotes published", "ticks", n)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
