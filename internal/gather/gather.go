// Package gather pulls market data from the Alpaca market-data API: daily
// bars for the benchmark history and latest trades for reference prices.
package gather

import (
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
)

// MarketData is the subset of *marketdata.Client the gatherers use.
type MarketData interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
	GetLatestTrades(symbols []string, req marketdata.GetLatestTradeRequest) (map[string]marketdata.Trade, error)
}

// Compile-time interface check.
var _ MarketData = (*marketdata.Client)(nil)

// NewClient creates a market-data client. An empty dataURL uses the SDK
// default endpoint.
func NewClient(apiKey, apiSecret, dataURL string) *marketdata.Client {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return marketdata.NewClient(opts)
}
