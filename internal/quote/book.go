// Package quote keeps the last observed prices per symbol, fed by venue
// price ticks.
package quote

import (
	"sync"

	"riskdesk/internal/domain"
)

// Source answers reference-price lookups.
type Source interface {
	// Price returns a reference price for symbol and whether one is known.
	Price(symbol string) (float64, bool)
}

// Compile-time interface check.
var _ Source = (*Book)(nil)

type entry struct {
	bid, ask, last float64
}

// Book is a thread-safe last-price table.
type Book struct {
	mu     sync.Mutex
	prices map[string]entry
}

// NewBook creates an empty Book.
func NewBook() *Book {
	return &Book{prices: make(map[string]entry)}
}

// Apply records a tick. Non-positive prices are ignored.
func (b *Book) Apply(t domain.PriceTick) {
	if t.Symbol == "" || t.Price <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.prices[t.Symbol]
	switch t.Field {
	case domain.TickBid:
		e.bid = t.Price
	case domain.TickAsk:
		e.ask = t.Price
	default:
		e.last = t.Price
	}
	b.prices[t.Symbol] = e
}

// Price returns the last trade price, or the bid/ask midpoint when no trade
// has been seen yet.
func (b *Book) Price(symbol string) (float64, bool) {
	b.mu.Lock()
	e, ok := b.prices[symbol]
	b.mu.Unlock()
	if !ok {
		return 0, false
	}
	if e.last > 0 {
		return e.last, true
	}
	if e.bid > 0 && e.ask > 0 {
		return (e.bid + e.ask) / 2, true
	}
	return 0, false
}
