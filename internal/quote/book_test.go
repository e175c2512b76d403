package quote

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"riskdesk/internal/domain"
)

func TestBookPrefersLast(t *testing.T) {
	b := NewBook()
	b.Apply(domain.PriceTick{Symbol: "AAPL", Field: domain.TickBid, Price: 99})
	b.Apply(domain.PriceTick{Symbol: "AAPL", Field: domain.TickAsk, Price: 101})

	px, ok := b.Price("AAPL")
	assert.True(t, ok)
	assert.InDelta(t, 100.0, px, 1e-9)

	b.Apply(domain.PriceTick{Symbol: "AAPL", Field: domain.TickLast, Price: 100.5})
	px, ok = b.Price("AAPL")
	assert.True(t, ok)
	assert.Equal(t, 100.5, px)
}

func TestBookUnknownAndInvalid(t *testing.T) {
	b := NewBook()
	b.Apply(domain.PriceTick{Symbol: "MSFT", Field: domain.TickLast, Price: 0})
	b.Apply(domain.PriceTick{Symbol: "MSFT", Field: domain.TickBid, Price: 10})

	_, ok := b.Price("MSFT")
	assert.False(t, ok, "bid alone is not a reference price")

	_, ok = b.Price("NOPE")
	assert.False(t, ok)
}
