package engine

import (
	"math"
	"sync"

	"riskdesk/internal/domain"
)

// FillLedger turns fills into realized PnL.
type FillLedger interface {
	// Fill books qty at price and returns the PnL realized by the fill.
	Fill(symbol string, side domain.OrderSide, qty, price float64) float64
}

type inventory struct {
	qty     float64 // signed
	avgCost float64
}

// AverageCostLedger tracks signed inventory and average cost per symbol.
// A fill that reduces the absolute inventory realizes
// (price - avgCost) * closedQty, sign-adjusted for shorts.
type AverageCostLedger struct {
	mu   sync.Mutex
	book map[string]*inventory
}

// NewAverageCostLedger returns an empty ledger.
func NewAverageCostLedger() *AverageCostLedger {
	return &AverageCostLedger{book: make(map[string]*inventory)}
}

// Fill implements FillLedger.
func (l *AverageCostLedger) Fill(symbol string, side domain.OrderSide, qty, price float64) float64 {
	if qty <= 0 {
		return 0
	}
	signed := qty
	if side == domain.OrderSideSell {
		signed = -qty
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	inv, ok := l.book[symbol]
	if !ok {
		inv = &inventory{}
		l.book[symbol] = inv
	}

	var realized float64
	if inv.qty != 0 && math.Signbit(inv.qty) != math.Signbit(signed) {
		closed := math.Min(math.Abs(inv.qty), qty)
		if inv.qty > 0 {
			realized = (price - inv.avgCost) * closed
		} else {
			realized = (inv.avgCost - price) * closed
		}
	}

	newQty := inv.qty + signed
	switch {
	case newQty == 0:
		inv.avgCost = 0
	case inv.qty == 0 || math.Signbit(inv.qty) != math.Signbit(newQty):
		// Opened or flipped through zero.
		inv.avgCost = price
	case math.Abs(newQty) > math.Abs(inv.qty):
		inv.avgCost = (inv.avgCost*math.Abs(inv.qty) + price*qty) / math.Abs(newQty)
	}
	inv.qty = newQty
	return realized
}

// holding returns the signed quantity and average cost held for symbol.
func (l *AverageCostLedger) holding(symbol string) (qty, avgCost float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if inv, ok := l.book[symbol]; ok {
		return inv.qty, inv.avgCost
	}
	return 0, 0
}
