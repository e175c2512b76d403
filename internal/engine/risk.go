package engine

import (
	"fmt"
	"sync"

	"riskdesk/internal/domain"
	"riskdesk/internal/quote"
)

// Default risk limits.
const (
	DefaultMaxPositionSize = 10000.0
	DefaultMaxDailyLoss    = 1000.0
)

// RiskManager enforces pre-trade risk rules: a cap on single-order notional
// and a maximum daily loss. Limits changed with the setters apply from the
// next check onward.
type RiskManager struct {
	mu     sync.RWMutex
	limits domain.RiskLimits
	refs   quote.Source
}

// NewRiskManager creates a RiskManager with the specified risk thresholds.
//
//   - maxPositionSize: maximum notional (qty * price) of a single order.
//   - maxDailyLoss: trading stops once daily PnL falls below -maxDailyLoss.
func NewRiskManager(maxPositionSize, maxDailyLoss float64) *RiskManager {
	return &RiskManager{
		limits: domain.RiskLimits{
			MaxPositionSize: maxPositionSize,
			MaxDailyLoss:    maxDailyLoss,
		},
	}
}

// SetReferencePrices supplies prices for orders without a limit price.
// Without it, market and stop orders skip the notional check.
func (rm *RiskManager) SetReferencePrices(src quote.Source) {
	rm.mu.Lock()
	rm.refs = src
	rm.mu.Unlock()
}

// ReferencePrice returns the reference price for symbol, if a source is set
// and knows one.
func (rm *RiskManager) ReferencePrice(symbol string) (float64, bool) {
	rm.mu.RLock()
	refs := rm.refs
	rm.mu.RUnlock()
	if refs == nil {
		return 0, false
	}
	p, ok := refs.Price(symbol)
	return p, ok && p > 0
}

// SetMaxPositionSize updates the per-order notional limit.
func (rm *RiskManager) SetMaxPositionSize(v float64) {
	rm.mu.Lock()
	rm.limits.MaxPositionSize = v
	rm.mu.Unlock()
}

// SetMaxDailyLoss updates the daily loss limit.
func (rm *RiskManager) SetMaxDailyLoss(v float64) {
	rm.mu.Lock()
	rm.limits.MaxDailyLoss = v
	rm.mu.Unlock()
}

// Limits returns the current limits.
func (rm *RiskManager) Limits() domain.RiskLimits {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.limits
}

// CheckOrder evaluates whether the proposed order complies with the
// configured risk limits given the running daily PnL. A notional equal to
// the limit is accepted.
func (rm *RiskManager) CheckOrder(order domain.Order, dailyPnL float64) error {
	rm.mu.RLock()
	limits, refs := rm.limits, rm.refs
	rm.mu.RUnlock()

	price := order.LimitPrice
	if price <= 0 && refs != nil {
		if p, ok := refs.Price(order.Symbol); ok {
			price = p
		}
	}
	if price > 0 {
		if notional := order.Qty * price; notional > limits.MaxPositionSize {
			return fmt.Errorf("%w: notional %.2f exceeds max position size %.2f",
				ErrRiskLimit, notional, limits.MaxPositionSize)
		}
	}

	if dailyPnL < -limits.MaxDailyLoss {
		return fmt.Errorf("%w: daily pnl %.2f below max daily loss %.2f",
			ErrRiskLimit, dailyPnL, limits.MaxDailyLoss)
	}
	return nil
}
