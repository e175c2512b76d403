// Package portfolio maintains the position book and computes performance,
// risk, and allocation analytics, including rebalancing plans.
package portfolio

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"riskdesk/internal/domain"
	"riskdesk/internal/metrics"
	"riskdesk/internal/quote"
	"riskdesk/internal/util"
)

const (
	// MaxReturnWindow is the number of daily returns retained.
	MaxReturnWindow = 252

	// DefaultRebalanceThreshold is the allocation drift that triggers a
	// rebalance.
	DefaultRebalanceThreshold = 0.05

	// DefaultVaRConfidence is the confidence level used by Summary.
	DefaultVaRConfidence = 0.95

	// Rebalancing sizes orders at a flat assumed share price and skips
	// differences at or below the minimum.
	rebalanceSharePrice    = 100.0
	minRebalanceDifference = 100.0
)

// ReturnWindow is a FIFO of daily returns capped at MaxReturnWindow.
type ReturnWindow struct {
	mu     sync.Mutex
	values []float64
}

// Record appends r, evicting the oldest value once the cap is exceeded.
func (w *ReturnWindow) Record(r float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.values = append(w.values, r)
	if over := len(w.values) - MaxReturnWindow; over > 0 {
		w.values = append(w.values[:0], w.values[over:]...)
	}
}

// Values returns a copy of the window, oldest first.
func (w *ReturnWindow) Values() []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]float64, len(w.values))
	copy(out, w.values)
	return out
}

// Manager is the portfolio analytics and rebalancing engine. Positions and
// returns have separate locks, and neither is held while a provider is
// called.
type Manager struct {
	initialValue float64
	log          *slog.Logger
	cash         CashSource
	market       MarketReturns

	mu        sync.Mutex
	positions map[string]domain.Position

	returns ReturnWindow
}

// NewManager creates a Manager whose return baseline is initialValue.
func NewManager(initialValue float64, log *slog.Logger) *Manager {
	return &Manager{
		initialValue: initialValue,
		log:          util.OrDefault(log).With("component", "portfolio"),
		positions:    make(map[string]domain.Position),
	}
}

// SetCashSource sets the provider used by CashAllocation.
func (m *Manager) SetCashSource(c CashSource) { m.cash = c }

// SetMarketReturns sets the benchmark series used by Beta.
func (m *Manager) SetMarketReturns(r MarketReturns) { m.market = r }

// InitialValue returns the return baseline.
func (m *Manager) InitialValue() float64 { return m.initialValue }

// ---------------------------------------------------------------------------
// Position book
// ---------------------------------------------------------------------------

// UpdatePosition replaces the record for p.Symbol.
func (m *Manager) UpdatePosition(p domain.Position) {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	m.mu.Lock()
	m.positions[p.Symbol] = p
	total := m.totalValueLocked()
	m.mu.Unlock()

	metrics.PortfolioValue.Set(total)
	m.log.Debug("position updated", "symbol", p.Symbol, "qty", p.Qty, "market_value", p.MarketValue)
}

// ApplyPositionUpdate builds a full position from a venue snapshot. The
// position is marked at the reference price when prices knows one, else at
// its average price. Realized PnL carries over from the previous record.
func (m *Manager) ApplyPositionUpdate(u domain.PositionUpdate, prices quote.Source) {
	mark := u.AvgPrice
	if prices != nil {
		if p, ok := prices.Price(u.Symbol); ok {
			mark = p
		}
	}
	at := u.At
	if at.IsZero() {
		at = time.Now()
	}

	m.mu.Lock()
	m.positions[u.Symbol] = domain.Position{
		Symbol:        u.Symbol,
		Qty:           u.Qty,
		AvgPrice:      u.AvgPrice,
		MarketValue:   u.Qty * mark,
		UnrealizedPnL: (mark - u.AvgPrice) * u.Qty,
		RealizedPnL:   m.positions[u.Symbol].RealizedPnL,
		UpdatedAt:     at,
	}
	total := m.totalValueLocked()
	m.mu.Unlock()

	metrics.PortfolioValue.Set(total)
	m.log.Debug("position snapshot applied", "symbol", u.Symbol, "qty", u.Qty, "mark", mark)
}

// AddRealizedPnL books amount against symbol's realized PnL. A symbol with no
// record gets a flat one so later snapshots carry the amount forward.
func (m *Manager) AddRealizedPnL(symbol string, amount float64) {
	if symbol == "" || amount == 0 {
		return
	}
	m.mu.Lock()
	p, ok := m.positions[symbol]
	if !ok {
		p = domain.Position{Symbol: symbol, UpdatedAt: time.Now()}
	}
	p.RealizedPnL += amount
	m.positions[symbol] = p
	m.mu.Unlock()

	m.log.Debug("realized pnl booked", "symbol", symbol, "amount", amount, "total", p.RealizedPnL)
}

// Mark revalues a held position at price. It reports false when symbol is
// not in the book.
func (m *Manager) Mark(symbol string, price float64) bool {
	if price <= 0 {
		return false
	}
	m.mu.Lock()
	p, ok := m.positions[symbol]
	if !ok {
		m.mu.Unlock()
		return false
	}
	p.MarketValue = p.Qty * price
	p.UnrealizedPnL = (price - p.AvgPrice) * p.Qty
	m.positions[symbol] = p
	total := m.totalValueLocked()
	m.mu.Unlock()

	metrics.PortfolioValue.Set(total)
	return true
}

// Position returns the record for symbol and whether it exists.
func (m *Manager) Position(symbol string) (domain.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[symbol]
	return p, ok
}

// Positions returns every position, in no particular order.
func (m *Manager) Positions() []domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out
}

// ---------------------------------------------------------------------------
// Value and PnL
// ---------------------------------------------------------------------------

func (m *Manager) totalValueLocked() float64 {
	var total float64
	for _, p := range m.positions {
		total += p.MarketValue
	}
	return total
}

// TotalValue returns the sum of position market values. Cash is excluded.
func (m *Manager) TotalValue() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalValueLocked()
}

// TotalUnrealizedPnL sums unrealized PnL across positions.
func (m *Manager) TotalUnrealizedPnL() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum float64
	for _, p := range m.positions {
		sum += p.UnrealizedPnL
	}
	return sum
}

// TotalRealizedPnL sums realized PnL across positions.
func (m *Manager) TotalRealizedPnL() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum float64
	for _, p := range m.positions {
		sum += p.RealizedPnL
	}
	return sum
}

// Return is (TotalValue - baseline) / baseline, or 0 without a baseline.
func (m *Manager) Return() float64 {
	if m.initialValue == 0 {
		return 0
	}
	return (m.TotalValue() - m.initialValue) / m.initialValue
}

// ---------------------------------------------------------------------------
// Return statistics
// ---------------------------------------------------------------------------

// RecordDailyReturn appends r to the return window.
func (m *Manager) RecordDailyReturn(r float64) {
	m.returns.Record(r)
}

// DailyReturns returns the return window, oldest first.
func (m *Manager) DailyReturns() []float64 {
	return m.returns.Values()
}

// AverageDailyReturn is the mean of the return window.
func (m *Manager) AverageDailyReturn() float64 {
	return Mean(m.returns.Values())
}

// DailyVolatility is the sample standard deviation of the return window.
func (m *Manager) DailyVolatility() float64 {
	return SampleStdDev(m.returns.Values())
}

// SharpeRatio is average daily return over daily volatility, with no
// risk-free rate. It is 0 when volatility is 0.
func (m *Manager) SharpeRatio() float64 {
	rs := m.returns.Values()
	vol := SampleStdDev(rs)
	if vol == 0 {
		return 0
	}
	return Mean(rs) / vol
}

// MaxDrawdown is the largest peak-to-trough decline of the value path
// implied by the return window.
func (m *Manager) MaxDrawdown() float64 {
	return MaxDrawdown(m.returns.Values())
}

// VaR is the historical value at risk at the given confidence level.
func (m *Manager) VaR(confidence float64) float64 {
	return HistoricalVaR(m.returns.Values(), confidence)
}

// Beta is measured against the configured market series, or 1 without one.
func (m *Manager) Beta() float64 {
	if m.market == nil {
		return 1
	}
	return Beta(m.returns.Values(), m.market.MarketReturns())
}

// ---------------------------------------------------------------------------
// Allocation and rebalancing
// ---------------------------------------------------------------------------

// AssetAllocation maps each symbol to its share of TotalValue. The map is
// empty when the total is 0.
func (m *Manager) AssetAllocation() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	alloc := make(map[string]float64, len(m.positions))
	total := m.totalValueLocked()
	if total == 0 {
		return alloc
	}
	for sym, p := range m.positions {
		alloc[sym] = p.MarketValue / total
	}
	return alloc
}

// PositionWeight returns symbol's share of TotalValue, 0 when absent.
func (m *Manager) PositionWeight(symbol string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := m.totalValueLocked()
	p, ok := m.positions[symbol]
	if !ok || total == 0 {
		return 0
	}
	return p.MarketValue / total
}

// Cash returns the balance from the cash source, 0 without one.
func (m *Manager) Cash() float64 {
	if m.cash == nil {
		return 0
	}
	return m.cash.Cash()
}

// CashAllocation is cash / (cash + TotalValue), or 0 when both are 0.
func (m *Manager) CashAllocation() float64 {
	cash := m.Cash()
	denom := cash + m.TotalValue()
	if denom == 0 {
		return 0
	}
	return cash / denom
}

// NeedsRebalancing reports whether any target symbol's weight has drifted
// by more than threshold. Symbols held but absent from target are not
// checked.
func (m *Manager) NeedsRebalancing(target map[string]float64, threshold float64) bool {
	current := m.AssetAllocation()
	for sym, w := range target {
		if math.Abs(current[sym]-w) > threshold {
			return true
		}
	}
	return false
}

// RebalancingOrders plans market orders that move each target symbol toward
// its weight. Orders are sized at a flat $100 per share, differences of $100
// or less are skipped, and the result is sorted by symbol. The orders are
// pending and carry no id.
func (m *Manager) RebalancingOrders(target map[string]float64) []domain.Order {
	total := m.TotalValue()
	current := m.AssetAllocation()

	symbols := make([]string, 0, len(target))
	for sym := range target {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	now := time.Now()
	var orders []domain.Order
	for _, sym := range symbols {
		diff := total*target[sym] - total*current[sym]
		if math.Abs(diff) <= minRebalanceDifference {
			continue
		}
		side := domain.OrderSideBuy
		if diff < 0 {
			side = domain.OrderSideSell
		}
		qty := math.Abs(diff) / rebalanceSharePrice
		orders = append(orders, domain.Order{
			Symbol:       sym,
			Type:         domain.OrderTypeMarket,
			Side:         side,
			Qty:          qty,
			Status:       domain.OrderStatusPending,
			RemainingQty: qty,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	return orders
}

// ---------------------------------------------------------------------------
// Summary
// ---------------------------------------------------------------------------

// Summary is a point-in-time view of the portfolio analytics.
type Summary struct {
	TotalValue         float64            `json:"total_value"`
	Cash               float64            `json:"cash"`
	UnrealizedPnL      float64            `json:"unrealized_pnl"`
	RealizedPnL        float64            `json:"realized_pnl"`
	Return             float64            `json:"return"`
	AverageDailyReturn float64            `json:"average_daily_return"`
	DailyVolatility    float64            `json:"daily_volatility"`
	SharpeRatio        float64            `json:"sharpe_ratio"`
	MaxDrawdown        float64            `json:"max_drawdown"`
	VaR95              float64            `json:"var_95"`
	Beta               float64            `json:"beta"`
	CashAllocation     float64            `json:"cash_allocation"`
	Allocation         map[string]float64 `json:"allocation"`
	Positions          []domain.Position  `json:"positions"`
}

// Summary collects every analytic into one value. Positions are sorted by
// symbol.
func (m *Manager) Summary() Summary {
	positions := m.Positions()
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return Summary{
		TotalValue:         m.TotalValue(),
		Cash:               m.Cash(),
		UnrealizedPnL:      m.TotalUnrealizedPnL(),
		RealizedPnL:        m.TotalRealizedPnL(),
		Return:             m.Return(),
		AverageDailyReturn: m.AverageDailyReturn(),
		DailyVolatility:    m.DailyVolatility(),
		SharpeRatio:        m.SharpeRatio(),
		MaxDrawdown:        m.MaxDrawdown(),
		VaR95:              m.VaR(DefaultVaRConfidence),
		Beta:               m.Beta(),
		CashAllocation:     m.CashAllocation(),
		Allocation:         m.AssetAllocation(),
		Positions:          positions,
	}
}
