package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskdesk/internal/domain"
	"riskdesk/internal/quote"
)

func pos(symbol string, value float64) domain.Position {
	return domain.Position{Symbol: symbol, Qty: value / 100, AvgPrice: 100, MarketValue: value}
}

type staticReturns []float64

func (s staticReturns) MarketReturns() []float64 { return s }

func TestUpdatePositionReplaces(t *testing.T) {
	m := NewManager(100000, nil)

	m.UpdatePosition(domain.Position{Symbol: "A", Qty: 10, AvgPrice: 50, MarketValue: 500})
	second := domain.Position{Symbol: "A", Qty: 20, AvgPrice: 55, MarketValue: 1200, UnrealizedPnL: 100}
	m.UpdatePosition(second)

	require.Len(t, m.Positions(), 1)
	got, ok := m.Position("A")
	require.True(t, ok)
	assert.Equal(t, second.Qty, got.Qty)
	assert.Equal(t, second.AvgPrice, got.AvgPrice)
	assert.Equal(t, second.MarketValue, got.MarketValue)
	assert.Equal(t, second.UnrealizedPnL, got.UnrealizedPnL)

	_, ok = m.Position("B")
	assert.False(t, ok)
}

func TestApplyPositionUpdateMarks(t *testing.T) {
	m := NewManager(0, nil)
	book := quote.NewBook()

	// No price yet: marked at average.
	m.ApplyPositionUpdate(domain.PositionUpdate{Symbol: "A", Qty: 10, AvgPrice: 50}, book)
	p, _ := m.Position("A")
	assert.Equal(t, 500.0, p.MarketValue)
	assert.Zero(t, p.UnrealizedPnL)

	book.Apply(domain.PriceTick{Symbol: "A", Field: domain.TickLast, Price: 55})
	m.ApplyPositionUpdate(domain.PositionUpdate{Symbol: "A", Qty: 10, AvgPrice: 50}, book)
	p, _ = m.Position("A")
	assert.Equal(t, 550.0, p.MarketValue)
	assert.Equal(t, 50.0, p.UnrealizedPnL)

	assert.True(t, m.Mark("A", 60))
	p, _ = m.Position("A")
	assert.Equal(t, 600.0, p.MarketValue)
	assert.Equal(t, 100.0, p.UnrealizedPnL)
	assert.False(t, m.Mark("B", 60))
}

func TestAddRealizedPnLSurvivesSnapshots(t *testing.T) {
	m := NewManager(0, nil)
	m.ApplyPositionUpdate(domain.PositionUpdate{Symbol: "A", Qty: 10, AvgPrice: 50}, nil)

	m.AddRealizedPnL("A", 40)
	m.AddRealizedPnL("A", -15)
	m.AddRealizedPnL("A", 0)
	m.ApplyPositionUpdate(domain.PositionUpdate{Symbol: "A", Qty: 0}, nil)

	p, ok := m.Position("A")
	require.True(t, ok)
	assert.Zero(t, p.Qty)
	assert.Equal(t, 25.0, p.RealizedPnL)

	// A symbol closed before any snapshot still gets a record.
	m.AddRealizedPnL("B", 10)
	p, ok = m.Position("B")
	require.True(t, ok)
	assert.Zero(t, p.MarketValue)
	assert.Equal(t, 35.0, m.TotalRealizedPnL())
}

func TestTotalsAndReturn(t *testing.T) {
	m := NewManager(1000, nil)
	m.UpdatePosition(domain.Position{Symbol: "A", MarketValue: 700, UnrealizedPnL: 20, RealizedPnL: 5})
	m.UpdatePosition(domain.Position{Symbol: "B", MarketValue: 400, UnrealizedPnL: -10, RealizedPnL: 15})

	assert.Equal(t, 1100.0, m.TotalValue())
	assert.Equal(t, 10.0, m.TotalUnrealizedPnL())
	assert.Equal(t, 20.0, m.TotalRealizedPnL())
	assert.InDelta(t, 0.1, m.Return(), 1e-12)

	assert.Zero(t, NewManager(0, nil).Return())
}

func TestAssetAllocationSumsToOne(t *testing.T) {
	m := NewManager(0, nil)
	assert.Empty(t, m.AssetAllocation())

	m.UpdatePosition(pos("A", 300))
	m.UpdatePosition(pos("B", 500))
	m.UpdatePosition(pos("C", 1200))

	alloc := m.AssetAllocation()
	require.Len(t, alloc, 3)
	var sum float64
	for _, w := range alloc {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.InDelta(t, 0.25, alloc["B"], 1e-12)
	assert.InDelta(t, 0.6, m.PositionWeight("C"), 1e-12)
	assert.Zero(t, m.PositionWeight("Z"))
}

func TestAssetAllocationEmptyWhenValueZero(t *testing.T) {
	m := NewManager(0, nil)
	m.UpdatePosition(domain.Position{Symbol: "A", Qty: 0, MarketValue: 0})
	assert.Empty(t, m.AssetAllocation())
}

func TestCashAllocation(t *testing.T) {
	m := NewManager(0, nil)
	assert.Zero(t, m.CashAllocation())

	m.SetCashSource(FixedCash(250))
	assert.Equal(t, 1.0, m.CashAllocation())

	m.UpdatePosition(pos("A", 750))
	assert.InDelta(t, 0.25, m.CashAllocation(), 1e-12)
}

func TestNeedsRebalancing(t *testing.T) {
	target := map[string]float64{"A": 0.6}

	m := NewManager(0, nil)
	m.UpdatePosition(pos("A", 500))
	m.UpdatePosition(pos("B", 500))
	assert.True(t, m.NeedsRebalancing(target, DefaultRebalanceThreshold))

	m = NewManager(0, nil)
	m.UpdatePosition(pos("A", 560))
	m.UpdatePosition(pos("B", 440))
	assert.False(t, m.NeedsRebalancing(target, DefaultRebalanceThreshold))

	// Target symbols that are not held count as weight 0.
	assert.True(t, m.NeedsRebalancing(map[string]float64{"A": 0.56, "C": 0.1}, DefaultRebalanceThreshold))

	// Held symbols missing from the target are not checked.
	assert.False(t, m.NeedsRebalancing(map[string]float64{"A": 0.56}, DefaultRebalanceThreshold))
}

func TestRebalancingOrders(t *testing.T) {
	m := NewManager(0, nil)
	m.UpdatePosition(pos("A", 6000))
	m.UpdatePosition(pos("B", 4000))

	orders := m.RebalancingOrders(map[string]float64{
		"A": 0.4,   // 4000 target, sell 2000
		"B": 0.405, // 4050 target, diff 50 skipped
		"C": 0.195, // 1950 target, buy 1950
	})
	require.Len(t, orders, 2)

	assert.Equal(t, "A", orders[0].Symbol)
	assert.Equal(t, domain.OrderSideSell, orders[0].Side)
	assert.InDelta(t, 20.0, orders[0].Qty, 1e-9)

	assert.Equal(t, "C", orders[1].Symbol)
	assert.Equal(t, domain.OrderSideBuy, orders[1].Side)
	assert.InDelta(t, 19.5, orders[1].Qty, 1e-9)

	for _, o := range orders {
		assert.Zero(t, o.ID)
		assert.Equal(t, domain.OrderTypeMarket, o.Type)
		assert.Equal(t, domain.OrderStatusPending, o.Status)
	}
}

func TestRebalancingSkipsSmallDifferences(t *testing.T) {
	m := NewManager(0, nil)
	m.UpdatePosition(pos("A", 1000))
	// 1000 * 0.9 = 900: exactly the $100 minimum is not enough.
	assert.Empty(t, m.RebalancingOrders(map[string]float64{"A": 0.9}))
}

func TestReturnWindowCap(t *testing.T) {
	m := NewManager(0, nil)
	for i := 0; i < 300; i++ {
		m.RecordDailyReturn(float64(i))
	}
	rs := m.DailyReturns()
	require.Len(t, rs, MaxReturnWindow)
	assert.Equal(t, 48.0, rs[0])
	assert.Equal(t, 299.0, rs[len(rs)-1])
	for i := 1; i < len(rs); i++ {
		require.Less(t, rs[i-1], rs[i])
	}
}

func TestReturnStatistics(t *testing.T) {
	m := NewManager(0, nil)
	assert.Zero(t, m.SharpeRatio())
	assert.Zero(t, m.DailyVolatility())
	assert.Zero(t, m.MaxDrawdown())
	assert.Zero(t, m.VaR(0.95))

	for _, r := range []float64{0.01, 0.03, -0.02, 0.02} {
		m.RecordDailyReturn(r)
	}
	assert.InDelta(t, 0.01, m.AverageDailyReturn(), 1e-12)
	// Deviations 0, .02, -.03, .01: ss = .0014, /3.
	assert.InDelta(t, 0.021602468994692867, m.DailyVolatility(), 1e-12)
	assert.InDelta(t, 0.01/0.021602468994692867, m.SharpeRatio(), 1e-9)
	assert.InDelta(t, 0.02, m.MaxDrawdown(), 1e-12)
}

func TestSharpeZeroVolatility(t *testing.T) {
	m := NewManager(0, nil)
	m.RecordDailyReturn(0.01)
	m.RecordDailyReturn(0.01)
	assert.Zero(t, m.SharpeRatio())
}

func TestVaRExample(t *testing.T) {
	m := NewManager(0, nil)
	for _, r := range []float64{0.03, -0.02, 0.04, -0.05, 0.01} {
		m.RecordDailyReturn(r)
	}
	assert.InDelta(t, 0.05, m.VaR(0.95), 1e-12)
}

func TestBeta(t *testing.T) {
	m := NewManager(0, nil)
	assert.Equal(t, 1.0, m.Beta())

	for _, r := range []float64{0.01, -0.02, 0.03} {
		m.RecordDailyReturn(r)
	}
	m.SetMarketReturns(staticReturns{0.5, 0.005, -0.01, 0.015})
	// Portfolio moves exactly twice the aligned market tail.
	assert.InDelta(t, 2.0, m.Beta(), 1e-9)

	m.SetMarketReturns(staticReturns{0.01, 0.01, 0.01})
	assert.Equal(t, 1.0, m.Beta())
}

func TestSummary(t *testing.T) {
	m := NewManager(1000, nil)
	m.SetCashSource(FixedCash(100))
	m.UpdatePosition(pos("B", 400))
	m.UpdatePosition(pos("A", 500))

	s := m.Summary()
	assert.Equal(t, 900.0, s.TotalValue)
	assert.Equal(t, 100.0, s.Cash)
	assert.InDelta(t, 0.1, s.CashAllocation, 1e-12)
	assert.Equal(t, 1.0, s.Beta)
	require.Len(t, s.Positions, 2)
	assert.Equal(t, "A", s.Positions[0].Symbol)
}
