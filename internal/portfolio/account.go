package portfolio

import (
	"strconv"
	"sync"

	"riskdesk/internal/domain"
)

// CashSource supplies the account cash balance.
type CashSource interface {
	Cash() float64
}

// MarketReturns supplies a market-index daily return series, oldest first.
type MarketReturns interface {
	MarketReturns() []float64
}

// Keys recognised as the cash balance, in priority order.
var cashKeys = []string{"TotalCashValue", "CashBalance", "cash"}

// Compile-time interface check.
var _ CashSource = (*Account)(nil)

// Account folds venue account snapshots into a key/value table. Until a cash
// key arrives, Cash reports the seed balance.
type Account struct {
	mu       sync.Mutex
	seed     float64
	values   map[string]string
	currency string
}

// NewAccount creates an Account that reports seedCash until the venue
// reports a balance.
func NewAccount(seedCash float64) *Account {
	return &Account{seed: seedCash, values: make(map[string]string)}
}

// Apply records one account value.
func (a *Account) Apply(u domain.AccountUpdate) {
	if u.Key == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values[u.Key] = u.Value
	if u.Currency != "" {
		a.currency = u.Currency
	}
}

// Cash returns the reported cash balance, or the seed when none is known.
func (a *Account) Cash() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, k := range cashKeys {
		if f, ok := a.float(k); ok {
			return f
		}
	}
	return a.seed
}

// Info summarises the known values. Missing numeric keys read as zero.
func (a *Account) Info() domain.AccountInfo {
	cash := a.Cash()

	a.mu.Lock()
	defer a.mu.Unlock()
	nlv, _ := a.float("NetLiquidation")
	bp, _ := a.float("BuyingPower")
	return domain.AccountInfo{
		AccountID:      a.values["AccountCode"],
		NetLiquidation: nlv,
		BuyingPower:    bp,
		Cash:           cash,
		Currency:       a.currency,
	}
}

// float parses a stored value. Must be called with mu held.
func (a *Account) float(key string) (float64, bool) {
	v, ok := a.values[key]
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// FixedCash is a CashSource with a constant balance.
type FixedCash float64

// Cash implements CashSource.
func (c FixedCash) Cash() float64 { return float64(c) }
