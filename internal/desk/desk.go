// Package desk connects the broker event feed to the order gateway and the
// portfolio engine, and drives the day-level flows built on both:
// rebalancing and the session close.
package desk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"riskdesk/internal/broker"
	"riskdesk/internal/domain"
	"riskdesk/internal/engine"
	"riskdesk/internal/portfolio"
	"riskdesk/internal/quote"
	"riskdesk/internal/util"
)

// eventBuffer is the feed subscription buffer.
const eventBuffer = 1024

// Desk owns the wiring between the venue and the two engines.
type Desk struct {
	broker    broker.Broker
	engine    *engine.Engine
	portfolio *portfolio.Manager
	account   *portfolio.Account
	quotes    *quote.Book
	log       *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once

	mu        sync.Mutex
	prevClose float64
}

// New creates a Desk and registers it for the engine's fills. The
// portfolio's initial value is the first session's opening equity.
func New(b broker.Broker, e *engine.Engine, m *portfolio.Manager, acct *portfolio.Account, q *quote.Book, log *slog.Logger) *Desk {
	if q == nil {
		q = quote.NewBook()
	}
	d := &Desk{
		broker:    b,
		engine:    e,
		portfolio: m,
		account:   acct,
		quotes:    q,
		log:       util.OrDefault(log).With("component", "desk"),
		ready:     make(chan struct{}),
		prevClose: m.InitialValue(),
	}
	e.SetFillHandler(d.bookFill)
	return d
}

// Engine returns the order gateway.
func (d *Desk) Engine() *engine.Engine { return d.engine }

// Portfolio returns the portfolio engine.
func (d *Desk) Portfolio() *portfolio.Manager { return d.portfolio }

// Quotes returns the price book fed by venue ticks.
func (d *Desk) Quotes() *quote.Book { return d.quotes }

// Account returns the venue account snapshot, or the zero value when the
// desk has no account table.
func (d *Desk) Account() domain.AccountInfo {
	if d.account == nil {
		return domain.AccountInfo{}
	}
	return d.account.Info()
}

// Ready is closed once Run has subscribed to the feed. Venue adapters that
// publish an initial snapshot should wait for it.
func (d *Desk) Ready() <-chan struct{} { return d.ready }

// Run applies venue events until ctx is cancelled or the feed closes.
func (d *Desk) Run(ctx context.Context) error {
	id, events := d.broker.Subscribe(eventBuffer)
	defer d.broker.Unsubscribe(id)
	d.readyOnce.Do(func() { close(d.ready) })

	d.log.Info("event pump started", "broker", d.broker.Name())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			d.Handle(ev)
		}
	}
}

// Handle applies one venue event.
func (d *Desk) Handle(ev domain.Event) {
	switch ev.Kind {
	case domain.EventOrderUpdate:
		if ev.Order != nil {
			d.engine.ApplyOrderUpdate(*ev.Order)
		}
	case domain.EventPositionUpdate:
		if ev.Position != nil {
			d.portfolio.ApplyPositionUpdate(*ev.Position, d.quotes)
		}
	case domain.EventAccountUpdate:
		if ev.Account != nil && d.account != nil {
			d.account.Apply(*ev.Account)
		}
	case domain.EventPriceTick:
		if ev.Tick == nil {
			return
		}
		d.quotes.Apply(*ev.Tick)
		if p, ok := d.quotes.Price(ev.Tick.Symbol); ok {
			d.portfolio.Mark(ev.Tick.Symbol, p)
		}
	default:
		d.log.Debug("ignoring event", "kind", ev.Kind)
	}
}

// Symbols returns the sorted union of extra, held positions, and the symbols
// of open orders. It is the set worth keeping reference prices for.
func (d *Desk) Symbols(extra ...string) []string {
	seen := make(map[string]struct{}, len(extra))
	for _, s := range extra {
		if s != "" {
			seen[s] = struct{}{}
		}
	}
	for _, p := range d.portfolio.Positions() {
		if p.Qty != 0 {
			seen[p.Symbol] = struct{}{}
		}
	}
	for _, o := range d.engine.AllOrders() {
		if !o.Status.IsTerminal() {
			seen[o.Symbol] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// bookFill moves a fill's realized PnL into the position book.
func (d *Desk) bookFill(x engine.Execution) {
	d.portfolio.AddRealizedPnL(x.Symbol, x.Realized)
}

// Rebalance submits the portfolio's rebalancing plan through the gateway
// when any target weight has drifted past threshold. Positions can move
// between planning and submission. It returns the ids of accepted orders and
// the joined errors of rejected ones.
func (d *Desk) Rebalance(ctx context.Context, target map[string]float64, threshold float64) ([]int64, error) {
	if !d.portfolio.NeedsRebalancing(target, threshold) {
		d.log.Debug("allocation within threshold", "threshold", threshold)
		return nil, nil
	}

	orders := d.portfolio.RebalancingOrders(target)
	var (
		ids  []int64
		errs []error
	)
	for _, o := range orders {
		id, err := d.engine.SubmitOrder(ctx, o)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s %.2f: %w", o.Side, o.Symbol, o.Qty, err))
			continue
		}
		ids = append(ids, id)
	}
	d.log.Info("rebalance submitted", "planned", len(orders), "accepted", len(ids), "rejected", len(errs))
	return ids, errors.Join(errs...)
}

// CloseDay records the session return of equity (cash plus positions)
// against the previous close and resets the gateway's daily PnL. The
// return is not recorded when the previous close is not positive.
func (d *Desk) CloseDay() (float64, bool) {
	equity := d.portfolio.Cash() + d.portfolio.TotalValue()

	d.mu.Lock()
	prev := d.prevClose
	d.prevClose = equity
	d.mu.Unlock()

	d.engine.ResetDaily()
	if prev <= 0 {
		d.log.Info("session closed", "equity", equity)
		return 0, false
	}
	r := (equity - prev) / prev
	d.portfolio.RecordDailyReturn(r)
	d.log.Info("session closed", "equity", equity, "return", r)
	return r, true
}
