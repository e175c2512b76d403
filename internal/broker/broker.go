// Package broker defines the Broker interface for the trading venue and
// provides implementations for paper trading and the Alpaca brokerage.
package broker

import (
	"context"
	"errors"

	"riskdesk/internal/domain"
)

// ErrNotConnected is returned by adapters that require a live session.
var ErrNotConnected = errors.New("broker: not connected")

// ErrUnknownOrder is returned when the venue has no record of an order id.
var ErrUnknownOrder = errors.New("broker: unknown order")

// Broker abstracts the trading venue. Implementations push asynchronous
// order, position, account, and price events to their subscribers; those
// events may arrive on any goroutine.
type Broker interface {
	// Name returns the broker identifier (e.g. "alpaca", "simulator").
	Name() string

	// Place submits an order and returns the venue-assigned id (> 0).
	Place(ctx context.Context, order domain.Order) (int64, error)

	// Cancel requests cancellation of an open order.
	Cancel(ctx context.Context, orderID int64) error

	// Modify replaces the parameters of an open order.
	Modify(ctx context.Context, orderID int64, order domain.Order) error

	// Subscribe returns a channel of venue events. bufSize controls the
	// channel buffer; slow consumers will have events dropped.
	Subscribe(bufSize int) (int, <-chan domain.Event)

	// Unsubscribe removes a subscriber and closes its channel.
	Unsubscribe(id int)
}
