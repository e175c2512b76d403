package engine

import "errors"

// Sentinel errors returned by the gateway. Callers match them with
// errors.Is; the wrapped message carries the detail.
var (
	// ErrInvalidOrder is a structural validation failure.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrRiskLimit means the order breaches a configured risk limit.
	ErrRiskLimit = errors.New("risk limit exceeded")
	// ErrOrderNotFound means the id is not in the order book.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderClosed means the order is already filled, cancelled, or rejected.
	ErrOrderClosed = errors.New("order is closed")
	// ErrVenueRejected wraps a failure returned by the trading venue.
	ErrVenueRejected = errors.New("venue rejected request")
)
