// Package store defines storage interfaces for the order-event journal and
// daily bar history, with SQLite and Parquet implementations.
package store

import (
	"context"
	"time"

	"riskdesk/internal/domain"
)

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars to storage.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end].
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// EventStore is an append-only journal of order gateway decisions.
type EventStore interface {
	// SaveEvent appends one event. An empty ID is filled with a new UUID.
	SaveEvent(ctx context.Context, ev domain.OrderEvent) error

	// ListEvents returns events for orderID, oldest first, up to limit.
	// orderID 0 lists events for all orders; limit <= 0 means no limit.
	ListEvents(ctx context.Context, orderID int64, limit int) ([]domain.OrderEvent, error)
}
