package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"riskdesk/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ EventStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS order_events (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT    NOT NULL UNIQUE,
	order_id   INTEGER NOT NULL,
	symbol     TEXT    NOT NULL,
	kind       TEXT    NOT NULL,
	status     TEXT    NOT NULL,
	detail     TEXT    NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_events_order ON order_events(order_id, seq);
`

// SQLiteStore implements EventStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns
// a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// Writers serialize on the database file anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// EventStore implementation
// ---------------------------------------------------------------------------

// SaveEvent inserts an order event into the journal.
func (s *SQLiteStore) SaveEvent(ctx context.Context, ev domain.OrderEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO order_events (id, order_id, symbol, kind, status, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.OrderID, ev.Symbol, string(ev.Kind), string(ev.Status), ev.Detail,
		ev.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("saving event for order %d: %w", ev.OrderID, err)
	}
	return nil
}

// ListEvents returns journal entries in insertion order.
func (s *SQLiteStore) ListEvents(ctx context.Context, orderID int64, limit int) ([]domain.OrderEvent, error) {
	query := `SELECT id, order_id, symbol, kind, status, detail, created_at FROM order_events`
	var args []any
	if orderID != 0 {
		query += ` WHERE order_id = ?`
		args = append(args, orderID)
	}
	query += ` ORDER BY seq`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var events []domain.OrderEvent
	for rows.Next() {
		var (
			ev         domain.OrderEvent
			kind, stat string
			createdAt  int64
		)
		if err := rows.Scan(&ev.ID, &ev.OrderID, &ev.Symbol, &kind, &stat, &ev.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		ev.Kind = domain.OrderEventKind(kind)
		ev.Status = domain.OrderStatus(stat)
		ev.CreatedAt = time.Unix(0, createdAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}
