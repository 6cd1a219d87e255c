// Package sqlite implements the repositories on an embedded SQLite database.
//
// The database runs in WAL mode with a single open connection. Transactions
// start with BEGIN IMMEDIATE so every writer holds the reserved lock for its
// whole unit of work, which serialises allocations and payments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/hanko-field/fulfillment/internal/repositories"
)

const schema = `
CREATE TABLE IF NOT EXISTS stock_items (
    sku                      TEXT PRIMARY KEY,
    average_cost             INTEGER NOT NULL DEFAULT 0,
    total_purchased_quantity INTEGER NOT NULL DEFAULT 0,
    total_cost_amount        INTEGER NOT NULL DEFAULT 0,
    created_at               TEXT    NOT NULL,
    updated_at               TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
    id                   TEXT PRIMARY KEY,
    store_id             TEXT    NOT NULL DEFAULT '',
    grand_total          INTEGER NOT NULL CHECK (grand_total >= 0),
    paid_amount          INTEGER NOT NULL DEFAULT 0 CHECK (paid_amount >= 0 AND paid_amount <= grand_total),
    payment_status       TEXT    NOT NULL,
    shipping_status      TEXT    NOT NULL,
    fulfillment_priority TEXT    NOT NULL,
    paid_at              TEXT,
    created_at           TEXT    NOT NULL,
    updated_at           TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS order_line_items (
    id                      TEXT PRIMARY KEY,
    order_id                TEXT    NOT NULL REFERENCES orders(id),
    store_id                TEXT    NOT NULL DEFAULT '',
    sku                     TEXT    NOT NULL DEFAULT '',
    quantity                INTEGER NOT NULL CHECK (quantity > 0),
    fulfilled_quantity      INTEGER NOT NULL DEFAULT 0 CHECK (fulfilled_quantity >= 0 AND fulfilled_quantity <= quantity),
    is_backorder            INTEGER NOT NULL DEFAULT 0,
    fulfillment_status      TEXT    NOT NULL,
    linked_purchase_line_id TEXT    NOT NULL DEFAULT '',
    created_at              TEXT    NOT NULL,
    updated_at              TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_line_items_order ON order_line_items(order_id);
CREATE INDEX IF NOT EXISTS idx_line_items_backorder ON order_line_items(sku, is_backorder, store_id);

CREATE TABLE IF NOT EXISTS purchase_lines (
    id                      TEXT PRIMARY KEY,
    receipt_id              TEXT    NOT NULL,
    sku                     TEXT    NOT NULL,
    store_id                TEXT    NOT NULL DEFAULT '',
    supplier                TEXT    NOT NULL DEFAULT '',
    quantity                INTEGER NOT NULL CHECK (quantity > 0),
    allocated_quantity      INTEGER NOT NULL DEFAULT 0 CHECK (allocated_quantity >= 0 AND allocated_quantity <= quantity),
    unit_price              INTEGER NOT NULL,
    allocated_shipping_cost INTEGER NOT NULL,
    received_by             TEXT    NOT NULL,
    received_at             TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS payment_records (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    id         TEXT    NOT NULL UNIQUE,
    order_id   TEXT    NOT NULL REFERENCES orders(id),
    amount     INTEGER NOT NULL CHECK (amount > 0),
    method     TEXT    NOT NULL,
    reference  TEXT    NOT NULL DEFAULT '',
    note       TEXT    NOT NULL DEFAULT '',
    created_by TEXT    NOT NULL,
    created_at TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_payment_records_order ON payment_records(order_id, seq);

CREATE TABLE IF NOT EXISTS status_history (
    seq          INTEGER PRIMARY KEY AUTOINCREMENT,
    id           TEXT    NOT NULL UNIQUE,
    subject_id   TEXT    NOT NULL,
    subject_kind TEXT    NOT NULL,
    status_type  TEXT    NOT NULL,
    from_status  TEXT    NOT NULL DEFAULT '',
    to_status    TEXT    NOT NULL,
    actor_id     TEXT    NOT NULL,
    note         TEXT    NOT NULL DEFAULT '',
    created_at   TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_status_history_subject ON status_history(subject_id, seq);
`

// querier is satisfied by both *sql.DB and *sql.Conn.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// Store owns the database handle and implements repositories.Registry.
type Store struct {
	db     *sql.DB
	health repositories.HealthRepository
}

var _ repositories.Registry = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema.
//
//	store, err := sqlite.Open(ctx, "./data/fulfillment.db")
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite: path is required")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping %q: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	store := &Store{db: db}
	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{Name: "sqlite", Check: func(ctx context.Context) error { return store.conn(ctx).QueryRowContext(ctx, "SELECT 1").Scan(new(int)) }},
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.health = health
	return store, nil
}

// Close releases the database handle.
func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

// RunInTx runs fn on a dedicated connection inside BEGIN IMMEDIATE. Nested calls join the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*sql.Conn); ok {
		return fn(ctx)
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return classify("tx.conn", "", "", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return classify("tx.begin", "", "", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_, _ = conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK")
			panic(p)
		}
		if err != nil {
			_, _ = conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK")
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, conn)); err != nil {
		return err
	}
	if _, err = conn.ExecContext(ctx, "COMMIT"); err != nil {
		return classify("tx.commit", "", "", err)
	}
	return nil
}

// conn returns the transaction connection carried by ctx, or the pool.
func (s *Store) conn(ctx context.Context) querier {
	if conn, ok := ctx.Value(txKey{}).(*sql.Conn); ok {
		return conn
	}
	return s.db
}

func (s *Store) StockItems() repositories.StockItemRepository         { return stockItemRepository{s} }
func (s *Store) Orders() repositories.OrderRepository                 { return orderRepository{s} }
func (s *Store) LineItems() repositories.LineItemRepository           { return lineItemRepository{s} }
func (s *Store) PurchaseLines() repositories.PurchaseLineRepository   { return purchaseLineRepository{s} }
func (s *Store) PaymentRecords() repositories.PaymentRecordRepository { return paymentRecordRepository{s} }
func (s *Store) StatusHistory() repositories.StatusHistoryRepository  { return statusHistoryRepository{s} }
func (s *Store) Health() repositories.HealthRepository                { return s.health }

// classify maps driver errors onto repository error codes.
func classify(op, entity, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repositories.NewNotFound(op, entity, id)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		// Extended result codes keep the primary code in the low byte.
		switch sqlErr.Code() & 0xff {
		case sqlite3.SQLITE_CONSTRAINT:
			return repositories.NewConflict(op, entity, id, err)
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return repositories.NewUnavailable(op, err)
		}
	}
	return repositories.Wrap(op, err)
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, raw)
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
