package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/order-pipeline/internal/config"
	"github.com/rl1809/order-pipeline/internal/core/domain"
	"github.com/rl1809/order-pipeline/internal/metrics"
)

const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

type MySQLAdapter struct {
	db     *sql.DB
	tables config.TableNames
}

func NewMySQLAdapter(db *sql.DB, tables config.TableNames) *MySQLAdapter {
	return &MySQLAdapter{db: db, tables: tables}
}

// OpenMySQL connects with UTC time parsing forced on, applies the pool settings
// and pings once so a bad DSN fails at startup.
func OpenMySQL(ctx context.Context, cfg config.StoreConfig) (*sql.DB, error) {
	dsn, err := mysql.ParseDSN(cfg.MySQLDSN)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	dsn.ParseTime = true
	dsn.Loc = time.UTC

	connector, err := mysql.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, domain.Transient(fmt.Errorf("ping mysql: %w", err))
	}
	return db, nil
}

// Migrate creates the four tables if they are missing.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			unit_price DECIMAL(12,2) NOT NULL,
			stock INT NOT NULL,
			version INT NOT NULL DEFAULT 1,
			updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
		)`, m.tables.Products),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			surname VARCHAR(255) NOT NULL
		)`, m.tables.Customers),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			customer_id VARCHAR(64) NOT NULL,
			customer_name VARCHAR(255) NOT NULL,
			product_id VARCHAR(64) NOT NULL,
			product_name VARCHAR(255) NOT NULL,
			quantity INT NOT NULL,
			unit_price DECIMAL(12,2) NOT NULL,
			total_amount DECIMAL(14,2) NOT NULL,
			order_date_utc DATETIME(6) NOT NULL,
			status VARCHAR(32) NOT NULL,
			version INT NOT NULL DEFAULT 1,
			updated_at DATETIME(6) NOT NULL,
			INDEX idx_order_date (order_date_utc)
		)`, m.tables.Orders),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq BIGINT AUTO_INCREMENT PRIMARY KEY,
			message_id VARCHAR(64) NOT NULL UNIQUE,
			topic VARCHAR(255) NOT NULL,
			partition_key VARCHAR(64) NOT NULL,
			message_type VARCHAR(64) NOT NULL,
			payload BLOB NOT NULL,
			created_at DATETIME(6) NOT NULL,
			dispatched_at DATETIME(6) NULL,
			INDEX idx_pending (dispatched_at, seq)
		)`, m.tables.Outbox),
	}
	for _, stmt := range statements {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return classify("migrate", err)
		}
	}
	return nil
}

// Seed upserts products and customers. Existing product stock is reset.
func (m *MySQLAdapter) Seed(ctx context.Context, products []domain.Product, customers []domain.Customer) error {
	for _, p := range products {
		_, err := m.db.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (id, name, unit_price, stock, version, updated_at)
			VALUES (?, ?, ?, ?, 1, ?)
			ON DUPLICATE KEY UPDATE name = VALUES(name), unit_price = VALUES(unit_price),
				stock = VALUES(stock), version = version + 1, updated_at = VALUES(updated_at)`, m.tables.Products),
			p.ID, p.Name, p.UnitPrice, p.Stock, time.Now().UTC(),
		)
		if err != nil {
			return classify("seed product "+p.ID, err)
		}
	}
	for _, c := range customers {
		_, err := m.db.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (id, name, surname) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE name = VALUES(name), surname = VALUES(surname)`, m.tables.Customers),
			c.ID, c.Name, c.Surname,
		)
		if err != nil {
			return classify("seed customer "+c.ID, err)
		}
	}
	return nil
}

func (m *MySQLAdapter) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	defer observe("get_product")()

	var p domain.Product
	err := m.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, name, unit_price, stock, version, updated_at
		FROM %s WHERE id = ?`, m.tables.Products), productID,
	).Scan(&p.ID, &p.Name, &p.UnitPrice, &p.Stock, &p.Version, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", productID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, classify("query product", err)
	}
	return &p, nil
}

func (m *MySQLAdapter) GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	defer observe("get_customer")()

	var c domain.Customer
	err := m.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, name, surname FROM %s WHERE id = ?`, m.tables.Customers), customerID,
	).Scan(&c.ID, &c.Name, &c.Surname)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("customer %s: %w", customerID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, classify("query customer", err)
	}
	return &c, nil
}

func (m *MySQLAdapter) ReplaceStock(ctx context.Context, productID string, newStock, expectedVersion int, staged []domain.Message) error {
	defer observe("replace_stock")()

	if newStock < 0 {
		return fmt.Errorf("%w: stock for %s would become %d", domain.ErrValidation, productID, newStock)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin tx", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET stock = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`, m.tables.Products),
		newStock, time.Now().UTC(), productID, expectedVersion,
	)
	if err != nil {
		return classify("update stock", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return classify("update stock", err)
	}
	if rows == 0 {
		return fmt.Errorf("product %s version %d: %w", productID, expectedVersion, domain.ErrConflict)
	}

	for _, msg := range staged {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (message_id, topic, partition_key, message_type, payload, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`, m.tables.Outbox),
			msg.MessageID, msg.Topic, msg.Key, msg.Type, msg.Payload, msg.CreatedAt,
		)
		if err != nil {
			return classify("stage outbox message", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classify("commit stock", err)
	}
	return nil
}

func (m *MySQLAdapter) InsertOrderIfAbsent(ctx context.Context, order domain.Order) (bool, error) {
	defer observe("insert_order")()

	if order.Version == 0 {
		order.Version = 1
	}
	result, err := m.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, customer_id, customer_name, product_id, product_name, quantity,
			unit_price, total_amount, order_date_utc, status, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE id = id`, m.tables.Orders),
		order.ID, order.CustomerID, order.CustomerName, order.ProductID, order.ProductName, order.Quantity,
		order.UnitPrice, order.TotalAmount, order.OrderDateUTC, string(order.Status), order.Version, order.UpdatedAt,
	)
	if err != nil {
		return false, classify("insert order", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, classify("insert order", err)
	}
	return rows == 1, nil
}

const orderColumns = `id, customer_id, customer_name, product_id, product_name, quantity,
	unit_price, total_amount, order_date_utc, status, version, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var o domain.Order
	var status string
	err := row.Scan(&o.ID, &o.CustomerID, &o.CustomerName, &o.ProductID, &o.ProductName, &o.Quantity,
		&o.UnitPrice, &o.TotalAmount, &o.OrderDateUTC, &status, &o.Version, &o.UpdatedAt)
	o.Status = domain.OrderStatus(status)
	return o, err
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	defer observe("get_order")()

	o, err := scanOrder(m.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, orderColumns, m.tables.Orders), orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, classify("query order", err)
	}
	return &o, nil
}

func (m *MySQLAdapter) ReplaceOrder(ctx context.Context, order domain.Order, expectedVersion int) error {
	defer observe("replace_order")()

	result, err := m.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET customer_id = ?, customer_name = ?, product_id = ?, product_name = ?, quantity = ?,
			unit_price = ?, total_amount = ?, order_date_utc = ?, status = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`, m.tables.Orders),
		order.CustomerID, order.CustomerName, order.ProductID, order.ProductName, order.Quantity,
		order.UnitPrice, order.TotalAmount, order.OrderDateUTC, string(order.Status), order.Version, order.UpdatedAt,
		order.ID, expectedVersion,
	)
	if err != nil {
		return classify("update order", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return classify("update order", err)
	}
	if rows == 1 {
		return nil
	}

	var exists int
	err = m.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE id = ?`, m.tables.Orders), order.ID).Scan(&exists)
	if err != nil {
		return classify("query order", err)
	}
	if exists == 0 {
		return fmt.Errorf("order %s: %w", order.ID, domain.ErrNotFound)
	}
	return fmt.Errorf("order %s version %d: %w", order.ID, expectedVersion, domain.ErrConflict)
}

func (m *MySQLAdapter) DeleteOrder(ctx context.Context, orderID string) error {
	defer observe("delete_order")()

	if _, err := m.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, m.tables.Orders), orderID); err != nil {
		return classify("delete order", err)
	}
	return nil
}

func (m *MySQLAdapter) ListOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	defer observe("list_orders")()

	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s ORDER BY order_date_utc DESC, id LIMIT ?`, orderColumns, m.tables.Orders), limit)
	if err != nil {
		return nil, classify("list orders", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, classify("scan order", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list orders", err)
	}
	return orders, nil
}

func (m *MySQLAdapter) PendingMessages(ctx context.Context, limit int) ([]domain.Message, error) {
	defer observe("pending_messages")()

	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT seq, message_id, topic, partition_key, message_type, payload, created_at
		FROM %s WHERE dispatched_at IS NULL ORDER BY seq LIMIT ?`, m.tables.Outbox), limit)
	if err != nil {
		return nil, classify("query outbox", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(&msg.Seq, &msg.MessageID, &msg.Topic, &msg.Key, &msg.Type, &msg.Payload, &msg.CreatedAt); err != nil {
			return nil, classify("scan outbox", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("query outbox", err)
	}
	return msgs, nil
}

func (m *MySQLAdapter) MarkDispatched(ctx context.Context, seqs []int64, at time.Time) error {
	if len(seqs) == 0 {
		return nil
	}
	defer observe("mark_dispatched")()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(seqs)), ",")
	args := make([]any, 0, len(seqs)+1)
	args = append(args, at)
	for _, seq := range seqs {
		args = append(args, seq)
	}
	if _, err := m.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET dispatched_at = ? WHERE seq IN (%s)`, m.tables.Outbox, placeholders), args...); err != nil {
		return classify("mark dispatched", err)
	}
	return nil
}

func observe(op string) func() {
	start := time.Now()
	return func() {
		metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// classify wraps err with op and marks connection-level failures transient.
func classify(op string, err error) error {
	err = fmt.Errorf("%s: %w", op, err)
	if isTransient(err) {
		return domain.Transient(err)
	}
	return err
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlErrLockWaitTimeout || myErr.Number == mysqlErrDeadlock
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
