package seed

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

var sqliteDDL = []string{
	`DROP TABLE IF EXISTS sales`,
	`DROP TABLE IF EXISTS orders`,
	`DROP TABLE IF EXISTS products`,
	`DROP TABLE IF EXISTS customers`,
	`CREATE TABLE customers (
		customer_id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT UNIQUE NOT NULL,
		region TEXT NOT NULL,
		signup_date DATE NOT NULL
	)`,
	`CREATE TABLE products (
		product_id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		price DECIMAL(10, 2) NOT NULL,
		stock_quantity INTEGER NOT NULL
	)`,
	`CREATE TABLE orders (
		order_id INTEGER PRIMARY KEY,
		customer_id INTEGER NOT NULL REFERENCES customers(customer_id),
		order_date DATE NOT NULL,
		total_amount DECIMAL(10, 2) NOT NULL,
		status TEXT NOT NULL
	)`,
	`CREATE TABLE sales (
		sale_id INTEGER PRIMARY KEY,
		order_id INTEGER NOT NULL REFERENCES orders(order_id),
		product_id INTEGER NOT NULL REFERENCES products(product_id),
		quantity INTEGER NOT NULL,
		unit_price DECIMAL(10, 2) NOT NULL,
		total_price DECIMAL(10, 2) NOT NULL,
		sale_date DATE NOT NULL
	)`,
}

// WriteSQLite replaces the dataset tables in the SQLite file at path in a
// single transaction.
func WriteSQLite(ctx context.Context, path string, dataset Dataset) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open sqlite %s: %w", path, err)
	}
	defer func() { _ = db.Close() }()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, statement := range sqliteDDL {
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply seed schema: %w", err)
		}
	}

	if err := insertRows(ctx, tx, `INSERT INTO customers VALUES (?, ?, ?, ?, ?)`, dataset.Customers, func(c Customer) []any {
		return []any{c.CustomerID, c.Name, c.Email, c.Region, c.SignupDate}
	}); err != nil {
		return fmt.Errorf("insert customers: %w", err)
	}
	if err := insertRows(ctx, tx, `INSERT INTO products VALUES (?, ?, ?, ?, ?)`, dataset.Products, func(p Product) []any {
		return []any{p.ProductID, p.Name, p.Category, p.Price, p.StockQuantity}
	}); err != nil {
		return fmt.Errorf("insert products: %w", err)
	}
	if err := insertRows(ctx, tx, `INSERT INTO orders VALUES (?, ?, ?, ?, ?)`, dataset.Orders, func(o Order) []any {
		return []any{o.OrderID, o.CustomerID, o.OrderDate, o.TotalAmount, o.Status}
	}); err != nil {
		return fmt.Errorf("insert orders: %w", err)
	}
	if err := insertRows(ctx, tx, `INSERT INTO sales VALUES (?, ?, ?, ?, ?, ?, ?)`, dataset.Sales, func(s Sale) []any {
		return []any{s.SaleID, s.OrderID, s.ProductID, s.Quantity, s.UnitPrice, s.TotalPrice, s.SaleDate}
	}); err != nil {
		return fmt.Errorf("insert sales: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed transaction: %w", err)
	}
	return nil
}

func insertRows[T any](ctx context.Context, tx *sql.Tx, statement string, rows []T, args func(T) []any) error {
	stmt, err := tx.PrepareContext(ctx, statement)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, args(row)...); err != nil {
			return err
		}
	}
	return nil
}
