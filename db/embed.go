// Package db embeds the SQL schema of the order and stock tables.
package db

import _ "embed"

// Schema creates the orders, order_items and product_stock tables. It is
// idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string
