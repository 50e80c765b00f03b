package cache

import "strings"

// Key derivation per query shape. A write invalidates the key of the entity
// it changed and every aggregate key whose membership the write can change.

// OrderKey is the key of a single order.
func OrderKey(id string) string { return "order:" + id }

// CustomerOrdersKey is the key of the order list of one customer.
func CustomerOrdersKey(customerID string) string { return "orders:customer:" + customerID }

// CustomerKey is the key of a single customer.
func CustomerKey(id string) string { return "customer:" + id }

// ActiveCustomersKey is the key of the active customer list.
const ActiveCustomersKey = "customers:active"

// CustomerSearchPrefix prefixes every customer search key.
const CustomerSearchPrefix = "customers:search:"

// CustomerSearchKey is the key of a customer search by term. Terms are
// case-insensitive.
func CustomerSearchKey(term string) string {
	return CustomerSearchPrefix + strings.ToLower(strings.TrimSpace(term))
}

// ProductKey is the key of a single product.
func ProductKey(id string) string { return "product:" + id }

// AllProductsKey is the key of the full product list.
const AllProductsKey = "products:all"

// OrderWriteKeys lists the keys a write to an order invalidates.
func OrderWriteKeys(orderID, customerID string) []string {
	return []string{OrderKey(orderID), CustomerOrdersKey(customerID)}
}

// CustomerWriteKeys lists the exact keys a write to a customer invalidates.
// Searches are dropped with InvalidatePrefix(CustomerSearchPrefix).
func CustomerWriteKeys(id string) []string {
	return []string{CustomerKey(id), ActiveCustomersKey}
}

// ProductWriteKeys lists the keys a write to a product invalidates.
func ProductWriteKeys(id string) []string {
	return []string{ProductKey(id), AllProductsKey}
}
