// Package customer holds the read-only customer snapshot used while placing
// orders. Customers are owned by the remote customer directory.
package customer

import (
	"context"
	"strings"
)

// Customer is a snapshot of a customer directory entry.
type Customer struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Active    bool
}

// FullName joins first and last name, skipping empty parts.
func (c Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Directory provides read access to the customer authority.
type Directory interface {
	GetCustomer(ctx context.Context, id string) (*Customer, error)
}
