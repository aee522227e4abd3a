package customer

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a requested customer does not exist.
var ErrNotFound = errors.New("customer not found")

// Customer holds the user facts promotion conditions depend on.
type Customer struct {
	ID string
	// TotalOrders counts orders placed so far; 0 means the next order is
	// the customer's first.
	TotalOrders int
	Groups      []string
}

// Repository defines read operations for customers.
type Repository interface {
	FindByID(ctx context.Context, id string) (*Customer, error)
}

// Store adds the write used by seeding. Upsert assigns c.ID when it is
// empty.
type Store interface {
	Repository
	Upsert(ctx context.Context, c *Customer) error
}
