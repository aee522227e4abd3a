package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/promo-rules/internal/domain/customer"
)

const (
	findCustomerByIDSQL = `SELECT id::text, total_orders, groups FROM customers WHERE id = $1`
	upsertCustomerSQL   = `INSERT INTO customers (id, total_orders, groups) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET total_orders = EXCLUDED.total_orders, groups = EXCLUDED.groups`
)

var _ customer.Store = (*CustomerRepository)(nil)

// CustomerRepository provides customer lookups backed by PostgreSQL.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository returns a CustomerRepository that uses the given pool.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

// FindByID returns customer.ErrNotFound for unknown or malformed ids.
func (r *CustomerRepository) FindByID(ctx context.Context, id string) (*customer.Customer, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, customer.ErrNotFound
	}

	var c customer.Customer
	err := r.pool.QueryRow(ctx, findCustomerByIDSQL, id).Scan(&c.ID, &c.TotalOrders, &c.Groups)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrNotFound
		}
		return nil, fmt.Errorf("finding customer %q: %w", id, err)
	}
	return &c, nil
}

// Upsert inserts c or replaces the stored order count and groups.
func (r *CustomerRepository) Upsert(ctx context.Context, c *customer.Customer) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	groups := c.Groups
	if groups == nil {
		groups = []string{}
	}
	if _, err := r.pool.Exec(ctx, upsertCustomerSQL, c.ID, c.TotalOrders, groups); err != nil {
		return errors.Wrapf(err, "upsert customer %s", c.ID)
	}
	return nil
}
