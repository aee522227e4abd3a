package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/xenking/promo-rules/internal/domain/customer"
)

var _ customer.Store = (*Customers)(nil)

// Customers is an in-memory customer.Repository.
type Customers struct {
	mu   sync.RWMutex
	byID map[string]customer.Customer
}

// NewCustomers returns a store holding the given customers.
func NewCustomers(seed ...customer.Customer) *Customers {
	s := &Customers{byID: make(map[string]customer.Customer, len(seed))}
	for _, c := range seed {
		s.Put(c)
	}
	return s
}

// Put inserts or replaces c.
func (s *Customers) Put(c customer.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Groups = slices.Clone(c.Groups)
	s.byID[c.ID] = c
}

func (s *Customers) FindByID(_ context.Context, id string) (*customer.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byID[id]
	if !ok {
		return nil, customer.ErrNotFound
	}
	c.Groups = slices.Clone(c.Groups)
	return &c, nil
}

func (s *Customers) Upsert(_ context.Context, c *customer.Customer) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.Put(*c)
	return nil
}
