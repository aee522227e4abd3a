// Package memory provides in-process promotion and customer stores used by
// the memory storage driver and by tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xenking/promo-rules/internal/domain/promotion"
)

var _ promotion.Store = (*Promotions)(nil)

// Promotions is a mutex-guarded promotion.Store. Returned promotions are
// copies, so callers cannot mutate stored state.
type Promotions struct {
	mu     sync.RWMutex
	byID   map[string]*promotion.Promotion
	byCode map[string]string
	now    func() time.Time
}

// NewPromotions returns an empty store seeded with the given promotions.
func NewPromotions(seed ...promotion.Promotion) *Promotions {
	s := &Promotions{
		byID:   make(map[string]*promotion.Promotion),
		byCode: make(map[string]string),
		now:    time.Now,
	}
	for i := range seed {
		p := clone(&seed[i])
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		s.byID[p.ID] = p
		s.byCode[p.Code] = p.ID
	}
	return s
}

func (s *Promotions) FindByCode(_ context.Context, code string) (*promotion.Promotion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byCode[code]
	if !ok {
		return nil, promotion.ErrPromotionNotFound
	}
	return clone(s.byID[id]), nil
}

func (s *Promotions) FindByID(_ context.Context, id string) (*promotion.Promotion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[id]
	if !ok {
		return nil, promotion.ErrPromotionNotFound
	}
	return clone(p), nil
}

// ListActive returns active promotions, newest first.
func (s *Promotions) ListActive(_ context.Context) ([]promotion.Promotion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]promotion.Promotion, 0, len(s.byID))
	for _, p := range s.byID {
		if p.IsActive {
			out = append(out, *clone(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Code < out[j].Code
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Promotions) Create(_ context.Context, p *promotion.Promotion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byCode[p.Code]; taken {
		return promotion.ErrDuplicateCode
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now

	s.byID[p.ID] = clone(p)
	s.byCode[p.Code] = p.ID
	return nil
}

// IncrementUsage performs the compare-and-increment under the write lock.
func (s *Promotions) IncrementUsage(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok || p.UsedCount >= p.MaxUses {
		return false, nil
	}
	p.UsedCount++
	p.UpdatedAt = s.now()
	return true, nil
}

func clone(p *promotion.Promotion) *promotion.Promotion {
	c := *p
	c.Conditions = slices.Clone(p.Conditions)
	return &c
}
