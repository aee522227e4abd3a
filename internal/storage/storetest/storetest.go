// Package storetest holds behaviour tests shared by every promotion and
// customer store implementation.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/promo-rules/internal/domain/customer"
	"github.com/xenking/promo-rules/internal/domain/promotion"
)

// NewPromotion returns an active promotion with a unique code, usable for
// an hour around now.
func NewPromotion(maxUses int) *promotion.Promotion {
	now := time.Now().UTC().Truncate(time.Millisecond)
	code := "T" + uuid.NewString()[:8]
	return &promotion.Promotion{
		Code:          code,
		Name:          "Test " + code,
		Description:   "store test",
		DiscountType:  promotion.DiscountPercentage,
		DiscountValue: decimal.RequireFromString("12.5"),
		Conditions: []promotion.Condition{
			promotion.Compare(promotion.FieldOrderTotal, promotion.OpGreaterThan, decimal.NewFromInt(20)),
			promotion.Among(promotion.FieldCategory, promotion.OpAll, "pizza", "drinks"),
			promotion.AtHours(promotion.OpNotIn, 0, 1, 2),
			promotion.FirstOrderOnly(),
		},
		StartDate: now.Add(-time.Hour),
		EndDate:   now.Add(time.Hour),
		MaxUses:   maxUses,
		IsActive:  true,
	}
}

// Promotions runs the promotion.Store contract against store. unknownID
// must be a well-formed id the store has never issued.
func Promotions(t *testing.T, store promotion.Store, unknownID string) {
	t.Run("create and find", func(t *testing.T) {
		ctx := context.Background()
		p := NewPromotion(10)
		require.NoError(t, store.Create(ctx, p))
		require.NotEmpty(t, p.ID)
		assert.False(t, p.CreatedAt.IsZero())

		byCode, err := store.FindByCode(ctx, p.Code)
		require.NoError(t, err)
		assertSamePromotion(t, p, byCode)

		byID, err := store.FindByID(ctx, p.ID)
		require.NoError(t, err)
		assertSamePromotion(t, p, byID)
	})

	t.Run("codes are case sensitive", func(t *testing.T) {
		ctx := context.Background()
		p := NewPromotion(1)
		require.NoError(t, store.Create(ctx, p))

		_, err := store.FindByCode(ctx, "t"+p.Code[1:])
		require.ErrorIs(t, err, promotion.ErrPromotionNotFound)
	})

	t.Run("not found", func(t *testing.T) {
		ctx := context.Background()
		_, err := store.FindByCode(ctx, "MISSING-"+uuid.NewString())
		require.ErrorIs(t, err, promotion.ErrPromotionNotFound)

		_, err = store.FindByID(ctx, unknownID)
		require.ErrorIs(t, err, promotion.ErrPromotionNotFound)

		_, err = store.FindByID(ctx, "not an id")
		require.ErrorIs(t, err, promotion.ErrPromotionNotFound)

		ok, err := store.IncrementUsage(ctx, unknownID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("duplicate code", func(t *testing.T) {
		ctx := context.Background()
		p := NewPromotion(1)
		require.NoError(t, store.Create(ctx, p))

		dup := NewPromotion(1)
		dup.Code = p.Code
		require.ErrorIs(t, store.Create(ctx, dup), promotion.ErrDuplicateCode)
	})

	t.Run("list active", func(t *testing.T) {
		ctx := context.Background()
		active := NewPromotion(1)
		inactive := NewPromotion(1)
		inactive.IsActive = false
		require.NoError(t, store.Create(ctx, active))
		require.NoError(t, store.Create(ctx, inactive))

		list, err := store.ListActive(ctx)
		require.NoError(t, err)

		codes := make(map[string]bool, len(list))
		for _, p := range list {
			assert.True(t, p.IsActive)
			codes[p.Code] = true
		}
		assert.True(t, codes[active.Code])
		assert.False(t, codes[inactive.Code])
	})

	t.Run("increment stops at the cap", func(t *testing.T) {
		ctx := context.Background()
		p := NewPromotion(2)
		require.NoError(t, store.Create(ctx, p))

		for _, want := range []bool{true, true, false, false} {
			ok, err := store.IncrementUsage(ctx, p.ID)
			require.NoError(t, err)
			assert.Equal(t, want, ok)
		}

		got, err := store.FindByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.UsedCount)
	})

	t.Run("concurrent increments never overrun", func(t *testing.T) {
		const (
			workers = 32
			maxUses = 3
		)
		ctx := context.Background()
		p := NewPromotion(maxUses)
		require.NoError(t, store.Create(ctx, p))

		var (
			wg        sync.WaitGroup
			successes atomic.Int32
		)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := store.IncrementUsage(ctx, p.ID)
				assert.NoError(t, err)
				if ok {
					successes.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(maxUses), successes.Load())
		got, err := store.FindByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, maxUses, got.UsedCount)
	})
}

// Customers runs the customer.Store contract against store.
func Customers(t *testing.T, store customer.Store, unknownID string) {
	ctx := context.Background()

	c := &customer.Customer{TotalOrders: 2, Groups: []string{"students"}}
	require.NoError(t, store.Upsert(ctx, c))
	require.NotEmpty(t, c.ID)

	got, err := store.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c, got)

	c.TotalOrders = 3
	c.Groups = nil
	require.NoError(t, store.Upsert(ctx, c))

	got, err = store.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalOrders)
	assert.Empty(t, got.Groups)

	_, err = store.FindByID(ctx, unknownID)
	require.ErrorIs(t, err, customer.ErrNotFound)
}

func assertSamePromotion(t *testing.T, want, got *promotion.Promotion) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Code, got.Code)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Description, got.Description)
	assert.Equal(t, want.DiscountType, got.DiscountType)
	assert.True(t, want.DiscountValue.Equal(got.DiscountValue), "discount %s != %s", want.DiscountValue, got.DiscountValue)
	assert.True(t, want.StartDate.Equal(got.StartDate), "start %s != %s", want.StartDate, got.StartDate)
	assert.True(t, want.EndDate.Equal(got.EndDate), "end %s != %s", want.EndDate, got.EndDate)
	assert.Equal(t, want.MaxUses, got.MaxUses)
	assert.Equal(t, want.UsedCount, got.UsedCount)
	assert.Equal(t, want.IsActive, got.IsActive)

	require.Len(t, got.Conditions, len(want.Conditions))
	for i := range want.Conditions {
		assert.Equal(t, want.Conditions[i].String(), got.Conditions[i].String())
	}
}
