package promotion

import (
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromotion_Window(t *testing.T) {
	start := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 10, 31, 23, 59, 59, 0, time.UTC)
	p := &Promotion{StartDate: start, EndDate: end, MaxUses: 2, UsedCount: 1, IsActive: true}

	assert.True(t, p.InWindow(start), "start is inclusive")
	assert.True(t, p.InWindow(end), "end is inclusive")
	assert.False(t, p.InWindow(start.Add(-time.Nanosecond)))
	assert.False(t, p.InWindow(end.Add(time.Nanosecond)))

	assert.False(t, p.Exhausted())
	assert.True(t, p.Usable(start.Add(time.Hour)))

	p.UsedCount = 2
	assert.True(t, p.Exhausted())
	assert.False(t, p.Usable(start.Add(time.Hour)))

	p.UsedCount = 0
	p.IsActive = false
	assert.False(t, p.Usable(start.Add(time.Hour)))
}

func TestErrPromotionInactive(t *testing.T) {
	assert.ErrorIs(t, ErrPromotionInactive, ErrPromotionNotFound)
	assert.ErrorIs(t, errors.Wrap(ErrPromotionInactive, "lookup"), ErrPromotionNotFound)
	assert.NotErrorIs(t, ErrPromotionNotFound, ErrPromotionInactive)
}

func TestPromotion_Check(t *testing.T) {
	valid := func() *Promotion {
		return &Promotion{
			Code:          "SAVE10",
			Name:          "Save ten",
			DiscountType:  DiscountPercentage,
			DiscountValue: decimal.NewFromInt(10),
			Conditions: []Condition{
				Compare(FieldOrderTotal, OpGreaterThan, decimal.NewFromInt(20)),
				Among(FieldCategory, OpAll, "pizza"),
				AtHours(OpNotIn, 0, 1, 2),
				FirstOrderOnly(),
			},
			StartDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
			MaxUses:   100,
			IsActive:  true,
		}
	}

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, valid().Check())
	})

	t.Run("fixed discount above total is allowed", func(t *testing.T) {
		p := valid()
		p.DiscountType = DiscountFixed
		p.DiscountValue = decimal.NewFromInt(500)
		require.NoError(t, p.Check())
	})

	tests := []struct {
		name   string
		mutate func(p *Promotion)
		want   []string
	}{
		{
			name:   "missing name",
			mutate: func(p *Promotion) { p.Name = "  " },
			want:   []string{"name is required"},
		},
		{
			name:   "percentage above 100",
			mutate: func(p *Promotion) { p.DiscountValue = decimal.NewFromInt(101) },
			want:   []string{"percentage discount must be between 0 and 100"},
		},
		{
			name: "negative fixed",
			mutate: func(p *Promotion) {
				p.DiscountType = DiscountFixed
				p.DiscountValue = decimal.NewFromInt(-1)
			},
			want: []string{"fixed discount must not be negative"},
		},
		{
			name:   "unknown discount type",
			mutate: func(p *Promotion) { p.DiscountType = "bogo" },
			want:   []string{`unsupported discount type "bogo"`},
		},
		{
			name:   "window reversed",
			mutate: func(p *Promotion) { p.EndDate = p.StartDate.Add(-time.Second) },
			want:   []string{"end date is before start date"},
		},
		{
			name: "every bad condition is reported",
			mutate: func(p *Promotion) {
				p.MaxUses = -1
				p.Conditions = []Condition{
					Among(FieldDelivery, OpIn, "express"),
					Among(FieldUserGroup, OpAll, "vip"),
					{Field: FieldTimeOfDay, Operator: OpIn, Value: StringSet{"noon"}},
				}
			},
			want: []string{
				"max uses must not be negative",
				"condition 0: invalid field: delivery",
				`condition 1: unsupported operator "all" for field userGroup`,
				"condition 2: field timeOfDay: want integer set value, got string set",
			},
		},
		{
			name: "hours outside the day",
			mutate: func(p *Promotion) {
				p.Conditions = []Condition{AtHours(OpIn, 11, 25), AtHours(OpNotIn, -3)}
			},
			want: []string{
				"condition 0: field timeOfDay: hour 25 out of range 0-23",
				"condition 1: field timeOfDay: hour -3 out of range 0-23",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.mutate(p)

			err := p.Check()
			var target *InvalidPromotionError
			require.ErrorAs(t, err, &target)
			assert.Equal(t, tt.want, target.Problems)
		})
	}
}
