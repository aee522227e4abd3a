package promotion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"
)

// mockPromotionRepo keeps one promotion and applies the conditional
// increment under a lock. results, when set, overrides the outcome of the
// next increments.
type mockPromotionRepo struct {
	mu           sync.Mutex
	promotion    *Promotion
	findErr      error
	incrementErr error
	results      []bool
	// onConflict runs after a forced false result.
	onConflict func(p *Promotion)

	finds      int
	increments int
}

func (m *mockPromotionRepo) FindByCode(_ context.Context, code string) (*Promotion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finds++
	if m.findErr != nil {
		return nil, m.findErr
	}
	if m.promotion == nil || m.promotion.Code != code {
		return nil, ErrPromotionNotFound
	}
	p := *m.promotion
	return &p, nil
}

func (m *mockPromotionRepo) IncrementUsage(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.increments++
	if m.incrementErr != nil {
		return false, m.incrementErr
	}
	if len(m.results) > 0 {
		ok := m.results[0]
		m.results = m.results[1:]
		if !ok {
			if m.onConflict != nil {
				m.onConflict(m.promotion)
			}
			return false, nil
		}
	}
	if m.promotion == nil || m.promotion.ID != id || m.promotion.UsedCount >= m.promotion.MaxUses {
		return false, nil
	}
	m.promotion.UsedCount++
	return true, nil
}

func (m *mockPromotionRepo) usedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.promotion.UsedCount
}

var serviceNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func save10() *Promotion {
	return &Promotion{
		ID:            "p-save10",
		Code:          "SAVE10",
		Name:          "Save ten",
		DiscountType:  DiscountPercentage,
		DiscountValue: decimal.NewFromInt(10),
		Conditions:    []Condition{Compare(FieldOrderTotal, OpGreaterThan, decimal.NewFromInt(20))},
		StartDate:     serviceNow.AddDate(0, 0, -7),
		EndDate:       serviceNow.AddDate(0, 0, 7),
		MaxUses:       5,
		UsedCount:     4,
		IsActive:      true,
	}
}

func newTestService(t *testing.T, repo Repository, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return serviceNow })}, opts...)
	s, err := NewService(repo, opts...)
	require.NoError(t, err)
	return s
}

func TestService_Apply(t *testing.T) {
	fifty := decimal.NewFromInt(50)
	orderCtx := func() *Context { return At(serviceNow).WithOrderTotal(fifty) }

	t.Run("applies and consumes the last use", func(t *testing.T) {
		repo := &mockPromotionRepo{promotion: save10()}
		s := newTestService(t, repo)

		app, err := s.Apply(context.Background(), "SAVE10", orderCtx(), fifty)
		require.NoError(t, err)
		assert.Equal(t, "p-save10", app.PromotionID)
		assert.Equal(t, "SAVE10", app.Code)
		assert.True(t, decimal.NewFromInt(5).Equal(app.Discount), app.Discount.String())
		assert.True(t, decimal.NewFromInt(45).Equal(app.NewTotal), app.NewTotal.String())
		assert.Equal(t, 5, repo.usedCount())

		_, err = s.Apply(context.Background(), "SAVE10", orderCtx(), fifty)
		require.ErrorIs(t, err, ErrUsageLimitExceeded)
		assert.Equal(t, 1, repo.increments)
	})

	t.Run("fixed discount never goes below zero", func(t *testing.T) {
		p := save10()
		p.DiscountType = DiscountFixed
		p.DiscountValue = decimal.NewFromInt(80)
		repo := &mockPromotionRepo{promotion: p}
		s := newTestService(t, repo)

		app, err := s.Apply(context.Background(), "SAVE10", orderCtx(), fifty)
		require.NoError(t, err)
		assert.True(t, fifty.Equal(app.Discount))
		assert.True(t, app.NewTotal.IsZero())
	})

	tests := []struct {
		name    string
		mutate  func(p *Promotion)
		code    string
		wantErr error
	}{
		{name: "unknown code", code: "NOPE", wantErr: ErrPromotionNotFound},
		{name: "codes are case sensitive", code: "save10", wantErr: ErrPromotionNotFound},
		{name: "inactive", mutate: func(p *Promotion) { p.IsActive = false }, wantErr: ErrPromotionInactive},
		{name: "exhausted", mutate: func(p *Promotion) { p.UsedCount = 5 }, wantErr: ErrUsageLimitExceeded},
		{name: "no uses allowed", mutate: func(p *Promotion) { p.MaxUses, p.UsedCount = 0, 0 }, wantErr: ErrUsageLimitExceeded},
		{
			name: "usage is checked before the window",
			mutate: func(p *Promotion) {
				p.UsedCount = 5
				p.EndDate = serviceNow.Add(-time.Hour)
			},
			wantErr: ErrUsageLimitExceeded,
		},
		{name: "not started", mutate: func(p *Promotion) { p.StartDate = serviceNow.Add(time.Second) }, wantErr: ErrPromotionExpired},
		{name: "ended", mutate: func(p *Promotion) { p.EndDate = serviceNow.Add(-time.Second) }, wantErr: ErrPromotionExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := save10()
			if tt.mutate != nil {
				tt.mutate(p)
			}
			code := tt.code
			if code == "" {
				code = "SAVE10"
			}
			repo := &mockPromotionRepo{promotion: p}
			s := newTestService(t, repo)

			app, err := s.Apply(context.Background(), code, orderCtx(), fifty)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, app)
			assert.Zero(t, repo.increments)
		})
	}

	t.Run("window bounds are inclusive", func(t *testing.T) {
		p := save10()
		p.StartDate = serviceNow
		p.EndDate = serviceNow
		repo := &mockPromotionRepo{promotion: p}
		s := newTestService(t, repo)

		_, err := s.Apply(context.Background(), "SAVE10", orderCtx(), fifty)
		require.NoError(t, err)
	})

	t.Run("conditions not met", func(t *testing.T) {
		p := save10()
		p.Conditions = append(p.Conditions, Among(FieldUserGroup, OpIn, "vip"))
		repo := &mockPromotionRepo{promotion: p}
		s := newTestService(t, repo)

		ten := decimal.NewFromInt(10)
		_, err := s.Apply(context.Background(), "SAVE10", At(serviceNow).WithOrderTotal(ten).WithUserGroups("students"), ten)

		var notMet *ConditionsNotMetError
		require.ErrorAs(t, err, &notMet)
		require.Len(t, notMet.Unmet, 2)
		assert.Equal(t, FieldOrderTotal, notMet.Unmet[0].Field)
		assert.Equal(t, FieldUserGroup, notMet.Unmet[1].Field)
		assert.Zero(t, repo.increments)
		assert.Equal(t, 4, repo.usedCount())
	})

	t.Run("unsupported discount type", func(t *testing.T) {
		p := save10()
		p.DiscountType = "bogo"
		repo := &mockPromotionRepo{promotion: p}
		s := newTestService(t, repo)

		_, err := s.Apply(context.Background(), "SAVE10", orderCtx(), fifty)
		require.Error(t, err)
		assert.Zero(t, repo.increments)
	})

	t.Run("store failure on lookup", func(t *testing.T) {
		boom := errors.New("connection refused")
		repo := &mockPromotionRepo{promotion: save10(), findErr: boom}
		s := newTestService(t, repo)

		_, err := s.Apply(context.Background(), "SAVE10", orderCtx(), fifty)
		require.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, ErrPromotionNotFound)
	})

	t.Run("store failure on increment returns no discount", func(t *testing.T) {
		boom := errors.New("write timeout")
		repo := &mockPromotionRepo{promotion: save10(), incrementErr: boom}
		s := newTestService(t, repo)

		app, err := s.Apply(context.Background(), "SAVE10", orderCtx(), fifty)
		require.ErrorIs(t, err, boom)
		assert.Nil(t, app)
		assert.Equal(t, 1, repo.finds)
	})

	t.Run("canceled context", func(t *testing.T) {
		repo := &mockPromotionRepo{promotion: save10()}
		s := newTestService(t, repo)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := s.Apply(ctx, "SAVE10", orderCtx(), fifty)
		require.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, repo.finds)
	})
}

func TestService_Apply_LostRace(t *testing.T) {
	fifty := decimal.NewFromInt(50)

	t.Run("re-validates and succeeds", func(t *testing.T) {
		p := save10()
		p.UsedCount = 0
		repo := &mockPromotionRepo{promotion: p, results: []bool{false}}
		s := newTestService(t, repo)

		app, err := s.Apply(context.Background(), "SAVE10", At(serviceNow).WithOrderTotal(fifty), fifty)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(45).Equal(app.NewTotal))
		assert.Equal(t, 2, repo.finds)
		assert.Equal(t, 2, repo.increments)
	})

	t.Run("re-validation sees the cap", func(t *testing.T) {
		repo := &mockPromotionRepo{
			promotion:  save10(),
			results:    []bool{false},
			onConflict: func(p *Promotion) { p.UsedCount = p.MaxUses },
		}
		s := newTestService(t, repo)

		_, err := s.Apply(context.Background(), "SAVE10", At(serviceNow).WithOrderTotal(fifty), fifty)
		require.ErrorIs(t, err, ErrUsageLimitExceeded)
		assert.Equal(t, 2, repo.finds)
		assert.Equal(t, 1, repo.increments)
	})

	t.Run("re-validation sees deactivation", func(t *testing.T) {
		repo := &mockPromotionRepo{
			promotion:  save10(),
			results:    []bool{false},
			onConflict: func(p *Promotion) { p.IsActive = false },
		}
		s := newTestService(t, repo)

		_, err := s.Apply(context.Background(), "SAVE10", At(serviceNow).WithOrderTotal(fifty), fifty)
		require.ErrorIs(t, err, ErrPromotionInactive)
	})

	t.Run("attempts are bounded", func(t *testing.T) {
		repo := &mockPromotionRepo{promotion: save10(), results: []bool{false, false, false, false}}
		s := newTestService(t, repo, WithMaxAttempts(2))

		_, err := s.Apply(context.Background(), "SAVE10", At(serviceNow).WithOrderTotal(fifty), fifty)
		require.ErrorIs(t, err, ErrUsageLimitExceeded)
		assert.Equal(t, 2, repo.finds)
		assert.Equal(t, 2, repo.increments)
	})
}

func TestService_Apply_Concurrent(t *testing.T) {
	const workers = 32

	p := save10()
	p.MaxUses = 1
	p.UsedCount = 0
	repo := &mockPromotionRepo{promotion: p}
	s := newTestService(t, repo)

	var (
		mu       sync.Mutex
		applied  int
		rejected int
	)
	total := decimal.NewFromInt(100)
	g, ctx := errgroup.WithContext(context.Background())
	for range workers {
		g.Go(func() error {
			_, err := s.Apply(ctx, "SAVE10", At(serviceNow).WithOrderTotal(total), total)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				applied++
			case errors.Is(err, ErrUsageLimitExceeded):
				rejected++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, applied)
	assert.Equal(t, workers-1, rejected)
	assert.Equal(t, 1, repo.usedCount())
}

func TestService_Apply_LogsConfigurationErrors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := zctx.Base(context.Background(), zap.New(core))

	p := save10()
	p.Conditions = []Condition{
		Among(FieldDelivery, OpIn, "express"),
		Compare(FieldOrderTotal, OpGreaterThan, decimal.NewFromInt(100)),
	}
	s := newTestService(t, &mockPromotionRepo{promotion: p})

	fifty := decimal.NewFromInt(50)
	_, err := s.Apply(ctx, "SAVE10", At(serviceNow).WithOrderTotal(fifty), fifty)
	var notMet *ConditionsNotMetError
	require.ErrorAs(t, err, &notMet)

	warnings := logs.FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, warnings, 1, "only the malformed condition is logged as a warning")
	fields := warnings[0].ContextMap()
	assert.Equal(t, "delivery", fields["field"])
	assert.Equal(t, "p-save10", fields["promotion_id"])
	assert.Equal(t, "SAVE10", fields["promotion_code"])

	assert.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestService_Apply_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	repo := &mockPromotionRepo{promotion: save10()}
	s := newTestService(t, repo, WithMeterProvider(mp))

	fifty := decimal.NewFromInt(50)
	for range 2 {
		_, _ = s.Apply(context.Background(), "SAVE10", At(serviceNow).WithOrderTotal(fifty), fifty)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	outcomes := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "promotion.apply" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value("outcome")
				outcomes[v.AsString()] += dp.Value
			}
		}
	}
	assert.Equal(t, map[string]int64{"applied": 1, "usage_limit": 1}, outcomes)
}
