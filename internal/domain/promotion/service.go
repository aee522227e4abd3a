package promotion

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const (
	instrumentationName = "github.com/xenking/promo-rules/internal/domain/promotion"
	defaultMaxAttempts  = 3
)

// Application is the outcome of a successful Apply.
type Application struct {
	PromotionID string
	Code        string
	Discount    decimal.Decimal
	NewTotal    decimal.Decimal
}

// Applier applies a promotion code to an order.
type Applier interface {
	Apply(ctx context.Context, code string, ec *Context, orderTotal decimal.Decimal) (*Application, error)
}

var _ Applier = (*Service)(nil)

// Service orchestrates a single promotion application: lookup, usage and
// window checks, condition evaluation, discount calculation and the
// conditional usage increment. It is the only component with side effects.
type Service struct {
	repo        Repository
	now         func() time.Time
	maxAttempts int

	tracer    trace.Tracer
	applies   metric.Int64Counter
	conflicts metric.Int64Counter
}

type options struct {
	now         func() time.Time
	maxAttempts int
	meters      metric.MeterProvider
	tracers     trace.TracerProvider
}

// Option configures a Service.
type Option func(*options)

// WithClock overrides the time source used for the validity window.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMaxAttempts bounds how many times Apply re-runs after losing a usage
// increment race.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithMeterProvider sets the provider for apply outcome counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meters = mp }
}

// WithTracerProvider sets the provider for apply spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracers = tp }
}

// NewService creates a Service backed by the given Repository.
func NewService(repo Repository, opts ...Option) (*Service, error) {
	o := options{
		now:         time.Now,
		maxAttempts: defaultMaxAttempts,
		meters:      metricnoop.NewMeterProvider(),
		tracers:     tracenoop.NewTracerProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	meter := o.meters.Meter(instrumentationName)
	applies, err := meter.Int64Counter("promotion.apply",
		metric.WithDescription("Promotion apply attempts by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create apply counter")
	}
	conflicts, err := meter.Int64Counter("promotion.usage_conflicts",
		metric.WithDescription("Usage increments lost to a concurrent apply"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create conflict counter")
	}

	return &Service{
		repo:        repo,
		now:         o.now,
		maxAttempts: o.maxAttempts,
		tracer:      o.tracers.Tracer(instrumentationName),
		applies:     applies,
		conflicts:   conflicts,
	}, nil
}

// Apply looks up the promotion for code, checks that it is active, has
// uses left and is inside its validity window, evaluates its conditions
// against ec, and on success consumes one use and returns the discount.
//
// Apply is all-or-nothing: when the usage increment fails no discount is
// returned. A lost increment race restarts the flow from the lookup.
func (s *Service) Apply(ctx context.Context, code string, ec *Context, orderTotal decimal.Decimal) (*Application, error) {
	ctx, span := s.tracer.Start(ctx, "promotion.Apply",
		trace.WithAttributes(attribute.String("promotion.code", code)),
	)
	defer span.End()

	app, err := s.apply(ctx, code, ec, orderTotal)
	outcome := outcomeOf(err)
	s.applies.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	span.SetAttributes(attribute.String("promotion.outcome", outcome))
	if outcome == "error" {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return app, err
}

func (s *Service) apply(ctx context.Context, code string, ec *Context, orderTotal decimal.Decimal) (*Application, error) {
	lg := zctx.From(ctx).With(zap.String("promotion_code", code))

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p, err := s.lookup(ctx, code)
		if err != nil {
			return nil, err
		}
		if p.Exhausted() {
			return nil, ErrUsageLimitExceeded
		}
		if !p.InWindow(s.now()) {
			return nil, ErrPromotionExpired
		}

		res := Validate(p, ec)
		if !res.Valid {
			for _, u := range res.Unmet {
				if u.Err != nil && IsConfigurationError(u.Err) {
					lg.Warn("Malformed promotion condition",
						zap.String("promotion_id", p.ID),
						zap.String("field", string(u.Field)),
						zap.Error(u.Err),
					)
				}
			}
			lg.Debug("Promotion conditions not met", zap.Int("unmet", len(res.Unmet)))
			return nil, &ConditionsNotMetError{Unmet: res.Unmet}
		}

		if p.DiscountType != DiscountPercentage && p.DiscountType != DiscountFixed {
			return nil, errors.Errorf("promotion %s: unsupported discount type %q", p.ID, p.DiscountType)
		}
		discount := Calculate(p, orderTotal)

		ok, err := s.repo.IncrementUsage(ctx, p.ID)
		if err != nil {
			return nil, errors.Wrap(err, "increment promotion usage")
		}
		if !ok {
			s.conflicts.Add(ctx, 1)
			lg.Debug("Usage increment lost race, re-validating", zap.Int("attempt", attempt))
			continue
		}

		return &Application{
			PromotionID: p.ID,
			Code:        p.Code,
			Discount:    discount,
			NewTotal:    floorAtZero(orderTotal).Sub(discount),
		}, nil
	}

	// The conditional increment only fails once the cap is reached.
	return nil, ErrUsageLimitExceeded
}

func (s *Service) lookup(ctx context.Context, code string) (*Promotion, error) {
	p, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrPromotionNotFound) {
			return nil, ErrPromotionNotFound
		}
		return nil, errors.Wrap(err, "lookup promotion")
	}
	if p == nil {
		return nil, ErrPromotionNotFound
	}
	if !p.IsActive {
		return nil, ErrPromotionInactive
	}
	return p, nil
}

func outcomeOf(err error) string {
	var notMet *ConditionsNotMetError
	switch {
	case err == nil:
		return "applied"
	case errors.Is(err, ErrPromotionInactive):
		return "inactive"
	case errors.Is(err, ErrPromotionNotFound):
		return "not_found"
	case errors.Is(err, ErrUsageLimitExceeded):
		return "usage_limit"
	case errors.Is(err, ErrPromotionExpired):
		return "expired"
	case errors.As(err, &notMet):
		return "conditions_not_met"
	default:
		return "error"
	}
}
