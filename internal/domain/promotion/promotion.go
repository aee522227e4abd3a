package promotion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported promotion discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes DiscountValue percent off the order total.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount off, capped at the order total.
	DiscountFixed DiscountType = "fixed"
)

var (
	// ErrPromotionNotFound is returned when no promotion exists for a code or id.
	ErrPromotionNotFound = errors.New("promotion not found")
	// ErrPromotionInactive is returned when the promotion exists but its
	// kill-switch is off. It matches ErrPromotionNotFound with errors.Is.
	ErrPromotionInactive error = inactiveError{}
	// ErrPromotionExpired is returned when the current time is outside the
	// promotion's [StartDate, EndDate] window.
	ErrPromotionExpired = errors.New("promotion expired")
	// ErrUsageLimitExceeded is returned when UsedCount has reached MaxUses.
	ErrUsageLimitExceeded = errors.New("promotion usage limit reached")
	// ErrDuplicateCode is returned by Store.Create when the code is taken.
	ErrDuplicateCode = errors.New("promotion code already exists")
)

type inactiveError struct{}

func (inactiveError) Error() string { return "promotion inactive" }

func (inactiveError) Is(target error) bool { return target == ErrPromotionNotFound }

// Promotion is a discount offer identified by a redemption code.
type Promotion struct {
	ID            string
	Code          string
	Name          string
	Description   string
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	Conditions    []Condition
	StartDate     time.Time
	EndDate       time.Time
	MaxUses       int
	UsedCount     int
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// InWindow reports whether t lies within the inclusive validity window.
func (p *Promotion) InWindow(t time.Time) bool {
	return !t.Before(p.StartDate) && !t.After(p.EndDate)
}

// Exhausted reports whether the lifetime usage cap has been reached.
func (p *Promotion) Exhausted() bool {
	return p.UsedCount >= p.MaxUses
}

// Usable reports whether the promotion may be applied at t, ignoring its
// conditions.
func (p *Promotion) Usable(t time.Time) bool {
	return p.IsActive && p.InWindow(t) && !p.Exhausted()
}

// Check validates administrative input: discount bounds, window ordering,
// usage cap and the static shape of every condition. The checks are the
// ones the evaluator would otherwise only report at apply time.
func (p *Promotion) Check() error {
	var problems []string
	if strings.TrimSpace(p.Name) == "" {
		problems = append(problems, "name is required")
	}
	switch p.DiscountType {
	case DiscountPercentage:
		if p.DiscountValue.IsNegative() || p.DiscountValue.GreaterThan(hundred) {
			problems = append(problems, "percentage discount must be between 0 and 100")
		}
	case DiscountFixed:
		if p.DiscountValue.IsNegative() {
			problems = append(problems, "fixed discount must not be negative")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported discount type %q", p.DiscountType))
	}
	if p.EndDate.Before(p.StartDate) {
		problems = append(problems, "end date is before start date")
	}
	if p.MaxUses < 0 {
		problems = append(problems, "max uses must not be negative")
	}
	for i, c := range p.Conditions {
		if err := c.Check(); err != nil {
			problems = append(problems, fmt.Sprintf("condition %d: %s", i, err))
		}
	}
	if len(problems) > 0 {
		return &InvalidPromotionError{Problems: problems}
	}
	return nil
}

// InvalidPromotionError lists every problem found by Promotion.Check.
type InvalidPromotionError struct {
	Problems []string
}

func (e *InvalidPromotionError) Error() string {
	return "invalid promotion: " + strings.Join(e.Problems, "; ")
}

// Repository is the narrow store boundary the Service depends on.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Promotion, error)
	// IncrementUsage adds one use only if UsedCount < MaxUses at the moment
	// of the write. It reports false when the cap was already reached.
	IncrementUsage(ctx context.Context, id string) (bool, error)
}

// Store extends Repository with the administrative and read operations
// served by the HTTP API.
type Store interface {
	Repository
	FindByID(ctx context.Context, id string) (*Promotion, error)
	ListActive(ctx context.Context) ([]Promotion, error)
	Create(ctx context.Context, p *Promotion) error
}
