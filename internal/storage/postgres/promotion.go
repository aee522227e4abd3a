package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/promo-rules/internal/domain/promotion"
)

const (
	promotionColumns = `id::text, code, name, description, discount_type, discount_value,
		conditions, start_date, end_date, max_uses, used_count, is_active, created_at, updated_at`

	findPromotionByCodeSQL = `SELECT ` + promotionColumns + ` FROM promotions WHERE code = $1`

	findPromotionByIDSQL = `SELECT ` + promotionColumns + ` FROM promotions WHERE id = $1`

	listActivePromotionsSQL = `SELECT ` + promotionColumns + ` FROM promotions
		WHERE is_active = TRUE ORDER BY created_at DESC`

	insertPromotionSQL = `INSERT INTO promotions (id, code, name, description, discount_type,
		discount_value, conditions, start_date, end_date, max_uses, used_count, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`

	// The used_count < max_uses predicate makes the increment a single
	// compare-and-increment; zero affected rows means the cap was reached.
	incrementPromotionUsageSQL = `UPDATE promotions SET used_count = used_count + 1, updated_at = now()
		WHERE id = $1 AND used_count < max_uses`
)

const uniqueViolation = "23505"

var _ promotion.Store = (*PromotionRepository)(nil)

// PromotionRepository implements promotion.Store backed by PostgreSQL.
type PromotionRepository struct {
	pool *pgxpool.Pool
}

// NewPromotionRepository returns a PromotionRepository that uses the given pool.
func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

// FindByCode looks up a promotion by its exact, case-sensitive code.
// Returns promotion.ErrPromotionNotFound when no row matches.
func (r *PromotionRepository) FindByCode(ctx context.Context, code string) (*promotion.Promotion, error) {
	return r.findOne(ctx, findPromotionByCodeSQL, code)
}

// FindByID looks up a promotion by id. Ids that are not UUIDs cannot exist
// and are reported as not found without a round trip.
func (r *PromotionRepository) FindByID(ctx context.Context, id string) (*promotion.Promotion, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, promotion.ErrPromotionNotFound
	}
	return r.findOne(ctx, findPromotionByIDSQL, id)
}

func (r *PromotionRepository) findOne(ctx context.Context, query string, arg string) (*promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("finding promotion %q: %w", arg, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPromotion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promotion.ErrPromotionNotFound
		}
		return nil, fmt.Errorf("finding promotion %q: %w", arg, err)
	}
	return &p, nil
}

// ListActive returns all promotions whose kill-switch is on, newest first.
func (r *PromotionRepository) ListActive(ctx context.Context) ([]promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, listActivePromotionsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing active promotions: %w", err)
	}

	promotions, err := pgx.CollectRows(rows, scanPromotion)
	if err != nil {
		return nil, fmt.Errorf("listing active promotions: %w", err)
	}
	return promotions, nil
}

// Create inserts p, assigning a new id when p.ID is empty, and fills in
// the server-side timestamps.
func (r *PromotionRepository) Create(ctx context.Context, p *promotion.Promotion) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	var createdAt, updatedAt time.Time
	err := r.pool.QueryRow(ctx, insertPromotionSQL,
		p.ID, p.Code, p.Name, p.Description, string(p.DiscountType),
		p.DiscountValue, promotion.MarshalConditions(p.Conditions),
		p.StartDate, p.EndDate, p.MaxUses, p.UsedCount, p.IsActive,
	).Scan(&createdAt, &updatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return promotion.ErrDuplicateCode
		}
		return fmt.Errorf("creating promotion %q: %w", p.Code, err)
	}

	p.CreatedAt = createdAt
	p.UpdatedAt = updatedAt
	return nil
}

// IncrementUsage atomically consumes one use of the promotion if any are left.
func (r *PromotionRepository) IncrementUsage(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	tag, err := r.pool.Exec(ctx, incrementPromotionUsageSQL, id)
	if err != nil {
		return false, fmt.Errorf("incrementing usage for promotion %q: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanPromotion(row pgx.CollectableRow) (promotion.Promotion, error) {
	var (
		p            promotion.Promotion
		discountType string
		conditions   []byte
	)
	err := row.Scan(
		&p.ID, &p.Code, &p.Name, &p.Description, &discountType, &p.DiscountValue,
		&conditions, &p.StartDate, &p.EndDate, &p.MaxUses, &p.UsedCount, &p.IsActive,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return p, err
	}
	p.DiscountType = promotion.DiscountType(discountType)

	p.Conditions, err = promotion.UnmarshalConditions(conditions)
	if err != nil {
		return p, errors.Wrapf(err, "decode conditions of promotion %s", p.ID)
	}
	return p, nil
}
