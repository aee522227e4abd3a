// Command seed-db creates demo customers and promotions in the configured
// store so the API can be exercised locally.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	appkg "github.com/xenking/promo-rules/internal/app"
	"github.com/xenking/promo-rules/internal/domain/customer"
	"github.com/xenking/promo-rules/internal/domain/promotion"
	"github.com/xenking/promo-rules/pkg/health"
)

func main() {
	var cfg appkg.Config
	flag.StringVar(&cfg.Storage.Driver, "driver", appkg.DriverPostgres, "target store: postgres or mongo")
	flag.StringVar(&cfg.Storage.DatabaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection URL")
	flag.StringVar(&cfg.Storage.MongoURI, "mongo-uri", os.Getenv("MONGODB_URI"), "MongoDB connection URI")
	flag.StringVar(&cfg.Storage.MongoDatabase, "mongo-database", "promotions", "MongoDB database name")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	if err := run(ctx, lg, &cfg); err != nil {
		lg.Error("Seed failed", zap.Error(err))
		os.Exit(1)
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, cfg *appkg.Config) error {
	if cfg.Storage.Driver == appkg.DriverMemory {
		return errors.New("seeding the memory store has no effect")
	}
	cfg.Promotions = appkg.PromotionsConfig{Timezone: "UTC", MaxAttempts: 1}
	if err := cfg.Validate(); err != nil {
		return err
	}

	st, err := appkg.OpenStores(ctx, cfg, health.New())
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	defer st.Close()

	if err := seedCustomers(ctx, lg, st.Customers); err != nil {
		return errors.Wrap(err, "seed customers")
	}
	if err := seedPromotions(ctx, lg, st.Promotions, time.Now().UTC()); err != nil {
		return errors.Wrap(err, "seed promotions")
	}
	return nil
}

func demoCustomers() []*customer.Customer {
	return []*customer.Customer{
		{TotalOrders: 0},
		{TotalOrders: 4, Groups: []string{"students"}},
		{TotalOrders: 12, Groups: []string{"vip"}},
	}
}

func seedCustomers(ctx context.Context, lg *zap.Logger, store customer.Store) error {
	for _, c := range demoCustomers() {
		if err := store.Upsert(ctx, c); err != nil {
			return err
		}
		lg.Info("Seeded customer",
			zap.String("id", c.ID),
			zap.Int("total_orders", c.TotalOrders),
			zap.Strings("groups", c.Groups),
		)
	}
	return nil
}

// demoPromotions returns promotions valid for a year starting at now.
func demoPromotions(now time.Time) []*promotion.Promotion {
	start := now.Truncate(24 * time.Hour)
	end := start.AddDate(1, 0, 0)

	promotions := []*promotion.Promotion{
		{
			Code:          "SAVE10",
			Name:          "Save 10%",
			Description:   "10% off orders over 20",
			DiscountType:  promotion.DiscountPercentage,
			DiscountValue: decimal.NewFromInt(10),
			Conditions: []promotion.Condition{
				promotion.Compare(promotion.FieldOrderTotal, promotion.OpGreaterThan, decimal.NewFromInt(20)),
			},
			MaxUses: 1000,
		},
		{
			Code:          "WELCOME",
			Name:          "Welcome",
			Description:   "5 off the first order",
			DiscountType:  promotion.DiscountFixed,
			DiscountValue: decimal.NewFromInt(5),
			Conditions:    []promotion.Condition{promotion.FirstOrderOnly()},
			MaxUses:       10000,
		},
		{
			Code:          "PIZZAWEEKEND",
			Name:          "Pizza weekend",
			Description:   "15% off pizza orders on weekends",
			DiscountType:  promotion.DiscountPercentage,
			DiscountValue: decimal.NewFromInt(15),
			Conditions: []promotion.Condition{
				promotion.Among(promotion.FieldDayOfWeek, promotion.OpIn, "Saturday", "Sunday"),
				promotion.Among(promotion.FieldCategory, promotion.OpIn, "pizza"),
			},
			MaxUses: 500,
		},
		{
			Code:          "LUNCHCOMBO",
			Name:          "Lunch combo",
			Description:   "3 off a main and a drink at lunch time",
			DiscountType:  promotion.DiscountFixed,
			DiscountValue: decimal.NewFromInt(3),
			Conditions: []promotion.Condition{
				promotion.AtHours(promotion.OpIn, 11, 12, 13),
				promotion.Among(promotion.FieldCategory, promotion.OpAll, "mains", "drinks"),
				promotion.Compare(promotion.FieldItemCount, promotion.OpGreaterOrEqual, decimal.NewFromInt(2)),
			},
			MaxUses: 2000,
		},
		{
			Code:          "STUDENT20",
			Name:          "Student deal",
			Description:   "20% off for students and VIPs",
			DiscountType:  promotion.DiscountPercentage,
			DiscountValue: decimal.NewFromInt(20),
			Conditions: []promotion.Condition{
				promotion.Among(promotion.FieldUserGroup, promotion.OpIn, "students", "vip"),
			},
			MaxUses: 300,
		},
	}
	for _, p := range promotions {
		p.StartDate, p.EndDate = start, end
		p.IsActive = true
	}
	return promotions
}

func seedPromotions(ctx context.Context, lg *zap.Logger, store promotion.Store, now time.Time) error {
	for _, p := range demoPromotions(now) {
		if err := p.Check(); err != nil {
			return errors.Wrapf(err, "promotion %s", p.Code)
		}
		err := store.Create(ctx, p)
		switch {
		case errors.Is(err, promotion.ErrDuplicateCode):
			lg.Info("Promotion already exists", zap.String("code", p.Code))
		case err != nil:
			return errors.Wrapf(err, "create promotion %s", p.Code)
		default:
			lg.Info("Seeded promotion", zap.String("code", p.Code), zap.String("id", p.ID))
		}
	}
	return nil
}
