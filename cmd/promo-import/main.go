// Command promo-import loads promotions from *.ndjson.gz dumps into the
// configured store.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	appkg "github.com/xenking/promo-rules/internal/app"
	"github.com/xenking/promo-rules/internal/importer"
	"github.com/xenking/promo-rules/pkg/health"
)

func main() {
	var (
		dataDir string
		cfg     appkg.Config
	)
	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.ndjson.gz promotion dumps")
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

	if err := run(ctx, lg, dataDir, &cfg); err != nil {
		lg.Error("Promotion import failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, lg *zap.Logger, dataDir string, cfg *appkg.Config) error {
	if cfg.Storage.Driver == appkg.DriverMemory {
		return errors.New("importing into the memory store has no effect")
	}
	cfg.Promotions = appkg.PromotionsConfig{Timezone: "UTC", MaxAttempts: 1}
	if err := cfg.Validate(); err != nil {
		return err
	}

	files, err := filepath.Glob(filepath.Join(dataDir, "*.ndjson.gz"))
	if err != nil {
		return errors.Wrap(err, "list dumps")
	}
	if len(files) == 0 {
		lg.Info("No dumps found", zap.String("dir", dataDir))
		return nil
	}

	st, err := appkg.OpenStores(ctx, cfg, health.New())
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	defer st.Close()

	stats, err := importer.New(st.Promotions, lg).Run(ctx, files)
	if err != nil {
		return err
	}
	lg.Info("Promotion import completed",
		zap.Int("files", len(files)),
		zap.Int("read", stats.Read),
		zap.Int("created", stats.Created),
		zap.Int("existing", stats.Existing),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("invalid", stats.Invalid),
	)
	return nil
}
