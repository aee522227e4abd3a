package app

import (
	"os"
	"time"
	_ "time/tzdata"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:8080"

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Config holds the complete application configuration, loadable from
// environment variables (PROMO_ prefix), flags, or YAML config files.
type Config struct {
	Addr       string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Storage    StorageConfig
	Redis      RedisConfig
	Promotions PromotionsConfig
	Admin      AdminConfig
	RateLimit  RateLimitConfig
	CORS       CORSConfig
	Graceful   GracefulConfig
}

// StorageConfig selects and configures the promotion store.
type StorageConfig struct {
	Driver        string `default:"postgres" usage:"Promotion store: postgres, mongo or memory"`
	DatabaseURL   string `usage:"PostgreSQL connection URL (PROMO_STORAGE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	MongoURI      string `usage:"MongoDB connection URI (PROMO_STORAGE_MONGO_URI or MONGODB_URI)" flag:"mongo-uri"`
	MongoDatabase string `default:"promotions" usage:"MongoDB database name" flag:"mongo-database"`
}

// RedisConfig enables the promotion cache when Addr is set.
type RedisConfig struct {
	Addr     string        `usage:"Redis address or redis:// URL (PROMO_REDIS_ADDR or REDIS_URL); empty disables caching"`
	Password string        `usage:"Redis password"`
	DB       int           `default:"0" usage:"Redis database number"`
	TTL      time.Duration `default:"5m" usage:"Cached promotion lifetime"`
}

// PromotionsConfig tunes promotion evaluation.
type PromotionsConfig struct {
	Timezone    string `default:"UTC" usage:"IANA zone for day-of-week and hour conditions"`
	MaxAttempts int    `default:"3" usage:"Apply re-validations after losing a usage race"`
}

// Location resolves Timezone.
func (c PromotionsConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "load timezone %q", c.Timezone)
	}
	return loc, nil
}

// AdminConfig authenticates the admin API. KeyHashes are hex
// HMAC-SHA256 digests of the accepted keys under KeyPepper.
type AdminConfig struct {
	KeyPepper string   `usage:"HMAC pepper for admin API key hashing" flag:"admin-key-pepper"`
	KeyHashes []string `usage:"Accepted admin API key hashes" flag:"admin-key-hashes"`
}

// RateLimitConfig controls the per-client token bucket.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins []string `default:"http://localhost:5000" usage:"Allowed CORS origins"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, flags and YAML
// config files, then applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return load(aconfig.Config{})
}

func load(base aconfig.Config) (*Config, error) {
	base.EnvPrefix = "PROMO"
	base.Files = []string{"config.yaml", "/etc/promo/config.yaml"}
	base.FileDecoders = map[string]aconfig.FileDecoder{
		".yaml": aconfigyaml.New(),
	}

	var cfg Config
	if err := aconfig.LoaderFor(&cfg, base).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the selected driver is configured.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return errors.New("database URL is required: set PROMO_STORAGE_DATABASE_URL or DATABASE_URL")
		}
	case DriverMongo:
		if c.Storage.MongoURI == "" {
			return errors.New("mongo URI is required: set PROMO_STORAGE_MONGO_URI or MONGODB_URI")
		}
	case DriverMemory:
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if _, err := c.Promotions.Location(); err != nil {
		return err
	}
	if c.Promotions.MaxAttempts < 1 {
		return errors.New("promotions max attempts must be at least 1")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided variables with standard
// names (DATABASE_URL, MONGODB_URI, REDIS_URL, PORT) onto the config.
func (c *Config) applyPlatformDefaults() {
	fallback := func(dst *string, env string) {
		if *dst != "" {
			return
		}
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	fallback(&c.Storage.DatabaseURL, "DATABASE_URL")
	fallback(&c.Storage.MongoURI, "MONGODB_URI")
	fallback(&c.Redis.Addr, "REDIS_URL")

	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
