package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"kasirstok/backend/internal/logger"
)

type Config struct {
	AppEnv        string `envconfig:"APP_ENV" default:"development"`
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat     string `envconfig:"LOG_FORMAT"`

	DatabaseURL   string        `envconfig:"DATABASE_URL"`
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	CartTTL       time.Duration `envconfig:"CART_TTL" default:"12h"`

	AuthSecret     string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTL time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`

	BarcodeMaxAttempts      int   `envconfig:"BARCODE_MAX_ATTEMPTS" default:"32"`
	PriceRoundingStep       int64 `envconfig:"PRICE_ROUNDING_STEP" default:"100"`
	StrictLedger            bool  `envconfig:"STRICT_LEDGER" default:"false"`
	RestoreBulkBarcodeUnits bool  `envconfig:"RESTORE_BULK_BARCODE_UNITS" default:"false"`

	ExpirySweepCron   string        `envconfig:"EXPIRY_SWEEP_CRON" default:"5 0 * * *"`
	InactivePurgeCron string        `envconfig:"INACTIVE_PURGE_CRON"`
	SweepTimeout      time.Duration `envconfig:"SWEEP_TIMEOUT" default:"2m"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	if cfg.BarcodeMaxAttempts < 1 {
		cfg.BarcodeMaxAttempts = 32
	}
	if cfg.PriceRoundingStep < 1 {
		cfg.PriceRoundingStep = 1
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Logger returns the logger settings: JSON in production unless LOG_FORMAT says otherwise.
func (c Config) Logger() logger.Config {
	cfg := logger.DefaultConfig()
	if c.IsProduction() {
		cfg = logger.ProductionConfig()
	}
	cfg.Level = c.LogLevel
	if format := strings.ToLower(strings.TrimSpace(c.LogFormat)); format != "" {
		cfg.Format = format
	}
	return cfg
}

func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}
