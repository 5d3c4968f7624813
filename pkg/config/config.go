// Package config loads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

type Config struct {
	DB       Database
	HTTPAddr string `env:"HTTP_ADDR,default=:8070"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=text"`

	// Ledger bootstrap. Controller and beneficiary are only used by the
	// first initialization; later changes go through the admin endpoints.
	Controller  string `env:"CONTROLLER_ADDRESS"`
	Beneficiary string `env:"BENEFICIARY_ADDRESS"`
	FeeRate     uint16 `env:"FEE_RATE_BPS,default=0"`
	Escrow      string `env:"ESCROW_ADDRESS"`
	MaxBatch    int    `env:"MAX_BATCH,default=50"`
	OpenClaims  bool   `env:"OPEN_COLLATERAL_CLAIMS,default=false"`

	Keeper Keeper

	JWTSecret string  `env:"JWT_SECRET"`
	RateLimit float64 `env:"RATE_LIMIT_RPS,default=20"`
	RateBurst int     `env:"RATE_LIMIT_BURST,default=40"`
	DevMode   bool    `env:"DEV_MODE,default=false"`
}

type Database struct {
	Driver     string        `env:"DB_DRIVER,default=postgres"`
	Host       string        `env:"DB_HOST,default=postgres"`
	Port       string        `env:"DB_PORT,default=5432"`
	User       string        `env:"DB_USER,default=program"`
	Password   string        `env:"DB_PASSWORD,default=test"`
	Name       string        `env:"DB_NAME,default=renft"`
	SQLitePath string        `env:"SQLITE_PATH,default=renft.db"`
	MaxRetries int           `env:"DB_MAX_RETRIES,default=10"`
	RetryDelay time.Duration `env:"DB_RETRY_DELAY,default=5s"`
}

type Keeper struct {
	Enabled   bool   `env:"KEEPER_ENABLED,default=false"`
	Schedule  string `env:"KEEPER_SCHEDULE,default=@every 1m"`
	RedisAddr string `env:"REDIS_ADDR"`
	RedisKey  string `env:"REDIS_QUEUE_KEY,default=renft:due"`
	// Consecutive keeper failures tolerated before the breaker opens.
	MaxFailures  int           `env:"KEEPER_MAX_FAILURES,default=5"`
	BreakerReset time.Duration `env:"KEEPER_BREAKER_RESET,default=2m"`
}

// Load reads envFile when it exists and decodes the environment.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, err
			}
		}
	}
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, err
	}
	return &cfg, nil
}
