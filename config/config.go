/*
Package config loads server configuration.

SOURCES (later wins):
  1. Defaults below
  2. config.yaml in ., ./config or /etc/franchise-billing
  3. .env file (loaded into the process environment)
  4. BILLING_* environment variables, e.g. BILLING_SERVER_PORT,
     BILLING_DATABASE_PATH, BILLING_BILLING_LATE_FEE_RATE
  5. Command-line flags applied by cmd/server
*/
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/warp/franchise-billing/billing"
)

type Configuration struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Logging  LoggingConfig  `mapstructure:"logging" validate:"required"`
	Billing  BillingConfig  `mapstructure:"billing" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port" validate:"min=1,max=65535"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

type BillingConfig struct {
	LateFeeRate       float64       `mapstructure:"late_fee_rate" validate:"gte=0,lte=1"`
	GracePeriodDays   int           `mapstructure:"grace_period_days" validate:"gte=0"`
	Workers           int           `mapstructure:"workers" validate:"min=1,max=64"`
	SchedulerInterval time.Duration `mapstructure:"scheduler_interval" validate:"min=1s"`
	ConfigCacheTTL    time.Duration `mapstructure:"config_cache_ttl"`
}

// RedisConfig enables the distributed sweep lock. An empty address keeps
// the single-node locker.
type RedisConfig struct {
	Address string        `mapstructure:"address"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("database.path", "./data/billing.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("billing.late_fee_rate", 0.05)
	v.SetDefault("billing.grace_period_days", 15)
	v.SetDefault("billing.workers", 4)
	v.SetDefault("billing.scheduler_interval", "1h")
	v.SetDefault("billing.config_cache_ttl", "1m")
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.lock_ttl", "10m")
}

// NewConfig loads configuration from defaults, files and the environment.
func NewConfig(configPaths ...string) (*Configuration, error) {
	// A missing .env file is normal outside development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(configPaths) == 0 {
		configPaths = []string{".", "./config", "/etc/franchise-billing"}
	}
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("BILLING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c Configuration) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

// Policy returns the default billing policy for franchises without overrides.
func (c BillingConfig) Policy() billing.Policy {
	return billing.Policy{
		LateFeeRate:     decimal.NewFromFloat(c.LateFeeRate),
		GracePeriodDays: c.GracePeriodDays,
	}
}
