package config

import (
	"net"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

type Config struct {
	DBSource      string
	Port          string
	Env           string
	StoreDriver   string
	MongoURI      string
	MongoDatabase string
	LogLevel      string

	OverdueThreshold     decimal.Decimal
	OverdueSweepInterval time.Duration
	TxMaxRetries         int

	RateLimitAttempts int
	RateLimitWindow   time.Duration
	// TrustedProxies lists the addresses or CIDR ranges whose X-Forwarded-For
	// header is believed when identifying clients.
	TrustedProxies []string
}

// Load reads configuration from the environment. A .env.<environment> file in
// the working directory, when present, is loaded first; variables already set
// in the process environment win.
func Load() (*Config, error) {
	v := viper.New()
	v.SetTypeByDefaultValue(true)
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("STORE_DRIVER", DriverPostgres)
	v.SetDefault("MONGO_DATABASE", "feeledger")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("OVERDUE_THRESHOLD", "1000")
	v.SetDefault("OVERDUE_SWEEP_INTERVAL", time.Hour)
	v.SetDefault("TX_MAX_RETRIES", 5)
	v.SetDefault("RATE_LIMIT_ATTEMPTS", 5)
	v.SetDefault("RATE_LIMIT_WINDOW", 15*time.Minute)
	for _, key := range []string{"DB_SOURCE", "MONGO_URI", "TRUSTED_PROXIES"} {
		v.SetDefault(key, "")
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	dotEnv := ".env." + strings.ToLower(env)
	if _, err := os.Stat(dotEnv); err == nil {
		if err := godotenv.Load(dotEnv); err != nil {
			return nil, errors.Wrapf(err, "load %s", dotEnv)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "stat %s", dotEnv)
	}
	v.AutomaticEnv()

	threshold, err := decimal.NewFromString(v.GetString("OVERDUE_THRESHOLD"))
	if err != nil {
		return nil, errors.Wrap(err, "OVERDUE_THRESHOLD must be a number")
	}

	cfg := &Config{
		DBSource:             v.GetString("DB_SOURCE"),
		Port:                 v.GetString("SERVER_PORT"),
		Env:                  v.GetString("ENVIRONMENT"),
		StoreDriver:          strings.ToLower(v.GetString("STORE_DRIVER")),
		MongoURI:             v.GetString("MONGO_URI"),
		MongoDatabase:        v.GetString("MONGO_DATABASE"),
		LogLevel:             v.GetString("LOG_LEVEL"),
		OverdueThreshold:     threshold,
		OverdueSweepInterval: v.GetDuration("OVERDUE_SWEEP_INTERVAL"),
		TxMaxRetries:         v.GetInt("TX_MAX_RETRIES"),
		RateLimitAttempts:    v.GetInt("RATE_LIMIT_ATTEMPTS"),
		RateLimitWindow:      v.GetDuration("RATE_LIMIT_WINDOW"),
		TrustedProxies:       splitList(v.GetString("TRUSTED_PROXIES")),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DBSource == "" {
			return errors.New("DB_SOURCE environment variable is required")
		}
	case DriverMongo:
		if c.MongoURI == "" {
			return errors.New("MONGO_URI environment variable is required")
		}
	case DriverMemory:
	default:
		return errors.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.OverdueThreshold.IsNegative() {
		return errors.New("OVERDUE_THRESHOLD must not be negative")
	}
	if c.OverdueSweepInterval <= 0 {
		return errors.New("OVERDUE_SWEEP_INTERVAL must be positive")
	}
	if c.TxMaxRetries < 1 {
		return errors.New("TX_MAX_RETRIES must be at least 1")
	}
	if c.RateLimitAttempts > 0 && c.RateLimitWindow <= 0 {
		return errors.New("RATE_LIMIT_WINDOW must be positive when rate limiting is on")
	}
	for _, p := range c.TrustedProxies {
		if net.ParseIP(p) == nil {
			if _, _, err := net.ParseCIDR(p); err != nil {
				return errors.Errorf("TRUSTED_PROXIES: %q is not an address or CIDR range", p)
			}
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
