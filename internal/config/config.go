package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Storage backends selectable with STORE.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Port                 string        `mapstructure:"PORT"`
	Env                  string        `mapstructure:"ENV"`
	Store                string        `mapstructure:"STORE"`
	DatabaseURL          string        `mapstructure:"DATABASE_URL"`
	DBMaxConns           int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns           int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL             string        `mapstructure:"REDIS_URL"`
	SlotCacheTTL         time.Duration `mapstructure:"SLOT_CACHE_TTL"`
	AuthIssuer           string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience         string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey       string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins          []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS         float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst       int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout       time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	StoreTimeout         time.Duration `mapstructure:"STORE_TIMEOUT"`
	PractitionerTimezone string        `mapstructure:"PRACTITIONER_TIMEZONE"`
	CalendarHorizonDays  int           `mapstructure:"CALENDAR_HORIZON_DAYS"`
}

var keys = []string{
	"PORT", "ENV", "STORE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "SLOT_CACHE_TTL", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"AUTH_SIGNING_KEY", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"REQUEST_TIMEOUT", "STORE_TIMEOUT", "PRACTITIONER_TIMEZONE",
	"CALENDAR_HORIZON_DAYS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE", StorePostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("SLOT_CACHE_TTL", "5m")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("STORE_TIMEOUT", "5s")
	v.SetDefault("PRACTITIONER_TIMEZONE", "America/Sao_Paulo")
	v.SetDefault("CALENDAR_HORIZON_DAYS", 60)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if origins := v.GetString("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))

	if cfg.Store == StorePostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when STORE=%s", StorePostgres)
	}

	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		log.Warn().Msg("development mode without AUTH_SIGNING_KEY: every request is treated as an admin unless X-Dev-User/X-Dev-Roles say otherwise")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// DevAuth reports whether requests bypass JWT verification.
func (c *Config) DevAuth() bool {
	return c.IsDev() && c.AuthSigningKey == ""
}

// Validate checks cross-field constraints that Load does not.
func (c *Config) Validate() error {
	if c.Store != StorePostgres && c.Store != StoreMemory {
		return fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY must be set outside development (current ENV=%q)", c.Env)
	}
	if !c.IsDev() && c.Store == StoreMemory {
		return fmt.Errorf("STORE=%s is only allowed in development", StoreMemory)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey))
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive, got %s", c.StoreTimeout)
	}
	if c.RequestTimeout > 0 && c.RequestTimeout < c.StoreTimeout {
		return fmt.Errorf("REQUEST_TIMEOUT (%s) must not be shorter than STORE_TIMEOUT (%s)", c.RequestTimeout, c.StoreTimeout)
	}
	if c.CalendarHorizonDays < 1 || c.CalendarHorizonDays > 366 {
		return fmt.Errorf("CALENDAR_HORIZON_DAYS must be between 1 and 366, got %d", c.CalendarHorizonDays)
	}
	if _, err := time.LoadLocation(c.PractitionerTimezone); err != nil {
		return fmt.Errorf("PRACTITIONER_TIMEZONE %q: %w", c.PractitionerTimezone, err)
	}
	return nil
}
