package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rehabsim/scheduler/internal/platform/scheduling"
)

// AnchorLayout is the accepted format of CYCLE_ANCHOR.
const AnchorLayout = "2006-01-02"

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	DefaultCohort     string        `mapstructure:"DEFAULT_COHORT"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	AuthSigningKey    string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer        string        `mapstructure:"AUTH_ISSUER"`
	SchedulingTZ      string        `mapstructure:"SCHEDULING_TZ"`
	CycleAnchor       string        `mapstructure:"CYCLE_ANCHOR"`
	DailyCap          int           `mapstructure:"DAILY_CAP"`
	WeeklyCap         int           `mapstructure:"WEEKLY_CAP"`
	AXWeeklyCap       int           `mapstructure:"AX_WEEKLY_CAP"`
	SPWeeklyCap       int           `mapstructure:"SP_WEEKLY_CAP"`
	SearchHorizonDays int           `mapstructure:"SEARCH_HORIZON_DAYS"`
	LockTTL           time.Duration `mapstructure:"LOCK_TTL"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"DEFAULT_COHORT", "CORS_ORIGINS", "AUTH_SIGNING_KEY", "AUTH_ISSUER",
	"SCHEDULING_TZ", "CYCLE_ANCHOR", "DAILY_CAP", "WEEKLY_CAP", "AX_WEEKLY_CAP",
	"SP_WEEKLY_CAP", "SEARCH_HORIZON_DAYS", "LOCK_TTL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	def := scheduling.DefaultConstraints()
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DEFAULT_COHORT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("AUTH_ISSUER", "rehabsim")
	v.SetDefault("SCHEDULING_TZ", "UTC")
	v.SetDefault("DAILY_CAP", def.DailyCap)
	v.SetDefault("WEEKLY_CAP", def.WeeklyCap)
	v.SetDefault("AX_WEEKLY_CAP", def.AXWeeklyCap)
	v.SetDefault("SP_WEEKLY_CAP", def.SPWeeklyCap)
	v.SetDefault("SEARCH_HORIZON_DAYS", def.SearchHorizonDays)
	v.SetDefault("LOCK_TTL", "10s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		log.Println("WARNING: AUTH_SIGNING_KEY is empty; using an insecure development key.")
		cfg.AuthSigningKey = devSigningKey
	}

	return cfg, nil
}

const devSigningKey = "rehabsim-development-signing-key-do-not-use"

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves SCHEDULING_TZ. Calendar days and Sunday-start weeks are
// evaluated in this zone.
func (c *Config) Location() (*time.Location, error) {
	if c.SchedulingTZ == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.SchedulingTZ)
	if err != nil {
		return nil, fmt.Errorf("SCHEDULING_TZ: %w", err)
	}
	return loc, nil
}

// Anchor returns the fixed cycle reference date, if CYCLE_ANCHOR is set.
func (c *Config) Anchor() (time.Time, bool, error) {
	if c.CycleAnchor == "" {
		return time.Time{}, false, nil
	}
	loc, err := c.Location()
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.ParseInLocation(AnchorLayout, c.CycleAnchor, loc)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("CYCLE_ANCHOR must be YYYY-MM-DD: %w", err)
	}
	return t, true, nil
}

// Constraints returns the startup caps. Instructors may override them per
// cohort at runtime.
func (c *Config) Constraints() scheduling.Constraints {
	return scheduling.Constraints{
		DailyCap:          c.DailyCap,
		WeeklyCap:         c.WeeklyCap,
		AXWeeklyCap:       c.AXWeeklyCap,
		SPWeeklyCap:       c.SPWeeklyCap,
		SearchHorizonDays: c.SearchHorizonDays,
	}
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.Env != "development" && c.Env != "test" && c.Env != "production" {
		return fmt.Errorf("ENV must be \"development\", \"test\", or \"production\", got %q", c.Env)
	}
	if c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if c.IsProduction() && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes in production, got %d", len(c.AuthSigningKey))
	}
	if c.IsProduction() && c.AuthSigningKey == devSigningKey {
		return fmt.Errorf("AUTH_SIGNING_KEY must not be the development key in production")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, _, err := c.Anchor(); err != nil {
		return err
	}
	if err := c.Constraints().Validate(); err != nil {
		return fmt.Errorf("scheduling caps: %w", err)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("LOCK_TTL must be positive, got %s", c.LockTTL)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
