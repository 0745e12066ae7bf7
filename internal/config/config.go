package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	KBSource           string        `mapstructure:"KB_SOURCE"`
	KBPath             string        `mapstructure:"KB_PATH"`
	KBWatch            bool          `mapstructure:"KB_WATCH"`
	ShowCodes          bool          `mapstructure:"SHOW_CODES"`
	IncludeZeroMatches bool          `mapstructure:"INCLUDE_ZERO_MATCHES"`
	RankLimit          int           `mapstructure:"RANK_LIMIT"`
	RankParallelism    int           `mapstructure:"RANK_PARALLELISM"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	SQLitePath         string        `mapstructure:"SQLITE_PATH"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	AuthMode           string        `mapstructure:"AUTH_MODE"`
	AuthJWTSecret      string        `mapstructure:"AUTH_JWT_SECRET"`
	AuthIssuer         string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience       string        `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins        []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS       float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout     time.Duration `mapstructure:"REQUEST_TIMEOUT"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("KB_SOURCE", "demo")
	v.SetDefault("KB_WATCH", false)
	v.SetDefault("SHOW_CODES", true)
	v.SetDefault("INCLUDE_ZERO_MATCHES", false)
	v.SetDefault("RANK_LIMIT", 0) // 0 keeps every candidate
	v.SetDefault("RANK_PARALLELISM", 0)
	v.SetDefault("SQLITE_PATH", "ddx.db")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("AUTH_MODE", "") // auto-detect: "" -> inferred from ENV
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "30s")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("KB_SOURCE")
	v.BindEnv("KB_PATH")
	v.BindEnv("KB_WATCH")
	v.BindEnv("SHOW_CODES")
	v.BindEnv("INCLUDE_ZERO_MATCHES")
	v.BindEnv("RANK_LIMIT")
	v.BindEnv("RANK_PARALLELISM")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("SQLITE_PATH")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AUTH_MODE")
	v.BindEnv("AUTH_JWT_SECRET")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("REQUEST_TIMEOUT")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise, the mode is inferred:
//   - ENV=development   → "development" (no auth, all requests get admin)
//   - AUTH_JWT_SECRET set → "token" (HS256 bearer tokens)
//   - Otherwise         → "open" (no authentication, admin routes disabled)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	if c.AuthJWTSecret != "" {
		return "token"
	}
	return "open"
}

// Validate checks that the configuration is safe to run. The knowledge-base
// source must name a loader the server knows how to build, and token auth
// cannot be enforced without a signing secret.
func (c *Config) Validate() error {
	switch c.KBSource {
	case "file":
		if c.KBPath == "" {
			return fmt.Errorf("KB_PATH is required when KB_SOURCE is \"file\"")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when KB_SOURCE is \"postgres\"")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when KB_SOURCE is \"sqlite\"")
		}
	case "demo":
	default:
		return fmt.Errorf("KB_SOURCE must be \"file\", \"postgres\", \"sqlite\", or \"demo\", got %q", c.KBSource)
	}

	if c.KBWatch && c.KBSource != "file" {
		return fmt.Errorf("KB_WATCH requires KB_SOURCE=\"file\", got %q", c.KBSource)
	}

	mode := c.ResolvedAuthMode()
	if mode == "token" && c.AuthJWTSecret == "" {
		return fmt.Errorf(
			"AUTH_JWT_SECRET must be set when AUTH_MODE is \"token\" (current ENV=%q). "+
				"Refusing to start token authentication without a signing secret", c.Env)
	}
	if mode != "development" && mode != "token" && mode != "open" {
		return fmt.Errorf("AUTH_MODE must be \"development\", \"token\", or \"open\", got %q", mode)
	}

	if c.RankLimit < 0 {
		return fmt.Errorf("RANK_LIMIT must be zero or positive, got %d", c.RankLimit)
	}
	if c.RankParallelism < 0 {
		return fmt.Errorf("RANK_PARALLELISM must be zero or positive, got %d", c.RankParallelism)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be zero or positive, got %s", c.RequestTimeout)
	}

	return nil
}
