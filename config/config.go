// Package config loads taskboard settings from defaults, an optional TOML
// file, the environment and command-line flags, in that order.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultConfigFile = "taskboard.toml"
	envConfigFile     = "TASKBOARD_CONFIG"
)

// Config is the complete runtime configuration.
type Config struct {
	ListenAddr       string
	Debug            bool
	SecretKey        string
	DatabaseDriver   string
	DatabaseURL      string
	RedisURL         string
	SessionTTL       time.Duration
	CookieSecure     bool
	BcryptCost       int
	TraceSampleRatio float64
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		ListenAddr:       ":8080",
		DatabaseDriver:   "sqlite",
		DatabaseURL:      "taskboard.db",
		SessionTTL:       24 * time.Hour,
		BcryptCost:       bcrypt.DefaultCost,
		TraceSampleRatio: 1,
	}
}

// Load builds the configuration. args are the command-line arguments
// without the program name.
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := Default()

	// Values already in the environment win over .env.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	var (
		configPath = fs.String("config", "", "path to a TOML config file")
		listen     = fs.String("listen", "", "listen address, e.g. :8080")
		debug      = fs.Bool("debug", false, "enable debug logging")
	)
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	path, explicit := resolveConfigFile(*configPath)
	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("loading config file %s: %w", path, err)
			}
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.ListenAddr = *listen
		case "debug":
			cfg.Debug = *debug
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolveConfigFile(flagValue string) (string, bool) {
	if flagValue != "" {
		return flagValue, true
	}
	if v := os.Getenv(envConfigFile); v != "" {
		return v, true
	}
	return defaultConfigFile, false
}

// fileConfig mirrors Config with durations as strings, the way they are
// written in TOML.
type fileConfig struct {
	ListenAddr       *string  `toml:"listen_addr"`
	Debug            *bool    `toml:"debug"`
	SecretKey        *string  `toml:"secret_key"`
	DatabaseDriver   *string  `toml:"database_driver"`
	DatabaseURL      *string  `toml:"database_url"`
	RedisURL         *string  `toml:"redis_url"`
	SessionTTL       *string  `toml:"session_ttl"`
	CookieSecure     *bool    `toml:"cookie_secure"`
	BcryptCost       *int     `toml:"bcrypt_cost"`
	TraceSampleRatio *float64 `toml:"trace_sample_ratio"`
}

func loadFile(cfg *Config, path string) error {
	var fc fileConfig
	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys: %v", undecoded)
	}
	if fc.ListenAddr != nil {
		cfg.ListenAddr = *fc.ListenAddr
	}
	if fc.Debug != nil {
		cfg.Debug = *fc.Debug
	}
	if fc.SecretKey != nil {
		cfg.SecretKey = *fc.SecretKey
	}
	if fc.DatabaseDriver != nil {
		cfg.DatabaseDriver = *fc.DatabaseDriver
	}
	if fc.DatabaseURL != nil {
		cfg.DatabaseURL = *fc.DatabaseURL
	}
	if fc.RedisURL != nil {
		cfg.RedisURL = *fc.RedisURL
	}
	if fc.SessionTTL != nil {
		d, err := time.ParseDuration(*fc.SessionTTL)
		if err != nil {
			return fmt.Errorf("session_ttl: %w", err)
		}
		cfg.SessionTTL = d
	}
	if fc.CookieSecure != nil {
		cfg.CookieSecure = *fc.CookieSecure
	}
	if fc.BcryptCost != nil {
		cfg.BcryptCost = *fc.BcryptCost
	}
	if fc.TraceSampleRatio != nil {
		cfg.TraceSampleRatio = *fc.TraceSampleRatio
	}
	return nil
}

func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	} else if v := os.Getenv("PORT"); v != "" {
		cfg.ListenAddr = ":" + v
	}
	if v := os.Getenv("DEBUG"); v != "" {
		if dbg, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = dbg
		}
	}
	if v := os.Getenv("SECRET_KEY"); v != "" {
		cfg.SecretKey = v
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		cfg.DatabaseDriver = strings.ToLower(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_CONNECTION_STRING"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SESSION_TTL: %w", err)
		}
		cfg.SessionTTL = d
	}
	if v := os.Getenv("COOKIE_SECURE"); v != "" {
		secure, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid COOKIE_SECURE: %w", err)
		}
		cfg.CookieSecure = secure
	}
	if v := os.Getenv("BCRYPT_COST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid BCRYPT_COST: %w", err)
		}
		cfg.BcryptCost = n
	}
	if v := os.Getenv("TRACE_SAMPLE_RATIO"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid TRACE_SAMPLE_RATIO: %w", err)
		}
		cfg.TraceSampleRatio = r
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.SecretKey == "" {
		return errors.New("SECRET_KEY must be set")
	}
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.DatabaseDriver)
	}
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL must be set")
	}
	if c.SessionTTL <= 0 {
		return errors.New("session TTL must be greater than zero")
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return errors.New("trace sample ratio must be within [0, 1]")
	}
	return nil
}
