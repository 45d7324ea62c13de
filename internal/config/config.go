// Package config loads orderdesk settings from defaults, an optional TOML file,
// a .env file and ORDERDESK_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/nicexiaonie/order-dispenser/internal/sequence"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ORDERDESK_"

var lockNamePattern = regexp.MustCompile(`^[a-z]+[a-z0-9.-]*$`)

// Config represents the configuration of the order service
type Config struct {
	Addr            string          `toml:"addr"`
	StaticDir       string          `toml:"static_dir"`
	ShutdownTimeout string          `toml:"shutdown_timeout"`
	QR              QRConfig        `toml:"qr"`
	Store           StoreConfig     `toml:"store"`
	Log             LogConfig       `toml:"log"`
	RateLimit       RateLimitConfig `toml:"rate_limit"`
	// Timezone decides where the calendar day boundary falls. Empty means the
	// server's local zone.
	Timezone string `toml:"timezone"`
}

// QRConfig controls where QR artifacts are written and served from
type QRConfig struct {
	Dir       string `toml:"dir"`
	URLPrefix string `toml:"url_prefix"`
}

// StoreConfig selects the counter store
type StoreConfig struct {
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
	// LockName is the host-wide lock shared by every process issuing numbers
	// from the same record. Empty disables it.
	LockName string `toml:"lock_name"`
}

// LogConfig sets the log level and output format
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// RateLimitConfig limits order creation per client address. RPS 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `toml:"rps"`
	Burst int     `toml:"burst"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Addr:            ":5000",
		StaticDir:       "static",
		ShutdownTimeout: "10s",
		QR: QRConfig{
			Dir:       "static/qrs",
			URLPrefix: "/static/qrs/",
		},
		Store: StoreConfig{
			Driver:   string(sequence.DriverFile),
			Path:     sequence.DefaultRecordFile,
			LockName: "orderdesk-counter",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		RateLimit: RateLimitConfig{
			RPS:   20,
			Burst: 40,
		},
	}
}

// Load builds the configuration. path may be empty; a missing .env file is
// not an error.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if envFile != "" {
		// godotenv 不会覆盖已存在的环境变量
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading env file %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"ADDR":             &c.Addr,
		"STATIC_DIR":       &c.StaticDir,
		"SHUTDOWN_TIMEOUT": &c.ShutdownTimeout,
		"QR_DIR":           &c.QR.Dir,
		"QR_URL_PREFIX":    &c.QR.URLPrefix,
		"STORE_DRIVER":     &c.Store.Driver,
		"STORE_PATH":       &c.Store.Path,
		"STORE_LOCK_NAME":  &c.Store.LockName,
		"LOG_LEVEL":        &c.Log.Level,
		"LOG_FORMAT":       &c.Log.Format,
		"TIMEZONE":         &c.Timezone,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv(EnvPrefix + "RATE_LIMIT_RPS"); ok {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %sRATE_LIMIT_RPS %q: %w", EnvPrefix, v, err)
		}
		c.RateLimit.RPS = rps
	}
	if v, ok := os.LookupEnv(EnvPrefix + "RATE_LIMIT_BURST"); ok {
		burst, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sRATE_LIMIT_BURST %q: %w", EnvPrefix, v, err)
		}
		c.RateLimit.Burst = burst
	}
	return nil
}

// Validate checks the configuration for values the server cannot start with.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr must not be empty")
	}
	if c.StaticDir == "" {
		return errors.New("static_dir must not be empty")
	}
	if c.QR.Dir == "" {
		return errors.New("qr.dir must not be empty")
	}
	if !sequence.ValidDrivers[sequence.Driver(c.Store.Driver)] {
		return fmt.Errorf("invalid store.driver %q, valid values: file, sqlite, memory", c.Store.Driver)
	}
	if c.Store.Path == "" && c.Store.Driver != string(sequence.DriverMemory) {
		return errors.New("store.path must not be empty")
	}
	if c.Store.LockName != "" && (len(c.Store.LockName) > 40 || !lockNamePattern.MatchString(c.Store.LockName)) {
		return fmt.Errorf("invalid store.lock_name %q, must match %s and be at most 40 characters",
			c.Store.LockName, lockNamePattern)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.Shutdown(); err != nil {
		return err
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		return errors.New("rate_limit values must not be negative")
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst == 0 {
		return errors.New("rate_limit.burst must be positive when rps is set")
	}
	return nil
}

// Location returns the time zone deciding the calendar day.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Shutdown returns the graceful shutdown timeout.
func (c *Config) Shutdown() (time.Duration, error) {
	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid shutdown_timeout %q: %w", c.ShutdownTimeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("shutdown_timeout must be positive, got %s", d)
	}
	return d, nil
}
