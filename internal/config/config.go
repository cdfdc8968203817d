// Package config defines the top-level configuration for the economics
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ENGINE_* environment variables.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Curve    CurveConfig    `toml:"curve"`
	Fees     FeesConfig     `toml:"fees"`
	Risk     RiskConfig     `toml:"risk"`
	Archive  ArchiveConfig  `toml:"archive"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// CurveConfig holds bonding-curve parameters for key markets.
type CurveConfig struct {
	// Amplitude is the quadratic curve's steepness divisor A, in whole units:
	// price(s) = s^2 / A. Smaller values make steeper curves.
	Amplitude int64 `toml:"amplitude"`
}

// FeesConfig holds the basis-point fee schedules. Key trades carry no LP
// component; option trades use all three.
type FeesConfig struct {
	Keys   FeeScheduleConfig `toml:"keys"`
	Shares FeeScheduleConfig `toml:"shares"`
}

// FeeScheduleConfig is one basis-point fee schedule.
type FeeScheduleConfig struct {
	LPBps       int64 `toml:"lp_bps"`
	ProtocolBps int64 `toml:"protocol_bps"`
	CreatorBps  int64 `toml:"creator_bps"`
}

// RiskConfig holds the liquidity monitor's thresholds and sweep parameters.
type RiskConfig struct {
	CriticalRatio float64 `toml:"critical_ratio"`
	WarningRatio  float64 `toml:"warning_ratio"`
	// TargetRatio is the provisioning floor pools should be restored to after
	// an alert. It never triggers alerts itself; it is reported alongside
	// breaches so operators know the restore goal.
	TargetRatio   float64  `toml:"target_ratio"`
	MaxConcurrent int      `toml:"max_concurrent"`
	SweepInterval duration `toml:"sweep_interval"`
	// LockTTL is how long one instance holds the sweep lock.
	LockTTL duration `toml:"lock_ttl"`
}

// ArchiveConfig holds key-transaction archival parameters.
type ArchiveConfig struct {
	Enabled       bool `toml:"enabled"`
	RetentionDays int  `toml:"retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "engine",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "engine-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Curve: CurveConfig{
			Amplitude: 16_000,
		},
		Fees: FeesConfig{
			Keys: FeeScheduleConfig{
				LPBps:       0,
				ProtocolBps: 250,
				CreatorBps:  250,
			},
			Shares: FeeScheduleConfig{
				LPBps:       100,
				ProtocolBps: 100,
				CreatorBps:  50,
			},
		},
		Risk: RiskConfig{
			CriticalRatio: 1.05,
			WarningRatio:  1.20,
			TargetRatio:   1.10,
			MaxConcurrent: 8,
			SweepInterval: duration{time.Minute},
			LockTTL:       duration{5 * time.Minute},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"monitor": true,
	"sweep":   true,
	"archive": true,
	"migrate": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, monitor, sweep, archive, migrate)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — only required when archival is enabled.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Curve
	if c.Curve.Amplitude <= 0 {
		errs = append(errs, "curve: amplitude must be > 0")
	}

	// Fees
	for name, sched := range map[string]FeeScheduleConfig{"keys": c.Fees.Keys, "shares": c.Fees.Shares} {
		if sched.LPBps < 0 || sched.ProtocolBps < 0 || sched.CreatorBps < 0 {
			errs = append(errs, fmt.Sprintf("fees.%s: components must be >= 0", name))
		}
		if total := sched.LPBps + sched.ProtocolBps + sched.CreatorBps; total >= 10_000 {
			errs = append(errs, fmt.Sprintf("fees.%s: total %d bps would consume the whole trade", name, total))
		}
	}
	if c.Fees.Keys.LPBps != 0 {
		errs = append(errs, "fees.keys: lp_bps must be 0 (key markets have no pool)")
	}

	// Risk
	if c.Risk.CriticalRatio <= 0 {
		errs = append(errs, "risk: critical_ratio must be > 0")
	}
	if c.Risk.WarningRatio < c.Risk.CriticalRatio {
		errs = append(errs, "risk: warning_ratio must be >= critical_ratio")
	}
	if c.Risk.TargetRatio < c.Risk.CriticalRatio || c.Risk.TargetRatio > c.Risk.WarningRatio {
		errs = append(errs, "risk: target_ratio must lie between critical_ratio and warning_ratio")
	}
	if c.Risk.MaxConcurrent < 1 {
		errs = append(errs, "risk: max_concurrent must be >= 1")
	}
	if c.Risk.SweepInterval.Duration <= 0 {
		errs = append(errs, "risk: sweep_interval must be positive")
	}
	if c.Risk.LockTTL.Duration <= 0 {
		errs = append(errs, "risk: lock_ttl must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
