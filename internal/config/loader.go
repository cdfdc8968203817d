package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ENGINE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ENGINE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "ENGINE_DATABASE_DSN")
	setStr(&cfg.Database.Host, "ENGINE_DATABASE_HOST")
	setInt(&cfg.Database.Port, "ENGINE_DATABASE_PORT")
	setStr(&cfg.Database.Database, "ENGINE_DATABASE_NAME")
	setStr(&cfg.Database.User, "ENGINE_DATABASE_USER")
	setStr(&cfg.Database.Password, "ENGINE_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "ENGINE_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "ENGINE_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "ENGINE_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "ENGINE_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ENGINE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ENGINE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ENGINE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ENGINE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ENGINE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ENGINE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ENGINE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ENGINE_S3_REGION")
	setStr(&cfg.S3.Bucket, "ENGINE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ENGINE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ENGINE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ENGINE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ENGINE_S3_FORCE_PATH_STYLE")

	// ── Curve ──
	setInt64(&cfg.Curve.Amplitude, "ENGINE_CURVE_AMPLITUDE")

	// ── Fees ──
	setInt64(&cfg.Fees.Keys.ProtocolBps, "ENGINE_FEES_KEYS_PROTOCOL_BPS")
	setInt64(&cfg.Fees.Keys.CreatorBps, "ENGINE_FEES_KEYS_CREATOR_BPS")
	setInt64(&cfg.Fees.Shares.LPBps, "ENGINE_FEES_SHARES_LP_BPS")
	setInt64(&cfg.Fees.Shares.ProtocolBps, "ENGINE_FEES_SHARES_PROTOCOL_BPS")
	setInt64(&cfg.Fees.Shares.CreatorBps, "ENGINE_FEES_SHARES_CREATOR_BPS")

	// ── Risk ──
	setFloat64(&cfg.Risk.CriticalRatio, "ENGINE_RISK_CRITICAL_RATIO")
	setFloat64(&cfg.Risk.WarningRatio, "ENGINE_RISK_WARNING_RATIO")
	setFloat64(&cfg.Risk.TargetRatio, "ENGINE_RISK_TARGET_RATIO")
	setInt(&cfg.Risk.MaxConcurrent, "ENGINE_RISK_MAX_CONCURRENT")
	setDuration(&cfg.Risk.SweepInterval, "ENGINE_RISK_SWEEP_INTERVAL")
	setDuration(&cfg.Risk.LockTTL, "ENGINE_RISK_LOCK_TTL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ENGINE_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "ENGINE_ARCHIVE_RETENTION_DAYS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ENGINE_MODE")
	setStr(&cfg.LogLevel, "ENGINE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
