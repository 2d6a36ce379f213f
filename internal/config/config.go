package config

import (
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"referral-bot/internal/tier"
)

type Config struct {
	DBUser        string
	DBPassword    string
	DBName        string
	DBHost        string
	DBPort        string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	BotToken      string

	AdminIDs             map[int64]bool
	Tiers                *tier.Table
	AllowNegativeBalance bool
	RetryAttempts        int
	SessionTTL           time.Duration

	BroadcastConcurrency int
	BroadcastRate        float64
	ReconcileInterval    time.Duration

	MetricsAddr         string
	MetricsAllowedCIDRs []string

	Logging LoggingConfig
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level         string
	Format        string // text|json
	IncludeCaller bool
}

const defaultTierTable = "1:100:0,2:200:5,3:300:10,4:500:20"

// Load reads .env when present and then the environment, applying defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := &Config{
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "referral_bot"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		BotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}

	var err error
	if cfg.AdminIDs, err = parseIDs(getEnv("ADMIN_IDS", "")); err != nil {
		return nil, errors.Wrap(err, "invalid ADMIN_IDS")
	}
	if cfg.Tiers, err = tier.Parse(getEnv("TIER_TABLE", defaultTierTable)); err != nil {
		return nil, errors.Wrap(err, "invalid TIER_TABLE")
	}
	if cfg.AllowNegativeBalance, err = parseBool("ALLOW_NEGATIVE_BALANCE", true); err != nil {
		return nil, err
	}
	if cfg.Logging.IncludeCaller, err = parseBool("LOG_CALLER", false); err != nil {
		return nil, err
	}
	if cfg.RetryAttempts, err = parsePositiveInt("LEDGER_RETRY_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.BroadcastConcurrency, err = parsePositiveInt("BROADCAST_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if cfg.BroadcastRate, err = parseFloat("BROADCAST_RATE_PER_SECOND", 25); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = parseDuration("SESSION_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ReconcileInterval, err = parseDuration("RECONCILE_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.MetricsAllowedCIDRs, err = parseCIDRs(getEnv("METRICS_ALLOWED_CIDRS", "127.0.0.1/32,::1/128")); err != nil {
		return nil, errors.Wrap(err, "invalid METRICS_ALLOWED_CIDRS")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func parseIDs(raw string) (map[int64]bool, error) {
	ids := make(map[int64]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, errors.Errorf("%q is not a user id", part)
		}
		ids[id] = true
	}
	return ids, nil
}

func parseCIDRs(raw string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, _, err := net.ParseCIDR(part); err != nil {
			return nil, errors.Wrapf(err, "parse %q", part)
		}
		out = append(out, part)
	}
	return out, nil
}

func parseBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.Wrapf(err, "invalid %s", key)
	}
	return b, nil
}

func parsePositiveInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	if n < 1 {
		return 0, errors.Errorf("invalid %s: must be at least 1", key)
	}
	return n, nil
}

func parseFloat(key string, fallback float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	return f, nil
}

func parseDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	if d <= 0 {
		return 0, errors.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}
