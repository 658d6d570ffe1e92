package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Carrier     CarrierConfig
	AMQP        AMQPConfig
	Dispatch    DispatchConfig
	Retry       RetryConfig
	Rotation    RotationConfig
	Maintenance MaintenanceConfig
	LogLevel    string
	LogFormat   string
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	Driver      string
	PostgresURL string
	SQLitePath  string
}

// DSN returns the connection string for the selected driver.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.SQLitePath
	}
	return d.PostgresURL
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type CarrierConfig struct {
	URL     string
	Timeout time.Duration
}

func (c CarrierConfig) Enabled() bool { return c.URL != "" }

type AMQPConfig struct {
	URL string
}

func (c AMQPConfig) Enabled() bool { return c.URL != "" }

type DispatchConfig struct {
	CallbackDelay time.Duration
	StaleLockAge  time.Duration
	SweepInterval time.Duration
}

type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

type RotationConfig struct {
	DailyCap      int
	Cooldown      time.Duration
	OwnerFallback bool
}

type MaintenanceConfig struct {
	Enabled       bool
	ResetSchedule string
}

// loader collects every problem instead of stopping at the first one.
type loader struct {
	errs []error
}

func (l *loader) str(key, def string) string {
	return getEnv(key, def)
}

func (l *loader) required(key string) string {
	v, err := requireEnv(key)
	if err != nil {
		l.errs = append(l.errs, err)
	}
	return v
}

func (l *loader) positive(key string, def int) int {
	v, err := getEnvInt(key, def)
	if err != nil {
		l.errs = append(l.errs, err)
		return def
	}
	if v <= 0 {
		l.errs = append(l.errs, fmt.Errorf("%s must be > 0", key))
	}
	return v
}

func (l *loader) nonNegative(key string, def int) int {
	v, err := getEnvInt(key, def)
	if err != nil {
		l.errs = append(l.errs, err)
		return def
	}
	if v < 0 {
		l.errs = append(l.errs, fmt.Errorf("%s must be >= 0", key))
	}
	return v
}

func (l *loader) seconds(key string, def int) time.Duration {
	return time.Duration(l.positive(key, def)) * time.Second
}

func (l *loader) millis(key string, def int) time.Duration {
	return time.Duration(l.positive(key, def)) * time.Millisecond
}

func (l *loader) boolean(key string, def bool) bool {
	v, err := getEnvBool(key, def)
	if err != nil {
		l.errs = append(l.errs, err)
	}
	return v
}

func LoadAll() (*Config, error) {
	l := &loader{}

	cfg := &Config{
		Server: ServerConfig{
			Address: l.str("SERVER_ADDRESS", ":8080"),
		},
		Database: loadDatabaseConfig(l),
		Redis:    loadRedisConfig(l),
		Carrier: CarrierConfig{
			URL:     l.str("CARRIER_URL", ""),
			Timeout: l.seconds("CARRIER_TIMEOUT_SECONDS", 10),
		},
		AMQP: AMQPConfig{
			URL: l.str("AMQP_URL", ""),
		},
		Dispatch: DispatchConfig{
			CallbackDelay: l.seconds("DISPATCH_CALLBACK_DELAY_SECONDS", 86400),
			StaleLockAge:  l.seconds("DISPATCH_STALE_LOCK_SECONDS", 1800),
			SweepInterval: l.seconds("DISPATCH_SWEEP_INTERVAL_SECONDS", 60),
		},
		Retry: RetryConfig{
			MaxAttempts:  l.positive("RETRY_MAX_ATTEMPTS", 3),
			InitialDelay: l.millis("RETRY_INITIAL_DELAY_MS", 50),
			MaxDelay:     l.millis("RETRY_MAX_DELAY_MS", 1000),
		},
		Rotation: RotationConfig{
			DailyCap:      l.positive("ROTATION_DAILY_CAP", 100),
			Cooldown:      l.seconds("ROTATION_COOLDOWN_SECONDS", 43200),
			OwnerFallback: l.boolean("ROTATION_OWNER_FALLBACK", true),
		},
		Maintenance: MaintenanceConfig{
			Enabled:       l.boolean("MAINTENANCE_ENABLED", true),
			ResetSchedule: l.str("MAINTENANCE_RESET_CRON", "0 0 * * *"),
		},
		LogLevel:  l.str("LOG_LEVEL", "info"),
		LogFormat: l.str("LOG_FORMAT", "text"),
	}

	if cfg.Retry.MaxDelay < cfg.Retry.InitialDelay {
		l.errs = append(l.errs, errors.New("RETRY_MAX_DELAY_MS must be >= RETRY_INITIAL_DELAY_MS"))
	}

	if err := joinErrors(l.errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDatabaseConfig(l *loader) DatabaseConfig {
	d := DatabaseConfig{
		Driver: strings.ToLower(l.str("DATABASE_DRIVER", "postgres")),
	}
	switch d.Driver {
	case "postgres":
		d.PostgresURL = l.required("POSTGRES_URL")
	case "sqlite":
		d.SQLitePath = l.str("SQLITE_PATH", "leadline.db")
	default:
		l.errs = append(l.errs, fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", d.Driver))
	}
	return d
}

func loadRedisConfig(l *loader) RedisConfig {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       l.nonNegative("REDIS_DB", 0),
		TTL:      l.seconds("REDIS_TTL_SECONDS", 86400),
	}
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %q", key, v)
	}
	return i, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid bool for env %s: %q", key, v)
	}
	return b, nil
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
