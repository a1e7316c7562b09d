package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	LogLevel    string

	OTLPEndpoint string
	OTLPProtocol string
	OTelEnabled  bool

	SnowflakeNode int64
	RulesPath     string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool
	DBMetrics         bool
	MetricsPort       int

	Redis     RedisConfig
	AMQP      AMQPConfig
	Scheduler SchedulerConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

type AMQPConfig struct {
	URL      string
	Queue    string
	Prefetch int
	Workers  int
}

func (c AMQPConfig) Enabled() bool {
	return c.URL != ""
}

// SchedulerConfig holds cron specs for the loyalty batch jobs.
type SchedulerConfig struct {
	Enabled          bool
	ExpirySpec       string
	VoucherSweepSpec string
	TierReviewSpec   string
	JobTimeout       time.Duration
	LockTTL          time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "loyalty"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   getenv("ENVIRONMENT", "development"),
		LogLevel:      strings.ToLower(getenv("LOG_LEVEL", "info")),
		OTLPEndpoint:  getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTLPProtocol:  strings.ToLower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
		OTelEnabled:   getenvBool("OTEL_ENABLED", false),
		SnowflakeNode: getenvInt64("SNOWFLAKE_NODE", 1),
		RulesPath:     strings.TrimSpace(getenv("LOYALTY_RULES_PATH", "")),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "loyalty"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 1800)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 300)),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),
		DBMetrics:         getenvBool("DATABASE_METRICS", false),
		MetricsPort:       int(getenvInt64("METRICS_PORT", 0)),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       int(getenvInt64("REDIS_DB", 0)),
		},
		AMQP: AMQPConfig{
			URL:      strings.TrimSpace(getenv("AMQP_URL", "")),
			Queue:    getenv("AMQP_ORDER_QUEUE", "orders.completed"),
			Prefetch: int(getenvInt64("AMQP_PREFETCH", 10)),
			Workers:  int(getenvInt64("AMQP_WORKERS", 2)),
		},
		Scheduler: SchedulerConfig{
			Enabled:          getenvBool("SCHEDULER_ENABLED", true),
			ExpirySpec:       getenv("SCHEDULER_EXPIRY_SPEC", "@daily"),
			VoucherSweepSpec: getenv("SCHEDULER_VOUCHER_SWEEP_SPEC", "@daily"),
			TierReviewSpec:   getenv("SCHEDULER_TIER_REVIEW_SPEC", "0 0 1 1,4,7,10 *"),
			JobTimeout:       getenvDuration("SCHEDULER_JOB_TIMEOUT", 30*time.Minute),
			LockTTL:          getenvDuration("SCHEDULER_LOCK_TTL", 45*time.Minute),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
