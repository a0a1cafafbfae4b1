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
	HTTPAddr    string

	// InternalAPIToken guards the /internal routes. Empty disables the check.
	InternalAPIToken string
	SnowflakeNode    int64
	// SeedDefaultPlans creates the stock monthly and yearly plans at boot.
	SeedDefaultPlans bool

	Observability ObservabilityConfig

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

	Redis        RedisConfig
	RateLimit    RateLimitConfig
	Verification VerificationConfig
	Scheduler    SchedulerConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a redis address is configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type RateLimitConfig struct {
	Enabled     bool
	VerifyRate  float64
	VerifyBurst int
	LockTTL     time.Duration
}

type VerificationConfig struct {
	PollAfter      time.Duration
	MaxWait        time.Duration
	CandidateLimit int
	ClaimAttempts  int
}

// ObservabilityConfig carries logging and OpenTelemetry settings.
type ObservabilityConfig struct {
	LogLevel      string
	LogFormat     string
	OtelEnabled   bool
	OtelEndpoint  string
	OtelProtocol  string
	SamplingRatio float64
}

// SchedulerConfig drives the background subscription expiry sweep.
type SchedulerConfig struct {
	Enabled     bool
	RunInterval time.Duration
	BatchSize   int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:          getenv("APP_SERVICE", "muanapay"),
		AppVersion:       getenv("APP_VERSION", "0.1.0"),
		Environment:      getenv("ENVIRONMENT", "development"),
		HTTPAddr:         getenv("HTTP_ADDR", ":8080"),
		InternalAPIToken: strings.TrimSpace(getenv("INTERNAL_API_TOKEN", "")),
		SnowflakeNode:    getenvInt64("SNOWFLAKE_NODE", 1),
		SeedDefaultPlans: getenvBool("SEED_DEFAULT_PLANS", false),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "muanapay"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 1800)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 300)),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       int(getenvInt64("REDIS_DB", 0)),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getenvBool("RATE_LIMIT_ENABLED", true),
			VerifyRate:  getenvFloat("RATE_LIMIT_VERIFY_RATE", 1),
			VerifyBurst: int(getenvInt64("RATE_LIMIT_VERIFY_BURST", 5)),
			LockTTL:     getenvSeconds("RATE_LIMIT_LOCK_TTL_SECONDS", 15*time.Second),
		},
		Verification: VerificationConfig{
			PollAfter:      getenvSeconds("VERIFY_POLL_AFTER_SECONDS", 10*time.Second),
			MaxWait:        getenvSeconds("VERIFY_MAX_WAIT_SECONDS", 300*time.Second),
			CandidateLimit: int(getenvInt64("VERIFY_CANDIDATE_LIMIT", 20)),
			ClaimAttempts:  int(getenvInt64("VERIFY_CLAIM_ATTEMPTS", 3)),
		},
		Observability: ObservabilityConfig{
			LogLevel:      strings.ToLower(getenv("LOG_LEVEL", "info")),
			LogFormat:     strings.ToLower(getenv("LOG_FORMAT", "json")),
			OtelEnabled:   getenvBool("OTEL_ENABLED", false),
			OtelEndpoint:  getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),
			OtelProtocol:  strings.ToLower(getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		Scheduler: SchedulerConfig{
			Enabled:     getenvBool("SCHEDULER_ENABLED", true),
			RunInterval: getenvSeconds("SCHEDULER_RUN_INTERVAL_SECONDS", time.Minute),
			BatchSize:   int(getenvInt64("SCHEDULER_BATCH_SIZE", 100)),
		},
	}

	return cfg
}

// IsProduction reports whether the service runs in a production environment.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
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

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvSeconds(key string, def time.Duration) time.Duration {
	value := getenvInt64(key, -1)
	if value <= 0 {
		return def
	}
	return time.Duration(value) * time.Second
}
