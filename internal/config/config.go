package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Public origin; notification IRIs are minted under it
	BaseURL string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config. Empty host disables rate limiting and idempotency.
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	RateLimitRequests int
	RateLimitWindow   time.Duration
	IdempotencyTTL    time.Duration

	// Delivery
	DeliveryTimeout            time.Duration
	DeliveryInsecureSkipVerify bool

	MaxBodyBytes int64

	// Static bearer tokens, "token:userID[:admin]" comma separated
	AuthTokens string

	// Event sinks. SNS wins when both are set; neither disables events.
	AWSRegion         string
	AWSEndpointURL    string
	EventsSNSTopicARN string
	EventsSQSQueueURL string

	MigrationsDir string
}

// RedisEnabled reports whether a Redis host is configured
func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8081,
		LogLevel: "info",
		Env:      "development",

		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "ldn",
		DBPassword: "ldn",
		DBName:     "ldn",
		DBSSLMode:  "disable",

		RedisPort: 6379,

		RateLimitRequests: 120,
		RateLimitWindow:   time.Minute,
		IdempotencyTTL:    24 * time.Hour,

		DeliveryTimeout: 10 * time.Second,
		MaxBodyBytes:    10 << 20,

		AWSRegion:     "us-east-1",
		MigrationsDir: "migrations",
	}
	var err error

	if cfg.Port, err = intEnv("PORT", cfg.Port); err != nil {
		return nil, err
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	cfg.BaseURL = fmt.Sprintf("http://localhost:%d", cfg.Port)
	if base := os.Getenv("BASE_URL"); base != "" {
		cfg.BaseURL = base
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if cfg.DBPort, err = intEnv("DB_PORT", cfg.DBPort); err != nil {
		return nil, err
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password, ok := os.LookupEnv("DB_PASSWORD"); ok {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	cfg.RedisHost = os.Getenv("REDIS_HOST")

	if cfg.RedisPort, err = intEnv("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}

	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	if cfg.RedisDB, err = intEnv("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}

	if cfg.RateLimitRequests, err = intEnv("RATE_LIMIT_REQUESTS", cfg.RateLimitRequests); err != nil {
		return nil, err
	}

	if cfg.RateLimitWindow, err = durationEnv("RATE_LIMIT_WINDOW", cfg.RateLimitWindow); err != nil {
		return nil, err
	}

	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", cfg.IdempotencyTTL); err != nil {
		return nil, err
	}

	// Delivery config
	if cfg.DeliveryTimeout, err = durationEnv("DELIVERY_TIMEOUT", cfg.DeliveryTimeout); err != nil {
		return nil, err
	}

	if v := os.Getenv("DELIVERY_INSECURE_SKIP_VERIFY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DELIVERY_INSECURE_SKIP_VERIFY: %w", err)
		}
		cfg.DeliveryInsecureSkipVerify = b
	}

	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_BODY_BYTES: %w", err)
		}
		cfg.MaxBodyBytes = n
	}

	cfg.AuthTokens = os.Getenv("AUTH_TOKENS")

	// Events
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}
	cfg.AWSEndpointURL = os.Getenv("AWS_ENDPOINT_URL")
	cfg.EventsSNSTopicARN = os.Getenv("EVENTS_SNS_TOPIC_ARN")
	cfg.EventsSQSQueueURL = os.Getenv("EVENTS_SQS_QUEUE_URL")

	if dir := os.Getenv("MIGRATIONS_DIR"); dir != "" {
		cfg.MigrationsDir = dir
	}

	return cfg, nil
}

func intEnv(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}

func durationEnv(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}
