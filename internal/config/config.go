package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	LogLevel    string
	HTTPAddr    string

	DB    DatabaseConfig
	Redis RedisConfig

	WebhookClaimTTL time.Duration

	ReconcileInterval    time.Duration
	ReconcileMaxAttempts int
	ReconcileBatchSize   int

	CORSAllowedOrigins []string
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	Schema          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN builds the pgx connection URL.
func (c DatabaseConfig) DSN() string {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
	if c.Schema != "" {
		dsn += "&search_path=" + c.Schema
	}
	return dsn
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a Redis address was configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// Load loads configuration from environment variables and an optional .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Environment: getenv("APP_ENV", "production"),
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		DB: DatabaseConfig{
			Host:            getenv("BLUEPRINT_DB_HOST", "localhost"),
			Port:            getenv("BLUEPRINT_DB_PORT", "5432"),
			User:            getenv("BLUEPRINT_DB_USERNAME", "postgres"),
			Password:        getenv("BLUEPRINT_DB_PASSWORD", "postgres"),
			Name:            getenv("BLUEPRINT_DB_DATABASE", "labstore"),
			Schema:          getenv("BLUEPRINT_DB_SCHEMA", "public"),
			SSLMode:         getenv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getenvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getenvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getenvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		WebhookClaimTTL:      getenvDuration("WEBHOOK_CLAIM_TTL", 2*time.Minute),
		ReconcileInterval:    getenvDuration("RECONCILE_INTERVAL", time.Minute),
		ReconcileMaxAttempts: getenvInt("RECONCILE_MAX_ATTEMPTS", 5),
		ReconcileBatchSize:   getenvInt("RECONCILE_BATCH_SIZE", 50),
		CORSAllowedOrigins:   getenvList("CORS_ALLOWED_ORIGINS"),
	}
}

// IsDevelopment reports whether the service runs in a local development environment.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
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

func getenvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
