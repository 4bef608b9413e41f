// Package config handles the loading and parsing of application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// S3Config holds the configuration for connecting to an S3-compatible
// attachment-storage service. Left zero-valued, attachment storage
// degrades gracefully (see internal/attachments).
type S3Config struct {
	Endpoint string
	Region   string
	KeyID    string
	AppKey   string
	Bucket   string
}

// AppConfig holds all configuration settings for the delivery core.
type AppConfig struct {
	// --- Core settings ---
	ServerAddr string // Address for the HTTP server to listen on (e.g., ":8080").

	// --- Persistence ---
	DatabaseURL        string // Primary Postgres DSN.
	DatabaseReplicaURL string // Optional read-replica DSN.
	MigrationsPath     string // Path to the database migration files.
	RedisURL           string // KV store / pub-sub / delivery-stream URL.

	// --- Authentication ---
	JWTAccessSecret  string // Secret used to verify access-credential JWTs.
	JWTRefreshSecret string // Secret used to verify refresh-credential JWTs (distinct from access).
	JWTIssuer        string
	JWTAudience      string

	// --- Attachments (optional) ---
	S3 S3Config

	// --- CORS ---
	CORSAllowedOrigins string
	CORSMaxAge         int

	// --- Real-time tuning ---
	PresenceGraceWindow  time.Duration // Delay before publishing user.status(offline).
	TypingTTL            time.Duration
	DeliveryWorkerCount  int // 0 => runtime.NumCPU()
	DeliveryRetryBackoff time.Duration
	DeliveryMaxAttempts  int
	RateLimitWindow      time.Duration

	// --- Timeouts ---
	InfraCallTimeout time.Duration // Per-call DB/Redis/broker timeout.
	SocketWriteWait  time.Duration
	SocketPongWait   time.Duration
	ShutdownTimeout  time.Duration

	LogLevel string
}

// Load reads environment variables and populates the AppConfig struct. It
// sets sensible defaults for non-critical values and fails fast when a
// critical variable is missing or invalid.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),

		DatabaseURL:        getEnv("DATABASE_URL", ""),
		DatabaseReplicaURL: getEnv("DATABASE_REPLICA_URL", ""),
		MigrationsPath:     getEnv("MIGRATIONS_PATH", "migrations"),
		RedisURL:           getEnv("REDIS_URL", ""),

		JWTAccessSecret:  getEnv("JWT_ACCESS_SECRET", ""),
		JWTRefreshSecret: getEnv("JWT_REFRESH_SECRET", ""),
		JWTIssuer:        getEnv("JWT_ISSUER", "chatcore"),
		JWTAudience:      getEnv("JWT_AUDIENCE", "chatcore-clients"),

		S3: S3Config{
			Endpoint: getEnv("S3_ENDPOINT", ""),
			Region:   getEnv("S3_REGION", ""),
			KeyID:    getEnv("S3_ACCESS_KEY", ""),
			AppKey:   getEnv("S3_SECRET_KEY", ""),
			Bucket:   getEnv("S3_BUCKET_NAME", ""),
		},

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
		CORSMaxAge:         getEnvAsInt("CORS_MAX_AGE", 300),

		PresenceGraceWindow:  getEnvAsDuration("PRESENCE_GRACE_WINDOW", 30*time.Second),
		TypingTTL:            getEnvAsDuration("TYPING_TTL", 5*time.Second),
		DeliveryWorkerCount:  getEnvAsInt("DELIVERY_WORKER_COUNT", 0),
		DeliveryRetryBackoff: getEnvAsDuration("DELIVERY_RETRY_BACKOFF", 30*time.Second),
		DeliveryMaxAttempts:  getEnvAsInt("DELIVERY_MAX_ATTEMPTS", 5),
		RateLimitWindow:      getEnvAsDuration("RATE_LIMIT_WINDOW", time.Second),

		InfraCallTimeout: getEnvAsDuration("INFRA_CALL_TIMEOUT", 5*time.Second),
		SocketWriteWait:  getEnvAsDuration("SOCKET_WRITE_WAIT", 10*time.Second),
		SocketPongWait:   getEnvAsDuration("SOCKET_PONG_WAIT", 60*time.Second),
		ShutdownTimeout:  getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := validateCriticalConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateCriticalConfig checks that essential configuration values are set
// and that the two JWT secrets are distinct and long enough, per
// SPEC_FULL.md §6.
func validateCriticalConfig(cfg *AppConfig) error {
	criticalVars := map[string]string{
		"DATABASE_URL":       cfg.DatabaseURL,
		"REDIS_URL":          cfg.RedisURL,
		"JWT_ACCESS_SECRET":  cfg.JWTAccessSecret,
		"JWT_REFRESH_SECRET": cfg.JWTRefreshSecret,
	}
	var missing []string
	for name, value := range criticalVars {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing critical environment variables: %s", strings.Join(missing, ", "))
	}

	if len(cfg.JWTAccessSecret) < 32 {
		return fmt.Errorf("JWT_ACCESS_SECRET must be at least 32 characters")
	}
	if len(cfg.JWTRefreshSecret) < 32 {
		return fmt.Errorf("JWT_REFRESH_SECRET must be at least 32 characters")
	}
	if cfg.JWTAccessSecret == cfg.JWTRefreshSecret {
		return fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must be distinct")
	}

	return nil
}

// --- Helper Functions for robust environment variable loading ---

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an integer environment variable or returns a default value.
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration retrieves a time.Duration environment variable or returns a default value.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	return defaultValue
}
