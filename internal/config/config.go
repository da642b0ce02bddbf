package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	WebSocket WebSocketConfig
	Sync      SyncConfig
	CORS      CORSConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port string
	Host string
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type WebSocketConfig struct {
	ReadBufferSize   int
	WriteBufferSize  int
	MaxMessageSize   int64
	WriteWait        time.Duration
	PongWait         time.Duration
	PingPeriod       time.Duration
	MaxConnPerTenant int
}

// SyncConfig tunes the sync engine. SessionTimeout must exceed the agent
// heartbeat interval or the reaper will kill healthy sessions.
type SyncConfig struct {
	LockTTL              time.Duration
	SessionTimeout       time.Duration
	ReapInterval         time.Duration
	SnapshotPageSize     int
	UploadWorkers        int
	RequireVersion       bool
	EnrollmentSecretHash string
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	godotenv.Load()

	jwtExp, err := time.ParseDuration(getEnv("JWT_EXPIRATION", "15m"))
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_EXPIRATION: %w", err)
	}

	lockTTL, err := time.ParseDuration(getEnv("SYNC_LOCK_TTL", "2m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_LOCK_TTL: %w", err)
	}

	sessionTimeout, err := time.ParseDuration(getEnv("SYNC_SESSION_TIMEOUT", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_SESSION_TIMEOUT: %w", err)
	}

	reapInterval, err := time.ParseDuration(getEnv("SYNC_REAP_INTERVAL", "1m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_REAP_INTERVAL: %w", err)
	}

	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "0.0.0.0"),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5984"),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			Name:     getEnv("DB_NAME", "orgo"),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", "dev-secret-change-in-production"),
			Expiration: jwtExp,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:   getEnvAsInt("WS_READ_BUFFER_SIZE", 4096),
			WriteBufferSize:  getEnvAsInt("WS_WRITE_BUFFER_SIZE", 4096),
			MaxMessageSize:   int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", 10485760)),
			WriteWait:        10 * time.Second,
			PongWait:         60 * time.Second,
			PingPeriod:       54 * time.Second,
			MaxConnPerTenant: getEnvAsInt("WS_MAX_CONN_PER_TENANT", 5),
		},
		Sync: SyncConfig{
			LockTTL:              lockTTL,
			SessionTimeout:       sessionTimeout,
			ReapInterval:         reapInterval,
			SnapshotPageSize:     getEnvAsInt("SYNC_SNAPSHOT_PAGE_SIZE", 500),
			UploadWorkers:        getEnvAsInt("SYNC_UPLOAD_WORKERS", 4),
			RequireVersion:       getEnvAsBool("SYNC_REQUIRE_VERSION", false),
			EnrollmentSecretHash: getEnv("ENROLLMENT_SECRET_HASH", ""),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS"),
			AllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type,Authorization"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
