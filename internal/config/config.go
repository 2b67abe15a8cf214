package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ストアのバックエンド種別
const (
	StoreBackendMemory   = "memory"
	StoreBackendBolt     = "bolt"
	StoreBackendPostgres = "postgres"
	StoreBackendRedis    = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Data API
	DataAPIURL         string
	RemoteTimeout      time.Duration
	BreakerMaxFailures int
	BreakerOpenTimeout time.Duration

	// Storage
	StoreBackend  string
	StorePath     string
	DatabaseURL   string
	RedisAddress  string
	RedisPassword string

	// Managers
	ClearConcurrency int
	MirrorLocal      bool
	HashPasswords    bool

	// Rate Limit（クライアントIPごとの1分あたりリクエスト数）
	RateLimitGeneral int

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// ENV_FILE（既定 .env）が存在する場合は先に読み込む。既に設定済みの環境変数は上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := loadDotEnv(getEnvString("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DataAPIURL = strings.TrimRight(os.Getenv("DATA_API_URL"), "/")
	if cfg.DataAPIURL == "" {
		missing = append(missing, "DATA_API_URL")
	}

	cfg.StoreBackend = strings.ToLower(getEnvString("STORE_BACKEND", StoreBackendBolt))
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.StoreBackend == StoreBackendPostgres && cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	switch cfg.StoreBackend {
	case StoreBackendMemory, StoreBackendBolt, StoreBackendPostgres, StoreBackendRedis:
	default:
		return nil, fmt.Errorf("unsupported STORE_BACKEND: %q", cfg.StoreBackend)
	}

	// Optional fields with defaults
	cfg.RemoteTimeout = getEnvDuration("REMOTE_TIMEOUT", 0)
	cfg.BreakerMaxFailures = getEnvInt("BREAKER_MAX_FAILURES", 5)
	cfg.BreakerOpenTimeout = getEnvDuration("BREAKER_OPEN_TIMEOUT", 30*time.Second)
	cfg.StorePath = getEnvString("STORE_PATH", "zyrae.db")
	cfg.RedisAddress = getEnvString("REDIS_ADDRESS", "localhost:6379")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.ClearConcurrency = getEnvInt("CLEAR_CONCURRENCY", 4)
	cfg.MirrorLocal = getEnvBool("MIRROR_LOCAL", false)
	cfg.HashPasswords = getEnvBool("HASH_PASSWORDS", false)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:5173")

	return cfg, nil
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
