package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string
	LogLevel string

	ServerHost string
	ServerPort string
	BaseURL    string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	JWTSecret string

	RedisURL string

	StorageBackend string
	StoragePath    string

	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string

	FCMProjectID    string
	FCMClientEmail  string
	FCMPrivateKey   string
	ExpoPushEnabled bool

	CleanupInterval    time.Duration
	DefaultExpiresIn   int
	ResultTTL          time.Duration
	RateLimitPerMinute int
	MaxUploadBytes     int64
}

// Storage backends
const (
	StorageLocal = "local"
	StorageR2    = "r2"
)

func LoadConfig() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found or error loading it, relying on environment variables")
	}

	serverPort := os.Getenv("SERVER_PORT")
	if serverPort == "" {
		serverPort = "3000"
	}

	serverHost := getEnv("SERVER_HOST", "0.0.0.0")

	return &Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		ServerHost: serverHost,
		ServerPort: serverPort,
		BaseURL:    strings.TrimSuffix(getEnv("BASE_URL", "http://localhost:"+serverPort), "/"),

		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBSSLMode:  getEnv("DB_SSLMODE", "require"),

		JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-production"),

		RedisURL: os.Getenv("REDIS_URL"),

		StorageBackend: getEnv("STORAGE_BACKEND", StorageLocal),
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),

		R2AccountID:       os.Getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey: os.Getenv("R2_SECRET_ACCESS_KEY"),
		R2BucketName:      os.Getenv("R2_BUCKET_NAME"),

		FCMProjectID:    os.Getenv("FCM_PROJECT_ID"),
		FCMClientEmail:  os.Getenv("FCM_CLIENT_EMAIL"),
		FCMPrivateKey:   os.Getenv("FCM_PRIVATE_KEY"),
		ExpoPushEnabled: os.Getenv("EXPO_PUSH_ENABLED") == "true",

		CleanupInterval:    time.Duration(getEnvInt("CLEANUP_INTERVAL_SECONDS", 60)) * time.Second,
		DefaultExpiresIn:   getEnvInt("DEFAULT_EXPIRES_IN", 3600),
		ResultTTL:          time.Duration(getEnvInt("RESULT_TTL_SECONDS", 86400)) * time.Second,
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 100),
		MaxUploadBytes:     int64(getEnvInt("MAX_UPLOAD_BYTES", 50*1024*1024)),
	}, nil
}

// FCMConfigured reports whether Firebase credentials were supplied.
func (c *Config) FCMConfigured() bool {
	return c.FCMProjectID != "" && c.FCMClientEmail != "" && c.FCMPrivateKey != ""
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return c.ServerHost + ":" + c.ServerPort
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt falls back on missing, malformed or non-positive values.
func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
