package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	// Client
	APIBaseURL  string
	KeyPath     string
	StoragePath string
	StorageURL  string // redis URL; overrides StoragePath when set
	PageLimit   int

	// Client throttling and caching
	RequestRate          float64 // per second
	RequestBurst         int
	QueryCacheSize       int
	ProfileRetries       int
	ProfileRetryInterval time.Duration

	// Logging
	LogLevel   string
	LogConsole bool

	// Server
	Port         int
	Host         string
	BaseURL      string
	DatabasePath string
	ImageDir     string
	MaxImageSize int64

	// How often new users are marked hydrated
	HydrateInterval time.Duration

	// Rate Limiting
	ThreadRateLimit  int // per window
	CommentRateLimit int
	VoteRateLimit    int
	RateLimitWindow  time.Duration
	RateLimitURL     string // redis URL; in-memory when empty

	// Auth
	JWTSecret    string
	ChallengeTTL time.Duration
	TokenTTL     time.Duration
}

func Load() *Config {
	dir := dataDir()
	return &Config{
		APIBaseURL:           getEnv("API_URL", "http://localhost:8080"),
		KeyPath:              getEnv("KEY_PATH", filepath.Join(dir, "wallet.key")),
		StoragePath:          getEnv("STORAGE_PATH", filepath.Join(dir, "storage.db")),
		StorageURL:           getEnv("STORAGE_URL", ""),
		PageLimit:            getEnvInt("PAGE_LIMIT", 20),
		RequestRate:          getEnvFloat("REQUEST_RATE", 10),
		RequestBurst:         getEnvInt("REQUEST_BURST", 20),
		QueryCacheSize:       getEnvInt("QUERY_CACHE_SIZE", 256),
		ProfileRetries:       getEnvInt("PROFILE_RETRIES", 5),
		ProfileRetryInterval: getEnvDuration("PROFILE_RETRY_INTERVAL", 500*time.Millisecond),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogConsole:           getEnvBool("LOG_CONSOLE", true),
		Port:                 getEnvInt("PORT", 8080),
		Host:                 getEnv("HOST", "0.0.0.0"),
		BaseURL:              getEnv("BASE_URL", "http://localhost:8080"),
		DatabasePath:         getEnv("DATABASE_PATH", "daochan.db"),
		ImageDir:             getEnv("IMAGE_DIR", "images"),
		MaxImageSize:         int64(getEnvInt("MAX_IMAGE_SIZE", 5<<20)),
		HydrateInterval:      getEnvDuration("HYDRATE_INTERVAL", 2*time.Second),
		ThreadRateLimit:      getEnvInt("THREAD_RATE_LIMIT", 10),
		CommentRateLimit:     getEnvInt("COMMENT_RATE_LIMIT", 60),
		VoteRateLimit:        getEnvInt("VOTE_RATE_LIMIT", 120),
		RateLimitWindow:      getEnvDuration("RATE_LIMIT_WINDOW", time.Hour),
		RateLimitURL:         getEnv("RATE_LIMIT_URL", ""),
		JWTSecret:            getEnv("JWT_SECRET", ""),
		ChallengeTTL:         getEnvDuration("CHALLENGE_TTL", 5*time.Minute),
		TokenTTL:             getEnvDuration("TOKEN_TTL", 24*time.Hour),
	}
}

func dataDir() string {
	if dir := os.Getenv("DAOCHAN_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".daochan"
	}
	return filepath.Join(home, ".daochan")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
