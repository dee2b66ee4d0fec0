package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	DatabaseURL  string
	Port         string
	IsProduction bool
	JWTSecret    string

	// Scan pipeline
	SessionExpiry       time.Duration // How long an unfinished scan session lives
	ParseConcurrency    int           // Worker pool size for the parse queue
	ParseMaxRetries     int           // Automatic retry cap per page
	ParseRetryBackoff   time.Duration // Base backoff, multiplied by the retry count
	ParseStaleThreshold time.Duration // Processing pages older than this are presumed dead
	RetryThrottleWindow time.Duration // Minimum gap between manual retries per session
	CleanupInterval     time.Duration // Expired-session sweep period

	// Recognizer
	GeminiAPIKey      string
	GeminiModel       string
	RecognizerTimeout time.Duration

	// Storage
	StorageDir       string
	StorageURLSecret string
	StorageURLTTL    time.Duration

	FrontendBaseURL string `mapstructure:"FRONTEND_BASE_URL"`
}

// LoadConfig loads configuration from environment variables and .env file if present.
func LoadConfig() (*Config, error) {
	// Attempt to load .env file, ignore error if it doesn't exist
	_ = godotenv.Load()

	viper.SetDefault("PGSQL_URL", "")
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("IS_PRODUCTION", false)
	viper.SetDefault("JWT_SECRET", "a-very-secret-key-should-be-longer-and-random")
	viper.SetDefault("SCAN_SESSION_EXPIRY", "48h")
	viper.SetDefault("PARSE_CONCURRENCY", 3)
	viper.SetDefault("PARSE_MAX_RETRIES", 3)
	viper.SetDefault("PARSE_RETRY_BACKOFF", "5s")
	viper.SetDefault("PARSE_STALE_THRESHOLD", "60s")
	viper.SetDefault("RETRY_THROTTLE_WINDOW", "30s")
	viper.SetDefault("CLEANUP_INTERVAL", "1h")
	viper.SetDefault("GEMINI_API_KEY", "")
	viper.SetDefault("GEMINI_MODEL", "gemini-2.5-pro")
	viper.SetDefault("RECOGNIZER_TIMEOUT", "2m")
	viper.SetDefault("STORAGE_DIR", "./uploads")
	viper.SetDefault("STORAGE_URL_SECRET", "default_insecure_url_secret_please_change_this_!@#$")
	viper.SetDefault("STORAGE_URL_TTL", "15m")
	viper.SetDefault("FRONTEND_BASE_URL", "http://localhost:3000")

	viper.AutomaticEnv()

	cfg := &Config{}

	cfg.DatabaseURL = viper.GetString("PGSQL_URL")
	if cfg.DatabaseURL == "" {
		log.Println("Warning: PGSQL_URL environment variable not set.")
	}

	cfg.Port = viper.GetString("PORT")
	cfg.IsProduction = viper.GetBool("IS_PRODUCTION")

	cfg.JWTSecret = viper.GetString("JWT_SECRET")
	if cfg.JWTSecret == "a-very-secret-key-should-be-longer-and-random" {
		log.Println("Warning: JWT_SECRET not set. Using default insecure key.")
	}

	cfg.SessionExpiry = durationOrDefault("SCAN_SESSION_EXPIRY", 48*time.Hour)
	cfg.ParseRetryBackoff = durationOrDefault("PARSE_RETRY_BACKOFF", 5*time.Second)
	cfg.ParseStaleThreshold = durationOrDefault("PARSE_STALE_THRESHOLD", 60*time.Second)
	cfg.RetryThrottleWindow = durationOrDefault("RETRY_THROTTLE_WINDOW", 30*time.Second)
	cfg.CleanupInterval = durationOrDefault("CLEANUP_INTERVAL", time.Hour)
	cfg.RecognizerTimeout = durationOrDefault("RECOGNIZER_TIMEOUT", 2*time.Minute)
	cfg.StorageURLTTL = durationOrDefault("STORAGE_URL_TTL", 15*time.Minute)

	cfg.ParseConcurrency = viper.GetInt("PARSE_CONCURRENCY")
	if cfg.ParseConcurrency <= 0 {
		log.Printf("Warning: Invalid PARSE_CONCURRENCY. Defaulting to 3.\n")
		cfg.ParseConcurrency = 3
	}
	cfg.ParseMaxRetries = viper.GetInt("PARSE_MAX_RETRIES")
	if cfg.ParseMaxRetries <= 0 {
		log.Printf("Warning: Invalid PARSE_MAX_RETRIES. Defaulting to 3.\n")
		cfg.ParseMaxRetries = 3
	}

	cfg.GeminiAPIKey = viper.GetString("GEMINI_API_KEY")
	if cfg.GeminiAPIKey == "" {
		log.Println("Warning: GEMINI_API_KEY not set. Page parsing will fail until configured.")
	}
	cfg.GeminiModel = viper.GetString("GEMINI_MODEL")

	cfg.StorageDir = viper.GetString("STORAGE_DIR")
	cfg.StorageURLSecret = viper.GetString("STORAGE_URL_SECRET")
	if cfg.StorageURLSecret == "default_insecure_url_secret_please_change_this_!@#$" {
		log.Println("Warning: STORAGE_URL_SECRET is not set, using default insecure secret. THIS IS NOT FOR PRODUCTION.")
	}

	cfg.FrontendBaseURL = viper.GetString("FRONTEND_BASE_URL")

	return cfg, nil
}

// durationOrDefault parses a viper duration value, logging and falling back on
// bad input the way the rest of the config loader does.
func durationOrDefault(key string, def time.Duration) time.Duration {
	raw := viper.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		if raw != "" {
			log.Printf("Warning: Invalid value for %s ('%s'). Defaulting to %s.\n", key, raw, def.String())
		}
		return def
	}
	return d
}
