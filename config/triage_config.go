package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"triage_server/core/domain"
)

// Run modes.
const (
	ModeAPI    = "api"
	ModeWorker = "worker"
	ModeAll    = "all"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	Mode        string

	// Logging
	LogLevel   string
	LogConsole bool

	// Stores
	DatabaseURL string
	RedisURL    string
	MongoDBURL  string
	MongoDBName string

	// JWT
	JWTSecret string

	// LLM
	LLMProvider       string
	OpenAIAPIKey      string
	AnthropicAPIKey   string
	LLMBaseURL        string
	LLMModel          string
	LLMMaxTokens      int
	LLMTemperature    float64
	LLMMaxConcurrent  int
	LLMRequestsPerSec int
	LLMBreakerFails   int
	LLMBreakerOpenSec int

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Batch
	BatchMaxEmails     int
	BatchConcurrency   int
	BatchItemTimeout   time.Duration
	BatchItemDelay     time.Duration
	BatchMaxRetries    int
	BatchRetryBackoff  time.Duration
	BatchAverageWindow int

	// Worker
	WorkerID           string
	WorkerCount        int
	WorkerQueueSize    int
	WorkerCloseTimeout time.Duration

	// Stream (Redis)
	StreamMaxLen         int64
	ConsumerGroup        string
	ConsumerMaxRetries   int
	ConsumerPendingCheck time.Duration
	ConsumerPendingIdle  time.Duration

	// Sessions
	SessionTTL       time.Duration
	SessionGCSpec    string
	SessionRetention time.Duration
	ArchiveTTL       time.Duration

	// HTTP
	AllowedOrigins   []string
	SubmitRateLimit  int
	SubmitRateWindow time.Duration
	StreamHeartbeat  time.Duration

	// Preferences
	PreferencesFile string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		Mode:        getEnv("MODE", ModeAll),

		// Logging
		LogLevel:   getEnv("LOG_LEVEL", ""),
		LogConsole: getEnvBool("LOG_CONSOLE", false),

		// Stores
		DatabaseURL: getEnv("DATABASE_URL", "sqlite://triage.db"),
		RedisURL:    getEnv("REDIS_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "triage"),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),

		// LLM
		LLMProvider:       strings.ToLower(getEnv("LLM_PROVIDER", "openai")),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey:   getEnv("ANTHROPIC_API_KEY", ""),
		LLMBaseURL:        getEnv("LLM_BASE_URL", ""),
		LLMModel:          getEnv("LLM_MODEL", ""),
		LLMMaxTokens:      getEnvInt("LLM_MAX_TOKENS", 512),
		LLMTemperature:    getEnvFloat("LLM_TEMPERATURE", 0.2),
		LLMMaxConcurrent:  getEnvInt("LLM_MAX_CONCURRENT", 4),
		LLMRequestsPerSec: getEnvInt("LLM_REQUESTS_PER_SEC", 5),
		LLMBreakerFails:   getEnvInt("LLM_BREAKER_FAILURES", 5),
		LLMBreakerOpenSec: getEnvInt("LLM_BREAKER_OPEN_SEC", 30),

		// OAuth - Google
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),

		// Batch
		BatchMaxEmails:     getEnvInt("BATCH_MAX_EMAILS", 50),
		BatchConcurrency:   getEnvInt("BATCH_CONCURRENCY", 1),
		BatchItemTimeout:   time.Duration(getEnvInt("BATCH_ITEM_TIMEOUT_SEC", 30)) * time.Second,
		BatchItemDelay:     time.Duration(getEnvInt("BATCH_ITEM_DELAY_MS", 500)) * time.Millisecond,
		BatchMaxRetries:    getEnvInt("BATCH_MAX_RETRIES", 0),
		BatchRetryBackoff:  time.Duration(getEnvInt("BATCH_RETRY_BACKOFF_MS", 1000)) * time.Millisecond,
		BatchAverageWindow: getEnvInt("BATCH_AVERAGE_WINDOW", 20),

		// Worker
		WorkerID:           getEnv("WORKER_ID", generateWorkerID()),
		WorkerCount:        getEnvInt("WORKER_COUNT", 4),
		WorkerQueueSize:    getEnvInt("WORKER_QUEUE_SIZE", 100),
		WorkerCloseTimeout: time.Duration(getEnvInt("WORKER_CLOSE_TIMEOUT_SEC", 30)) * time.Second,

		// Stream
		StreamMaxLen:         int64(getEnvInt("STREAM_MAX_LEN", 10000)),
		ConsumerGroup:        getEnv("CONSUMER_GROUP", "triage-workers"),
		ConsumerMaxRetries:   getEnvInt("CONSUMER_MAX_RETRIES", 3),
		ConsumerPendingCheck: time.Duration(getEnvInt("CONSUMER_PENDING_CHECK_SEC", 30)) * time.Second,
		ConsumerPendingIdle:  time.Duration(getEnvInt("CONSUMER_PENDING_IDLE_SEC", 120)) * time.Second,

		// Sessions
		SessionTTL:       time.Duration(getEnvInt("SESSION_TTL_HOUR", 24)) * time.Hour,
		SessionGCSpec:    getEnv("SESSION_GC_SCHEDULE", "@every 10m"),
		SessionRetention: time.Duration(getEnvInt("SESSION_RETENTION_HOUR", 24)) * time.Hour,
		ArchiveTTL:       time.Duration(getEnvInt("ARCHIVE_TTL_DAY", 30)) * 24 * time.Hour,

		// HTTP
		AllowedOrigins:   getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		SubmitRateLimit:  getEnvInt("SUBMIT_RATE_LIMIT", 10),
		SubmitRateWindow: time.Duration(getEnvInt("SUBMIT_RATE_WINDOW_SEC", 60)) * time.Second,
		StreamHeartbeat:  time.Duration(getEnvInt("STREAM_HEARTBEAT_SEC", 15)) * time.Second,

		// Preferences
		PreferencesFile: getEnv("PREFERENCES_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail deep inside a batch run.
func (c *Config) Validate() error {
	var errs []error

	switch c.Mode {
	case ModeAPI, ModeWorker, ModeAll:
	default:
		errs = append(errs, fmt.Errorf("MODE must be api, worker or all, got %q", c.Mode))
	}
	if c.Mode != ModeAll && c.RedisURL == "" {
		errs = append(errs, fmt.Errorf("REDIS_URL is required in %s mode", c.Mode))
	}

	switch c.LLMProvider {
	case "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("LLM_PROVIDER must be openai or anthropic, got %q", c.LLMProvider))
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		errs = append(errs, fmt.Errorf("LLM_TEMPERATURE out of range: %v", c.LLMTemperature))
	}

	if c.BatchMaxEmails <= 0 {
		errs = append(errs, errors.New("BATCH_MAX_EMAILS must be positive"))
	}
	if c.BatchConcurrency <= 0 {
		errs = append(errs, errors.New("BATCH_CONCURRENCY must be positive"))
	}
	if c.BatchItemTimeout <= 0 {
		errs = append(errs, errors.New("BATCH_ITEM_TIMEOUT_SEC must be positive"))
	}
	if c.BatchItemDelay < 0 || c.BatchMaxRetries < 0 {
		errs = append(errs, errors.New("BATCH_ITEM_DELAY_MS and BATCH_MAX_RETRIES must not be negative"))
	}

	return errors.Join(errs...)
}

// LLMAPIKey returns the key of the selected provider.
func (c *Config) LLMAPIKey() string {
	if c.LLMProvider == "anthropic" {
		return c.AnthropicAPIKey
	}
	return c.OpenAIAPIKey
}

// DefaultPreferences returns the preferences requests start from: the
// built-in defaults, overlaid with PREFERENCES_FILE when set.
func (c *Config) DefaultPreferences() (domain.UserPreferences, error) {
	prefs := domain.DefaultPreferences()
	if c.PreferencesFile == "" {
		return prefs, nil
	}

	data, err := os.ReadFile(c.PreferencesFile)
	if err != nil {
		return prefs, fmt.Errorf("read preferences file: %w", err)
	}
	if err := yaml.Unmarshal(data, &prefs); err != nil {
		return prefs, fmt.Errorf("parse preferences file: %w", err)
	}
	if err := prefs.WorkingHours.Validate(); err != nil {
		return prefs, fmt.Errorf("preferences file: %w", err)
	}
	return prefs, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
