package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Provider selects which remote email provider implementation is wired in.
const (
	ProviderNylas = "nylas"
	ProviderGmail = "gmail"
)

type Config struct {
	DatabaseURL string
	ListenAddr  string

	// Remote provider
	Provider           string
	NylasAPIURL        string
	NylasAPIKey        string
	GoogleClientID     string
	GoogleClientSecret string
	WebhookSecret      string

	// LLM
	LLMBaseURL         string
	LLMAPIKey          string
	LLMModel           string
	LLMTemperature     float64
	SpamDetection      bool
	SpamDetectionModel string

	// Poll intervals (seconds)
	BackfillPollInterval    int
	ThreadSyncPollInterval  int
	WebhookPollInterval     int
	ExtractionPollInterval  int
	EnqueuerPollInterval    int
	CompletionCheckInterval int
	RecoveryCheckInterval   int

	// Batch sizes
	ThreadSyncBatchSize int
	WebhookBatchSize    int
	ExtractionBatchSize int
	EnqueueBatchSize    int
	SweepBatchSize      int

	// Visibility timeouts (seconds) per queue
	BackfillVisibilityTimeout   int
	ThreadSyncVisibilityTimeout int
	WebhookVisibilityTimeout    int
	ExtractionVisibilityTimeout int

	// Max retries per role
	BackfillMaxRetries   int
	ThreadSyncMaxRetries int
	WebhookMaxRetries    int
	ExtractionMaxRetries int

	// Worker fan-out
	ThreadSyncWorkers int
	ExtractionWorkers int
	SweepWorkers      int

	// Advisory inter-call delays (milliseconds)
	ThreadDelayMs  int
	MessageDelayMs int
	APIDelayMs     int

	// Per-thread fetch cap
	MessagesPerThread int

	// Behavior toggles
	AutoRecovery bool
	TestingMode  bool // disables queue deletion so messages redeliver

	ShutdownTimeout int // seconds
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		DatabaseURL: dbURL,
		ListenAddr:  getEnvString("LISTEN_ADDR", ":8080"),

		Provider:           getEnvString("PROVIDER", ProviderNylas),
		NylasAPIURL:        getEnvString("NYLAS_API_URL", "https://api.us.nylas.com"),
		NylasAPIKey:        os.Getenv("NYLAS_API_KEY"),
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		WebhookSecret:      os.Getenv("WEBHOOK_SECRET"),

		LLMBaseURL:         getEnvString("LLM_BASE_URL", "https://openrouter.ai/api/v1"),
		LLMAPIKey:          os.Getenv("LLM_API_KEY"),
		LLMModel:           getEnvString("LLM_MODEL", "openai/gpt-4o-mini"),
		LLMTemperature:     getEnvFloat("LLM_TEMPERATURE", 0.2),
		SpamDetection:      getEnvBool("SPAM_DETECTION_ENABLED", true),
		SpamDetectionModel: getEnvString("SPAM_DETECTION_MODEL", ""),

		BackfillPollInterval:    getEnvInt("BACKFILL_POLL_INTERVAL", 10),
		ThreadSyncPollInterval:  getEnvInt("THREAD_SYNC_POLL_INTERVAL", 5),
		WebhookPollInterval:     getEnvInt("WEBHOOK_POLL_INTERVAL", 5),
		ExtractionPollInterval:  getEnvInt("EXTRACTION_POLL_INTERVAL", 10),
		EnqueuerPollInterval:    getEnvInt("ENQUEUER_POLL_INTERVAL", 15),
		CompletionCheckInterval: getEnvInt("COMPLETION_CHECK_INTERVAL", 5),
		RecoveryCheckInterval:   getEnvInt("RECOVERY_CHECK_INTERVAL", 60),

		ThreadSyncBatchSize: getEnvInt("THREAD_SYNC_BATCH_SIZE", 5),
		WebhookBatchSize:    getEnvInt("WEBHOOK_BATCH_SIZE", 10),
		ExtractionBatchSize: getEnvInt("EXTRACTION_BATCH_SIZE", 3),
		EnqueueBatchSize:    getEnvInt("ENQUEUE_BATCH_SIZE", 10),
		SweepBatchSize:      getEnvInt("SWEEP_BATCH_SIZE", 100),

		BackfillVisibilityTimeout:   getEnvInt("BACKFILL_VISIBILITY_TIMEOUT", 300),
		ThreadSyncVisibilityTimeout: getEnvInt("THREAD_SYNC_VISIBILITY_TIMEOUT", 120),
		WebhookVisibilityTimeout:    getEnvInt("WEBHOOK_VISIBILITY_TIMEOUT", 60),
		ExtractionVisibilityTimeout: getEnvInt("EXTRACTION_VISIBILITY_TIMEOUT", 300),

		BackfillMaxRetries:   getEnvInt("BACKFILL_MAX_RETRIES", 3),
		ThreadSyncMaxRetries: getEnvInt("THREAD_SYNC_MAX_RETRIES", 5),
		WebhookMaxRetries:    getEnvInt("WEBHOOK_MAX_RETRIES", 3),
		ExtractionMaxRetries: getEnvInt("EXTRACTION_MAX_RETRIES", 3),

		ThreadSyncWorkers: getEnvInt("THREAD_SYNC_WORKERS", 4),
		ExtractionWorkers: getEnvInt("EXTRACTION_WORKERS", 2),
		SweepWorkers:      getEnvInt("SWEEP_WORKERS", 8),

		ThreadDelayMs:  getEnvInt("THREAD_DELAY_MS", 0),
		MessageDelayMs: getEnvInt("MESSAGE_DELAY_MS", 0),
		APIDelayMs:     getEnvInt("API_DELAY_MS", 0),

		MessagesPerThread: getEnvInt("MESSAGES_PER_THREAD", 100),

		AutoRecovery: getEnvBool("AUTO_RECOVERY", true),
		TestingMode:  getEnvBool("TESTING_MODE", false),

		ShutdownTimeout: getEnvInt("SHUTDOWN_TIMEOUT", 30),
	}

	switch cfg.Provider {
	case ProviderNylas:
		if cfg.NylasAPIKey == "" {
			fmt.Println("Warning: NYLAS_API_KEY not set, provider API calls will not work")
		}
	case ProviderGmail:
		if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
			fmt.Println("Warning: GOOGLE_CLIENT_ID or GOOGLE_CLIENT_SECRET not set, Gmail API will not work")
		}
	default:
		return nil, fmt.Errorf("unknown PROVIDER %q (expected %q or %q)", cfg.Provider, ProviderNylas, ProviderGmail)
	}

	if cfg.LLMAPIKey == "" {
		fmt.Println("Warning: LLM_API_KEY not set, extraction and spam detection will not work")
	}

	return cfg, nil
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}
