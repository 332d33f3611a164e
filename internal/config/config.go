package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

const (
	TelegramModeWebhook = "webhook"
	TelegramModePolling = "polling"
	TelegramModeOff     = "off"
)

type Config struct {
	AppEnv   string
	LogLevel string

	APIPort                    string
	APIRateLimitRPS            float64
	APIRateLimitBurst          int
	APIBackpressureMaxInFlight int
	APIBackpressureWait        time.Duration
	APIMaxConnections          int

	PostgresDSN          string
	PostgresMaxOpenConns int

	NATSURL                string
	NATSCompositionSubject string
	CompositionQueueSize   int

	OpenAIBaseURL string
	OpenAIAPIKey  string
	ChatModel     string
	VisionModel   string
	LLMTimeout    time.Duration

	AgentMaxIterations int
	AgentTurnTimeout   time.Duration
	AgentToolTimeout   time.Duration
	AgentTemperature   float64
	SessionIdleTTL     time.Duration

	TelegramBotToken      string
	TelegramAPIBaseURL    string
	TelegramWebhookSecret string
	TelegramMode          string
	TelegramSendRPS       float64
	TelegramWorkers       int

	HeartbeatEnabled  bool
	HeartbeatTimezone string

	PriceFreshnessDays int
	ReportExportDir    string
	InvoiceArchiveDir  string
	PromptsPath        string

	WorkerMetricsPort string
	MCPRestaurantID   int64

	ResilienceRetryMaxAttempts        int
	ResilienceRetryInitialBackoff     time.Duration
	ResilienceRetryMaxBackoff         time.Duration
	ResilienceRetryMultiplier         float64
	ResilienceBreakerEnabled          bool
	ResilienceBreakerMinRequests      int
	ResilienceBreakerFailureRatio     float64
	ResilienceBreakerOpenTimeout      time.Duration
	ResilienceBreakerHalfOpenMaxCalls int
}

// Load reads the environment, after merging an optional .env file.
// Variables already set in the process win over the file.
func Load() Config {
	_ = godotenv.Load(mustEnv("ENV_FILE", ".env"))

	return Config{
		AppEnv:   mustEnv("APP_ENV", "development"),
		LogLevel: mustEnv("LOG_LEVEL", "info"),

		APIPort:                    mustEnv("API_PORT", "8080"),
		APIRateLimitRPS:            mustEnvFloat("API_RATE_LIMIT_RPS", 20),
		APIRateLimitBurst:          mustEnvInt("API_RATE_LIMIT_BURST", 40),
		APIBackpressureMaxInFlight: mustEnvInt("API_BACKPRESSURE_MAX_IN_FLIGHT", 32),
		APIBackpressureWait:        mustEnvDuration("API_BACKPRESSURE_WAIT_MS", 250, time.Millisecond),
		APIMaxConnections:          mustEnvInt("API_MAX_CONNECTIONS", 256),

		PostgresDSN:          mustEnv("POSTGRES_DSN", ""),
		PostgresMaxOpenConns: mustEnvInt("POSTGRES_MAX_OPEN_CONNS", 10),

		NATSURL:                mustEnv("NATS_URL", ""),
		NATSCompositionSubject: mustEnv("NATS_COMPOSITION_SUBJECT", "finance.composition_log"),
		CompositionQueueSize:   mustEnvInt("COMPOSITION_QUEUE_SIZE", 256),

		OpenAIBaseURL: mustEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIAPIKey:  mustEnv("OPENAI_API_KEY", ""),
		ChatModel:     mustEnv("CHAT_MODEL", "gpt-4o"),
		VisionModel:   mustEnv("VISION_MODEL", "gpt-4o"),
		LLMTimeout:    mustEnvDuration("LLM_TIMEOUT_SECONDS", 60, time.Second),

		AgentMaxIterations: mustEnvInt("AGENT_MAX_ITERATIONS", 8),
		AgentTurnTimeout:   mustEnvDuration("AGENT_TURN_TIMEOUT_SECONDS", 180, time.Second),
		AgentToolTimeout:   mustEnvDuration("AGENT_TOOL_TIMEOUT_SECONDS", 90, time.Second),
		AgentTemperature:   mustEnvFloat("AGENT_TEMPERATURE", 0.7),
		SessionIdleTTL:     mustEnvDuration("SESSION_IDLE_TTL_MINUTES", 120, time.Minute),

		TelegramBotToken:      mustEnv("TELEGRAM_FINANCE_BOT_TOKEN", ""),
		TelegramAPIBaseURL:    mustEnv("TELEGRAM_API_BASE_URL", "https://api.telegram.org"),
		TelegramWebhookSecret: mustEnv("TELEGRAM_WEBHOOK_SECRET", ""),
		TelegramMode:          strings.ToLower(mustEnv("TELEGRAM_MODE", TelegramModePolling)),
		TelegramSendRPS:       mustEnvFloat("TELEGRAM_SEND_RPS", 25),
		TelegramWorkers:       mustEnvInt("TELEGRAM_WORKERS", 4),

		HeartbeatEnabled:  mustEnvBool("HEARTBEAT_ENABLED", true),
		HeartbeatTimezone: mustEnv("HEARTBEAT_TIMEZONE", "America/Sao_Paulo"),

		PriceFreshnessDays: mustEnvInt("PRICE_FRESHNESS_DAYS", 30),
		ReportExportDir:    mustEnv("REPORT_EXPORT_DIR", "./data/reports"),
		InvoiceArchiveDir:  mustEnv("INVOICE_ARCHIVE_DIR", "./data/invoices"),
		PromptsPath:        mustEnv("PROMPTS_PATH", ""),

		WorkerMetricsPort: mustEnv("WORKER_METRICS_PORT", "9090"),
		MCPRestaurantID:   int64(mustEnvInt("MCP_RESTAURANT_ID", 0)),

		ResilienceRetryMaxAttempts:        mustEnvInt("RESILIENCE_RETRY_MAX_ATTEMPTS", 3),
		ResilienceRetryInitialBackoff:     mustEnvDuration("RESILIENCE_RETRY_INITIAL_BACKOFF_MS", 200, time.Millisecond),
		ResilienceRetryMaxBackoff:         mustEnvDuration("RESILIENCE_RETRY_MAX_BACKOFF_MS", 2000, time.Millisecond),
		ResilienceRetryMultiplier:         mustEnvFloat("RESILIENCE_RETRY_MULTIPLIER", 2),
		ResilienceBreakerEnabled:          mustEnvBool("RESILIENCE_BREAKER_ENABLED", true),
		ResilienceBreakerMinRequests:      mustEnvInt("RESILIENCE_BREAKER_MIN_REQUESTS", 10),
		ResilienceBreakerFailureRatio:     mustEnvFloat("RESILIENCE_BREAKER_FAILURE_RATIO", 0.5),
		ResilienceBreakerOpenTimeout:      mustEnvDuration("RESILIENCE_BREAKER_OPEN_TIMEOUT_MS", 30000, time.Millisecond),
		ResilienceBreakerHalfOpenMaxCalls: mustEnvInt("RESILIENCE_BREAKER_HALF_OPEN_MAX_CALLS", 2),
	}
}

// TelegramEnabled reports whether the bot transport should run.
func (c Config) TelegramEnabled() bool {
	return c.TelegramMode != TelegramModeOff
}

// Validate lists every missing or malformed required key.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.OpenAIAPIKey) == "" {
		problems = append(problems, "OPENAI_API_KEY is required")
	}
	if strings.TrimSpace(c.PostgresDSN) == "" {
		problems = append(problems, "POSTGRES_DSN is required")
	}
	switch c.TelegramMode {
	case TelegramModeWebhook, TelegramModePolling, TelegramModeOff:
	default:
		problems = append(problems, fmt.Sprintf("TELEGRAM_MODE must be webhook, polling or off, got %q", c.TelegramMode))
	}
	if c.TelegramEnabled() && strings.TrimSpace(c.TelegramBotToken) == "" {
		problems = append(problems, "TELEGRAM_FINANCE_BOT_TOKEN is required when TELEGRAM_MODE is not off")
	}
	if c.AgentMaxIterations <= 0 {
		problems = append(problems, "AGENT_MAX_ITERATIONS must be positive")
	}
	if _, err := time.LoadLocation(c.HeartbeatTimezone); err != nil {
		problems = append(problems, fmt.Sprintf("HEARTBEAT_TIMEZONE: %v", err))
	}
	if len(problems) == 0 {
		return nil
	}
	return errors.New("invalid config: " + strings.Join(problems, "; "))
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

// mustEnvDuration reads an integer count of unit.
func mustEnvDuration(key string, fallback int, unit time.Duration) time.Duration {
	return time.Duration(mustEnvInt(key, fallback)) * unit
}
