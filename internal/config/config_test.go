package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	for _, key := range []string{
		"OPENAI_API_KEY", "POSTGRES_DSN", "TELEGRAM_FINANCE_BOT_TOKEN", "TELEGRAM_MODE",
		"AGENT_MAX_ITERATIONS", "CHAT_MODEL", "HEARTBEAT_TIMEZONE", "API_BACKPRESSURE_WAIT_MS",
		"SESSION_IDLE_TTL_MINUTES", "API_RATE_LIMIT_RPS", "MCP_RESTAURANT_ID", "PRICE_FRESHNESS_DAYS",
	} {
		// Setenv registers the restore; unset so .env values can apply.
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	isolateEnv(t)

	cfg := Load()
	if cfg.ChatModel != "gpt-4o" {
		t.Fatalf("ChatModel = %q", cfg.ChatModel)
	}
	if cfg.AgentMaxIterations != 8 {
		t.Fatalf("AgentMaxIterations = %d", cfg.AgentMaxIterations)
	}
	if cfg.HeartbeatTimezone != "America/Sao_Paulo" {
		t.Fatalf("HeartbeatTimezone = %q", cfg.HeartbeatTimezone)
	}
	if cfg.PriceFreshnessDays != 30 {
		t.Fatalf("PriceFreshnessDays = %d", cfg.PriceFreshnessDays)
	}
	if cfg.APIBackpressureWait != 250*time.Millisecond {
		t.Fatalf("APIBackpressureWait = %v", cfg.APIBackpressureWait)
	}
	if cfg.SessionIdleTTL != 2*time.Hour {
		t.Fatalf("SessionIdleTTL = %v", cfg.SessionIdleTTL)
	}
	if cfg.TelegramMode != TelegramModePolling {
		t.Fatalf("TelegramMode = %q", cfg.TelegramMode)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	isolateEnv(t)
	t.Setenv("AGENT_MAX_ITERATIONS", "4")
	t.Setenv("API_RATE_LIMIT_RPS", "2.5")
	t.Setenv("TELEGRAM_MODE", "Webhook")
	t.Setenv("MCP_RESTAURANT_ID", "42")
	t.Setenv("SESSION_IDLE_TTL_MINUTES", "not-a-number")

	cfg := Load()
	if cfg.AgentMaxIterations != 4 || cfg.APIRateLimitRPS != 2.5 || cfg.MCPRestaurantID != 42 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.TelegramMode != TelegramModeWebhook {
		t.Fatalf("TelegramMode = %q", cfg.TelegramMode)
	}
	if cfg.SessionIdleTTL != 2*time.Hour {
		t.Fatalf("malformed value should fall back, got %v", cfg.SessionIdleTTL)
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("CHAT_MODEL=gpt-4o-mini\nPOSTGRES_DSN=postgres://file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("ENV_FILE", path)
	t.Setenv("POSTGRES_DSN", "postgres://process")

	cfg := Load()
	if cfg.ChatModel != "gpt-4o-mini" {
		t.Fatalf("ChatModel = %q, want value from file", cfg.ChatModel)
	}
	if cfg.PostgresDSN != "postgres://process" {
		t.Fatalf("PostgresDSN = %q, process env must win", cfg.PostgresDSN)
	}
}

func TestValidateListsEveryMissingKey(t *testing.T) {
	isolateEnv(t)

	err := Load().Validate()
	if err == nil {
		t.Fatalf("Validate() error = nil")
	}
	for _, key := range []string{"OPENAI_API_KEY", "POSTGRES_DSN", "TELEGRAM_FINANCE_BOT_TOKEN"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("Validate() error = %v, missing %s", err, key)
		}
	}
}

func TestValidateWithoutTelegram(t *testing.T) {
	isolateEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/finance")
	t.Setenv("TELEGRAM_MODE", "off")

	if err := Load().Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	isolateEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/finance")
	t.Setenv("TELEGRAM_MODE", "carrier-pigeon")

	if err := Load().Validate(); err == nil || !strings.Contains(err.Error(), "TELEGRAM_MODE") {
		t.Fatalf("Validate() error = %v", err)
	}
}
