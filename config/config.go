package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Upstream provider
	AnthropicAPIKey  string
	AnthropicBaseURL string // default: https://api.anthropic.com

	// Ledger storage
	LedgerDriver string // "sqlite" (default) or "postgres"
	SQLitePath   string // default: usage.db
	PostgresDSN  string // required when LedgerDriver == "postgres"

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"

	// Async recorder
	RecordQueueSize int // default: 256
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		AnthropicAPIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicBaseURL:     getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
		LedgerDriver:         getEnv("LEDGER_DRIVER", "sqlite"),
		SQLitePath:           getEnv("SQLITE_PATH", "usage.db"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	queueStr := getEnv("RECORD_QUEUE_SIZE", "256")
	queueSize, err := strconv.Atoi(queueStr)
	if err != nil || queueSize <= 0 {
		return nil, fmt.Errorf("invalid RECORD_QUEUE_SIZE: %q", queueStr)
	}
	cfg.RecordQueueSize = queueSize

	// Validation. The API key is deliberately not required here: queries,
	// manual entry and export work without one, and the relay reports a
	// per-call configuration error instead.
	switch cfg.LedgerDriver {
	case "sqlite":
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("SQLITE_PATH is required")
		}
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("POSTGRES_DSN is required when LEDGER_DRIVER=postgres")
		}
	default:
		return nil, fmt.Errorf("unknown LEDGER_DRIVER: %q", cfg.LedgerDriver)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
