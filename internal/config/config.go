// Package config loads pipeline configuration from the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// LLM provider identifiers.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection (shared job state store + catalog output)
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Shared file store
	FileStoreRoot string
	MaxFileSize   int64
	SidecarMaxAge time.Duration

	// Inference backend
	LLMProvider     string
	LLMModel        string
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	EmbeddingModel  string

	// Two-stage parsing
	SampleRows          int
	ConfidenceThreshold float64
	StageARetries       int

	// Orchestrator
	AnalyzerURL     string
	WorkerSlots     int64
	MaxRetries      int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	StaleJobTimeout time.Duration
	JobTTL          time.Duration

	// Matching
	MatchThreshold  float64
	ReviewThreshold float64

	// HTTP listeners
	OrchestratorAddr string
	AnalyzerAddr     string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "pricedock"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "ingest"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		FileStoreRoot: getEnv("PRICEDOCK_STORE_ROOT", "/var/lib/pricedock/files"),
		MaxFileSize:   getEnvInt64("PRICEDOCK_MAX_FILE_SIZE", 100<<20),
		SidecarMaxAge: getEnvDuration("PRICEDOCK_SIDECAR_MAX_AGE", 14*24*time.Hour),

		LLMProvider:     getEnv("PRICEDOCK_LLM_PROVIDER", ProviderOllama),
		LLMModel:        getEnv("PRICEDOCK_LLM_MODEL", "llama3.1"),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		EmbeddingModel:  getEnv("PRICEDOCK_EMBEDDING_MODEL", "all-minilm:l6-v2"),

		SampleRows:          getEnvInt("PRICEDOCK_SAMPLE_ROWS", 20),
		ConfidenceThreshold: getEnvFloat("PRICEDOCK_STRUCTURE_CONFIDENCE_THRESHOLD", 0.7),
		StageARetries:       getEnvInt("PRICEDOCK_STAGE_A_RETRIES", 3),

		AnalyzerURL:     getEnv("PRICEDOCK_ANALYZER_URL", "http://localhost:8491"),
		WorkerSlots:     getEnvInt64("PRICEDOCK_WORKER_SLOTS", 4),
		MaxRetries:      getEnvInt("PRICEDOCK_MAX_RETRIES", 3),
		RetryBaseDelay:  getEnvDuration("PRICEDOCK_RETRY_BASE_DELAY", time.Second),
		RetryMaxDelay:   getEnvDuration("PRICEDOCK_RETRY_MAX_DELAY", 30*time.Second),
		StaleJobTimeout: getEnvDuration("PRICEDOCK_STALE_JOB_TIMEOUT", 30*time.Minute),
		JobTTL:          getEnvDuration("PRICEDOCK_JOB_TTL", 72*time.Hour),

		MatchThreshold:  getEnvFloat("PRICEDOCK_MATCH_THRESHOLD", 0.85),
		ReviewThreshold: getEnvFloat("PRICEDOCK_REVIEW_THRESHOLD", 0.65),

		OrchestratorAddr: getEnv("PRICEDOCK_LISTEN_ADDR", ":8490"),
		AnalyzerAddr:     getEnv("PRICEDOCK_ANALYZER_LISTEN_ADDR", ":8491"),

		LogFile:  getEnv("PRICEDOCK_LOG_FILE", "/tmp/pricedock.log"),
		LogLevel: parseLogLevel(getEnv("PRICEDOCK_LOG_LEVEL", "INFO")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
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

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
