package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.SurrealDBURL != "ws://localhost:8000/rpc" {
		t.Errorf("SurrealDBURL = %q", cfg.SurrealDBURL)
	}
	if cfg.LLMProvider != ProviderOllama {
		t.Errorf("LLMProvider = %q, want ollama default", cfg.LLMProvider)
	}
	if cfg.SampleRows != 20 {
		t.Errorf("SampleRows = %d, want 20", cfg.SampleRows)
	}
	if cfg.ConfidenceThreshold != 0.7 {
		t.Errorf("ConfidenceThreshold = %v, want 0.7", cfg.ConfidenceThreshold)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.RetryBaseDelay != time.Second {
		t.Errorf("RetryBaseDelay = %s, want 1s", cfg.RetryBaseDelay)
	}
	if cfg.StaleJobTimeout != 30*time.Minute {
		t.Errorf("StaleJobTimeout = %s, want 30m", cfg.StaleJobTimeout)
	}
	if cfg.JobTTL != 72*time.Hour {
		t.Errorf("JobTTL = %s, want 72h", cfg.JobTTL)
	}
	if cfg.MatchThreshold != 0.85 || cfg.ReviewThreshold != 0.65 {
		t.Errorf("thresholds = %v / %v, want 0.85 / 0.65", cfg.MatchThreshold, cfg.ReviewThreshold)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PRICEDOCK_LLM_PROVIDER", "anthropic")
	t.Setenv("PRICEDOCK_SAMPLE_ROWS", "35")
	t.Setenv("PRICEDOCK_STRUCTURE_CONFIDENCE_THRESHOLD", "0.9")
	t.Setenv("PRICEDOCK_RETRY_BASE_DELAY", "250ms")
	t.Setenv("PRICEDOCK_MAX_FILE_SIZE", "1048576")
	t.Setenv("PRICEDOCK_LOG_LEVEL", "debug")

	cfg := Load()

	if cfg.LLMProvider != ProviderAnthropic {
		t.Errorf("LLMProvider = %q", cfg.LLMProvider)
	}
	if cfg.SampleRows != 35 {
		t.Errorf("SampleRows = %d", cfg.SampleRows)
	}
	if cfg.ConfidenceThreshold != 0.9 {
		t.Errorf("ConfidenceThreshold = %v", cfg.ConfidenceThreshold)
	}
	if cfg.RetryBaseDelay != 250*time.Millisecond {
		t.Errorf("RetryBaseDelay = %s", cfg.RetryBaseDelay)
	}
	if cfg.MaxFileSize != 1048576 {
		t.Errorf("MaxFileSize = %d", cfg.MaxFileSize)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("PRICEDOCK_SAMPLE_ROWS", "lots")
	t.Setenv("PRICEDOCK_RETRY_BASE_DELAY", "soon")
	t.Setenv("PRICEDOCK_LOG_LEVEL", "chatty")

	cfg := Load()

	if cfg.SampleRows != 20 {
		t.Errorf("SampleRows = %d, want default on parse failure", cfg.SampleRows)
	}
	if cfg.RetryBaseDelay != time.Second {
		t.Errorf("RetryBaseDelay = %s, want default on parse failure", cfg.RetryBaseDelay)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info on parse failure", cfg.LogLevel)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
