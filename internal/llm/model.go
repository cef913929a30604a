// Package llm wraps the inference backend used by the two-stage parsing
// engine. All calls go through langchaingo so the provider stays swappable.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/pricedock/pricedock/internal/config"
)

// Backend is the inference interface the parsing engine depends on. Tests
// substitute a scripted implementation.
type Backend interface {
	// Generate runs one system+user exchange and returns the raw completion
	// plus estimated input/output token counts.
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error)
	// Healthy probes backend reachability without spending tokens.
	Healthy(ctx context.Context) error
}

// Usage holds token accounting for a single call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Model wraps a langchaingo LLM for structured extraction calls.
type Model struct {
	llm        llms.Model
	modelName  string
	healthURL  string
	httpClient *http.Client
}

// NewModel creates an LLM model based on configuration.
func NewModel(ctx context.Context, cfg config.Config) (*Model, error) {
	var model llms.Model
	var err error
	healthURL := ""

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}
		healthURL = cfg.OllamaHost

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	case config.ProviderBedrock:
		awsCfg, cfgErr := awsconfig.LoadDefaultConfig(ctx)
		if cfgErr != nil {
			return nil, fmt.Errorf("load aws config: %w", cfgErr)
		}
		client := bedrockruntime.NewFromConfig(awsCfg)
		model, err = bedrock.New(
			bedrock.WithClient(client),
			bedrock.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create bedrock model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return &Model{
		llm:        model,
		modelName:  cfg.LLMModel,
		healthURL:  healthURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}, nil
}

// Generate runs a system+user exchange against the backend.
func (m *Model) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	response, err := m.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", Usage{}, fmt.Errorf("generate: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("no response choices")
	}

	content := response.Choices[0].Content
	usage := Usage{
		InputTokens:  llms.CountTokens(m.modelName, systemPrompt+userPrompt),
		OutputTokens: llms.CountTokens(m.modelName, content),
	}
	return content, usage, nil
}

// Healthy probes the backend. Local providers expose an HTTP root; hosted
// providers are assumed reachable and verified by the first real call.
func (m *Model) Healthy(ctx context.Context) error {
	if m.healthURL == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.healthURL, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("backend unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// ModelName returns the configured model identifier.
func (m *Model) ModelName() string {
	return m.modelName
}
