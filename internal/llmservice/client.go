package llmservice

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"lex-rag/internal/apperr"
	"lex-rag/internal/config"
)

// New creates the completion model described by cfg.
func New(cfg config.LLMConfig) (llms.Model, error) {
	log.Debug().
		Str("provider", cfg.Provider).
		Str("base_url", cfg.BaseURL).
		Str("model", cfg.Model).
		Msg("Creating LLM client")

	switch cfg.Provider {
	case config.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, apperr.Config("create llm", fmt.Errorf("failed to initialize openai client: %w", err))
		}
		return llm, nil
	case config.ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, apperr.Config("create llm", fmt.Errorf("failed to initialize ollama client: %w", err))
		}
		return llm, nil
	default:
		return nil, apperr.Config("create llm", fmt.Errorf("unknown provider %q", cfg.Provider))
	}
}

// Generator sends single prompts to a model with fixed decoding parameters.
type Generator struct {
	model llms.Model
	opts  []llms.CallOption
}

func NewGenerator(model llms.Model, cfg config.LLMConfig) *Generator {
	opts := []llms.CallOption{llms.WithMaxTokens(cfg.MaxTokens)}
	if cfg.Temperature != nil {
		opts = append(opts, llms.WithTemperature(*cfg.Temperature))
	}
	if cfg.TopP != nil {
		opts = append(opts, llms.WithTopP(*cfg.TopP))
	}
	return &Generator{model: model, opts: opts}
}

// Generate returns the model's completion for prompt unchanged.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	out, err := llms.GenerateFromSinglePrompt(ctx, g.model, prompt, g.opts...)
	if err != nil {
		return "", apperr.Dependency("generate answer", err)
	}
	return out, nil
}
