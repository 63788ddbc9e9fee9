package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/prompts"

	"lex-rag/internal/apperr"
	"lex-rag/internal/embedding"
	"lex-rag/internal/models"
)

const documentSeparator = "\n\n"

// Retriever returns the chunks nearest to a query vector.
type Retriever interface {
	Query(ctx context.Context, vector []float32, k int) ([]models.Match, error)
}

// Generator turns a prompt into an answer.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Service answers questions from the indexed documents. It holds no
// per-request state and is safe for concurrent use.
type Service struct {
	embedder  embeddings.Embedder
	retriever Retriever
	generator Generator
	topK      int
	prompt    prompts.PromptTemplate
}

func NewService(embedder embeddings.Embedder, retriever Retriever, generator Generator, topK int) *Service {
	return &Service{
		embedder:  embedder,
		retriever: retriever,
		generator: generator,
		topK:      topK,
		prompt:    prompts.NewPromptTemplate(models.StuffPromptTemplate, []string{"context", "question"}),
	}
}

// Answer embeds the question, retrieves the top-k chunks, stuffs them into
// one prompt and returns the model's answer verbatim.
func (s *Service) Answer(ctx context.Context, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", apperr.Input("answer", fmt.Errorf("question is required"))
	}
	logger := zerolog.Ctx(ctx)

	logger.Debug().Str("stage", "embedding").Msg("Embedding question")
	vector, err := embedding.EmbedQuestion(ctx, s.embedder, question)
	if err != nil {
		return "", err
	}

	logger.Debug().Str("stage", "retrieving").Int("k", s.topK).Msg("Retrieving chunks")
	matches, err := s.retriever.Query(ctx, vector, s.topK)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			err = apperr.Dependency("retrieve", err)
		}
		return "", err
	}

	prompt, err := s.BuildPrompt(question, matches)
	if err != nil {
		return "", err
	}

	logger.Debug().Str("stage", "generating").Int("chunks", len(matches)).Int("prompt_len", len(prompt)).Msg("Generating answer")
	answer, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			err = apperr.Dependency("generate", err)
		}
		return "", err
	}
	return answer, nil
}

const warmupQuestion = "readiness check"

// Ready embeds a fixed question so an unreachable embedding model fails at
// startup instead of on the first request. When dimension is positive the
// vector must have that length.
func (s *Service) Ready(ctx context.Context, dimension int) error {
	vector, err := embedding.EmbedQuestion(ctx, s.embedder, warmupQuestion)
	if err != nil {
		return err
	}
	if dimension > 0 && len(vector) != dimension {
		return apperr.Config("ready", fmt.Errorf("embedder returns %d-dimensional vectors but the index holds %d; rebuild the index", len(vector), dimension))
	}
	return nil
}

// BuildPrompt renders the stuff prompt for question over matches.
func (s *Service) BuildPrompt(question string, matches []models.Match) (string, error) {
	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Content
		if t, ok := m.Metadata[models.MetaText]; ok && t != "" {
			texts[i] = t
		}
	}
	prompt, err := s.prompt.Format(map[string]any{
		"context":  strings.Join(texts, documentSeparator),
		"question": question,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return prompt, nil
}
