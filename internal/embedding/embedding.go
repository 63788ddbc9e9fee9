package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"lex-rag/internal/apperr"
	"lex-rag/internal/config"
	"lex-rag/internal/models"
)

// Identity names the embedding strategy that produced a set of vectors.
// Vectors from different identities are not comparable.
type Identity struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

func (i Identity) String() string {
	if i.Dimension > 0 {
		return fmt.Sprintf("%s/%s (dim %d)", i.Provider, i.Model, i.Dimension)
	}
	return fmt.Sprintf("%s/%s", i.Provider, i.Model)
}

// IdentityOf returns the identity described by cfg. The dimension is only
// known up front for the hash provider.
func IdentityOf(cfg config.EmbedConfig) Identity {
	id := Identity{Provider: cfg.Provider, Model: cfg.Model}
	if cfg.Provider == config.ProviderHash {
		id.Model = HashModelName
		id.Dimension = cfg.Dimension
	}
	return id
}

// New builds the embedder selected by cfg.Provider.
func New(cfg config.EmbedConfig) (embeddings.Embedder, error) {
	log.Debug().
		Str("provider", cfg.Provider).
		Str("base_url", cfg.BaseURL).
		Str("model", cfg.Model).
		Msg("Creating embedder")

	switch cfg.Provider {
	case config.ProviderOllama:
		return NewOllamaEmbedder(cfg)
	case config.ProviderOpenAI:
		return NewEmbedder(cfg)
	case config.ProviderHash:
		return NewHashEmbedder(cfg.Dimension)
	default:
		return nil, apperr.Config("create embedder", fmt.Errorf("unknown provider %q", cfg.Provider))
	}
}

// NewEmbedder creates an embedder backed by an OpenAI-compatible API.
func NewEmbedder(cfg config.EmbedConfig) (*embeddings.EmbedderImpl, error) {
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, apperr.Config("create openai embedder", fmt.Errorf("failed to initialize client: %w", err))
	}
	return newEmbedderImpl(llm, cfg.BatchSize)
}

// NewOllamaEmbedder creates an embedder backed by a local ollama server.
func NewOllamaEmbedder(cfg config.EmbedConfig) (*embeddings.EmbedderImpl, error) {
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, apperr.Config("create ollama embedder", fmt.Errorf("failed to initialize client: %w", err))
	}
	return newEmbedderImpl(llm, cfg.BatchSize)
}

func newEmbedderImpl(client embeddings.EmbedderClient, batchSize int) (*embeddings.EmbedderImpl, error) {
	opts := []embeddings.Option{}
	if batchSize > 0 {
		opts = append(opts, embeddings.WithBatchSize(batchSize))
	}
	embedder, err := embeddings.NewEmbedder(client, opts...)
	if err != nil {
		return nil, apperr.Config("create embedder", err)
	}
	return embedder, nil
}

// EmbedChunks embeds every chunk in order. The result is index-aligned
// with chunks; any failure aborts the whole batch.
func EmbedChunks(ctx context.Context, embedder embeddings.Embedder, chunks []models.Chunk) ([]models.ChunkEmbedding, error) {
	if len(chunks) == 0 {
		log.Info().Msg("No chunks to embed")
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, apperr.Dependency("embed chunks", fmt.Errorf("failed to embed %d chunks: %w", len(chunks), err))
	}
	if len(vectors) != len(chunks) {
		return nil, apperr.Dependency("embed chunks", fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks)))
	}

	dim := len(vectors[0])
	out := make([]models.ChunkEmbedding, len(chunks))
	for i, v := range vectors {
		if len(v) == 0 || len(v) != dim {
			return nil, apperr.Dependency("embed chunks", fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), dim))
		}
		out[i] = models.ChunkEmbedding{Chunk: chunks[i], Embedding: v}
	}

	log.Debug().Int("chunks", len(out)).Int("dimension", dim).Msg("Embedded chunks")
	return out, nil
}

// EmbedQuestion embeds a single query string.
func EmbedQuestion(ctx context.Context, embedder embeddings.Embedder, question string) ([]float32, error) {
	v, err := embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, apperr.Dependency("embed question", err)
	}
	if len(v) == 0 {
		return nil, apperr.Dependency("embed question", fmt.Errorf("embedder returned an empty vector"))
	}
	return v, nil
}
