package models

import "context"

// Page is the extracted text of one page (or sheet) of a source document.
type Page struct {
	Source string
	Number int
	Text   string
}

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	Content    string
	Source     string
	PageNumber int
	ChunkID    int
}

// ChunkEmbedding pairs a chunk with the vector produced for its content.
type ChunkEmbedding struct {
	Chunk
	Embedding []float32
}

// Record is a single vector index entry. The chunk text is kept both as
// Content and under the MetaText metadata key.
type Record struct {
	ID        string
	Content   string
	Metadata  map[string]string
	Embedding []float32
}

// Match is one nearest-neighbour hit. Score is the store's similarity,
// higher is closer.
type Match struct {
	ID       string
	Content  string
	Metadata map[string]string
	Score    float32
}

// VectorStore is implemented by every index backend.
type VectorStore interface {
	Upsert(ctx context.Context, records []Record) error
	Query(ctx context.Context, vector []float32, k int) ([]Match, error)
}

type QueryResponse struct {
	Question string `json:"question"`
	Response string `json:"response"`
}
