// Package ingest runs the offline jobs that turn documents into index
// records: extract, chunk, embed, store. Every step aborts the run on the
// first error; nothing is written until all chunks are embedded.
package ingest

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"lex-rag/internal/apperr"
	"lex-rag/internal/chromemdb"
	"lex-rag/internal/config"
	"lex-rag/internal/embedding"
	"lex-rag/internal/helper"
	"lex-rag/internal/models"
	"lex-rag/internal/parser"
)

const previewRunes = 80

// Options control a single run.
type Options struct {
	// DryRun prints the chunks to Out and skips embedding and storing.
	DryRun bool
	Out    io.Writer
}

// Result summarises a run.
type Result struct {
	Documents int                 `json:"documents"`
	Pages     int                 `json:"pages"`
	Chunks    int                 `json:"chunks"`
	Manifest  *chromemdb.Manifest `json:"manifest,omitempty"`
}

// HostedStore is a remote collection that must exist before upserting.
type HostedStore interface {
	models.VectorStore
	EnsureCollection(ctx context.Context, dimension int) error
}

// RunLocal rebuilds the local index from every matching document in
// cfg.InputDir.
func RunLocal(ctx context.Context, cfg config.LocalConfig, embedder embeddings.Embedder, opts Options) (*Result, error) {
	splitter, err := parser.NewSplitter(cfg.Chunk)
	if err != nil {
		return nil, err
	}
	files, err := parser.ListDocuments(cfg.InputDir, cfg.Extensions)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, apperr.Input("list documents", fmt.Errorf("no %v documents found in %s", cfg.Extensions, cfg.InputDir))
	}

	res := &Result{Documents: len(files)}
	var chunks []models.Chunk
	for _, file := range files {
		pages, err := parser.ExtractPages(file)
		if err != nil {
			return nil, apperr.Input("extract pages", err)
		}
		fileChunks, err := parser.ChunkPages(pages, splitter)
		if err != nil {
			return nil, err
		}
		log.Info().Str("file", file).Int("pages", len(pages)).Int("chunks", len(fileChunks)).Msg("Processed document")
		res.Pages += len(pages)
		chunks = append(chunks, fileChunks...)
	}
	res.Chunks = len(chunks)

	if opts.DryRun {
		printChunks(opts.Out, chunks)
		return res, nil
	}

	embedded, err := embedding.EmbedChunks(ctx, embedder, chunks)
	if err != nil {
		return nil, err
	}
	manifest, err := chromemdb.Build(ctx, cfg.IndexPath, cfg.Collection, LocalRecords(embedded), chromemdb.Manifest{
		Embedder:  embedding.IdentityOf(cfg.Embedder),
		Chunking:  cfg.Chunk,
		Documents: len(files),
	})
	if err != nil {
		return nil, err
	}
	res.Manifest = manifest
	return res, nil
}

// RunHosted chunks the single document cfg.File as one block and upserts
// it into store.
func RunHosted(ctx context.Context, cfg config.HostedConfig, embedder embeddings.Embedder, store HostedStore, opts Options) (*Result, error) {
	splitter, err := parser.NewSplitter(cfg.Chunk)
	if err != nil {
		return nil, err
	}
	pages, err := parser.ExtractPages(cfg.File)
	if err != nil {
		return nil, apperr.Input("extract pages", err)
	}
	chunks, err := parser.ChunkDocument(pages, splitter)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, apperr.Input("chunk document", fmt.Errorf("no text found in %s", cfg.File))
	}
	res := &Result{Documents: 1, Pages: len(pages), Chunks: len(chunks)}
	log.Info().Str("file", cfg.File).Int("pages", len(pages)).Int("chunks", len(chunks)).Msg("Processed document")

	if opts.DryRun {
		printChunks(opts.Out, chunks)
		return res, nil
	}

	embedded, err := embedding.EmbedChunks(ctx, embedder, chunks)
	if err != nil {
		return nil, err
	}
	records := HostedRecords(embedded, cfg.IDPrefix)
	if err := store.EnsureCollection(ctx, len(records[0].Embedding)); err != nil {
		return nil, err
	}
	if err := store.Upsert(ctx, records); err != nil {
		return nil, err
	}
	log.Info().Str("collection", cfg.Collection).Int("records", len(records)).Msg("Upserted document chunks")
	return res, nil
}

// Retrieve embeds question and returns the k nearest records in store.
func Retrieve(ctx context.Context, embedder embeddings.Embedder, store models.VectorStore, question string, k int) ([]models.Match, error) {
	vector, err := embedding.EmbedQuestion(ctx, embedder, question)
	if err != nil {
		return nil, err
	}
	return store.Query(ctx, vector, k)
}

// LocalRecords names records <source>-p<page>-c<chunk>.
func LocalRecords(embedded []models.ChunkEmbedding) []models.Record {
	records := make([]models.Record, len(embedded))
	for i, e := range embedded {
		records[i] = newRecord(fmt.Sprintf("%s-p%d-c%d", e.Source, e.PageNumber, e.ChunkID), e)
	}
	return records
}

// HostedRecords names records <prefix><position>, position starting at 0.
func HostedRecords(embedded []models.ChunkEmbedding, prefix string) []models.Record {
	records := make([]models.Record, len(embedded))
	for i, e := range embedded {
		records[i] = newRecord(prefix+strconv.Itoa(i), e)
	}
	return records
}

func newRecord(id string, e models.ChunkEmbedding) models.Record {
	return models.Record{
		ID:      id,
		Content: e.Content,
		Metadata: map[string]string{
			models.MetaText:    e.Content,
			models.MetaSource:  e.Source,
			models.MetaPage:    strconv.Itoa(e.PageNumber),
			models.MetaChunkID: strconv.Itoa(e.ChunkID),
		},
		Embedding: e.Embedding,
	}
}

type chunkPreview struct {
	Source  string `json:"source"`
	Page    int    `json:"page"`
	ChunkID int    `json:"chunk_id"`
	Runes   int    `json:"runes"`
	Preview string `json:"preview"`
}

func printChunks(w io.Writer, chunks []models.Chunk) {
	if w == nil {
		return
	}
	out := make([]chunkPreview, len(chunks))
	for i, c := range chunks {
		r := []rune(c.Content)
		preview := c.Content
		if len(r) > previewRunes {
			preview = string(r[:previewRunes]) + "..."
		}
		out[i] = chunkPreview{Source: c.Source, Page: c.PageNumber, ChunkID: c.ChunkID, Runes: len(r), Preview: preview}
	}
	helper.PrettyPrint(w, out)
}
