package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"lex-rag/internal/apperr"
	"lex-rag/internal/embedding"
	"lex-rag/internal/helper"
	"lex-rag/internal/models"
)

const (
	dataDir  = "chromem"
	compress = false
)

var errNoEmbeddingFunc = errors.New("index only accepts precomputed embeddings")

// Stored documents always carry their embedding, so the collection never
// embeds on its own.
func noEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

// Index is a chromem-go collection persisted under a directory together
// with the manifest describing how it was built.
type Index struct {
	db         *chromem.DB
	collection *chromem.Collection
	dir        string
	manifest   Manifest
}

var _ models.VectorStore = (*Index)(nil)

// Open loads the index stored in dir. A missing index is a configuration
// error: the ingestion job has to run first.
func Open(dir, collection string) (*Index, error) {
	manifest, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	if manifest.Collection != collection {
		return nil, apperr.Config("open index", fmt.Errorf("index at %s holds collection %q, not %q", dir, manifest.Collection, collection))
	}

	data := filepath.Join(dir, dataDir)
	ok, err := helper.Exists(data)
	if err != nil {
		return nil, apperr.Config("open index", err)
	}
	if !ok {
		return nil, apperr.Config("open index", fmt.Errorf("index data missing at %s", data))
	}

	db, err := chromem.NewPersistentDB(data, compress)
	if err != nil {
		return nil, apperr.Config("open index", fmt.Errorf("failed to load database: %w", err))
	}
	c := db.GetCollection(collection, noEmbedding)
	if c == nil {
		return nil, apperr.Config("open index", fmt.Errorf("collection %q not found in %s", collection, data))
	}
	if c.Count() != manifest.Chunks {
		log.Warn().
			Int("documents", c.Count()).
			Int("manifest_chunks", manifest.Chunks).
			Msg("Index size differs from manifest")
	}

	log.Info().
		Str("dir", dir).
		Str("collection", collection).
		Int("documents", c.Count()).
		Str("run_id", manifest.RunID).
		Msg("Loaded vector index")

	return &Index{db: db, collection: c, dir: dir, manifest: *manifest}, nil
}

// Build writes records into a fresh index under a staging directory and
// swaps it into dir only once everything, manifest included, is on disk.
// The previous index in dir survives any failure.
func Build(ctx context.Context, dir, collection string, records []models.Record, manifest Manifest) (*Manifest, error) {
	if len(records) == 0 {
		return nil, apperr.Input("build index", fmt.Errorf("no chunks to index"))
	}

	runID, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	manifest.SchemaVersion = SchemaVersion
	manifest.RunID = runID
	manifest.Collection = collection
	manifest.Chunks = len(records)
	manifest.Embedder.Dimension = len(records[0].Embedding)
	manifest.BuiltAt = now()

	staging, err := stagingDir(dir)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	db, err := chromem.NewPersistentDB(filepath.Join(staging, dataDir), compress)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	c, err := db.CreateCollection(collection, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	if err := c.AddDocuments(ctx, toDocuments(records), runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("failed to add documents: %w", err)
	}
	if err := WriteManifest(staging, &manifest); err != nil {
		return nil, err
	}
	if err := swap(staging, dir); err != nil {
		return nil, err
	}

	log.Info().
		Str("dir", dir).
		Int("chunks", manifest.Chunks).
		Str("run_id", manifest.RunID).
		Msg("Vector index built")
	return &manifest, nil
}

// Upsert adds or replaces records by id.
func (i *Index) Upsert(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := i.collection.AddDocuments(ctx, toDocuments(records), runtime.NumCPU()); err != nil {
		return apperr.Dependency("upsert index", fmt.Errorf("failed to add documents: %w", err))
	}
	return nil
}

// Query returns the k documents most similar to vector. k larger than the
// collection is clamped.
func (i *Index) Query(ctx context.Context, vector []float32, k int) ([]models.Match, error) {
	if len(vector) == 0 {
		return nil, apperr.Input("query index", fmt.Errorf("query embedding is required"))
	}
	if k <= 0 {
		return nil, apperr.Input("query index", fmt.Errorf("k must be positive, got %d", k))
	}
	n := i.collection.Count()
	if n == 0 {
		return nil, nil
	}
	if k > n {
		k = n
	}

	results, err := i.collection.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, apperr.Dependency("query index", fmt.Errorf("failed to query by similarity: %w", err))
	}

	matches := make([]models.Match, len(results))
	for j, r := range results {
		matches[j] = models.Match{
			ID:       r.ID,
			Content:  r.Content,
			Metadata: r.Metadata,
			Score:    r.Similarity,
		}
	}
	return matches, nil
}

func (i *Index) Count() int { return i.collection.Count() }

func (i *Index) Manifest() Manifest { return i.manifest }

// CheckEmbedder fails when vectors produced by want cannot be compared with
// the ones stored in the index.
func (i *Index) CheckEmbedder(want embedding.Identity) error {
	have := i.manifest.Embedder
	if have.Provider != want.Provider || have.Model != want.Model ||
		(want.Dimension > 0 && have.Dimension > 0 && want.Dimension != have.Dimension) {
		return apperr.Config("check embedder", fmt.Errorf("index was built with %s but the configured embedder is %s; rebuild the index", have, want))
	}
	return nil
}

func toDocuments(records []models.Record) []chromem.Document {
	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.Content,
			Metadata:  r.Metadata,
			Embedding: r.Embedding,
		}
	}
	return docs
}

func stagingDir(dir string) (string, error) {
	parent := filepath.Dir(filepath.Clean(dir))
	if err := helper.CreateFolder(parent); err != nil {
		return "", err
	}
	staging, err := os.MkdirTemp(parent, "."+filepath.Base(dir)+"-staging-")
	if err != nil {
		return "", fmt.Errorf("failed to create staging dir: %w", err)
	}
	return staging, nil
}

// swap replaces dir with staging. If the final rename fails the previous
// contents are moved back.
func swap(staging, dir string) error {
	old := dir + ".old"
	if err := os.RemoveAll(old); err != nil {
		return fmt.Errorf("failed to clear %s: %w", old, err)
	}

	existed, err := helper.Exists(dir)
	if err != nil {
		return err
	}
	if existed {
		if err := os.Rename(dir, old); err != nil {
			return fmt.Errorf("failed to move previous index aside: %w", err)
		}
	}
	if err := os.Rename(staging, dir); err != nil {
		if existed {
			if rerr := os.Rename(old, dir); rerr != nil {
				log.Error().Err(rerr).Str("dir", old).Msg("Failed to restore previous index")
			}
		}
		return fmt.Errorf("failed to move new index into place: %w", err)
	}
	if existed {
		if err := os.RemoveAll(old); err != nil {
			log.Warn().Err(err).Str("dir", old).Msg("Failed to remove previous index")
		}
	}
	return nil
}
