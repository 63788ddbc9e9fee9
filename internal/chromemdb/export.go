package chromemdb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"lex-rag/internal/apperr"
)

// chromem-go encrypts with AES-256-GCM.
const keyLength = 32

// Export writes the collection to a single encrypted file and its manifest
// next to it as <path>.manifest.yaml.
func (i *Index) Export(ctx context.Context, path, encryptionKey string) error {
	if err := checkKey(encryptionKey); err != nil {
		return err
	}
	if path == "" {
		return apperr.Config("export index", fmt.Errorf("export path is required"))
	}

	log.Debug().
		Str("collection", i.collection.Name).
		Str("file", path).
		Msg("Exporting index")

	if err := i.db.ExportToFile(path, compress, encryptionKey, i.collection.Name); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return writeManifestFile(snapshotManifestPath(path), &i.manifest)
}

// Import restores an exported snapshot into dir, replacing whatever index
// is there with the same staged swap as Build.
func Import(ctx context.Context, dir, path, encryptionKey string) (*Manifest, error) {
	if err := checkKey(encryptionKey); err != nil {
		return nil, err
	}
	manifest, err := readManifestFile(snapshotManifestPath(path))
	if err != nil {
		return nil, apperr.Config("import index", err)
	}

	staging, err := stagingDir(dir)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	mem := chromem.NewDB()
	if err := mem.ImportFromFile(path, encryptionKey, manifest.Collection); err != nil {
		return nil, fmt.Errorf("failed to import database: %w", err)
	}
	src := mem.GetCollection(manifest.Collection, noEmbedding)
	if src == nil {
		return nil, fmt.Errorf("snapshot %s does not contain collection %q", path, manifest.Collection)
	}
	docs, err := allDocuments(ctx, src, manifest.Embedder.Dimension)
	if err != nil {
		return nil, err
	}

	db, err := chromem.NewPersistentDB(filepath.Join(staging, dataDir), compress)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	c, err := db.CreateCollection(manifest.Collection, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("failed to add documents: %w", err)
	}
	if err := WriteManifest(staging, manifest); err != nil {
		return nil, err
	}
	if err := swap(staging, dir); err != nil {
		return nil, err
	}

	log.Info().
		Str("dir", dir).
		Int("documents", c.Count()).
		Str("run_id", manifest.RunID).
		Msg("Vector index imported")
	return manifest, nil
}

// allDocuments reads every document of c. The collection has no listing
// call, so it runs one query wide enough to return everything.
func allDocuments(ctx context.Context, c *chromem.Collection, dim int) ([]chromem.Document, error) {
	n := c.Count()
	if n == 0 {
		return nil, nil
	}
	if dim <= 0 {
		return nil, fmt.Errorf("snapshot manifest has no embedding dimension")
	}
	unit := make([]float32, dim)
	unit[0] = 1
	results, err := c.QueryEmbedding(ctx, unit, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot documents: %w", err)
	}
	docs := make([]chromem.Document, len(results))
	for i, r := range results {
		docs[i] = chromem.Document{ID: r.ID, Content: r.Content, Metadata: r.Metadata, Embedding: r.Embedding}
	}
	return docs, nil
}

func checkKey(key string) error {
	if key == "" {
		return apperr.Config("check encryption key", fmt.Errorf("encryption key is required"))
	}
	if len(key) != keyLength {
		return apperr.Config("check encryption key", fmt.Errorf("encryption key must be %d bytes, got %d", keyLength, len(key)))
	}
	return nil
}
