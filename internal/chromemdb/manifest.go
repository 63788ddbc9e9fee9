package chromemdb

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"lex-rag/internal/apperr"
	"lex-rag/internal/config"
	"lex-rag/internal/embedding"
)

const (
	SchemaVersion = 1
	ManifestFile  = "manifest.yaml"
)

var now = func() time.Time { return time.Now().UTC() }

// Manifest records how an index was built.
type Manifest struct {
	SchemaVersion int                `yaml:"schema_version"`
	RunID         string             `yaml:"run_id"`
	BuiltAt       time.Time          `yaml:"built_at"`
	Collection    string             `yaml:"collection"`
	Embedder      embedding.Identity `yaml:"embedder"`
	Chunking      config.ChunkConfig `yaml:"chunking"`
	Documents     int                `yaml:"documents"`
	Chunks        int                `yaml:"chunks"`
}

// ReadManifest loads the manifest of the index in dir.
func ReadManifest(dir string) (*Manifest, error) {
	m, err := readManifestFile(filepath.Join(dir, ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.Config("read manifest", fmt.Errorf("no index found at %s; run ingest-local first", dir))
	}
	if err != nil {
		return nil, apperr.Config("read manifest", err)
	}
	return m, nil
}

func WriteManifest(dir string, m *Manifest) error {
	return writeManifestFile(filepath.Join(dir, ManifestFile), m)
}

func snapshotManifestPath(snapshot string) string {
	return snapshot + "." + ManifestFile
}

func readManifestFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if m.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("unsupported index schema version %d in %s", m.SchemaVersion, path)
	}
	return &m, nil
}

func writeManifestFile(path string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
