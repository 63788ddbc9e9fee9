package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"lex-rag/internal/apperr"
	"lex-rag/internal/config"
	"lex-rag/internal/models"
)

const (
	defaultSchema = "public"
	insertBatch   = 100
)

// DocumentChunk is one row of a collection table.
type DocumentChunk struct {
	bun.BaseModel `bun:"table:document_chunks,alias:dc"`
	ID            string            `bun:"id,pk"`
	Content       string            `bun:"content,notnull"`
	Metadata      map[string]string `bun:"metadata,type:jsonb"`
	Embedding     pgvector.Vector   `bun:"embedding,type:vector"`
	Distance      float64           `bun:"distance,scanonly"`
}

// Store keeps records in a pgvector table named after the collection,
// inside the schema named by the environment.
type Store struct {
	db     *bun.DB
	schema string
	table  string
}

var _ models.VectorStore = (*Store)(nil)

// ConnectDB opens a database handle for cfg using the configured driver.
// The vector database API key is used as the password.
func ConnectDB(cfg config.HostedConfig) (*sql.DB, error) {
	switch cfg.Postgres.Driver {
	case config.DriverPq:
		dsn, err := withPassword(cfg.Postgres.DSN, cfg.Key)
		if err != nil {
			return nil, apperr.Config("connect postgres", err)
		}
		sqldb, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, apperr.Config("connect postgres", err)
		}
		return sqldb, nil
	case config.DriverPgdriver, "":
		return sql.OpenDB(pgdriver.NewConnector(
			pgdriver.WithDSN(cfg.Postgres.DSN),
			pgdriver.WithPassword(cfg.Key),
		)), nil
	default:
		return nil, apperr.Config("connect postgres", fmt.Errorf("unknown driver %q", cfg.Postgres.Driver))
	}
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func NewStore(db *bun.DB, environment, collection string) *Store {
	schema := environment
	if schema == "" {
		schema = defaultSchema
	}
	return &Store{db: db, schema: schema, table: collection}
}

// Open connects to Postgres and returns a store for cfg.Collection.
func Open(ctx context.Context, cfg config.HostedConfig) (*Store, error) {
	sqldb, err := ConnectDB(cfg)
	if err != nil {
		return nil, err
	}
	db := NewDB(sqldb, cfg.Postgres.Debug)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, apperr.Dependency("connect postgres", err)
	}
	return NewStore(db, cfg.Environment, cfg.Collection), nil
}

// EnsureCollection creates the extension, schema and collection table if missing.
func (s *Store) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return apperr.Input("init collection", fmt.Errorf("dimension must be positive, got %d", dimension))
	}
	stmts := []struct {
		query string
		args  []interface{}
	}{
		{"CREATE EXTENSION IF NOT EXISTS vector", nil},
		{"CREATE SCHEMA IF NOT EXISTS ?", []interface{}{bun.Ident(s.schema)}},
		{`CREATE TABLE IF NOT EXISTS ?.? (
			id text PRIMARY KEY,
			content text NOT NULL,
			metadata jsonb,
			embedding vector(?) NOT NULL
		)`, []interface{}{bun.Ident(s.schema), bun.Ident(s.table), dimension}},
	}
	for _, st := range stmts {
		if _, err := s.db.NewRaw(st.query, st.args...).Exec(ctx); err != nil {
			return apperr.Dependency("init collection", fmt.Errorf("failed to prepare table %s: %w", s.qualified(), err))
		}
	}
	log.Debug().Str("table", s.qualified()).Int("dimension", dimension).Msg("Collection table ready")
	return nil
}

// Upsert writes records in one transaction, replacing rows with the same id.
func (s *Store) Upsert(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := toRows(records)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for start := 0; start < len(rows); start += insertBatch {
			end := min(start+insertBatch, len(rows))
			batch := rows[start:end]
			_, err := tx.NewInsert().
				Model(&batch).
				ModelTableExpr("?.? AS dc", bun.Ident(s.schema), bun.Ident(s.table)).
				On("CONFLICT (id) DO UPDATE").
				Set("content = EXCLUDED.content").
				Set("metadata = EXCLUDED.metadata").
				Set("embedding = EXCLUDED.embedding").
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to upsert rows %d-%d: %w", start, end-1, err)
			}
		}
		return nil
	})
	if err != nil {
		return apperr.Dependency("upsert records", err)
	}
	return nil
}

// Query returns the k rows closest to vector by cosine distance.
func (s *Store) Query(ctx context.Context, vector []float32, k int) ([]models.Match, error) {
	if k <= 0 {
		return nil, apperr.Input("query collection", fmt.Errorf("k must be positive, got %d", k))
	}
	v := pgvector.NewVector(vector)
	var rows []DocumentChunk
	err := s.db.NewSelect().
		Model(&rows).
		ModelTableExpr("?.? AS dc", bun.Ident(s.schema), bun.Ident(s.table)).
		Column("id", "content", "metadata").
		ColumnExpr("embedding <=> ? AS distance", v).
		OrderExpr("embedding <=> ?", v).
		Limit(k).
		Scan(ctx)
	if err != nil {
		return nil, apperr.Dependency("query collection", err)
	}
	return toMatches(rows), nil
}

// DropCollection removes the collection table.
func (s *Store) DropCollection(ctx context.Context) error {
	if _, err := s.db.NewRaw("DROP TABLE IF EXISTS ?.?", bun.Ident(s.schema), bun.Ident(s.table)).Exec(ctx); err != nil {
		return apperr.Dependency("drop collection", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) qualified() string { return s.schema + "." + s.table }

func toRows(records []models.Record) []DocumentChunk {
	rows := make([]DocumentChunk, len(records))
	for i, r := range records {
		rows[i] = DocumentChunk{
			ID:        r.ID,
			Content:   r.Content,
			Metadata:  r.Metadata,
			Embedding: pgvector.NewVector(r.Embedding),
		}
	}
	return rows
}

// Cosine distance lies in [0, 2]; similarity is reported as 1 - distance.
func toMatches(rows []DocumentChunk) []models.Match {
	matches := make([]models.Match, len(rows))
	for i, r := range rows {
		matches[i] = models.Match{
			ID:       r.ID,
			Content:  r.Content,
			Metadata: r.Metadata,
			Score:    float32(1 - r.Distance),
		}
	}
	return matches
}

// withPassword sets the password of a URL-style DSN. Key/value DSNs get a
// password= pair appended.
func withPassword(dsn, password string) (string, error) {
	if password == "" {
		return dsn, nil
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("invalid dsn: %w", err)
		}
		user := ""
		if u.User != nil {
			user = u.User.Username()
		}
		u.User = url.UserPassword(user, password)
		return u.String(), nil
	}
	return strings.TrimSpace(dsn) + " password='" + strings.ReplaceAll(password, "'", `\'`) + "'", nil
}
