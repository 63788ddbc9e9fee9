package milvusdb

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"
	"github.com/rs/zerolog/log"

	"lex-rag/internal/apperr"
	"lex-rag/internal/config"
	"lex-rag/internal/models"
)

const (
	FieldID      = "id"
	FieldVector  = "vector"
	FieldText    = "text"
	FieldSource  = "source"
	FieldPage    = "page"
	FieldChunkID = "chunk_id"

	maxVarCharLength = "65535"
	maxIDLength      = "255"
)

var outputFields = []string{FieldText, FieldSource, FieldPage, FieldChunkID}

// Store keeps records in a Milvus collection. The environment selects the
// Milvus database.
type Store struct {
	client     *milvusclient.Client
	collection string
}

var _ models.VectorStore = (*Store)(nil)

func Open(ctx context.Context, cfg config.HostedConfig) (*Store, error) {
	c, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address: cfg.Milvus.Address,
		APIKey:  cfg.Key,
		DBName:  cfg.Environment,
	})
	if err != nil {
		return nil, apperr.Dependency("connect milvus", fmt.Errorf("failed to connect to %s: %w", cfg.Milvus.Address, err))
	}
	return &Store{client: c, collection: cfg.Collection}, nil
}

// EnsureCollection creates the collection with an HNSW cosine index when it
// does not exist yet and loads it for search.
func (s *Store) EnsureCollection(ctx context.Context, dimension int) error {
	exists, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(s.collection))
	if err != nil {
		return apperr.Dependency("ensure collection", fmt.Errorf("failed to check if collection exists: %w", err))
	}

	if !exists {
		if err := s.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(s.collection, collectionSchema(s.collection, dimension))); err != nil {
			return apperr.Dependency("ensure collection", fmt.Errorf("failed to create collection %s: %w", s.collection, err))
		}
		idx := index.NewHNSWIndex(entity.COSINE, 16, 200)
		task, err := s.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(s.collection, FieldVector, idx))
		if err != nil {
			return apperr.Dependency("ensure collection", fmt.Errorf("failed to create index on vector field: %w", err))
		}
		if err := task.Await(ctx); err != nil {
			return apperr.Dependency("ensure collection", fmt.Errorf("index build failed: %w", err))
		}
		log.Info().Str("collection", s.collection).Int("dimension", dimension).Msg("Created collection")
	}

	task, err := s.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(s.collection))
	if err != nil {
		return apperr.Dependency("ensure collection", fmt.Errorf("failed to load collection %s into memory: %w", s.collection, err))
	}
	if err := task.Await(ctx); err != nil {
		return apperr.Dependency("ensure collection", fmt.Errorf("failed to load collection %s: %w", s.collection, err))
	}
	return nil
}

func collectionSchema(name string, dimension int) *entity.Schema {
	varchar := func(field, maxLen string) *entity.Field {
		return &entity.Field{
			Name:       field,
			DataType:   entity.FieldTypeVarChar,
			TypeParams: map[string]string{"max_length": maxLen},
		}
	}
	id := varchar(FieldID, maxIDLength)
	id.PrimaryKey = true

	return &entity.Schema{
		CollectionName: name,
		Description:    "Document chunks for retrieval",
		Fields: []*entity.Field{
			id,
			{
				Name:       FieldVector,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": fmt.Sprintf("%d", dimension)},
			},
			varchar(FieldText, maxVarCharLength),
			varchar(FieldSource, maxIDLength),
			varchar(FieldPage, "16"),
			varchar(FieldChunkID, "16"),
		},
	}
}

type columns struct {
	ids, texts, sources, pages, chunkIDs []string
	vectors                              [][]float32
	dim                                  int
}

func toColumns(records []models.Record) (columns, error) {
	c := columns{dim: len(records[0].Embedding)}
	for i, r := range records {
		if len(r.Embedding) != c.dim {
			return columns{}, fmt.Errorf("record %d has dimension %d, expected %d", i, len(r.Embedding), c.dim)
		}
		c.ids = append(c.ids, r.ID)
		c.texts = append(c.texts, r.Content)
		c.sources = append(c.sources, r.Metadata[models.MetaSource])
		c.pages = append(c.pages, r.Metadata[models.MetaPage])
		c.chunkIDs = append(c.chunkIDs, r.Metadata[models.MetaChunkID])
		c.vectors = append(c.vectors, r.Embedding)
	}
	return c, nil
}

// Upsert writes records column-wise, replacing rows with the same id.
func (s *Store) Upsert(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	cols, err := toColumns(records)
	if err != nil {
		return apperr.Input("upsert records", err)
	}

	opt := milvusclient.NewColumnBasedInsertOption(s.collection).
		WithVarcharColumn(FieldID, cols.ids).
		WithFloatVectorColumn(FieldVector, cols.dim, cols.vectors).
		WithVarcharColumn(FieldText, cols.texts).
		WithVarcharColumn(FieldSource, cols.sources).
		WithVarcharColumn(FieldPage, cols.pages).
		WithVarcharColumn(FieldChunkID, cols.chunkIDs)

	res, err := s.client.Upsert(ctx, opt)
	if err != nil {
		return apperr.Dependency("upsert records", fmt.Errorf("failed to upsert into %s: %w", s.collection, err))
	}
	log.Debug().Str("collection", s.collection).Int64("upserted", res.UpsertCount).Msg("Upserted records")
	return nil
}

// Query returns the k records closest to vector.
func (s *Store) Query(ctx context.Context, vector []float32, k int) ([]models.Match, error) {
	if k <= 0 {
		return nil, apperr.Input("query collection", fmt.Errorf("k must be positive, got %d", k))
	}
	opt := milvusclient.NewSearchOption(s.collection, k, []entity.Vector{entity.FloatVector(vector)}).
		WithANNSField(FieldVector).
		WithOutputFields(outputFields...)

	results, err := s.client.Search(ctx, opt)
	if err != nil {
		return nil, apperr.Dependency("query collection", fmt.Errorf("failed to search %s: %w", s.collection, err))
	}
	if len(results) == 0 {
		return nil, nil
	}
	return toMatches(results[0])
}

func toMatches(rs milvusclient.ResultSet) ([]models.Match, error) {
	matches := make([]models.Match, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		id, err := rs.IDs.GetAsString(i)
		if err != nil {
			return nil, fmt.Errorf("failed to read id %d: %w", i, err)
		}
		meta := make(map[string]string, len(outputFields))
		for _, field := range outputFields {
			col := rs.GetColumn(field)
			if col == nil {
				continue
			}
			v, err := col.GetAsString(i)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s of %s: %w", field, id, err)
			}
			meta[field] = v
		}
		m := models.Match{ID: id, Content: meta[FieldText], Metadata: meta}
		if i < len(rs.Scores) {
			m.Score = rs.Scores[i]
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}
