package vectorstore

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

type codeVector struct {
	Namespace string
	ID        string
	Path      string
	StartLine int
	EndLine   int
	Content   string
	Embedding pgvector.Vector
	UpdatedAt time.Time
}

type scoredVector struct {
	ID        string
	Score     float64
	Path      string
	StartLine int
	EndLine   int
	Content   string
}

// PgVectorStore stores chunk vectors in Postgres using the pgvector extension.
type PgVectorStore struct {
	db        *gorm.DB
	table     string
	dimension int
	batchSize int
}

// NewPgVectorStore ensures the vector table exists with the configured dimension.
func NewPgVectorStore(db *gorm.DB, table string, dimension, batchSize int) (*PgVectorStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid vector index name %q", table)
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive")
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	store := &PgVectorStore{db: db, table: table, dimension: dimension, batchSize: batchSize}
	if err := store.ensureTable(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *PgVectorStore) ensureTable() error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
  namespace  text NOT NULL,
  id         text NOT NULL,
  path       text NOT NULL,
  start_line integer NOT NULL,
  end_line   integer NOT NULL,
  content    text NOT NULL,
  embedding  vector(%[2]d) NOT NULL,
  updated_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (namespace, id)
);
CREATE INDEX IF NOT EXISTS %[1]s_embedding_idx ON %[1]s USING hnsw (embedding vector_cosine_ops);
`, s.table, s.dimension)
	if err := s.db.Exec(ddl).Error; err != nil {
		return fmt.Errorf("ensure vector table: %w", err)
	}

	// CREATE TABLE IF NOT EXISTS keeps an older column as is; for vector columns atttypmod is the dimension
	var existing int
	row := s.db.Raw(`SELECT atttypmod FROM pg_attribute WHERE attrelid = ?::regclass AND attname = 'embedding' AND NOT attisdropped`, s.table).Row()
	if err := row.Scan(&existing); err != nil {
		return fmt.Errorf("inspect vector table: %w", err)
	}
	return checkColumnDimension(s.table, existing, s.dimension)
}

func checkColumnDimension(table string, existing, want int) error {
	if existing != want {
		return fmt.Errorf("%w: table %s stores vector(%d), embeddings have %d; reindex into a new vector index name", ErrDimensionMismatch, table, existing, want)
	}
	return nil
}

func (s *PgVectorStore) IndexName() string {
	return s.table
}

func (s *PgVectorStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	if err := validateRecords(namespace, s.dimension, records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([]codeVector, 0, len(records))
	for _, record := range records {
		rows = append(rows, codeVector{
			Namespace: namespace,
			ID:        record.ID,
			Path:      record.Path,
			StartLine: record.StartLine,
			EndLine:   record.EndLine,
			Content:   record.Content,
			Embedding: pgvector.NewVector(record.Vector),
			UpdatedAt: now,
		})
	}

	return s.db.WithContext(ctx).
		Table(s.table).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "namespace"}, {Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"path", "start_line", "end_line", "content", "embedding", "updated_at"}),
		}).
		CreateInBatches(&rows, s.batchSize).Error
}

func (s *PgVectorStore) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error) {
	if namespace == "" {
		return nil, ErrNamespaceRequired
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(vector), s.dimension)
	}
	if topK <= 0 {
		topK = 10
	}

	query := pgvector.NewVector(vector)
	var rows []scoredVector
	err := s.db.WithContext(ctx).
		Table(s.table).
		Select("id, path, start_line, end_line, content, 1 - (embedding <=> ?) AS score", query).
		Where("namespace = ?", namespace).
		Order(gorm.Expr("embedding <=> ?, id", query)).
		Limit(topK).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}

	matches := make([]Match, 0, len(rows))
	for _, row := range rows {
		matches = append(matches, Match(row))
	}
	return matches, nil
}

func (s *PgVectorStore) DeleteNamespace(ctx context.Context, namespace string) error {
	if namespace == "" {
		return ErrNamespaceRequired
	}
	return s.db.WithContext(ctx).Exec(fmt.Sprintf("DELETE FROM %s WHERE namespace = ?", s.table), namespace).Error
}

func (s *PgVectorStore) Count(ctx context.Context, namespace string) (int64, error) {
	if namespace == "" {
		return 0, ErrNamespaceRequired
	}
	var count int64
	err := s.db.WithContext(ctx).Table(s.table).Where("namespace = ?", namespace).Count(&count).Error
	return count, err
}
