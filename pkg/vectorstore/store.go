package vectorstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrNamespaceRequired is returned when an operation is attempted without a namespace.
	ErrNamespaceRequired = errors.New("vector namespace is required")
	// ErrDimensionMismatch is returned when a vector does not match the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension does not match index")
)

// Record is one chunk vector with enough metadata to rebuild the chunk.
type Record struct {
	ID        string
	Vector    []float32
	Path      string
	StartLine int
	EndLine   int
	Content   string
}

// Match is a query hit. Score is cosine similarity, higher is closer.
type Match struct {
	ID        string
	Score     float64
	Path      string
	StartLine int
	EndLine   int
	Content   string
}

// Store is a namespaced vector index. Queries never cross namespaces.
type Store interface {
	IndexName() string
	Upsert(ctx context.Context, namespace string, records []Record) error
	Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error)
	DeleteNamespace(ctx context.Context, namespace string) error
	Count(ctx context.Context, namespace string) (int64, error)
}

// NamespaceForSubmission derives the namespace owned by a submission.
func NamespaceForSubmission(submissionID uint) string {
	return fmt.Sprintf("submission-%d", submissionID)
}

// ChunkID is stable for a submission, path and line range so re-upserts overwrite.
func ChunkID(submissionID uint, path string, startLine, endLine int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s:%d-%d", submissionID, path, startLine, endLine)))
	return hex.EncodeToString(sum[:])
}

func validateRecords(namespace string, dimension int, records []Record) error {
	if namespace == "" {
		return ErrNamespaceRequired
	}
	for _, record := range records {
		if record.ID == "" {
			return fmt.Errorf("record for %s:%d-%d has no id", record.Path, record.StartLine, record.EndLine)
		}
		if dimension > 0 && len(record.Vector) != dimension {
			return fmt.Errorf("%w: record %s has %d, index has %d", ErrDimensionMismatch, record.ID, len(record.Vector), dimension)
		}
	}
	return nil
}
