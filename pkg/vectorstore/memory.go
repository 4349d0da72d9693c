package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore keeps vectors in process. It backs local development and tests.
type MemoryStore struct {
	name      string
	dimension int

	mu         sync.RWMutex
	namespaces map[string]map[string]Record
}

// NewMemoryStore creates an empty store. A zero dimension disables the length check.
func NewMemoryStore(name string, dimension int) *MemoryStore {
	return &MemoryStore{
		name:       name,
		dimension:  dimension,
		namespaces: make(map[string]map[string]Record),
	}
}

func (s *MemoryStore) IndexName() string {
	return s.name
}

func (s *MemoryStore) Upsert(_ context.Context, namespace string, records []Record) error {
	if err := validateRecords(namespace, s.dimension, records); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.namespaces[namespace]
	if !ok {
		bucket = make(map[string]Record, len(records))
		s.namespaces[namespace] = bucket
	}
	for _, record := range records {
		record.Vector = append([]float32(nil), record.Vector...)
		bucket[record.ID] = record
	}
	return nil
}

func (s *MemoryStore) Query(_ context.Context, namespace string, vector []float32, topK int) ([]Match, error) {
	if namespace == "" {
		return nil, ErrNamespaceRequired
	}
	if s.dimension > 0 && len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(vector), s.dimension)
	}
	if topK <= 0 {
		topK = 10
	}

	s.mu.RLock()
	matches := make([]Match, 0, len(s.namespaces[namespace]))
	for _, record := range s.namespaces[namespace] {
		matches = append(matches, Match{
			ID:        record.ID,
			Score:     cosine(vector, record.Vector),
			Path:      record.Path,
			StartLine: record.StartLine,
			EndLine:   record.EndLine,
			Content:   record.Content,
		})
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *MemoryStore) DeleteNamespace(_ context.Context, namespace string) error {
	if namespace == "" {
		return ErrNamespaceRequired
	}
	s.mu.Lock()
	delete(s.namespaces, namespace)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Count(_ context.Context, namespace string) (int64, error) {
	if namespace == "" {
		return 0, ErrNamespaceRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.namespaces[namespace])), nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
