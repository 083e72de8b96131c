package matcher

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryStore is a brute-force in-process Store for small catalogs and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	terms  []memoryEntry[Term]
	tables []memoryEntry[TableDescription]
}

type memoryEntry[T any] struct {
	item T
	vec  []float32
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) UpsertTerm(_ context.Context, t Term, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.terms {
		if e.item.OriginalTerm == t.OriginalTerm {
			s.terms[i] = memoryEntry[Term]{t, vec}
			return nil
		}
	}
	s.terms = append(s.terms, memoryEntry[Term]{t, vec})
	return nil
}

func (s *MemoryStore) UpsertTable(_ context.Context, t TableDescription, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.tables {
		if e.item.TableName == t.TableName {
			s.tables[i] = memoryEntry[TableDescription]{t, vec}
			return nil
		}
	}
	s.tables = append(s.tables, memoryEntry[TableDescription]{t, vec})
	return nil
}

func (s *MemoryStore) SearchTerms(_ context.Context, vec []float32, k int) ([]TermHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hits := make([]TermHit, 0, len(s.terms))
	for _, e := range s.terms {
		hits = append(hits, TermHit{Term: e.item, Similarity: cosine(vec, e.vec)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	return hits[:min(k, len(hits))], nil
}

func (s *MemoryStore) SearchTables(_ context.Context, vec []float32, k int) ([]MatchedTable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MatchedTable, 0, len(s.tables))
	for _, e := range s.tables {
		out = append(out, MatchedTable{
			TableName:       e.item.TableName,
			Description:     e.item.Description,
			SimilarityScore: cosine(vec, e.vec),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SimilarityScore > out[j].SimilarityScore })
	return out[:min(k, len(out))], nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
