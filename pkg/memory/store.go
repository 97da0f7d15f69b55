package memory

import (
	"context"
	"math"
	"sort"
	"sync"
)

// Filter selects records by exact metadata match. Empty fields match all.
type Filter struct {
	MeetingID string
	Speaker   string
}

// Match reports whether m satisfies the filter.
func (f Filter) Match(m Metadata) bool {
	if f.MeetingID != "" && m.MeetingID != f.MeetingID {
		return false
	}
	if f.Speaker != "" && m.Speaker != f.Speaker {
		return false
	}
	return true
}

// Store is the backing store for the index.
type Store interface {
	// Upsert writes records; a record with an existing id replaces it.
	Upsert(ctx context.Context, records []Record) error
	// Query returns at most k records nearest to vector, best first.
	Query(ctx context.Context, vector []float32, k int) ([]Record, error)
	// Where returns records matching the filter in store order.
	Where(ctx context.Context, f Filter) ([]Record, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// Cosine returns the cosine similarity of a and b, or 0 when either is zero
// or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Rank scores candidates against vector and returns the best k. Ties keep
// candidate order.
func Rank(candidates []Record, vector []float32, k int) []Record {
	scored := make([]Record, len(candidates))
	for i, r := range candidates {
		r.Score = Cosine(r.Embedding, vector)
		scored[i] = r
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if k >= 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// MemoryStore is an in-process Store that keeps insertion order.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	byID    map[string]int
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]int)}
}

// Upsert implements Store. A replaced record keeps its original position.
func (s *MemoryStore) Upsert(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		r.Embedding = append([]float32(nil), r.Embedding...)
		r.Score = 0
		if i, ok := s.byID[r.ID]; ok {
			s.records[i] = r
			continue
		}
		s.byID[r.ID] = len(s.records)
		s.records = append(s.records, r)
	}
	return nil
}

// Query implements Store.
func (s *MemoryStore) Query(_ context.Context, vector []float32, k int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Rank(s.records, vector, k), nil
}

// Where implements Store.
func (s *MemoryStore) Where(_ context.Context, f Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, r := range s.records {
		if f.Match(r.Metadata) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Count implements Store.
func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
