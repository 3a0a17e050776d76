package fleetmock

import (
	"errors"
	"slices"
	"sync"

	"github.com/dmitrijs2005/fleetsync/internal/client/apiclient"
)

var ErrNotFound = errors.New("record not found")

// Record is an opaque JSON object. The store only owns its "id".
type Record map[string]any

func (r Record) clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Store keeps every collection in memory.
type Store struct {
	mu          sync.Mutex
	collections map[apiclient.Resource][]Record
	nextID      map[apiclient.Resource]int64
	idempotency map[apiclient.Resource]map[string]int64
}

func NewStore() *Store {
	return &Store{
		collections: make(map[apiclient.Resource][]Record),
		nextID:      make(map[apiclient.Resource]int64),
		idempotency: make(map[apiclient.Resource]map[string]int64),
	}
}

func (s *Store) List(r apiclient.Resource) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.collections[r]))
	for _, rec := range s.collections[r] {
		out = append(out, rec.clone())
	}
	return out
}

// Create stores rec under a new id. A repeated idempotency key returns
// the record created the first time and replayed=true.
func (s *Store) Create(r apiclient.Resource, rec Record, key string) (created Record, replayed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key != "" {
		if id, ok := s.idempotency[r][key]; ok {
			if i := s.index(r, id); i >= 0 {
				return s.collections[r][i].clone(), true
			}
		}
	}

	s.nextID[r]++
	id := s.nextID[r]
	rec = rec.clone()
	rec["id"] = id
	s.collections[r] = append(s.collections[r], rec)

	if key != "" {
		if s.idempotency[r] == nil {
			s.idempotency[r] = make(map[string]int64)
		}
		s.idempotency[r][key] = id
	}
	return rec.clone(), false
}

func (s *Store) Update(r apiclient.Resource, id int64, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(r, id)
	if i < 0 {
		return nil, ErrNotFound
	}
	rec = rec.clone()
	rec["id"] = id
	s.collections[r][i] = rec
	return rec.clone(), nil
}

func (s *Store) Delete(r apiclient.Resource, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(r, id)
	if i < 0 {
		return ErrNotFound
	}
	s.collections[r] = slices.Delete(s.collections[r], i, i+1)
	return nil
}

// Clear drops a collection. Ids keep increasing afterwards.
func (s *Store) Clear(r apiclient.Resource) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.collections[r])
	delete(s.collections, r)
	delete(s.idempotency, r)
	return n
}

func (s *Store) index(r apiclient.Resource, id int64) int {
	return slices.IndexFunc(s.collections[r], func(rec Record) bool { return recordID(rec) == id })
}

func recordID(rec Record) int64 {
	switch v := rec["id"].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}
