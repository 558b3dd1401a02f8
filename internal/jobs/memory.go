package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store. Records are round-tripped through
// JSON so callers never share state with the store.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string][]byte)}
}

func (s *MemoryStore) Create(ctx context.Context, job *ConversionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	return s.put(job)
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*ConversionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.load(id)
	if err != nil {
		return nil, err
	}
	if j.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return j, nil
}

func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]*ConversionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*ConversionJob{}
	for id := range s.jobs {
		j, err := s.load(id)
		if err != nil {
			return nil, err
		}
		if j.DeletedAt == nil && filter.matches(j) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID > out[b].ID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	if len(out) > filter.limit() {
		out = out[:filter.limit()]
	}
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn func(*ConversionJob) error) (*ConversionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.load(id)
	if err != nil {
		return nil, err
	}
	if j.DeletedAt != nil {
		return nil, ErrNotFound
	}
	if err := fn(j); err != nil {
		return nil, err
	}
	j.UpdatedAt = utcNow()
	if err := s.put(j); err != nil {
		return nil, err
	}
	return j.Clone(), nil
}

func (s *MemoryStore) SoftDelete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.load(id)
	if err != nil {
		return err
	}
	if j.DeletedAt != nil {
		return ErrNotFound
	}
	now := utcNow()
	j.DeletedAt = &now
	j.UpdatedAt = now
	return s.put(j)
}

func (s *MemoryStore) Close() error {
	return nil
}

// Must be called with lock held.
func (s *MemoryStore) load(id string) (*ConversionJob, error) {
	b, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	var j ConversionJob
	if err := json.Unmarshal(b, &j); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	if j.StageMetadata == nil {
		j.StageMetadata = map[string]any{}
	}
	return &j, nil
}

// Must be called with lock held.
func (s *MemoryStore) put(j *ConversionJob) error {
	b, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", j.ID, err)
	}
	s.jobs[j.ID] = b
	return nil
}

var _ Store = (*MemoryStore)(nil)
