package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/haxhost/fleet/internal/fleet/domain"
	"github.com/haxhost/fleet/pkg/errors"
)

// MemoryStore is a mutex-guarded in-process Store. It backs tests and any
// embedding caller that brings its own persistence.
type MemoryStore struct {
	mu        sync.RWMutex
	workloads map[string]*domain.Workload
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{workloads: make(map[string]*domain.Workload)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Workload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.workloads[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrWorkloadNotFound, id)
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) Create(_ context.Context, w *domain.Workload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workloads[w.ID]; ok {
		return fmt.Errorf("%w: %s", errors.ErrWorkloadExists, w.ID)
	}
	cp := *w
	s.workloads[w.ID] = &cp
	return nil
}

func (s *MemoryStore) Update(_ context.Context, w *domain.Workload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workloads[w.ID]; !ok {
		return fmt.Errorf("%w: %s", errors.ErrWorkloadNotFound, w.ID)
	}
	cp := *w
	cp.UpdatedAt = time.Now()
	s.workloads[w.ID] = &cp
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workloads[id]; !ok {
		return fmt.Errorf("%w: %s", errors.ErrWorkloadNotFound, id)
	}
	delete(s.workloads, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context, filter *Filter) ([]*domain.Workload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Workload, 0, len(s.workloads))
	for _, w := range s.workloads {
		if filter.matches(w) {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) CountByHost(ctx context.Context, hostName string, statuses []domain.Status) (int, error) {
	return countByHost(ctx, s, hostName, statuses)
}
