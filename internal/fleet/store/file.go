package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/haxhost/fleet/internal/fleet/domain"
	"github.com/haxhost/fleet/pkg/errors"
)

// FileStore persists workloads as a JSON document. It stands in for the
// control-plane database when the orchestrator runs from the CLI. Every
// mutation rewrites the file through a temp-file rename.
type FileStore struct {
	mu   sync.Mutex
	path string
}

var _ Store = (*FileStore)(nil)

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

type fileDoc struct {
	Workloads []*domain.Workload `json:"workloads"`
}

func (s *FileStore) load() (*fileDoc, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &fileDoc{}, nil
		}
		return nil, fmt.Errorf("read workload store: %w", err)
	}
	var doc fileDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse workload store: %w", err)
	}
	return &doc, nil
}

func (s *FileStore) save(doc *fileDoc) error {
	sort.Slice(doc.Workloads, func(i, j int) bool {
		if doc.Workloads[i].CreatedAt.Equal(doc.Workloads[j].CreatedAt) {
			return doc.Workloads[i].ID < doc.Workloads[j].ID
		}
		return doc.Workloads[i].CreatedAt.Before(doc.Workloads[j].CreatedAt)
	})

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode workload store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write workload store: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStore) Get(_ context.Context, id string) (*domain.Workload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, w := range doc.Workloads {
		if w.ID == id {
			cp := *w
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", errors.ErrWorkloadNotFound, id)
}

func (s *FileStore) Create(_ context.Context, w *domain.Workload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	for _, existing := range doc.Workloads {
		if existing.ID == w.ID {
			return fmt.Errorf("%w: %s", errors.ErrWorkloadExists, w.ID)
		}
	}
	cp := *w
	doc.Workloads = append(doc.Workloads, &cp)
	return s.save(doc)
}

func (s *FileStore) Update(_ context.Context, w *domain.Workload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	for i, existing := range doc.Workloads {
		if existing.ID == w.ID {
			cp := *w
			cp.UpdatedAt = time.Now()
			doc.Workloads[i] = &cp
			return s.save(doc)
		}
	}
	return fmt.Errorf("%w: %s", errors.ErrWorkloadNotFound, w.ID)
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	for i, existing := range doc.Workloads {
		if existing.ID == id {
			doc.Workloads = append(doc.Workloads[:i], doc.Workloads[i+1:]...)
			return s.save(doc)
		}
	}
	return fmt.Errorf("%w: %s", errors.ErrWorkloadNotFound, id)
}

func (s *FileStore) List(_ context.Context, filter *Filter) ([]*domain.Workload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Workload, 0, len(doc.Workloads))
	for _, w := range doc.Workloads {
		if filter.matches(w) {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *FileStore) CountByHost(ctx context.Context, hostName string, statuses []domain.Status) (int, error) {
	return countByHost(ctx, s, hostName, statuses)
}
