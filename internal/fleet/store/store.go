// Package store defines the workload persistence interface consumed by the
// scheduler and the provisioner. The backing database is an external
// collaborator; the implementations here are an in-memory store for tests
// and a JSON file store for the operator CLI.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/haxhost/fleet/internal/fleet/domain"
)

// Filter narrows a List call. Zero values match everything.
type Filter struct {
	HostName string
	Statuses []domain.Status
}

func (f *Filter) matches(w *domain.Workload) bool {
	if f == nil {
		return true
	}
	if f.HostName != "" && w.HostName != f.HostName {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if w.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// Store is the control-plane view of workload records. It must be the single
// source of truth for host assignments; the scheduler holds no counters of
// its own.
type Store interface {
	// Get retrieves one workload; ErrWorkloadNotFound if absent.
	Get(ctx context.Context, id string) (*domain.Workload, error)

	// Create inserts a new workload; ErrWorkloadExists on id collision.
	Create(ctx context.Context, w *domain.Workload) error

	// Update replaces an existing workload; ErrWorkloadNotFound if absent.
	Update(ctx context.Context, w *domain.Workload) error

	// Delete removes a workload; ErrWorkloadNotFound if absent.
	Delete(ctx context.Context, id string) error

	// List returns workloads matching the filter, in creation order.
	List(ctx context.Context, filter *Filter) ([]*domain.Workload, error)

	// CountByHost returns how many workloads in the given statuses are
	// assigned to hostName. This is the scheduler's load signal.
	CountByHost(ctx context.Context, hostName string, statuses []domain.Status) (int, error)
}

// countByHost is the shared List-backed implementation.
func countByHost(ctx context.Context, s Store, hostName string, statuses []domain.Status) (int, error) {
	workloads, err := s.List(ctx, &Filter{HostName: hostName, Statuses: statuses})
	if err != nil {
		return 0, err
	}
	return len(workloads), nil
}

// NewWorkload builds a fresh pending record. The host and supervisor process
// name are assigned later, by the scheduler and the provisioner respectively.
func NewWorkload(name string) *domain.Workload {
	now := time.Now()
	return &domain.Workload{
		ID:             uuid.New().String(),
		Name:           name,
		Status:         domain.StatusPending,
		NeedsProvision: true,
		Map:            "Big",
		MaxPlayers:     16,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
