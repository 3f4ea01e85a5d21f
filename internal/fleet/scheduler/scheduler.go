// Package scheduler selects a host for a new workload under the fleet's
// per-host capacity limit. It is a greedy instantaneous load balancer: every
// call re-reads assignment counts from the workload store and holds no
// scheduling state of its own.
package scheduler

import (
	"context"
	"fmt"

	"github.com/haxhost/fleet/internal/fleet/domain"
	"github.com/haxhost/fleet/internal/fleet/hosts"
	"github.com/haxhost/fleet/internal/fleet/metrics"
	"github.com/haxhost/fleet/internal/fleet/store"
	"github.com/haxhost/fleet/pkg/errors"
	"github.com/haxhost/fleet/pkg/logger"
)

type Scheduler struct {
	registry *hosts.Registry
	store    store.Store
	log      *logger.Logger
}

func New(registry *hosts.Registry, st store.Store, log *logger.Logger) *Scheduler {
	return &Scheduler{
		registry: registry,
		store:    st,
		log:      log.WithField("component", "scheduler"),
	}
}

// countingStatuses are the workload states that occupy a host slot. Errored
// workloads do not hold capacity.
var countingStatuses = []domain.Status{domain.StatusActive, domain.StatusPending}

// SelectHost returns the least-loaded host with spare capacity. Ties break
// toward the first host in registry order, so results are deterministic for
// a fixed store state. When every host is at or above its limit it returns
// ErrCapacityExhausted — an expected condition, surfaced as "try again
// later", not a bug.
//
// Two concurrent calls can observe the same counts and pick the same host;
// over-subscription by at most the number of concurrent creations minus one
// is an accepted soft constraint. Callers needing a hard guarantee must
// serialize creation externally.
func (s *Scheduler) SelectHost(ctx context.Context) (hosts.Host, error) {
	maxPerHost := s.registry.MaxWorkloadsPerHost()

	var selected hosts.Host
	found := false
	minCount := 0

	for _, h := range s.registry.Hosts() {
		count, err := s.countAssigned(ctx, h.Name)
		if err != nil {
			return hosts.Host{}, fmt.Errorf("count workloads on %s: %w", h.Name, err)
		}
		s.log.Debug("host load", "host", h.Name, "assigned", count, "capacity", maxPerHost)

		if count < maxPerHost && (!found || count < minCount) {
			selected = h
			minCount = count
			found = true
		}
	}

	if !found {
		metrics.SchedulerExhausted.Inc()
		s.log.Warn("all hosts at capacity", "maxPerHost", maxPerHost)
		return hosts.Host{}, errors.ErrCapacityExhausted
	}

	s.log.Info("host selected", "host", selected.Name, "assigned", minCount, "capacity", maxPerHost)
	return selected, nil
}

// HostUsage is a point-in-time capacity report for one host.
type HostUsage struct {
	Name     string
	Address  string
	Assigned int
	Capacity int
}

// UsagePercent is Assigned relative to Capacity, for operator displays.
func (u HostUsage) UsagePercent() float64 {
	if u.Capacity == 0 {
		return 0
	}
	return float64(u.Assigned) / float64(u.Capacity) * 100
}

// Snapshot reports current assignment counts for every host in fleet order.
func (s *Scheduler) Snapshot(ctx context.Context) ([]HostUsage, error) {
	fleet := s.registry.Hosts()
	usage := make([]HostUsage, 0, len(fleet))
	for _, h := range fleet {
		count, err := s.countAssigned(ctx, h.Name)
		if err != nil {
			return nil, fmt.Errorf("count workloads on %s: %w", h.Name, err)
		}
		usage = append(usage, HostUsage{
			Name:     h.Name,
			Address:  h.Address,
			Assigned: count,
			Capacity: s.registry.MaxWorkloadsPerHost(),
		})
	}
	return usage, nil
}

func (s *Scheduler) countAssigned(ctx context.Context, hostName string) (int, error) {
	return s.store.CountByHost(ctx, hostName, countingStatuses)
}
