// Package reaper runs the background sweep that frees resources held by
// pods whose deadline has passed. The container runtime itself enforces
// the hard deadline and will already have killed the process by then; the
// reaper's job is bookkeeping — freeing ports and evicting registry
// entries — so a later spawn can reuse resources without waiting on an
// external garbage collector. Modeled on the teacher's ticker-plus-select
// scheduled-task loops.
package reaper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/DhananjayPurohit/paygress/internal/telemetry"
	"github.com/DhananjayPurohit/paygress/pkg/container"
	"github.com/DhananjayPurohit/paygress/pkg/pod"
	"github.com/DhananjayPurohit/paygress/pkg/portpool"
)

// Reaper periodically removes expired pods.
type Reaper struct {
	registry *pod.Registry
	driver   container.Driver
	ports    *portpool.Allocator
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	failures map[string]int
}

// New constructs a reaper that sweeps every interval.
func New(registry *pod.Registry, driver container.Driver, ports *portpool.Allocator, interval time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		registry: registry,
		driver:   driver,
		ports:    ports,
		interval: interval,
		logger:   logger,
		failures: make(map[string]int),
	}
}

// Run sweeps once immediately, then every r.interval, until ctx is
// cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep implements one pass of §4.12: for every pod expired as of now,
// best-effort delete the container (idempotent), release its port, then
// remove it from the registry. A delete failure is logged and retried on
// the next tick indefinitely — the pod stays registered so the next sweep
// sees it again — but each failure increments a per-pod counter so an
// operator has a visible, queryable escalation signal without this
// package inventing a retry budget the admission design doesn't specify.
func (r *Reaper) sweep(ctx context.Context) {
	telemetry.ReaperSweepsTotal.Inc()
	expired := r.registry.ExpiredAsOf(time.Now())
	if len(expired) == 0 {
		return
	}

	for _, p := range expired {
		if err := r.driver.Delete(ctx, p.ContainerHandle); err != nil {
			r.recordFailure(p.PodID, err)
			continue
		}
		r.clearFailure(p.PodID)

		r.ports.Release(p.HostPort)
		if _, err := r.registry.Remove(p.PodID); err != nil {
			r.logger.Warn("reap: pod vanished from registry mid-sweep", "pod_id", p.PodID, "error", err)
			continue
		}
		telemetry.ReaperPodsReapedTotal.Inc()
	}
}

func (r *Reaper) recordFailure(podID string, err error) {
	telemetry.ReaperDeleteFailuresTotal.Inc()

	r.mu.Lock()
	r.failures[podID]++
	count := r.failures[podID]
	r.mu.Unlock()

	r.logger.Warn("reap: delete failed, will retry next sweep",
		"pod_id", podID, "consecutive_failures", count, "error", err)
}

func (r *Reaper) clearFailure(podID string) {
	r.mu.Lock()
	delete(r.failures, podID)
	r.mu.Unlock()
}
