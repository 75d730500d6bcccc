package reaper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DhananjayPurohit/paygress/pkg/container"
	"github.com/DhananjayPurohit/paygress/pkg/container/localsim"
	"github.com/DhananjayPurohit/paygress/pkg/pod"
	"github.com/DhananjayPurohit/paygress/pkg/portpool"
)

func newHarness(t *testing.T) (*pod.Registry, *localsim.Driver, *portpool.Allocator) {
	t.Helper()
	registry := pod.NewRegistry()
	driver := localsim.New()
	ports, err := portpool.New(30000, 30010)
	if err != nil {
		t.Fatalf("portpool.New() error: %v", err)
	}
	return registry, driver, ports
}

func insertExpiredPod(t *testing.T, registry *pod.Registry, driver container.Driver, ports *portpool.Allocator, podID string) *pod.Pod {
	t.Helper()

	handle, err := driver.Create(context.Background(), container.CreateRequest{
		Image:               "paygress/ssh-box:latest",
		InitialDeadlineSecs: 3600,
	})
	if err != nil {
		t.Fatalf("driver.Create() error: %v", err)
	}
	port, err := ports.Allocate()
	if err != nil {
		t.Fatalf("ports.Allocate() error: %v", err)
	}

	p := &pod.Pod{
		PodID:              podID,
		PodIdentityPubkey:  podID + "-pubkey",
		PodIdentityPrivkey: podID + "-privkey",
		TierID:             "basic",
		HostPort:           port,
		ContainerHandle:    handle,
		ExpiresAt:          time.Now().Add(-time.Minute),
		CreatedAt:          time.Now().Add(-time.Hour),
	}
	if err := registry.Insert(p); err != nil {
		t.Fatalf("registry.Insert() error: %v", err)
	}
	return p
}

func logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSweepReapsExpiredPod(t *testing.T) {
	registry, driver, ports := newHarness(t)
	p := insertExpiredPod(t, registry, driver, ports, "pod-1")

	r := New(registry, driver, ports, time.Hour, logger())
	r.sweep(context.Background())

	if _, err := registry.Get(p.PodID); !errors.Is(err, pod.ErrNotFound) {
		t.Fatalf("expected pod to be removed, got err=%v", err)
	}
	if ports.Allocated() != 0 {
		t.Errorf("Allocated() = %d, want 0 (port should be released)", ports.Allocated())
	}

	status, err := driver.Status(context.Background(), p.ContainerHandle)
	if err != nil {
		t.Fatalf("driver.Status() error: %v", err)
	}
	if status.Exists {
		t.Error("expected container to be deleted")
	}
}

func TestSweepIgnoresNonExpiredPod(t *testing.T) {
	registry, driver, ports := newHarness(t)

	handle, err := driver.Create(context.Background(), container.CreateRequest{
		Image:               "paygress/ssh-box:latest",
		InitialDeadlineSecs: 3600,
	})
	if err != nil {
		t.Fatalf("driver.Create() error: %v", err)
	}
	port, err := ports.Allocate()
	if err != nil {
		t.Fatalf("ports.Allocate() error: %v", err)
	}
	p := &pod.Pod{
		PodID:             "pod-live",
		PodIdentityPubkey: "pod-live-pubkey",
		HostPort:          port,
		ContainerHandle:   handle,
		ExpiresAt:         time.Now().Add(time.Hour),
	}
	if err := registry.Insert(p); err != nil {
		t.Fatalf("registry.Insert() error: %v", err)
	}

	r := New(registry, driver, ports, time.Hour, logger())
	r.sweep(context.Background())

	if _, err := registry.Get(p.PodID); err != nil {
		t.Fatalf("expected live pod to remain, got err=%v", err)
	}
}

// failingDriver wraps localsim but always fails Delete, to exercise the
// indefinite-retry path.
type failingDriver struct {
	*localsim.Driver
	deleteCalls int
}

func (f *failingDriver) Delete(ctx context.Context, h container.Handle) error {
	f.deleteCalls++
	return errors.New("simulated delete failure")
}

func TestSweepRetriesOnDeleteFailureWithoutRemovingPod(t *testing.T) {
	registry, base, ports := newHarness(t)
	driver := &failingDriver{Driver: base}
	p := insertExpiredPod(t, registry, driver, ports, "pod-2")

	r := New(registry, driver, ports, time.Hour, logger())

	r.sweep(context.Background())
	if _, err := registry.Get(p.PodID); err != nil {
		t.Fatalf("expected pod to remain registered after failed delete, got err=%v", err)
	}
	if ports.Allocated() != 1 {
		t.Errorf("Allocated() = %d, want 1 (port must not be released on failed delete)", ports.Allocated())
	}

	r.mu.Lock()
	count := r.failures[p.PodID]
	r.mu.Unlock()
	if count != 1 {
		t.Errorf("failure count = %d, want 1", count)
	}

	r.sweep(context.Background())
	r.mu.Lock()
	count = r.failures[p.PodID]
	r.mu.Unlock()
	if count != 2 {
		t.Errorf("failure count after second sweep = %d, want 2", count)
	}
	if driver.deleteCalls != 2 {
		t.Errorf("deleteCalls = %d, want 2 (retried every sweep)", driver.deleteCalls)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	registry, driver, ports := newHarness(t)
	r := New(registry, driver, ports, 5*time.Millisecond, logger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}
