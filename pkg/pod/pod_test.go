package pod

import (
	"errors"
	"testing"
	"time"
)

func samplePod(id string) *Pod {
	return &Pod{
		PodID:             id,
		PodIdentityPubkey: "pub-" + id,
		TierID:            "basic",
		HostPort:          30000,
		ExpiresAt:         time.Now().Add(time.Hour),
		CreatedAt:         time.Now(),
	}
}

func TestInsertAndGetByBothKeys(t *testing.T) {
	r := NewRegistry()
	p := samplePod("pod-1")

	if err := r.Insert(p); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	byID, err := r.Get("pod-1")
	if err != nil || byID != p {
		t.Fatalf("Get(pod_id) = %v, %v", byID, err)
	}

	byPubkey, err := r.Get("pub-pod-1")
	if err != nil || byPubkey != p {
		t.Fatalf("Get(pubkey) = %v, %v", byPubkey, err)
	}
}

func TestInsertRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	p := samplePod("pod-1")
	if err := r.Insert(p); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if err := r.Insert(p); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateExpiryIsMonotonicByCaller(t *testing.T) {
	r := NewRegistry()
	p := samplePod("pod-1")
	if err := r.Insert(p); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	newExpiry := p.ExpiresAt.Add(10 * time.Minute)
	if err := r.UpdateExpiry("pod-1", newExpiry); err != nil {
		t.Fatalf("UpdateExpiry() error: %v", err)
	}

	got, err := r.Get("pod-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !got.ExpiresAt.Equal(newExpiry) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, newExpiry)
	}
}

func TestRemoveDropsBothIndexes(t *testing.T) {
	r := NewRegistry()
	p := samplePod("pod-1")
	if err := r.Insert(p); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	removed, err := r.Remove("pod-1")
	if err != nil || removed != p {
		t.Fatalf("Remove() = %v, %v", removed, err)
	}

	if _, err := r.Get("pod-1"); !errors.Is(err, ErrNotFound) {
		t.Error("expected pod_id index to be cleared")
	}
	if _, err := r.Get("pub-pod-1"); !errors.Is(err, ErrNotFound) {
		t.Error("expected pubkey index to be cleared")
	}
}

func TestExpiredAsOf(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	expired := samplePod("expired")
	expired.ExpiresAt = now.Add(-time.Minute)
	fresh := samplePod("fresh")
	fresh.ExpiresAt = now.Add(time.Hour)

	if err := r.Insert(expired); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if err := r.Insert(fresh); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	got := r.ExpiredAsOf(now)
	if len(got) != 1 || got[0].PodID != "expired" {
		t.Errorf("ExpiredAsOf() = %v, want only the expired pod", got)
	}
}

func TestActiveCount(t *testing.T) {
	r := NewRegistry()
	if r.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", r.ActiveCount())
	}
	if err := r.Insert(samplePod("pod-1")); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if r.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", r.ActiveCount())
	}
}
