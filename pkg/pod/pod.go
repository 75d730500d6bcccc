// Package pod is the exclusive owner of live pod records: identity,
// tier, expiry, host port, credentials. Writes are serialized; reads are
// consistent with the latest completed write.
package pod

import (
	"fmt"
	"sync"
	"time"

	"github.com/DhananjayPurohit/paygress/pkg/container"
)

// ErrDuplicate is returned by Insert when pod_id already exists.
var ErrDuplicate = fmt.Errorf("pod already registered")

// ErrNotFound is returned by Get/UpdateExpiry/Remove when no pod matches.
var ErrNotFound = fmt.Errorf("pod not found")

// Pod is a live, provisioned container and everything needed to reach and
// manage it. CreatedAt and Image are additive fields beyond the original
// data model: CreatedAt anchors the top-up duration law (the container's
// new total deadline is measured from creation, not from "now"), and Image
// records the container image the pod was created from. Status responses
// do not include Image.
type Pod struct {
	PodID             string
	PodIdentityPubkey string
	PodIdentityPrivkey string
	TierID            string
	HostPort          int
	ContainerHandle   container.Handle
	ExpiresAt         time.Time
	CreatedAt         time.Time
	Image             string
	SSHUser           string
	SSHPassword       string
}

// Registry indexes live pods by both pod_id (internal) and
// pod_identity_pubkey (external, used by relay/HTTP clients).
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]*Pod
	byPubkey map[string]*Pod
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:     make(map[string]*Pod),
		byPubkey: make(map[string]*Pod),
	}
}

// Insert adds p to the registry, indexed by both keys.
func (r *Registry) Insert(p *Pod) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[p.PodID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, p.PodID)
	}
	r.byID[p.PodID] = p
	r.byPubkey[p.PodIdentityPubkey] = p
	return nil
}

// Get looks up a pod by either its internal pod_id or its external
// pod_identity_pubkey.
func (r *Registry) Get(idOrPubkey string) (*Pod, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.byID[idOrPubkey]; ok {
		return p, nil
	}
	if p, ok := r.byPubkey[idOrPubkey]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, idOrPubkey)
}

// UpdateExpiry sets podID's expiry to newExpiresAt.
func (r *Registry) UpdateExpiry(podID string, newExpiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[podID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, podID)
	}
	p.ExpiresAt = newExpiresAt
	return nil
}

// Remove deletes podID from both indexes and returns the removed record.
func (r *Registry) Remove(podID string) (*Pod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[podID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, podID)
	}
	delete(r.byID, podID)
	delete(r.byPubkey, p.PodIdentityPubkey)
	return p, nil
}

// ExpiredAsOf returns every pod whose expiry is at or before now.
func (r *Registry) ExpiredAsOf(now time.Time) []*Pod {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var expired []*Pod
	for _, p := range r.byID {
		if !p.ExpiresAt.After(now) {
			expired = append(expired, p)
		}
	}
	return expired
}

// ActiveCount returns the number of live pods. Satisfies
// internal/httpserver.HealthProvider.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
