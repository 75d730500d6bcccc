// Package localsim is an in-process container.Driver that models the
// runtime contract precisely enough to drive the admission pipeline and
// its tests end to end, without ever shelling out to a real runtime.
// Concrete orchestrator/hypervisor/container-runtime drivers are an
// external collaborator's job; this is Paygress's only shipped backend.
package localsim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DhananjayPurohit/paygress/pkg/container"
)

func init() {
	container.Register("localsim", func(cfg map[string]string) (container.Driver, error) {
		return New(), nil
	})
}

type containerState struct {
	phase     container.Phase
	timer     *time.Timer
	createdAt time.Time
}

// Driver is a map of in-memory container handles. It honors
// initial_deadline_secs with a time.AfterFunc that flips a handle's phase
// to Terminated on its own, modeling "the runtime itself enforces the
// deadline, not the service".
type Driver struct {
	mu         sync.Mutex
	containers map[string]*containerState

	// FailNextCreate, when non-nil, is consumed by the next Create call
	// and returned as its error. Test hook only.
	FailNextCreate error
}

// New creates an empty simulator.
func New() *Driver {
	return &Driver{containers: make(map[string]*containerState)}
}

func (d *Driver) Create(ctx context.Context, req container.CreateRequest) (container.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.FailNextCreate != nil {
		err := d.FailNextCreate
		d.FailNextCreate = nil
		return container.Handle{}, err
	}
	if req.Image == "" {
		return container.Handle{}, fmt.Errorf("%w: empty image", container.ErrImagePullFailed)
	}

	id := uuid.NewString()
	state := &containerState{phase: container.PhaseRunning, createdAt: time.Now()}

	deadline := time.Duration(req.InitialDeadlineSecs) * time.Second
	state.timer = time.AfterFunc(deadline, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if s, ok := d.containers[id]; ok {
			s.phase = container.PhaseTerminated
		}
	})

	d.containers[id] = state
	return container.Handle{ID: id}, nil
}

func (d *Driver) Extend(ctx context.Context, h container.Handle, newTotalDeadlineSecs int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	state, ok := d.containers[h.ID]
	if !ok {
		return container.ErrNotFound
	}
	if state.phase == container.PhaseTerminated {
		return container.ErrNotFound
	}

	remaining := time.Until(state.createdAt.Add(time.Duration(newTotalDeadlineSecs) * time.Second))
	state.timer.Stop()
	id := h.ID
	state.timer = time.AfterFunc(remaining, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if s, ok := d.containers[id]; ok {
			s.phase = container.PhaseTerminated
		}
	})
	return nil
}

func (d *Driver) Delete(ctx context.Context, h container.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	state, ok := d.containers[h.ID]
	if !ok {
		return nil
	}
	state.timer.Stop()
	delete(d.containers, h.ID)
	return nil
}

func (d *Driver) Status(ctx context.Context, h container.Handle) (container.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	state, ok := d.containers[h.ID]
	if !ok {
		return container.Status{Exists: false}, nil
	}
	return container.Status{Exists: true, Phase: state.phase}, nil
}
