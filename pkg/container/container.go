// Package container defines the abstract interface over a container or VM
// runtime that the Admission Pipeline and Reaper drive pods through.
// Concrete orchestrator/hypervisor drivers are an external collaborator's
// responsibility; this package ships one in-process simulator used to
// exercise the contract end to end.
package container

import (
	"context"
	"fmt"
)

// Phase describes the lifecycle state Status reports.
type Phase string

const (
	PhaseRunning    Phase = "running"
	PhaseTerminated Phase = "terminated"
)

// Failure kinds create may fail with, per the driver contract.
var (
	ErrImagePullFailed    = fmt.Errorf("image pull failed")
	ErrResourceUnavailable = fmt.Errorf("resource unavailable")
	ErrRuntimeError       = fmt.Errorf("runtime error")
	ErrNotFound           = fmt.Errorf("container handle not found")
)

// CreateRequest describes the container a pod spawn needs provisioned.
type CreateRequest struct {
	Image                string
	CPUMillicores        int64
	MemoryMB             int64
	HostPort             int
	ContainerPort        int
	Env                  map[string]string
	SSHUser              string
	SSHPasswordHash      string
	InitialDeadlineSecs  int64
}

// Handle references exactly one live container. Its zero value is never
// valid; handles are only produced by Create.
type Handle struct {
	ID string
}

// Status is the result of introspecting a handle.
type Status struct {
	Exists bool
	Phase  Phase
}

// Driver is the abstract interface every container/VM runtime backend
// implements. The runtime itself, not the service's own liveness, is
// responsible for killing a container no later than its deadline.
type Driver interface {
	Create(ctx context.Context, req CreateRequest) (Handle, error)
	Extend(ctx context.Context, h Handle, newTotalDeadlineSecs int64) error
	Delete(ctx context.Context, h Handle) error
	Status(ctx context.Context, h Handle) (Status, error)
}

// factory constructs a named driver from a free-form config map; used by
// the registry below to honor CONTAINER_DRIVER.
type factory func(cfg map[string]string) (Driver, error)

var registry = map[string]factory{}

// Register adds a named driver constructor. Called from each driver
// implementation's init().
func Register(name string, f factory) {
	registry[name] = f
}

// New constructs the driver named by CONTAINER_DRIVER. "orchestrator" and
// "hypervisor" are accepted configuration names for real runtime backends
// that are out of scope here; they currently resolve to the local
// simulator with a logged warning so the configuration surface is honored
// even though no concrete implementation backs them yet.
func New(name string, cfg map[string]string, warn func(msg string)) (Driver, error) {
	switch name {
	case "orchestrator", "hypervisor":
		if warn != nil {
			warn(fmt.Sprintf("container driver %q has no concrete implementation; falling back to localsim", name))
		}
		name = "localsim"
	}

	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown container driver %q", name)
	}
	return f(cfg)
}
