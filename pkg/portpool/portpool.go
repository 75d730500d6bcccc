// Package portpool hands out unique host ports from a configured half-open
// range and releases them on pod exit. The allocated set always equals the
// set of host ports held by live pods in the registry — this package is
// the sole owner of that invariant.
package portpool

import (
	"fmt"
	"sync"
)

// ErrExhausted is returned by Allocate when no port in the configured
// range is currently free.
var ErrExhausted = fmt.Errorf("port pool exhausted")

// Allocator is a mutex-guarded free-list over [start, end). O(range)
// bookkeeping is acceptable at the expected range size (hundreds to low
// thousands of ports).
type Allocator struct {
	mu     sync.Mutex
	start  int
	held   []bool
	cursor int
}

// New creates an allocator over the half-open range [start, end).
func New(start, end int) (*Allocator, error) {
	if end <= start {
		return nil, fmt.Errorf("invalid port range [%d, %d)", start, end)
	}
	return &Allocator{
		start: start,
		held:  make([]bool, end-start),
	}, nil
}

// Allocate returns a free port, or ErrExhausted if none remain. Scanning
// starts from the cursor left by the previous allocation rather than
// always from the start, so ports recently released are the last ones
// reused — this doesn't change the worst-case O(range) bound but reduces
// reuse latency after a burst of releases.
func (a *Allocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.held)
	for i := 0; i < n; i++ {
		idx := (a.cursor + i) % n
		if !a.held[idx] {
			a.held[idx] = true
			a.cursor = (idx + 1) % n
			return a.start + idx, nil
		}
	}
	return 0, ErrExhausted
}

// Release returns port to the pool. Releasing a port not currently held,
// or out of range, is a no-op.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := port - a.start
	if idx < 0 || idx >= len(a.held) {
		return
	}
	a.held[idx] = false
}

// Allocated returns the number of currently held ports.
func (a *Allocator) Allocated() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for _, h := range a.held {
		if h {
			n++
		}
	}
	return n
}

// Total returns the size of the configured range.
func (a *Allocator) Total() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.held)
}
