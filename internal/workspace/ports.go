package workspace

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

// ErrNoFreePort is returned when the allocator cannot find an unclaimed port
// within its attempt budget.
var ErrNoFreePort = errors.New("no free port available")

const maxAcquireAttempts = 32

// PortAllocator hands out free TCP ports and guarantees that no two live
// runs ever hold the same port. Release must be called when the run ends.
type PortAllocator struct {
	mu    sync.Mutex
	inUse map[int]bool
}

// NewPortAllocator creates an empty allocator.
func NewPortAllocator() *PortAllocator {
	return &PortAllocator{inUse: make(map[int]bool)}
}

// Acquire binds an ephemeral port to discover a free one, reserves it in the
// allocator, and returns it. The listener is closed before returning; the
// reservation is what keeps concurrent runs from colliding.
func (a *PortAllocator) Acquire() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for attempt := 0; attempt < maxAcquireAttempts; attempt++ {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return 0, fmt.Errorf("probing for free port: %w", err)
		}
		port := ln.Addr().(*net.TCPAddr).Port
		ln.Close()

		if !a.inUse[port] {
			a.inUse[port] = true
			return port, nil
		}
	}
	return 0, ErrNoFreePort
}

// Release frees a previously acquired port. Releasing an unknown port is a
// no-op.
func (a *PortAllocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inUse, port)
}

// Held reports how many ports are currently reserved.
func (a *PortAllocator) Held() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inUse)
}
