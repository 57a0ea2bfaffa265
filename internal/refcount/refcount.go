// Package refcount shares one lazily constructed resource between an
// arbitrary number of holders. The resource is built when the count rises
// from zero and disposed when the count returns to zero; a later Acquire
// builds a fresh instance.
package refcount

import "sync"

// Cell guards a single shared resource with an explicit acquire/release
// lifecycle. It is safe for concurrent use.
type Cell struct {
	mu        sync.Mutex
	refs      int
	value     any
	construct func() any
	dispose   func(any)
}

// New creates a Cell. construct is called on the first Acquire (and again
// whenever the count rises from zero); dispose is called with the current
// value when the last holder releases.
func New(construct func() any, dispose func(any)) *Cell {
	return &Cell{construct: construct, dispose: dispose}
}

// Acquire returns the shared resource, constructing it if no holder exists.
func (c *Cell) Acquire() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refs == 0 {
		c.value = c.construct()
	}
	c.refs++
	return c.value
}

// Release drops one reference. When the count reaches zero the resource is
// disposed. Releasing with no outstanding holders returns ErrNoHolders.
func (c *Cell) Release() error {
	c.mu.Lock()
	if c.refs == 0 {
		c.mu.Unlock()
		return ErrNoHolders
	}
	c.refs--
	var disposed any
	if c.refs == 0 {
		disposed = c.value
		c.value = nil
	}
	c.mu.Unlock()

	// Dispose outside the lock: disposal may block (e.g. stopping a timer
	// goroutine) and must not hold up concurrent acquires.
	if disposed != nil && c.dispose != nil {
		c.dispose(disposed)
	}
	return nil
}

// Refs returns the current holder count.
func (c *Cell) Refs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs
}
