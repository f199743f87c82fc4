// Package gate provides the exclusive access gate that serializes all
// transport-touching operations on a connection. The gate is reentrant for
// the goroutine that currently holds it, which allows multi-step operations
// to call back into gate-guarded helpers without deadlocking.
package gate

import (
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
)

// Gate is an exclusive lock with goroutine-affinity reentrancy. The zero
// value is ready to use. Reentrancy is decided by comparing the calling
// goroutine's id against the recorded holder, not by a recursion counter:
// only the goroutine that actually took the lock may take the fast path.
type Gate struct {
	mu sync.Mutex

	// holder is the goid of the goroutine currently inside Do, or 0. It is
	// atomic because goroutines that do not hold mu read it to decide
	// whether they are the holder.
	holder atomic.Int64
}

// Do runs fn while holding the gate. If the calling goroutine already holds
// the gate, fn runs directly. Otherwise Do blocks until the gate is free.
// The holder record is cleared on every exit path, including when fn returns
// an error; the error is propagated unchanged.
func (g *Gate) Do(fn func() error) error {
	id := goid.Get()
	if g.holder.Load() == id {
		return fn()
	}

	g.mu.Lock()
	g.holder.Store(id)
	defer func() {
		g.holder.Store(0)
		g.mu.Unlock()
	}()

	return fn()
}

// Held reports whether the calling goroutine currently holds the gate.
func (g *Gate) Held() bool {
	return g.holder.Load() == goid.Get()
}
