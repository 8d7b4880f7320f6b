package common

import (
	"errors"
	"sync/atomic"
)

// ErrReentrancy is returned when a guarded entry point is invoked while another
// guarded call is still on the stack.
var ErrReentrancy = errors.New("reentrant call")

// NonReentrant is a single lock shared by a set of mutually exclusive entry
// points. The zero value is unlocked.
type NonReentrant struct {
	entered atomic.Bool
}

// Enter acquires the lock. The returned release func must be deferred by the
// caller so the lock is dropped on every exit path.
func (n *NonReentrant) Enter() (func(), error) {
	if !n.entered.CompareAndSwap(false, true) {
		return nil, ErrReentrancy
	}
	return func() { n.entered.Store(false) }, nil
}

// Entered reports whether a guarded call is in progress.
func (n *NonReentrant) Entered() bool {
	return n.entered.Load()
}
