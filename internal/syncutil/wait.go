// Package syncutil holds the bounded condition-variable wait used by the
// buffer pool and the lock table.
package syncutil

import (
	"sync"
	"time"
)

// WaitFor blocks on cond until it is signalled or d elapses, whichever comes
// first. It must be called with cond.L held, and returns with it held again.
// Like cond.Wait, it can return early, so callers recheck their condition
// and their deadline in a loop.
func WaitFor(cond *sync.Cond, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.AfterFunc(d, func() {
		cond.L.Lock()
		cond.Broadcast()
		cond.L.Unlock()
	})
	cond.Wait()
	timer.Stop()
}

// WaitUntil waits on cond until ready reports true or deadline passes. It
// reports whether ready became true. cond.L must be held.
func WaitUntil(cond *sync.Cond, deadline time.Time, ready func() bool) bool {
	for !ready() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		WaitFor(cond, remaining)
	}
	return true
}
