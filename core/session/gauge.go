package session

import "sync"

// ActiveCount is an advisory in-memory gauge of sessions in tracked
// states. The database stays authoritative; the gauge only decides
// whether the sweeper is worth running and feeds health output, so it
// tolerates drift and gets reconciled on every sweep.
type ActiveCount struct {
	mu sync.Mutex
	n  int64
}

// Inc bumps the gauge and returns the new value.
func (a *ActiveCount) Inc() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.n++
	return a.n
}

// Dec lowers the gauge, flooring at zero, and returns the new value.
func (a *ActiveCount) Dec() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.n > 0 {
		a.n--
	}
	return a.n
}

// Reconcile overwrites the gauge with an authoritative count.
func (a *ActiveCount) Reconcile(n int64) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n < 0 {
		n = 0
	}
	a.n = n
	return a.n
}

// Value returns the current gauge reading.
func (a *ActiveCount) Value() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.n
}
