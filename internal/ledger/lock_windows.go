//go:build windows

package ledger

import "sync"

var (
	heldMu sync.Mutex
	held   = make(map[string]bool)
)

// acquireLock guards lockPath within this process only. File locking is
// not supported on Windows in this implementation; overlapping scheduled
// runs must be serialized by the scheduler.
func acquireLock(lockPath string, wait bool) (func(), error) {
	heldMu.Lock()
	defer heldMu.Unlock()

	if held[lockPath] {
		return nil, ErrLocked
	}
	held[lockPath] = true

	return func() {
		heldMu.Lock()
		delete(held, lockPath)
		heldMu.Unlock()
	}, nil
}
