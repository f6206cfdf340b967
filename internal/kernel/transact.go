package kernel

import (
	"context"
	"runtime/debug"
	"sync"

	"charfs/internal/errno"
	"charfs/internal/vfs"
)

type pathLock struct {
	mu   sync.Mutex
	refs int
}

// Transact runs fn while holding the lock for path. Read-modify-write
// sequences on the same path are serialised; different paths proceed in
// parallel. The lock is not re-entrant: fn must not call Transact on the same
// path. A panic in fn releases the lock and yields EIO.
func (k *Kernel) Transact(ctx context.Context, path string, fn func() errno.Code) (code errno.Code) {
	if !vfs.IsAbs(path) || fn == nil {
		return errno.EINVAL
	}
	path = vfs.NormalizePath(path)

	unlock := k.lockPath(path)
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Transaction on %s panicked: %v\n%s", path, r, debug.Stack())
			code = errno.EIO
		}
	}()

	if err := ctx.Err(); err != nil {
		return errno.EIO
	}
	return fn()
}

func (k *Kernel) lockPath(path string) func() {
	k.locksMu.Lock()
	l, ok := k.locks[path]
	if !ok {
		l = &pathLock{}
		k.locks[path] = l
	}
	l.refs++
	k.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		k.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, path)
		}
		k.locksMu.Unlock()
	}
}

// heldLocks returns the number of paths with a live lock entry.
func (k *Kernel) heldLocks() int {
	k.locksMu.Lock()
	defer k.locksMu.Unlock()
	return len(k.locks)
}
