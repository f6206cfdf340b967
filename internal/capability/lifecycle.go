package capability

import (
	"sync"

	"charfs/internal/errno"
)

// State is a capability lifecycle state.
type State int

const (
	StateUnmounted State = iota
	StateMounted
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateUnmounted:
		return "unmounted"
	case StateMounted:
		return "mounted"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Lifecycle tracks Unmounted -> Mounted -> Shutdown. Shutdown is terminal.
type Lifecycle struct {
	mu    sync.RWMutex
	state State
	sys   Syscalls
}

// Mount records sys and enters Mounted. Mounting twice is EEXIST; mounting
// after shutdown is ENODEV.
func (l *Lifecycle) Mount(sys Syscalls) errno.Code {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateMounted:
		return errno.EEXIST
	case StateShutdown:
		return errno.ENODEV
	}
	l.state = StateMounted
	l.sys = sys
	return errno.SUCCESS
}

// Shutdown enters the terminal state. Only a mounted capability can shut down.
func (l *Lifecycle) Shutdown() errno.Code {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateMounted {
		return errno.ENODEV
	}
	l.state = StateShutdown
	l.sys = nil
	return errno.SUCCESS
}

// Guard answers ENODEV unless mounted.
func (l *Lifecycle) Guard() errno.Code {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.state != StateMounted {
		return errno.ENODEV
	}
	return errno.SUCCESS
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Sys returns the syscall surface recorded at mount, nil outside Mounted.
func (l *Lifecycle) Sys() Syscalls {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sys
}
