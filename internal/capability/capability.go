// Package capability defines the device-driver protocol: the interface a
// mounted capability implements, the kernel surface it may call back into,
// and helpers shared by every device.
package capability

import (
	"context"

	"charfs/internal/errno"
	"charfs/internal/logging"
	"charfs/internal/vfs"
)

var (
	logger = logging.GetLogger().WithPrefix("capability")
)

// File describes an open descriptor routed to a capability.
type File struct {
	FD      int
	Path    string   // full normalized path
	Subpath string   // path below the mount prefix, "" for the prefix itself
	Mode    vfs.Mode // mode the descriptor was opened with
}

// Capability is a device mounted at a path prefix. Every method answers
// ENODEV outside the Mounted state.
type Capability interface {
	ID() string
	Dependencies() []Capability
	OnMount(ctx context.Context, sys Syscalls) errno.Code
	Read(ctx context.Context, f *File) errno.Result[any]
	Write(ctx context.Context, f *File, value any) errno.Code
	Ioctl(ctx context.Context, f *File, request uint32, arg any) errno.Result[any]
	Shutdown(ctx context.Context) errno.Code
}

// Opener is implemented by capabilities that validate paths at open time.
type Opener interface {
	Open(ctx context.Context, f *File) errno.Code
}

// Lister is implemented by capabilities that enumerate their namespace.
// subpath is relative to the mount prefix.
type Lister interface {
	Readdir(ctx context.Context, subpath string) errno.Result[[]vfs.DirEntry]
}

// Syscalls is the kernel surface available to capabilities and kernel
// clients.
type Syscalls interface {
	Open(ctx context.Context, path string, mode vfs.Mode) errno.Result[int]
	Read(ctx context.Context, fd int) errno.Result[any]
	Write(ctx context.Context, fd int, value any) errno.Code
	Close(ctx context.Context, fd int) errno.Code
	Ioctl(ctx context.Context, fd int, request uint32, arg any) errno.Result[any]

	Mkdir(ctx context.Context, path string, recursive bool) errno.Code
	Create(ctx context.Context, path string, content any) errno.Code
	Readdir(ctx context.Context, path string) errno.Result[[]vfs.DirEntry]
	Unlink(ctx context.Context, path string) errno.Code
	Stat(ctx context.Context, path string) (vfs.Stats, bool)
	Exists(ctx context.Context, path string) bool

	// Transact runs fn while holding the lock for path. Calls for the same
	// path are serialised; the lock is not re-entrant.
	Transact(ctx context.Context, path string, fn func() errno.Code) errno.Code
}

// Base carries the identity, dependencies and lifecycle of a capability.
// Devices embed it and override the data methods.
type Base struct {
	*Lifecycle
	id   string
	deps []Capability
}

// NewBase returns a Base for id depending on deps.
func NewBase(id string, deps ...Capability) Base {
	return Base{Lifecycle: &Lifecycle{}, id: id, deps: deps}
}

// ID returns the capability identifier.
func (b *Base) ID() string {
	return b.id
}

// Dependencies returns the capabilities passed at construction.
func (b *Base) Dependencies() []Capability {
	return b.deps
}

// OnMount moves the capability into the Mounted state.
func (b *Base) OnMount(_ context.Context, sys Syscalls) errno.Code {
	code := b.Lifecycle.Mount(sys)
	if code == errno.SUCCESS {
		logger.Debug("Capability %s mounted", b.id)
	}
	return code
}

// Read refuses by default.
func (b *Base) Read(context.Context, *File) errno.Result[any] {
	if code := b.Guard(); code != errno.SUCCESS {
		return errno.Fail[any](code)
	}
	return errno.Fail[any](errno.EINVAL)
}

// Write refuses by default.
func (b *Base) Write(context.Context, *File, any) errno.Code {
	if code := b.Guard(); code != errno.SUCCESS {
		return code
	}
	return errno.EINVAL
}

// Ioctl refuses by default.
func (b *Base) Ioctl(context.Context, *File, uint32, any) errno.Result[any] {
	if code := b.Guard(); code != errno.SUCCESS {
		return errno.Fail[any](code)
	}
	return errno.Fail[any](errno.EINVAL)
}

// Shutdown moves the capability into the terminal Shutdown state.
func (b *Base) Shutdown(context.Context) errno.Code {
	code := b.Lifecycle.Shutdown()
	if code == errno.SUCCESS {
		logger.Debug("Capability %s shut down", b.id)
	}
	return code
}
