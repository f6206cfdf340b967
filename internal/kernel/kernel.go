// Package kernel implements the syscall surface of charfs. It owns the
// descriptor table and the mount table, routes every path either to the
// filesystem or to the capability mounted over it, and turns capability
// panics into EIO.
package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"charfs/internal/capability"
	"charfs/internal/errno"
	"charfs/internal/fdtable"
	"charfs/internal/logging"
	"charfs/internal/storage"
	"charfs/internal/vfs"
)

var (
	logger = logging.GetLogger().WithPrefix("kernel")
)

// FirstFD is the lowest descriptor returned by Open. 0 to 2 are reserved.
const FirstFD = 3

const (
	DefaultResolveCacheSize     = 256
	DefaultIdempotencyCacheSize = 1024
)

// Options tunes a Kernel. Zero values select the defaults.
type Options struct {
	ResolveCacheSize     int
	IdempotencyCacheSize int
}

// descriptor is one kernel fd. Plain files carry the filesystem handle;
// device files carry the mount entry and the File passed to the capability.
type descriptor struct {
	path  string
	mode  vfs.Mode
	fsfd  int
	mount *mountEntry
	file  *capability.File
}

func (d *descriptor) device() bool {
	return d.mount != nil
}

// Kernel is safe for concurrent use. Its tables are guarded by mu, which is
// never held while a capability runs.
type Kernel struct {
	mu      sync.Mutex
	fs      *vfs.FileSystem
	adapter storage.Adapter
	fds     *fdtable.Table[*descriptor]
	mounts  []*mountEntry
	resolve *lru.Cache[string, *mountEntry]
	booted  bool

	locksMu sync.Mutex
	locks   map[string]*pathLock

	context *Context
}

var _ capability.Syscalls = (*Kernel)(nil)

// New creates a kernel persisting its filesystem through adapter. Nothing is
// loaded until Boot.
func New(adapter storage.Adapter, opts Options) (*Kernel, error) {
	if adapter == nil {
		return nil, errors.New("kernel: nil storage adapter")
	}
	if opts.ResolveCacheSize <= 0 {
		opts.ResolveCacheSize = DefaultResolveCacheSize
	}
	if opts.IdempotencyCacheSize <= 0 {
		opts.IdempotencyCacheSize = DefaultIdempotencyCacheSize
	}

	cache, err := lru.New[string, *mountEntry](opts.ResolveCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolution cache: %w", err)
	}
	kctx, err := newContext(opts.IdempotencyCacheSize)
	if err != nil {
		return nil, err
	}

	return &Kernel{
		fs:      vfs.New(),
		adapter: adapter,
		fds:     fdtable.New[*descriptor](FirstFD),
		resolve: cache,
		locks:   make(map[string]*pathLock),
		context: kctx,
	}, nil
}

// Context returns the kernel-scoped state shared with kernel clients.
func (k *Kernel) Context() *Context {
	return k.context
}

// Boot loads the filesystem from storage.
func (k *Kernel) Boot(ctx context.Context) (vfs.Diagnostic, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.booted {
		return k.fs.LastDiagnostic(), nil
	}
	diag, err := k.fs.Mount(ctx, k.adapter)
	if err != nil {
		return diag, err
	}
	k.booted = true

	switch {
	case diag.Recovered:
		logger.Warn("Booted from a fresh filesystem after recovery: %s", diag.Cause)
	case diag.Fresh:
		logger.Info("Booted with a fresh filesystem")
	default:
		logger.Info("Booted with %d inodes", diag.Inodes)
	}
	return diag, nil
}

// Diagnostic returns the outcome of the last boot.
func (k *Kernel) Diagnostic() vfs.Diagnostic {
	return k.fs.LastDiagnostic()
}

// Sync persists the filesystem.
func (k *Kernel) Sync(ctx context.Context) error {
	return k.fs.Sync(ctx)
}

// Shutdown shuts capabilities down in reverse mount order, closes every
// descriptor and persists the filesystem.
func (k *Kernel) Shutdown(ctx context.Context) error {
	k.mu.Lock()
	mounts := k.mounts
	k.mounts = nil
	k.resolve.Purge()
	booted := k.booted
	k.booted = false
	k.mu.Unlock()

	var errs []error
	for i := len(mounts) - 1; i >= 0; i-- {
		m := mounts[i]
		code := callCode("shutdown", m, func() errno.Code { return m.cap.Shutdown(ctx) })
		if code != errno.SUCCESS {
			errs = append(errs, code.Err("shutdown", m.prefix))
		}
	}

	k.fds.Each(func(fd int, _ *descriptor) {
		k.Close(ctx, fd)
	})

	if booted {
		if err := k.fs.Unmount(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	logger.Info("Kernel shut down (%d capabilities)", len(mounts))
	return errors.Join(errs...)
}

// Open returns the lowest free descriptor for path. Failures carry Value -1.
func (k *Kernel) Open(ctx context.Context, path string, mode vfs.Mode) errno.Result[int] {
	fail := func(c errno.Code) errno.Result[int] {
		return errno.Result[int]{Code: c, Value: -1}
	}
	if !mode.Valid() {
		return fail(errno.EINVAL)
	}
	path, code := k.canonical(path, true)
	if code != errno.SUCCESS {
		return fail(code)
	}

	if m := k.route(path); m != nil {
		if mode == vfs.ModeDirectory {
			return fail(errno.EINVAL)
		}
		if code := m.guard(); code != errno.SUCCESS {
			return fail(code)
		}

		d := &descriptor{path: path, mode: mode, fsfd: -1, mount: m}
		fd := k.fds.Alloc(d)
		d.file = &capability.File{FD: fd, Path: path, Subpath: vfs.Rel(path, m.prefix), Mode: mode}

		if opener, ok := m.cap.(capability.Opener); ok {
			code := callCode("open", m, func() errno.Code { return opener.Open(ctx, d.file) })
			if code != errno.SUCCESS {
				k.fds.Free(fd)
				return fail(code)
			}
		}
		logger.Trace("Opened device path %s as fd %d via %s", path, fd, m.cap.ID())
		return errno.Ok(fd)
	}

	r := k.fs.Open(path, mode)
	if !r.OK() {
		return fail(r.Code)
	}
	fd := k.fds.Alloc(&descriptor{path: path, mode: mode, fsfd: r.Value})
	return errno.Ok(fd)
}

// Read returns the value behind fd. Plain files yield json.RawMessage;
// devices yield whatever the capability returns.
func (k *Kernel) Read(ctx context.Context, fd int) errno.Result[any] {
	d, ok := k.fds.Get(fd)
	if !ok {
		return errno.Fail[any](errno.EBADF)
	}
	if !d.mode.CanRead() {
		return errno.Fail[any](errno.EACCES)
	}

	if d.device() {
		return callResult("read", d.mount, func() errno.Result[any] {
			return d.mount.cap.Read(ctx, d.file)
		})
	}

	r := k.fs.Read(d.fsfd)
	if !r.OK() {
		return errno.Fail[any](r.Code)
	}
	return errno.Ok[any](r.Value)
}

// Write hands value to the file or capability behind fd.
func (k *Kernel) Write(ctx context.Context, fd int, value any) errno.Code {
	d, ok := k.fds.Get(fd)
	if !ok {
		return errno.EBADF
	}
	if !d.mode.CanWrite() {
		return errno.EACCES
	}

	if d.device() {
		return callCode("write", d.mount, func() errno.Code {
			return d.mount.cap.Write(ctx, d.file, value)
		})
	}
	return k.fs.Write(d.fsfd, value)
}

// Close releases fd. A second close is EBADF.
func (k *Kernel) Close(_ context.Context, fd int) errno.Code {
	d, ok := k.fds.Free(fd)
	if !ok {
		return errno.EBADF
	}
	if !d.device() {
		k.fs.Close(d.fsfd)
	}
	return errno.SUCCESS
}

// Ioctl sends a request to the capability behind fd. Plain files are EINVAL.
func (k *Kernel) Ioctl(ctx context.Context, fd int, request uint32, arg any) errno.Result[any] {
	d, ok := k.fds.Get(fd)
	if !ok {
		return errno.Fail[any](errno.EBADF)
	}
	if !d.device() {
		return errno.Fail[any](errno.EINVAL)
	}
	return callResult("ioctl", d.mount, func() errno.Result[any] {
		return d.mount.cap.Ioctl(ctx, d.file, request, arg)
	})
}

// OpenDescriptors returns the number of live kernel descriptors.
func (k *Kernel) OpenDescriptors() int {
	return k.fds.Len()
}

// Mkdir creates a directory. Paths at or below a mount prefix, directly or
// through a symlink, are EINVAL.
func (k *Kernel) Mkdir(_ context.Context, path string, recursive bool) errno.Code {
	path, code := k.plainPath(path, true)
	if code != errno.SUCCESS {
		return code
	}
	return k.fs.Mkdir(path, recursive)
}

// Create stores content at path. Paths at or below a mount prefix, directly
// or through a symlink, are EINVAL.
func (k *Kernel) Create(_ context.Context, path string, content any) errno.Code {
	path, code := k.plainPath(path, true)
	if code != errno.SUCCESS {
		return code
	}
	return k.fs.Create(path, content)
}

// Unlink removes path. Mount prefixes and device paths are EINVAL. A final
// symlink is removed itself, wherever it points.
func (k *Kernel) Unlink(_ context.Context, path string) errno.Code {
	path, code := k.plainPath(path, false)
	if code != errno.SUCCESS {
		return code
	}
	return k.fs.Unlink(path)
}

// Symlink creates link pointing at target. A target under a mount prefix is
// allowed; paths through the link route to the capability.
func (k *Kernel) Symlink(_ context.Context, target, link string) errno.Code {
	link, code := k.plainPath(link, false)
	if code != errno.SUCCESS {
		return code
	}
	return k.fs.Symlink(target, link)
}

// Readdir lists a directory. Capabilities implementing capability.Lister
// list their own namespace.
func (k *Kernel) Readdir(ctx context.Context, path string) errno.Result[[]vfs.DirEntry] {
	path, code := k.canonical(path, true)
	if code != errno.SUCCESS {
		return errno.Fail[[]vfs.DirEntry](code)
	}

	if m := k.route(path); m != nil {
		lister, ok := m.cap.(capability.Lister)
		if !ok {
			if path == m.prefix {
				return k.fs.Readdir(path)
			}
			return errno.Fail[[]vfs.DirEntry](errno.EINVAL)
		}
		return callResult("readdir", m, func() errno.Result[[]vfs.DirEntry] {
			return lister.Readdir(ctx, vfs.Rel(path, m.prefix))
		})
	}
	return k.fs.Readdir(path)
}

// Stat describes path. Paths below a mount prefix stat as devices.
func (k *Kernel) Stat(_ context.Context, path string) (vfs.Stats, bool) {
	path, code := k.canonical(path, true)
	if code != errno.SUCCESS {
		return vfs.Stats{}, false
	}

	if m := k.route(path); m != nil && path != m.prefix {
		return vfs.Stats{Path: path, Kind: vfs.KindDevice}, true
	}
	return k.fs.Stat(path)
}

// Exists reports whether path names a file, directory or device path.
func (k *Kernel) Exists(_ context.Context, path string) bool {
	path, code := k.canonical(path, true)
	if code != errno.SUCCESS {
		return false
	}
	if m := k.route(path); m != nil {
		return true
	}
	return k.fs.Exists(path)
}

// AtomicWrite replaces path through a temporary sibling: the value is
// written to the temporary file, the target is unlinked and recreated, and
// the temporary file is removed. It takes no path lock; callers wanting
// serialisation run it inside Transact.
func (k *Kernel) AtomicWrite(ctx context.Context, path string, value any) errno.Code {
	path, code := k.plainPath(path, true)
	if code != errno.SUCCESS {
		return code
	}
	tmp := tempName(path)

	if code := k.fs.Create(tmp, value); code != errno.SUCCESS {
		return code
	}
	defer k.fs.Unlink(tmp)

	fd := k.fs.Open(tmp, vfs.ModeRead)
	if !fd.OK() {
		return fd.Code
	}
	staged := k.fs.Read(fd.Value)
	k.fs.Close(fd.Value)
	if !staged.OK() {
		return staged.Code
	}

	if code := k.fs.Unlink(path); code != errno.SUCCESS && code != errno.ENOENT {
		return code
	}
	return k.fs.Create(path, json.RawMessage(staged.Value))
}

// canonical normalises path and follows its symlinks, so routing sees the
// path the filesystem would act on. Missing trailing components are kept.
func (k *Kernel) canonical(path string, followLast bool) (string, errno.Code) {
	if !vfs.IsAbs(path) {
		return "", errno.EINVAL
	}
	r := k.fs.Locate(path, followLast)
	if !r.OK() {
		return "", r.Code
	}
	return r.Value, errno.SUCCESS
}

// plainPath resolves path and rejects anything a capability serves.
func (k *Kernel) plainPath(path string, followLast bool) (string, errno.Code) {
	resolved, code := k.canonical(path, followLast)
	if code != errno.SUCCESS {
		return "", code
	}
	if m := k.route(resolved); m != nil {
		return "", errno.EINVAL
	}
	return resolved, errno.SUCCESS
}
