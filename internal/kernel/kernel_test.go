package kernel

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charfs/internal/capability"
	"charfs/internal/errno"
	"charfs/internal/storage"
	"charfs/internal/vfs"
)

// echo answers reads with its id and the subpath, and records writes.
type echo struct {
	capability.Base

	mu       sync.Mutex
	writes   []any
	shutdown *[]string
}

func newEcho(id string, deps ...capability.Capability) *echo {
	return &echo{Base: capability.NewBase(id, deps...)}
}

func (e *echo) Read(_ context.Context, f *capability.File) errno.Result[any] {
	if code := e.Guard(); code != errno.SUCCESS {
		return errno.Fail[any](code)
	}
	return errno.Ok[any](e.ID() + ":" + f.Subpath)
}

func (e *echo) Write(_ context.Context, _ *capability.File, v any) errno.Code {
	if code := e.Guard(); code != errno.SUCCESS {
		return code
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.writes = append(e.writes, v)
	return errno.SUCCESS
}

func (e *echo) Ioctl(_ context.Context, _ *capability.File, req uint32, arg any) errno.Result[any] {
	if code := e.Guard(); code != errno.SUCCESS {
		return errno.Fail[any](code)
	}
	switch req {
	case 0:
		return errno.Ok(arg)
	case 1:
		panic("boom")
	case 2:
		return errno.Fail[any](errno.Code(1234))
	}
	return errno.Fail[any](errno.EINVAL)
}

func (e *echo) Shutdown(ctx context.Context) errno.Code {
	if e.shutdown != nil {
		*e.shutdown = append(*e.shutdown, e.ID())
	}
	return e.Base.Shutdown(ctx)
}

type failingMount struct {
	capability.Base
}

func (f *failingMount) OnMount(context.Context, capability.Syscalls) errno.Code {
	return errno.EIO
}

func newKernel(t *testing.T) *Kernel {
	t.Helper()
	return newKernelWith(t, storage.NewMemoryAdapter())
}

func newKernelWith(t *testing.T, adapter storage.Adapter) *Kernel {
	t.Helper()
	k, err := New(adapter, Options{})
	require.NoError(t, err)
	_, err = k.Boot(context.Background())
	require.NoError(t, err)
	return k
}

func TestOpen_DispatchesToCapability(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	k := newKernel(t)
	require.Equal(t, errno.SUCCESS, k.Mount(ctx, "/dev/x", newEcho("x")))

	fd := k.Open(ctx, "/dev/x/anything", vfs.ModeRead)
	require.True(t, fd.OK())
	got := k.Read(ctx, fd.Value)
	require.True(t, got.OK())
	assert.Equal(t, "x:anything", got.Value)

	prefix := k.Open(ctx, "/dev/x", vfs.ModeRead)
	require.True(t, prefix.OK())
	assert.Equal(t, "x:", k.Read(ctx, prefix.Value).Value)

	st, ok := k.Stat(ctx, "/dev/x/anything")
	require.True(t, ok)
	assert.Equal(t, vfs.KindDevice, st.Kind)
	st, ok = k.Stat(ctx, "/dev/x")
	require.True(t, ok)
	assert.Equal(t, vfs.KindDirectory, st.Kind)
}

func TestRoute_SegmentsAndLongestPrefix(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	k := newKernel(t)
	require.Equal(t, errno.SUCCESS, k.Mount(ctx, "/dev/x", newEcho("x")))
	require.Equal(t, errno.SUCCESS, k.Mount(ctx, "/dev/x/inner", newEcho("inner")))

	assert.Equal(t, errno.ENOENT, k.Open(ctx, "/dev/xy", vfs.ModeRead).Code)

	fd := k.Open(ctx, "/dev/x/inner/deep", vfs.ModeRead).Value
	assert.Equal(t, "inner:deep", k.Read(ctx, fd).Value)

	fd = k.Open(ctx, "/dev/x/other", vfs.ModeRead).Value
	assert.Equal(t, "x:other", k.Read(ctx, fd).Value)

	// Cached resolutions are dropped on unmount.
	require.Equal(t, errno.SUCCESS, k.Unmount(ctx, "/dev/x/inner"))
	fd = k.Open(ctx, "/dev/x/inner/deep", vfs.ModeRead).Value
	assert.Equal(t, "x:inner/deep", k.Read(ctx, fd).Value)
}

func TestRoute_ThroughSymlink(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	k := newKernel(t)
	require.Equal(t, errno.SUCCESS, k.Mount(ctx, "/dev/x", newEcho("x")))
	require.Equal(t, errno.SUCCESS, k.Symlink(ctx, "/dev/x", "/tmp/l"))

	assert.Equal(t, errno.EINVAL, k.Create(ctx, "/tmp/l/plain", 42))
	assert.Equal(t, errno.EINVAL, k.Mkdir(ctx, "/tmp/l/sub", false))
	assert.Equal(t, errno.EINVAL, k.AtomicWrite(ctx, "/tmp/l/plain", 42))
	assert.Equal(t, errno.EINVAL, k.Symlink(ctx, "/tmp", "/tmp/l/link"))
	assert.Equal(t, errno.EINVAL, k.Unlink(ctx, "/tmp/l/anything"))

	fd := k.Open(ctx, "/tmp/l/anything", vfs.ModeRead)
	require.True(t, fd.OK())
	assert.Equal(t, "x:anything", k.Read(ctx, fd.Value).Value)

	st, ok := k.Stat(ctx, "/tmp/l/anything")
	require.True(t, ok)
	assert.Equal(t, vfs.KindDevice, st.Kind)
	assert.True(t, k.Exists(ctx, "/tmp/l/anything"))

	// Nothing landed in the filesystem below the prefix.
	_, ok = k.fs.Stat("/dev/x/plain")
	assert.False(t, ok)
	_, ok = k.fs.Stat("/dev/x/sub")
	assert.False(t, ok)

	// The link itself is a plain inode and can be removed.
	require.Equal(t, errno.SUCCESS, k.Unlink(ctx, "/tmp/l"))
	assert.False(t, k.Exists(ctx, "/tmp/l"))
	assert.True(t, k.Exists(ctx, "/dev/x"))
}

func TestOpen_RelativePath(t *testing.T) {
	t.Parallel()

	k := newKernel(t)
	r := k.Open(context.Background(), "relative/path", vfs.ModeRead)
	assert.Equal(t, -1, r.Value)
	assert.Equal(t, errno.EINVAL, r.Code)
	assert.Equal(t, 0, k.OpenDescriptors())
}

func TestDescriptors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	k := newKernel(t)
	require.Equal(t, errno.SUCCESS, k.Mount(ctx, "/dev/x", newEcho("x")))
	require.Equal(t, errno.SUCCESS, k.Create(ctx, "/tmp/f", 1))

	a := k.Open(ctx, "/tmp/f", vfs.ModeRead).Value
	b := k.Open(ctx, "/dev/x/a", vfs.ModeRead).Value
	c := k.Open(ctx, "/tmp/f", vfs.ModeRead).Value
	assert.Equal(t, []int{3, 4, 5}, []int{a, b, c})

	require.Equal(t, errno.SUCCESS, k.Close(ctx, b))
	assert.Equal(t, errno.EBADF, k.Read(ctx, b).Code)
	assert.Equal(t, errno.EBADF, k.Write(ctx, b, 1))
	assert.Equal(t, errno.EBADF, k.Ioctl(ctx, b, 0, nil).Code)
	assert.Equal(t, errno.EBADF, k.Close(ctx, b))

	assert.Equal(t, 4, k.Open(ctx, "/tmp/f", vfs.ModeRead).Value)
}

func TestPlainFile_RoundTripAndModes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	k := newKernel(t)
	require.Equal(t, errno.SUCCESS, k.Create(ctx, "/tmp/f", map[string]any{"a": 1}))

	rw := k.Open(ctx, "/tmp/f", vfs.ModeReadWrite).Value
	require.Equal(t, errno.SUCCESS, k.Write(ctx, rw, []string{"x", "y"}))
	require.Equal(t, errno.SUCCESS, k.Close(ctx, rw))

	r := k.Open(ctx, "/tmp/f", vfs.ModeRead).Value
	got := k.Read(ctx, r)
	require.True(t, got.OK())
	assert.JSONEq(t, `["x","y"]`, string(got.Value.(json.RawMessage)))

	assert.Equal(t, errno.EACCES, k.Write(ctx, r, "nope"))
	w := k.Open(ctx, "/tmp/f", vfs.ModeWrite).Value
	assert.Equal(t, errno.EACCES, k.Read(ctx, w).Code)
	assert.Equal(t, errno.EINVAL, k.Ioctl(ctx, r, 0, nil).Code)

	assert.JSONEq(t, `["x","y"]`, string(k.Read(ctx, r).Value.(json.RawMessage)))
}

func TestDevice_ModeEnforcement(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	k := newKernel(t)
	dev := newEcho("x")
	require.Equal(t, errno.SUCCESS, k.Mount(ctx, "/dev/x", dev))

	r := k.Open(ctx, "/dev/x/a", vfs.ModeRead).Value
	assert.Equal(t, errno.EACCES, k.Write(ctx, r, 1))
	assert.Empty(t, dev.writes)

	w := k.Open(ctx, "/dev/x/a", vfs.ModeWrite).Value
	assert.Equal(t, errno.EACCES, k.Read(ctx, w).Code)
	require.Equal(t, errno.SUCCESS, k.Write(ctx, w, 7))
	assert.Equal(t, []any{7}, dev.writes)

	assert.Equal(t, errno.EINVAL, k.Open(ctx, "/dev/x/a", vfs.ModeDirectory).Code)
	assert.Equal(t, errno.EINVAL, k.Create(ctx, "/dev/x/file", 1))
	assert.Equal(t, errno.EINVAL, k.Unlink(ctx, "/dev/x"))
}

func TestCapability_PanicBecomesEIO(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	k := newKernel(t)
	require.Equal(t, errno.SUCCESS, k.Mount(ctx, "/dev/x", newEcho("x")))

	fd := k.Open(ctx, "/dev/x", vfs.ModeReadWrite).Value
	assert.Equal(t, errno.EIO, k.Ioctl(ctx, fd, 1, nil).Code)
	assert.Equal(t, errno.EIO, k.Ioctl(ctx, fd, 2, nil).Code, "unknown codes map to EIO")

	echoed := k.Ioctl(ctx, fd, 0, "ping")
	require.True(t, echoed.OK())
	assert.Equal(t, "ping", echoed.Value)
}

func TestCapability_ENODEVAfterUnmount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	k := newKernel(t)
	dev := newEcho("x")
	require.Equal(t, errno.SUCCESS, k.Mount(ctx, "/dev/x", dev))

	fd := k.Open(ctx, "/dev/x/a", vfs.ModeRead).Value
	require.Equal(t, errno.SUCCESS, k.Unmount(ctx, "/dev/x"))

	assert.Equal(t, capability.StateShutdown, dev.State())
	assert.Equal(t, errno.ENODEV, k.Read(ctx, fd).Code)
	assert.Equal(t, errno.ENODEV, k.Mount(ctx, "/dev/x", dev), "shutdown is terminal")
	assert.Equal(t, errno.ENOENT, k.Unmount(ctx, "/dev/x"))
}

func TestMount_Validation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	k := newKernel(t)
	base := newEcho("base")
	child := newEcho("child", base)

	assert.Equal(t, errno.EINVAL, k.Mount(ctx, "dev/rel", base))
	assert.Equal(t, errno.EINVAL, k.Mount(ctx, "/", base))
	assert.Equal(t, errno.EINVAL, k.Mount(ctx, "/dev/nil", nil))
	assert.Equal(t, errno.ENODEV, k.Mount(ctx, "/dev/child", child))

	require.Equal(t, errno.SUCCESS, k.Mount(ctx, "/dev/base", base))
	assert.Equal(t, errno.EEXIST, k.Mount(ctx, "/dev/base", newEcho("other")))
	assert.Equal(t, errno.EEXIST, k.Mount(ctx, "/dev/again", base))
	require.Equal(t, errno.SUCCESS, k.Mount(ctx, "/dev/child", child))

	assert.Equal(t, errno.EINVAL, k.Unmount(ctx, "/dev/base"), "child depends on base")

	assert.Equal(t, []MountInfo{
		{Prefix: "/dev/base", ID: "base", State: "mounted"},
		{Prefix: "/dev/child", ID: "child", State: "mounted"},
	}, k.Mounts())
}

func TestMount_RollbackOnFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	k := newKernel(t)

	code := k.Mount(ctx, "/dev/broken", &failingMount{Base: capability.NewBase("broken")})
	assert.Equal(t, errno.EIO, code)
	assert.Empty(t, k.Mounts())
	assert.False(t, k.Exists(ctx, "/dev/broken"))
}

func TestMountAll_DependencyOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	k := newKernel(t)
	base := newEcho("base")
	child := newEcho("child", base)

	require.NoError(t, k.MountAll(ctx, map[string]string{"base": "/dev/base", "child": "/dev/child"}, child))
	assert.Equal(t, []string{"/dev/base", "/dev/child"}, k.Prefixes())

	err := k.MountAll(ctx, map[string]string{}, newEcho("orphan"))
	require.Error(t, err)
}

func TestTransact_SerialisesIncrements(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	k := newKernel(t)
	require.Equal(t, errno.SUCCESS, k.Create(ctx, "/tmp/counter", 0))

	increment := func() errno.Code {
		fd := k.Open(ctx, "/tmp/counter", vfs.ModeReadWrite)
		if !fd.OK() {
			return fd.Code
		}
		defer k.Close(ctx, fd.Value)

		raw := k.Read(ctx, fd.Value)
		if !raw.OK() {
			return raw.Code
		}
		var n int
		if err := json.Unmarshal(raw.Value.(json.RawMessage), &n); err != nil {
			return errno.EIO
		}
		return k.Write(ctx, fd.Value, n+1)
	}

	const workers, rounds = 8, 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				assert.Equal(t, errno.SUCCESS, k.Transact(ctx, "/tmp/counter", increment))
			}
		}()
	}
	wg.Wait()

	fd := k.Open(ctx, "/tmp/counter", vfs.ModeRead).Value
	assert.Equal(t, "200", string(k.Read(ctx, fd).Value.(json.RawMessage)))
	assert.Equal(t, 0, k.heldLocks())
}

func TestTransact_PanicReleasesLock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	k := newKernel(t)

	code := k.Transact(ctx, "/tmp/x", func() errno.Code { panic("oops") })
	assert.Equal(t, errno.EIO, code)
	assert.Equal(t, errno.SUCCESS, k.Transact(ctx, "/tmp/x", func() errno.Code { return errno.SUCCESS }))
	assert.Equal(t, errno.EINVAL, k.Transact(ctx, "rel", func() errno.Code { return errno.SUCCESS }))
}

func TestAtomicWrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	k := newKernel(t)

	require.Equal(t, errno.SUCCESS, k.AtomicWrite(ctx, "/entity/a", map[string]any{"v": 1}))
	require.Equal(t, errno.SUCCESS, k.AtomicWrite(ctx, "/entity/a", map[string]any{"v": 2}))

	fd := k.Open(ctx, "/entity/a", vfs.ModeRead).Value
	assert.JSONEq(t, `{"v":2}`, string(k.Read(ctx, fd).Value.(json.RawMessage)))

	entries := k.Readdir(ctx, "/entity")
	require.True(t, entries.OK())
	assert.Len(t, entries.Value, 1, "temporary file removed")

	assert.Equal(t, errno.ENOENT, k.AtomicWrite(ctx, "/missing/a", 1))
}

func TestShutdown_PersistsAndReverseOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	adapter := storage.NewMemoryAdapter()
	k := newKernelWith(t, adapter)

	var order []string
	base := newEcho("base")
	base.shutdown = &order
	child := newEcho("child", base)
	child.shutdown = &order

	require.Equal(t, errno.SUCCESS, k.Mount(ctx, "/dev/base", base))
	require.Equal(t, errno.SUCCESS, k.Mount(ctx, "/dev/child", child))
	require.Equal(t, errno.SUCCESS, k.Create(ctx, "/etc/motd", "hello"))
	k.Open(ctx, "/etc/motd", vfs.ModeRead)

	require.NoError(t, k.Shutdown(ctx))
	assert.Equal(t, []string{"child", "base"}, order)
	assert.Equal(t, 0, k.OpenDescriptors())

	again := newKernelWith(t, adapter)
	fd := again.Open(ctx, "/etc/motd", vfs.ModeRead)
	require.True(t, fd.OK())
	assert.Equal(t, `"hello"`, string(again.Read(ctx, fd.Value).Value.(json.RawMessage)))
	assert.True(t, again.Exists(ctx, "/dev/child"), "mount directories persist")
}

func TestContext_Idempotency(t *testing.T) {
	t.Parallel()

	k, err := New(storage.NewMemoryAdapter(), Options{IdempotencyCacheSize: 2})
	require.NoError(t, err)

	c := k.Context()
	c.Remember("a", "1")
	c.Remember("b", "2")
	c.Remember("c", "3")

	_, ok := c.Recall("a")
	assert.False(t, ok, "oldest key evicted")
	v, ok := c.Recall("c")
	require.True(t, ok)
	assert.Equal(t, "3", v)

	c.Forget("c")
	assert.Equal(t, 1, c.Len())

	other, err := New(storage.NewMemoryAdapter(), Options{})
	require.NoError(t, err)
	_, ok = other.Context().Recall("b")
	assert.False(t, ok, "contexts are per kernel")
}

func TestNew_NilAdapter(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Options{})
	require.Error(t, err)
}
