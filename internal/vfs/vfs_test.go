package vfs

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charfs/internal/errno"
)

func TestNew_StandardDirs(t *testing.T) {
	t.Parallel()

	fs := New()
	for _, dir := range StandardDirs {
		st, ok := fs.Stat(dir)
		require.True(t, ok, dir)
		assert.True(t, st.IsDir())
	}

	entries := fs.Readdir("/")
	require.True(t, entries.OK())
	names := make([]string, 0, len(entries.Value))
	for _, e := range entries.Value {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"bin", "dev", "entity", "etc", "proc", "tmp", "var"}, names)
}

func TestOpen_RejectsRelativePath(t *testing.T) {
	t.Parallel()

	fs := New()
	before := fs.Len()

	r := fs.Open("relative/path", ModeRead)
	assert.Equal(t, -1, r.Value)
	assert.Equal(t, errno.EINVAL, r.Code)
	assert.Equal(t, before, fs.Len())
	assert.Equal(t, 0, fs.OpenHandles())
}

func TestOpen_Errors(t *testing.T) {
	t.Parallel()

	fs := New()
	require.Equal(t, errno.SUCCESS, fs.Create("/tmp/f", 1))

	tests := []struct {
		name string
		path string
		mode Mode
		code errno.Code
	}{
		{"missing file", "/tmp/none", ModeRead, errno.ENOENT},
		{"directory mode on file", "/tmp/f", ModeDirectory, errno.EINVAL},
		{"file mode on directory", "/tmp", ModeRead, errno.EINVAL},
		{"invalid mode", "/tmp/f", Mode(42), errno.EINVAL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := fs.Open(tt.path, tt.mode)
			assert.Equal(t, tt.code, r.Code)
			assert.Equal(t, -1, r.Value)
		})
	}
}

func TestWriteThenRead_RoundTrip(t *testing.T) {
	t.Parallel()

	values := []any{
		42,
		"text",
		true,
		nil,
		[]any{1.0, "two", []any{3.0}},
		map[string]any{"name": "Valeros", "hp": 12.0, "tags": []any{"fighter"}},
	}

	for _, v2 := range values {
		fs := New()
		require.Equal(t, errno.SUCCESS, fs.Create("/tmp/x", map[string]any{"initial": true}))

		fd := fs.Open("/tmp/x", ModeReadWrite)
		require.True(t, fd.OK())
		require.Equal(t, errno.SUCCESS, fs.Write(fd.Value, v2))
		require.Equal(t, errno.SUCCESS, fs.Close(fd.Value))

		fd2 := fs.Open("/tmp/x", ModeRead)
		require.True(t, fd2.OK())
		got := fs.Read(fd2.Value)
		require.True(t, got.OK())

		want, err := json.Marshal(v2)
		require.NoError(t, err)
		assert.JSONEq(t, string(want), string(got.Value))
	}
}

func TestRead_ReturnsCopy(t *testing.T) {
	t.Parallel()

	fs := New()
	require.Equal(t, errno.SUCCESS, fs.Create("/tmp/x", "abc"))
	fd := fs.Open("/tmp/x", ModeRead).Value

	first := fs.Read(fd).Value
	first[1] = 'Z'

	assert.Equal(t, `"abc"`, string(fs.Read(fd).Value))
}

func TestClose_InvalidatesDescriptor(t *testing.T) {
	t.Parallel()

	fs := New()
	require.Equal(t, errno.SUCCESS, fs.Create("/tmp/x", 1))
	fd := fs.Open("/tmp/x", ModeReadWrite).Value

	require.Equal(t, errno.SUCCESS, fs.Close(fd))
	assert.Equal(t, errno.EBADF, fs.Read(fd).Code)
	assert.Equal(t, errno.EBADF, fs.Write(fd, 2))
	assert.Equal(t, errno.EBADF, fs.Close(fd))
}

func TestDescriptors_LowestFreeReused(t *testing.T) {
	t.Parallel()

	fs := New()
	require.Equal(t, errno.SUCCESS, fs.Create("/tmp/x", 1))

	a := fs.Open("/tmp/x", ModeRead).Value
	b := fs.Open("/tmp/x", ModeRead).Value
	c := fs.Open("/tmp/x", ModeRead).Value
	assert.Equal(t, []int{3, 4, 5}, []int{a, b, c})

	require.Equal(t, errno.SUCCESS, fs.Close(b))
	assert.Equal(t, 4, fs.Open("/tmp/x", ModeRead).Value)
}

func TestModeEnforcement(t *testing.T) {
	t.Parallel()

	fs := New()
	require.Equal(t, errno.SUCCESS, fs.Create("/tmp/x", "orig"))

	rfd := fs.Open("/tmp/x", ModeRead).Value
	assert.Equal(t, errno.EACCES, fs.Write(rfd, "changed"))

	wfd := fs.Open("/tmp/x", ModeWrite).Value
	assert.Equal(t, errno.EACCES, fs.Read(wfd).Code)

	assert.Equal(t, `"orig"`, string(fs.Read(rfd).Value))

	dfd := fs.Open("/tmp", ModeDirectory).Value
	assert.Equal(t, errno.EACCES, fs.Write(dfd, "x"))
	assert.JSONEq(t, `["x"]`, string(fs.Read(dfd).Value))
}

func TestMkdir(t *testing.T) {
	t.Parallel()

	fs := New()

	require.Equal(t, errno.SUCCESS, fs.Mkdir("/a/b/c", true))
	assert.True(t, fs.Exists("/a"))
	assert.True(t, fs.Exists("/a/b"))
	assert.True(t, fs.Exists("/a/b/c"))

	assert.Equal(t, errno.SUCCESS, fs.Mkdir("/a/b", false), "existing directory is idempotent")
	assert.Equal(t, errno.ENOENT, fs.Mkdir("/x/y", false))
	assert.False(t, fs.Exists("/x"))

	require.Equal(t, errno.SUCCESS, fs.Create("/a/file", 1))
	assert.Equal(t, errno.EEXIST, fs.Mkdir("/a/file", false))
	assert.Equal(t, errno.ENOENT, fs.Mkdir("/a/file/sub", true))
	assert.Equal(t, errno.EINVAL, fs.Mkdir("rel", true))
}

func TestCreate(t *testing.T) {
	t.Parallel()

	fs := New()

	assert.Equal(t, errno.ENOENT, fs.Create("/missing/file", 1))
	assert.Equal(t, errno.EEXIST, fs.Create("/tmp", 1))
	assert.Equal(t, errno.EINVAL, fs.Create("/tmp/ch", make(chan int)))
	assert.Equal(t, errno.EINVAL, fs.Create("/tmp/raw", json.RawMessage("{bad")))

	require.Equal(t, errno.SUCCESS, fs.Create("/tmp/f", 1))
	require.Equal(t, errno.SUCCESS, fs.Create("/tmp/f", 2))
	fd := fs.Open("/tmp/f", ModeRead).Value
	assert.Equal(t, "2", string(fs.Read(fd).Value))
}

func TestUnlink(t *testing.T) {
	t.Parallel()

	fs := New()
	require.Equal(t, errno.SUCCESS, fs.Mkdir("/a/b", true))
	require.Equal(t, errno.SUCCESS, fs.Create("/a/b/f", 1))

	assert.Equal(t, errno.EINVAL, fs.Unlink("/"))
	assert.Equal(t, errno.EINVAL, fs.Unlink("/a/b"), "non-empty directory")
	assert.Equal(t, errno.ENOENT, fs.Unlink("/a/b/none"))

	fd := fs.Open("/a/b/f", ModeRead).Value
	require.Equal(t, errno.SUCCESS, fs.Unlink("/a/b/f"))
	assert.False(t, fs.Exists("/a/b/f"))
	assert.Equal(t, errno.ENOENT, fs.Read(fd).Code, "handle to removed file")

	require.Equal(t, errno.SUCCESS, fs.Unlink("/a/b"))
	st, ok := fs.Stat("/a")
	require.True(t, ok)
	assert.Empty(t, st.Children)

	// Freed slots are reused.
	n := len(fs.inodes)
	require.Equal(t, errno.SUCCESS, fs.Create("/a/g", 1))
	assert.Equal(t, n, len(fs.inodes))
}

func TestSymlinks(t *testing.T) {
	t.Parallel()

	fs := New()
	require.Equal(t, errno.SUCCESS, fs.Mkdir("/data/chars", true))
	require.Equal(t, errno.SUCCESS, fs.Create("/data/chars/a", "alpha"))

	require.Equal(t, errno.SUCCESS, fs.Symlink("/data/chars", "/tmp/chars"))
	require.Equal(t, errno.SUCCESS, fs.Symlink("a", "/data/chars/alias"))
	assert.Equal(t, errno.EEXIST, fs.Symlink("/x", "/tmp/chars"))
	assert.Equal(t, errno.EINVAL, fs.Symlink("", "/tmp/empty"))

	fd := fs.Open("/tmp/chars/alias", ModeRead)
	require.True(t, fd.OK())
	assert.Equal(t, `"alpha"`, string(fs.Read(fd.Value).Value))

	assert.Equal(t, "/data/chars/a", fs.Resolve("/tmp/chars/alias").Value)
	assert.Equal(t, "a", fs.Readlink("/data/chars/alias").Value)
	assert.Equal(t, errno.EINVAL, fs.Readlink("/data/chars/a").Code)

	lst, ok := fs.Lstat("/tmp/chars")
	require.True(t, ok)
	assert.Equal(t, KindSymlink, lst.Kind)
	st, ok := fs.Stat("/tmp/chars")
	require.True(t, ok)
	assert.Equal(t, KindDirectory, st.Kind)

	// Creating through a symlinked directory lands in the target.
	require.Equal(t, errno.SUCCESS, fs.Create("/tmp/chars/b", "beta"))
	assert.True(t, fs.Exists("/data/chars/b"))

	// Unlink removes the link, not the target.
	require.Equal(t, errno.SUCCESS, fs.Unlink("/tmp/chars"))
	assert.True(t, fs.Exists("/data/chars"))
}

func TestSymlinks_Loop(t *testing.T) {
	t.Parallel()

	fs := New()
	require.Equal(t, errno.SUCCESS, fs.Symlink("/tmp/b", "/tmp/a"))
	require.Equal(t, errno.SUCCESS, fs.Symlink("/tmp/a", "/tmp/b"))

	r := fs.Open("/tmp/a", ModeRead)
	assert.Equal(t, errno.EINVAL, r.Code)
	assert.Equal(t, -1, r.Value)
	assert.False(t, fs.Exists("/tmp/a"))
}

func TestReaddir(t *testing.T) {
	t.Parallel()

	fs := New()
	require.Equal(t, errno.SUCCESS, fs.Create("/tmp/z", 1))
	require.Equal(t, errno.SUCCESS, fs.Mkdir("/tmp/m", false))
	require.Equal(t, errno.SUCCESS, fs.Symlink("/tmp/z", "/tmp/a"))

	r := fs.Readdir("/tmp")
	require.True(t, r.OK())
	assert.Equal(t, []DirEntry{
		{Name: "a", Kind: KindSymlink},
		{Name: "m", Kind: KindDirectory},
		{Name: "z", Kind: KindFile},
	}, r.Value)

	assert.Equal(t, errno.EINVAL, fs.Readdir("/tmp/z").Code)
	assert.Equal(t, errno.ENOENT, fs.Readdir("/nope").Code)
}

func TestNormalization_AcrossOperations(t *testing.T) {
	t.Parallel()

	fs := New()
	require.Equal(t, errno.SUCCESS, fs.Create("//tmp/./x/", 5))
	assert.True(t, fs.Exists("/tmp/x"))
	assert.True(t, fs.Exists("/var/../tmp/x"))
}

func TestConcurrentCreates(t *testing.T) {
	t.Parallel()

	fs := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "/tmp/" + string(rune('a'+i%26)) + string(rune('a'+i/26))
			assert.Equal(t, errno.SUCCESS, fs.Create(name, i))
		}(i)
	}
	wg.Wait()

	st, ok := fs.Stat("/tmp")
	require.True(t, ok)
	assert.Len(t, st.Children, 50)
}
