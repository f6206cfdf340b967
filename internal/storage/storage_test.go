package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adapters(t *testing.T) map[string]Adapter {
	t.Helper()

	dir := t.TempDir()

	file, err := NewFileAdapter(filepath.Join(dir, "state.json"), 2)
	require.NoError(t, err)

	db, err := NewSQLiteAdapter(context.Background(), filepath.Join(dir, "state.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		file.Close()
		db.Close()
	})

	return map[string]Adapter{
		BackendMemory: NewMemoryAdapter(),
		BackendFile:   file,
		BackendSQLite: db,
	}
}

// TestAdapter_Contract runs the same behaviour checks against every backend.
func TestAdapter_Contract(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	for name, a := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			_, err := a.Get(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, a.Set(ctx, "fs:inodes", []byte(`{"a":1}`)))
			require.NoError(t, a.Set(ctx, "fs:meta", []byte("m")))
			require.NoError(t, a.Set(ctx, "other", []byte("o")))

			v, err := a.Get(ctx, "fs:inodes")
			require.NoError(t, err)
			assert.Equal(t, `{"a":1}`, string(v))

			require.NoError(t, a.Set(ctx, "fs:inodes", []byte(`{"a":2}`)))
			v, err = a.Get(ctx, "fs:inodes")
			require.NoError(t, err)
			assert.Equal(t, `{"a":2}`, string(v))

			keys, err := a.Keys(ctx, "fs:")
			require.NoError(t, err)
			assert.Equal(t, []string{"fs:inodes", "fs:meta"}, keys)

			all, err := a.Keys(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 3)

			require.NoError(t, a.Delete(ctx, "fs:meta"))
			require.NoError(t, a.Delete(ctx, "never-there"))
			_, err = a.Get(ctx, "fs:meta")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

// TestMemoryAdapter_CopiesValues tests that stored bytes are not aliased.
func TestMemoryAdapter_CopiesValues(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryAdapter()

	in := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", in))
	in[0] = 'X'

	out, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(out))

	out[1] = 'Y'
	again, _ := m.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))

	require.NoError(t, m.Close())
	_, err = m.Get(ctx, "k")
	require.ErrorIs(t, err, ErrClosed)

	m.Reopen()
	_, err = m.Get(ctx, "k")
	require.NoError(t, err)
}

// TestFileAdapter_ReloadAndBackups tests persistence across instances and backup rotation.
func TestFileAdapter_ReloadAndBackups(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	fa, err := NewFileAdapter(path, 2)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, fa.Set(ctx, "k", []byte{byte('0' + i)}))
	}

	backups, err := fa.Backups()
	require.NoError(t, err)
	assert.Len(t, backups, 2)

	reopened, err := NewFileAdapter(path, 2)
	require.NoError(t, err)

	v, err := reopened.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "4", string(v))
}

// TestFileAdapter_NoBackups tests that a backup count of 0 keeps none.
func TestFileAdapter_NoBackups(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	fa, err := NewFileAdapter(path, 2)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, fa.Set(ctx, "k", []byte{byte('0' + i)}))
	}
	backups, err := fa.Backups()
	require.NoError(t, err)
	require.Len(t, backups, 2)

	none, err := NewFileAdapter(path, 0)
	require.NoError(t, err)
	require.NoError(t, none.Set(ctx, "k", []byte("x")))
	backups, err = none.Backups()
	require.NoError(t, err)
	assert.Empty(t, backups, "existing backups are pruned")

	fallback, err := NewFileAdapter(path, -1)
	require.NoError(t, err)
	for i := 0; i < DefaultBackupCount+2; i++ {
		require.NoError(t, fallback.Set(ctx, "k", []byte{byte('0' + i)}))
	}
	backups, err = fallback.Backups()
	require.NoError(t, err)
	assert.Len(t, backups, DefaultBackupCount)
}

// TestFileAdapter_CorruptFile tests that an unparseable document is reported.
func TestFileAdapter_CorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := NewFileAdapter(path, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse state file")
}

// TestOpen_Backends tests backend selection.
func TestOpen_Backends(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()

	a, err := Open(ctx, Options{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryAdapter{}, a)

	a, err = Open(ctx, Options{Backend: BackendFile, Path: filepath.Join(dir, "s.json")})
	require.NoError(t, err)
	assert.IsType(t, &FileAdapter{}, a)

	a, err = Open(ctx, Options{Backend: BackendSQLite, Path: filepath.Join(dir, "s.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteAdapter{}, a)
	require.NoError(t, a.Close())

	_, err = Open(ctx, Options{Backend: BackendFile})
	require.Error(t, err)

	_, err = Open(ctx, Options{Backend: "redis"})
	require.Error(t, err)
}
