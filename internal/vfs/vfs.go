// Package vfs implements the in-memory filesystem behind the kernel: a path
// namespace of files, directories and symlinks stored in an inode arena, with
// descriptor-based access and snapshot persistence through a storage adapter.
package vfs

import (
	"bytes"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"charfs/internal/errno"
	"charfs/internal/fdtable"
	"charfs/internal/logging"
	"charfs/internal/storage"
)

var (
	logger = logging.GetLogger().WithPrefix("vfs")
)

// FirstFD is the lowest descriptor the filesystem hands out.
const FirstFD = 3

// FileSystem owns every inode. All methods are safe for concurrent use.
type FileSystem struct {
	mu      sync.RWMutex
	inodes  []inode
	index   map[string]int
	free    []int
	handles *fdtable.Table[handle]

	adapter storage.Adapter
	mounted bool
	diag    Diagnostic

	now func() time.Time
}

// New returns a filesystem holding a fresh root and the standard directories.
func New() *FileSystem {
	fs := &FileSystem{
		handles: fdtable.New[handle](FirstFD),
		now:     time.Now,
	}
	fs.reset()
	return fs
}

// reset replaces the arena with a fresh tree. Callers hold mu.
func (fs *FileSystem) reset() {
	fs.inodes = fs.inodes[:0]
	fs.index = make(map[string]int)
	fs.free = fs.free[:0]

	now := fs.now()
	fs.insert(inode{Path: Root, Kind: KindDirectory, CreatedAt: now, UpdatedAt: now})
	for _, dir := range StandardDirs {
		fs.insert(inode{Path: dir, Kind: KindDirectory, CreatedAt: now, UpdatedAt: now})
	}
}

// lookup returns the live inode stored at an exact path.
func (fs *FileSystem) lookup(p string) (*inode, bool) {
	idx, ok := fs.index[p]
	if !ok {
		return nil, false
	}
	return &fs.inodes[idx], true
}

// insert stores n and links it into its parent's children.
func (fs *FileSystem) insert(n inode) {
	n.live = true

	var idx int
	if len(fs.free) > 0 {
		idx = fs.free[len(fs.free)-1]
		fs.free = fs.free[:len(fs.free)-1]
		fs.inodes[idx] = n
	} else {
		idx = len(fs.inodes)
		fs.inodes = append(fs.inodes, n)
	}
	fs.index[n.Path] = idx

	if n.Path == Root {
		return
	}
	if parent, ok := fs.lookup(Parent(n.Path)); ok {
		parent.Children = insertSorted(parent.Children, Base(n.Path))
		parent.UpdatedAt = n.CreatedAt
	}
}

// remove frees the slot of the inode at p and unlinks it from its parent.
func (fs *FileSystem) remove(p string) {
	idx, ok := fs.index[p]
	if !ok {
		return
	}
	delete(fs.index, p)
	fs.inodes[idx] = inode{}
	fs.free = append(fs.free, idx)

	if parent, ok := fs.lookup(Parent(p)); ok {
		parent.Children = removeSorted(parent.Children, Base(p))
		parent.UpdatedAt = fs.now()
	}
}

// resolve follows symlinks along p. The final component is followed only when
// followLast is set. Components missing from the table are carried over
// unresolved so callers can create them.
func (fs *FileSystem) resolve(p string, followLast bool) (string, errno.Code) {
	hops := 0
	for {
		segs := Split(p)
		cur := Root
		restarted := false

		for i, seg := range segs {
			next := Join(cur, seg)
			n, ok := fs.lookup(next)
			if !ok {
				return Join(next, segs[i+1:]...), errno.SUCCESS
			}

			last := i == len(segs)-1
			if n.Kind == KindSymlink && (!last || followLast) {
				hops++
				if hops > maxSymlinkHops {
					logger.Debug("Symlink loop while resolving %s", p)
					return "", errno.EINVAL
				}
				target := n.Target
				if !IsAbs(target) {
					target = Join(Parent(next), target)
				}
				p = Join(target, segs[i+1:]...)
				restarted = true
				break
			}
			if !last && n.Kind != KindDirectory {
				return "", errno.ENOENT
			}
			cur = next
		}

		if !restarted {
			return cur, errno.SUCCESS
		}
	}
}

// locate normalizes and resolves an absolute path.
func (fs *FileSystem) locate(p string, followLast bool) (string, errno.Code) {
	if !IsAbs(p) {
		return "", errno.EINVAL
	}
	return fs.resolve(NormalizePath(p), followLast)
}

// Exists reports whether p names an inode, following symlinks.
func (fs *FileSystem) Exists(p string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	resolved, code := fs.locate(p, true)
	if code != errno.SUCCESS {
		return false
	}
	_, ok := fs.lookup(resolved)
	return ok
}

// Mkdir creates the directory p. With recursive set, missing intermediate
// directories are created as well. An existing directory is not an error.
func (fs *FileSystem) Mkdir(p string, recursive bool) errno.Code {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	resolved, code := fs.locate(p, true)
	if code != errno.SUCCESS {
		return code
	}

	if n, ok := fs.lookup(resolved); ok {
		if n.Kind == KindDirectory {
			return errno.SUCCESS
		}
		return errno.EEXIST
	}

	segs := Split(resolved)
	cur := Root
	for i, seg := range segs {
		cur = Join(cur, seg)
		if n, ok := fs.lookup(cur); ok {
			if n.Kind != KindDirectory {
				return errno.EEXIST
			}
			continue
		}
		if !recursive && i < len(segs)-1 {
			return errno.ENOENT
		}
		now := fs.now()
		fs.insert(inode{Path: cur, Kind: KindDirectory, CreatedAt: now, UpdatedAt: now})
		logger.Trace("Created directory %s", cur)
	}
	return errno.SUCCESS
}

// Create stores content at p. An existing file has its content replaced; a
// directory or symlink at p is EEXIST.
func (fs *FileSystem) Create(p string, content any) errno.Code {
	raw, code := encode(content)
	if code != errno.SUCCESS {
		return code
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	resolved, code := fs.locate(p, true)
	if code != errno.SUCCESS {
		return code
	}

	if n, ok := fs.lookup(resolved); ok {
		if n.Kind != KindFile {
			return errno.EEXIST
		}
		n.Content = raw
		n.UpdatedAt = fs.now()
		return errno.SUCCESS
	}

	parent, ok := fs.lookup(Parent(resolved))
	if !ok || parent.Kind != KindDirectory {
		return errno.ENOENT
	}

	now := fs.now()
	fs.insert(inode{Path: resolved, Kind: KindFile, Content: raw, CreatedAt: now, UpdatedAt: now})
	logger.Trace("Created file %s (%d bytes)", resolved, len(raw))
	return errno.SUCCESS
}

// Open returns a descriptor for p. Failures carry Value -1.
func (fs *FileSystem) Open(p string, mode Mode) errno.Result[int] {
	fail := func(c errno.Code) errno.Result[int] {
		return errno.Result[int]{Code: c, Value: -1}
	}
	if !mode.Valid() {
		return fail(errno.EINVAL)
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	resolved, code := fs.locate(p, true)
	if code != errno.SUCCESS {
		return fail(code)
	}
	n, ok := fs.lookup(resolved)
	if !ok {
		return fail(errno.ENOENT)
	}

	isDir := n.Kind == KindDirectory
	if (mode == ModeDirectory) != isDir {
		return fail(errno.EINVAL)
	}

	fd := fs.handles.Alloc(handle{path: resolved, mode: mode})
	logger.Trace("Opened %s as fd %d (%s)", resolved, fd, mode)
	return errno.Ok(fd)
}

// Read returns a copy of the content behind fd. Directory descriptors read as
// a JSON array of child names.
func (fs *FileSystem) Read(fd int) errno.Result[json.RawMessage] {
	h, ok := fs.handles.Get(fd)
	if !ok {
		return errno.Fail[json.RawMessage](errno.EBADF)
	}
	if !h.mode.CanRead() {
		return errno.Fail[json.RawMessage](errno.EACCES)
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	n, ok := fs.lookup(h.path)
	if !ok {
		return errno.Fail[json.RawMessage](errno.ENOENT)
	}

	if n.Kind == KindDirectory {
		names := n.Children
		if names == nil {
			names = []string{}
		}
		raw, err := json.Marshal(names)
		if err != nil {
			return errno.Fail[json.RawMessage](errno.EIO)
		}
		return errno.Ok(json.RawMessage(raw))
	}
	return errno.Ok(cloneRaw(n.Content))
}

// Write replaces the whole content behind fd with value.
func (fs *FileSystem) Write(fd int, value any) errno.Code {
	h, ok := fs.handles.Get(fd)
	if !ok {
		return errno.EBADF
	}
	if !h.mode.CanWrite() {
		return errno.EACCES
	}

	raw, code := encode(value)
	if code != errno.SUCCESS {
		return code
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, ok := fs.lookup(h.path)
	if !ok {
		return errno.ENOENT
	}
	if n.Kind != KindFile {
		return errno.EINVAL
	}
	n.Content = raw
	n.UpdatedAt = fs.now()
	return errno.SUCCESS
}

// Close releases fd.
func (fs *FileSystem) Close(fd int) errno.Code {
	if _, ok := fs.handles.Free(fd); !ok {
		return errno.EBADF
	}
	return errno.SUCCESS
}

// OpenHandles returns the number of live descriptors.
func (fs *FileSystem) OpenHandles() int {
	return fs.handles.Len()
}

// Readdir lists the directory at p in name order.
func (fs *FileSystem) Readdir(p string) errno.Result[[]DirEntry] {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	resolved, code := fs.locate(p, true)
	if code != errno.SUCCESS {
		return errno.Fail[[]DirEntry](code)
	}
	n, ok := fs.lookup(resolved)
	if !ok {
		return errno.Fail[[]DirEntry](errno.ENOENT)
	}
	if n.Kind != KindDirectory {
		return errno.Fail[[]DirEntry](errno.EINVAL)
	}

	entries := make([]DirEntry, 0, len(n.Children))
	for _, name := range n.Children {
		child, ok := fs.lookup(Join(resolved, name))
		if !ok {
			continue
		}
		entries = append(entries, DirEntry{Name: name, Kind: child.Kind})
	}
	return errno.Ok(entries)
}

// Unlink removes p. Symlinks are removed, not followed. The root and non-empty
// directories cannot be removed.
func (fs *FileSystem) Unlink(p string) errno.Code {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	resolved, code := fs.locate(p, false)
	if code != errno.SUCCESS {
		return code
	}
	if IsRoot(resolved) {
		return errno.EINVAL
	}

	n, ok := fs.lookup(resolved)
	if !ok {
		return errno.ENOENT
	}
	if n.Kind == KindDirectory && len(n.Children) > 0 {
		return errno.EINVAL
	}

	fs.remove(resolved)
	logger.Trace("Unlinked %s", resolved)
	return errno.SUCCESS
}

// Stat describes p, following symlinks.
func (fs *FileSystem) Stat(p string) (Stats, bool) {
	return fs.stat(p, true)
}

// Lstat describes p without following a final symlink.
func (fs *FileSystem) Lstat(p string) (Stats, bool) {
	return fs.stat(p, false)
}

func (fs *FileSystem) stat(p string, follow bool) (Stats, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	resolved, code := fs.locate(p, follow)
	if code != errno.SUCCESS {
		return Stats{}, false
	}
	n, ok := fs.lookup(resolved)
	if !ok {
		return Stats{}, false
	}

	st := Stats{
		Path:      n.Path,
		Kind:      n.Kind,
		Target:    n.Target,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
	switch n.Kind {
	case KindDirectory:
		st.Children = append([]string(nil), n.Children...)
		st.Size = len(n.Children)
	case KindFile:
		st.Size = len(n.Content)
	case KindSymlink:
		st.Size = len(n.Target)
	}
	return st, true
}

// Symlink creates link pointing at target. The target need not exist.
func (fs *FileSystem) Symlink(target, link string) errno.Code {
	if target == "" {
		return errno.EINVAL
	}
	if IsAbs(target) {
		target = NormalizePath(target)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	resolved, code := fs.locate(link, false)
	if code != errno.SUCCESS {
		return code
	}
	if _, ok := fs.lookup(resolved); ok {
		return errno.EEXIST
	}
	parent, ok := fs.lookup(Parent(resolved))
	if !ok || parent.Kind != KindDirectory {
		return errno.ENOENT
	}

	now := fs.now()
	fs.insert(inode{Path: resolved, Kind: KindSymlink, Target: target, CreatedAt: now, UpdatedAt: now})
	return errno.SUCCESS
}

// Readlink returns the stored target of the symlink at p.
func (fs *FileSystem) Readlink(p string) errno.Result[string] {
	st, ok := fs.Lstat(p)
	if !ok {
		return errno.Fail[string](errno.ENOENT)
	}
	if st.Kind != KindSymlink {
		return errno.Fail[string](errno.EINVAL)
	}
	return errno.Ok(st.Target)
}

// Resolve returns the canonical path p refers to after following symlinks.
func (fs *FileSystem) Resolve(p string) errno.Result[string] {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	resolved, code := fs.locate(p, true)
	if code != errno.SUCCESS {
		return errno.Fail[string](code)
	}
	if _, ok := fs.lookup(resolved); !ok {
		return errno.Fail[string](errno.ENOENT)
	}
	return errno.Ok(resolved)
}

// Locate returns the canonical form of p with symlinks followed. Missing
// trailing components are kept, so the result also names paths that do not
// exist yet. The final component is followed only when followLast is set.
func (fs *FileSystem) Locate(p string, followLast bool) errno.Result[string] {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	resolved, code := fs.locate(p, followLast)
	if code != errno.SUCCESS {
		return errno.Fail[string](code)
	}
	return errno.Ok(resolved)
}

// Len returns the number of live inodes.
func (fs *FileSystem) Len() int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return len(fs.index)
}

// encode marshals v into compact JSON. Raw messages are validated and
// compacted rather than re-encoded.
func encode(v any) (json.RawMessage, errno.Code) {
	var raw []byte
	switch t := v.(type) {
	case json.RawMessage:
		raw = t
	case []byte:
		raw = t
	default:
		b, err := json.Marshal(v)
		if err != nil {
			logger.Debug("Content is not serializable: %v", err)
			return nil, errno.EINVAL
		}
		raw = b
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, errno.EINVAL
	}
	return json.RawMessage(buf.Bytes()), errno.SUCCESS
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return json.RawMessage("null")
	}
	return append(json.RawMessage(nil), raw...)
}

func insertSorted(names []string, name string) []string {
	i := sort.SearchStrings(names, name)
	if i < len(names) && names[i] == name {
		return names
	}
	names = append(names, "")
	copy(names[i+1:], names[i:])
	names[i] = name
	return names
}

func removeSorted(names []string, name string) []string {
	i := sort.SearchStrings(names, name)
	if i < len(names) && names[i] == name {
		return append(names[:i], names[i+1:]...)
	}
	return names
}
