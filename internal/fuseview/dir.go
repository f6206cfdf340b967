package fuseview

import (
	"context"
	"os"
	"syscall"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"charfs/internal/errno"
	"charfs/internal/logging"
	"charfs/internal/vfs"
)

var (
	dirLogger = logging.GetLogger().WithPrefix("dir")
)

// Dir is a kernel directory, including mount prefixes.
type Dir struct {
	view *View
	path string
}

// Attr implements the Node interface, returning directory attributes.
func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	dirLogger.Trace("Getting attributes for directory: %q", d.path)

	st, ok := d.view.sys.Stat(ctx, d.path)
	if !ok {
		return fromCode(errno.ENOENT, OpGetattr, d.path)
	}
	a.Mode = os.ModeDir | 0755
	a.Uid = d.view.uid
	a.Gid = d.view.gid
	a.Mtime = st.UpdatedAt
	a.Ctime = st.CreatedAt
	a.Atime = st.UpdatedAt
	return nil
}

// Lookup implements the NodeStringLookuper interface, finding a child node.
func (d *Dir) Lookup(ctx context.Context, name string) (fusefs.Node, error) {
	dirLogger.Debug("Looking up %q in directory %q", name, d.path)
	return d.view.node(ctx, vfs.Join(d.path, name))
}

// ReadDirAll implements the HandleReadDirAller interface, listing directory contents.
func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	dirLogger.Debug("Reading directory contents: %q", d.path)

	r := d.view.sys.Readdir(ctx, d.path)
	if !r.OK() {
		return nil, fromCode(r.Code, OpReadDir, d.path)
	}

	entries := make([]fuse.Dirent, 0, len(r.Value)+2)
	entries = append(entries, fuse.Dirent{Name: ".", Type: fuse.DT_Dir})
	entries = append(entries, fuse.Dirent{Name: "..", Type: fuse.DT_Dir})
	for _, e := range r.Value {
		typ := fuse.DT_File
		switch e.Kind {
		case vfs.KindDirectory:
			typ = fuse.DT_Dir
		case vfs.KindSymlink:
			typ = fuse.DT_Link
		}
		entries = append(entries, fuse.Dirent{Name: e.Name, Type: typ})
	}

	dirLogger.Debug("Directory %q contains %d entries", d.path, len(entries))
	return entries, nil
}

// Mkdir implements the NodeMkdirer interface, creating a kernel directory.
func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	newPath := vfs.Join(d.path, req.Name)
	dirLogger.Info("Creating directory %q", newPath)

	if code := d.view.sys.Mkdir(ctx, newPath, false); code != errno.SUCCESS {
		dirLogger.Warn("Mkdir %q failed: %s", newPath, code)
		return nil, fromCode(code, OpMkdir, newPath)
	}
	return &Dir{view: d.view, path: newPath}, nil
}

// Remove implements the NodeRemover interface, unlinking a file or an empty
// directory.
func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	childPath := vfs.Join(d.path, req.Name)
	dirLogger.Info("Removing %q (isDir=%v)", childPath, req.Dir)

	if req.Dir {
		r := d.view.sys.Readdir(ctx, childPath)
		if !r.OK() {
			return fromCode(r.Code, OpRemove, childPath)
		}
		if len(r.Value) > 0 {
			dirLogger.Warn("Directory not empty: %q", childPath)
			return syscall.ENOTEMPTY
		}
	}

	if code := d.view.sys.Unlink(ctx, childPath); code != errno.SUCCESS {
		dirLogger.Warn("Unlink %q failed: %s", childPath, code)
		return fromCode(code, OpRemove, childPath)
	}
	return nil
}
