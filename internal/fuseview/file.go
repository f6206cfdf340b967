package fuseview

import (
	"context"
	"os"
	"sync"
	"time"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"charfs/internal/logging"
	"charfs/internal/vfs"
)

var (
	fileLogger = logging.GetLogger().WithPrefix("file")
)

// File is a plain kernel file or a device path. Its content is the JSON
// rendering of what a kernel read returns.
type File struct {
	view     *View
	path     string
	kind     vfs.Kind
	modified time.Time
}

// Attr implements the Node interface. Device values are computed on read,
// so the size is that of a fresh rendering.
func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	fileLogger.Trace("Getting attributes for %s: %q", f.kind, f.path)

	data, err := f.view.render(ctx, f.path)
	if err != nil {
		fileLogger.Debug("Cannot render %q: %v", f.path, err)
		return ToFuseError(err)
	}

	a.Mode = 0644
	if f.kind == vfs.KindDevice {
		a.Mode = 0444
	}
	a.Size = safeIntToUint64(len(data))
	a.Mtime = f.modified
	a.Atime = f.modified
	a.Ctime = f.modified
	a.Uid = f.view.uid
	a.Gid = f.view.gid
	a.BlockSize = 4096
	a.Blocks = safeIntToUint64((len(data) + 511) / 512)
	return nil
}

// Open implements the NodeOpener interface. The handle holds a snapshot of
// the content taken at open time.
func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	flags := int(req.Flags)
	fileLogger.Debug("Opening %q with flags %v", f.path, flags)

	if flags&os.O_WRONLY != 0 || flags&os.O_RDWR != 0 {
		fileLogger.Warn("Attempted write access to %q", f.path)
		return nil, ToFuseError(ErrReadOnly)
	}

	data, err := f.view.render(ctx, f.path)
	if err != nil {
		fileLogger.Error("Failed to open %q: %v", f.path, err)
		return nil, ToFuseError(err)
	}

	// Content length changes between reads of a device.
	resp.Flags |= fuse.OpenDirectIO

	return &FileHandle{data: data, path: f.path}, nil
}

// FileHandle is an open snapshot of a file's rendering.
type FileHandle struct {
	data []byte
	path string // For logging purposes
	mu   sync.RWMutex
}

// Read implements the HandleReader interface, reading data from the snapshot.
func (fh *FileHandle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	fh.mu.RLock()
	defer fh.mu.RUnlock()

	fileLogger.Trace("Reading %d bytes from %q at offset %d", req.Size, fh.path, req.Offset)

	if req.Offset >= int64(len(fh.data)) {
		resp.Data = nil
		return nil
	}
	end := req.Offset + int64(req.Size)
	if end > int64(len(fh.data)) {
		end = int64(len(fh.data))
	}
	resp.Data = fh.data[req.Offset:end]
	return nil
}

// Release implements the HandleReleaser interface, dropping the snapshot.
func (fh *FileHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	fileLogger.Debug("Closing %q", fh.path)
	fh.data = nil
	return nil
}
