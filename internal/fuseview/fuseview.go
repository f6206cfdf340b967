package fuseview

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"charfs/internal/capability"
	"charfs/internal/errno"
	"charfs/internal/logging"
	"charfs/internal/vfs"
)

var (
	viewLogger = logging.GetLogger().WithPrefix("fuseview")
)

// View serves the kernel namespace over FUSE. Directories list through
// Readdir, files and device paths read as indented JSON, and mkdir and rm
// map to kernel syscalls. Writes are refused.
type View struct {
	sys  capability.Syscalls
	conn *fuse.Conn
	uid  uint32
	gid  uint32
}

// NewView creates a view of sys. PUID and PGID in the environment override
// the owner reported for every node.
func NewView(sys capability.Syscalls) *View {
	uid := safeIntToUint32(os.Getuid())
	gid := safeIntToUint32(os.Getgid())

	if puidStr := os.Getenv("PUID"); puidStr != "" {
		if puid, err := strconv.ParseUint(puidStr, 10, 32); err == nil {
			uid = uint32(puid)
			viewLogger.Debug("Using PUID from environment: %d", uid)
		}
	}
	if pgidStr := os.Getenv("PGID"); pgidStr != "" {
		if pgid, err := strconv.ParseUint(pgidStr, 10, 32); err == nil {
			gid = uint32(pgid)
			viewLogger.Debug("Using PGID from environment: %d", gid)
		}
	}

	return &View{sys: sys, uid: uid, gid: gid}
}

// Root implements the fusefs.FS interface, returning the root directory node.
func (v *View) Root() (fusefs.Node, error) {
	viewLogger.Trace("Getting root directory node")
	return &Dir{view: v, path: vfs.Root}, nil
}

// node returns the view node for path.
func (v *View) node(ctx context.Context, path string) (fusefs.Node, error) {
	st, ok := v.sys.Stat(ctx, path)
	if !ok {
		return nil, fromCode(errno.ENOENT, OpLookup, path)
	}
	if st.Kind == vfs.KindDirectory {
		return &Dir{view: v, path: path}, nil
	}
	return &File{view: v, path: path, kind: st.Kind, modified: st.UpdatedAt}, nil
}

func (v *View) render(ctx context.Context, path string) ([]byte, error) {
	return Render(ctx, v.sys, path)
}

// Render reads path through a kernel descriptor and formats the value as
// indented JSON with a trailing newline.
func Render(ctx context.Context, sys capability.Syscalls, path string) ([]byte, error) {
	fd := sys.Open(ctx, path, vfs.ModeRead)
	if !fd.OK() {
		return nil, fd.Code.Err(OpOpen, path)
	}
	defer sys.Close(ctx, fd.Value)

	r := sys.Read(ctx, fd.Value)
	if !r.OK() {
		return nil, r.Code.Err(OpRead, path)
	}

	var buf bytes.Buffer
	if raw, ok := r.Value.(json.RawMessage); ok {
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return nil, fmt.Errorf("failed to format %s: %w", path, err)
		}
	} else {
		data, err := json.MarshalIndent(r.Value, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", path, err)
		}
		buf.Write(data)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func waitForMount(mountpoint string) error {
	for i := 0; i < 30; i++ {
		info, err := os.Stat(mountpoint)
		if err == nil && info.IsDir() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("mount point not available after 3 seconds")
}

// Mount mounts the view at mountPoint and serves it in the background. The
// returned channel is closed when serving stops.
func (v *View) Mount(mountPoint string, allowOther bool) (<-chan struct{}, error) {
	viewLogger.Info("Mounting kernel view")
	viewLogger.Debug("Mount point: %s", mountPoint)
	viewLogger.Debug("UID: %d, GID: %d", v.uid, v.gid)

	mountOpts := []fuse.MountOption{
		fuse.FSName("charfs"),
		fuse.Subtype("charfs"),
		fuse.DefaultPermissions(),
	}
	if allowOther {
		mountOpts = append(mountOpts, fuse.AllowOther())
	}

	c, err := fuse.Mount(mountPoint, mountOpts...)
	if err != nil {
		return nil, fmt.Errorf("mount failed: %w", err)
	}
	v.conn = c

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := fusefs.Serve(c, v); err != nil {
			viewLogger.Error("FUSE server error: %v", err)
		}
		viewLogger.Debug("FUSE server stopped")
	}()

	if err := waitForMount(mountPoint); err != nil {
		c.Close()
		viewLogger.Error("Mount point not ready: %v", err)
		return nil, fmt.Errorf("mount point failed to initialize: %w", err)
	}

	viewLogger.Info("Kernel view mounted at %s", mountPoint)
	return done, nil
}

// Unmount cleanly unmounts the view.
func (v *View) Unmount(mountPoint string) error {
	viewLogger.Info("Unmounting view from: %s", mountPoint)
	if v.conn == nil {
		return nil
	}
	if err := fuse.Unmount(mountPoint); err != nil {
		viewLogger.Error("Unmount failed: %v", err)
		return err
	}
	viewLogger.Info("Unmount completed successfully")
	return v.conn.Close()
}
