package vfs

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/zeebo/blake3"

	"charfs/internal/fdtable"
	"charfs/internal/storage"
)

// SnapshotKey is the storage key holding the serialized inode table.
const SnapshotKey = "charfs/inodes"

const snapshotVersion = 1

var (
	ErrNotMounted     = errors.New("vfs: not mounted")
	ErrAlreadyMounted = errors.New("vfs: already mounted")
)

type snapshot struct {
	Version  int             `json:"version"`
	Checksum string          `json:"checksum"`
	Inodes   json.RawMessage `json:"inodes"`
}

// Diagnostic reports how the last Mount obtained its inode table.
type Diagnostic struct {
	Fresh     bool   // nothing was stored
	Recovered bool   // stored data was unusable and a fresh tree was built
	Cause     string // why recovery happened
	Inodes    int
}

// Mount rehydrates the inode table from adapter. Missing data yields a fresh
// tree. Corrupt or inconsistent data also yields a fresh tree and a
// Diagnostic describing what was wrong; only adapter failures are errors.
func (fs *FileSystem) Mount(ctx context.Context, adapter storage.Adapter) (Diagnostic, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.mounted {
		return Diagnostic{}, ErrAlreadyMounted
	}

	var diag Diagnostic
	data, err := adapter.Get(ctx, SnapshotKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		fs.reset()
		diag.Fresh = true
	case err != nil:
		return Diagnostic{}, fmt.Errorf("failed to load filesystem snapshot: %w", err)
	default:
		nodes, err := decodeSnapshot(data)
		if err != nil {
			fs.reset()
			diag.Recovered = true
			diag.Cause = err.Error()
			logger.Warn("Filesystem snapshot unusable, starting fresh: %v", err)
		} else {
			fs.install(nodes)
		}
	}

	fs.handles = fdtable.New[handle](FirstFD)
	fs.adapter = adapter
	fs.mounted = true
	diag.Inodes = len(fs.index)
	fs.diag = diag

	logger.Info("Mounted filesystem with %d inodes", diag.Inodes)
	return diag, nil
}

// Sync writes the inode table to the adapter without unmounting.
func (fs *FileSystem) Sync(ctx context.Context) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if !fs.mounted {
		return ErrNotMounted
	}
	return fs.persist(ctx)
}

// Unmount writes the inode table and detaches the adapter.
func (fs *FileSystem) Unmount(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !fs.mounted {
		return ErrNotMounted
	}
	if err := fs.persist(ctx); err != nil {
		return err
	}
	fs.adapter = nil
	fs.mounted = false
	logger.Info("Unmounted filesystem")
	return nil
}

// Mounted reports whether a storage adapter is attached.
func (fs *FileSystem) Mounted() bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.mounted
}

// LastDiagnostic returns the diagnostic of the most recent Mount.
func (fs *FileSystem) LastDiagnostic() Diagnostic {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.diag
}

func (fs *FileSystem) persist(ctx context.Context) error {
	data, err := fs.encodeSnapshot()
	if err != nil {
		return err
	}
	if err := fs.adapter.Set(ctx, SnapshotKey, data); err != nil {
		return fmt.Errorf("failed to store filesystem snapshot: %w", err)
	}
	logger.Debug("Persisted %d inodes (%d bytes)", len(fs.index), len(data))
	return nil
}

func (fs *FileSystem) encodeSnapshot() ([]byte, error) {
	nodes := make([]inode, 0, len(fs.index))
	for _, n := range fs.inodes {
		if n.live {
			nodes = append(nodes, n)
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Path < nodes[j].Path })

	payload, err := json.Marshal(nodes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode inodes: %w", err)
	}
	return json.Marshal(snapshot{
		Version:  snapshotVersion,
		Checksum: checksum(payload),
		Inodes:   payload,
	})
}

// install replaces the arena with nodes. Callers hold mu.
func (fs *FileSystem) install(nodes []inode) {
	fs.inodes = make([]inode, len(nodes))
	fs.index = make(map[string]int, len(nodes))
	fs.free = fs.free[:0]
	for i, n := range nodes {
		n.live = true
		fs.inodes[i] = n
		fs.index[n.Path] = i
	}
}

func decodeSnapshot(data []byte) ([]inode, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unparseable snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	if sum := checksum(snap.Inodes); sum != snap.Checksum {
		return nil, fmt.Errorf("checksum mismatch: stored %q, computed %q", snap.Checksum, sum)
	}

	var nodes []inode
	if err := json.Unmarshal(snap.Inodes, &nodes); err != nil {
		return nil, fmt.Errorf("unparseable inode table: %w", err)
	}
	if err := validate(nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// validate checks that nodes form a single tree rooted at "/".
func validate(nodes []inode) error {
	byPath := make(map[string]*inode, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		if !IsAbs(n.Path) || NormalizePath(n.Path) != n.Path {
			return fmt.Errorf("invalid inode path %q", n.Path)
		}
		if _, dup := byPath[n.Path]; dup {
			return fmt.Errorf("duplicate inode %q", n.Path)
		}
		byPath[n.Path] = n
	}

	root, ok := byPath[Root]
	if !ok || root.Kind != KindDirectory {
		return errors.New("missing root directory")
	}

	for p, n := range byPath {
		if p != Root {
			parent, ok := byPath[Parent(p)]
			if !ok || parent.Kind != KindDirectory {
				return fmt.Errorf("inode %q has no parent directory", p)
			}
			i := sort.SearchStrings(parent.Children, Base(p))
			if i >= len(parent.Children) || parent.Children[i] != Base(p) {
				return fmt.Errorf("inode %q is not listed by its parent", p)
			}
		}
		if n.Kind == KindDirectory {
			if !sort.StringsAreSorted(n.Children) {
				return fmt.Errorf("children of %q are not ordered", p)
			}
			for _, name := range n.Children {
				if _, ok := byPath[Join(p, name)]; !ok {
					return fmt.Errorf("directory %q lists missing child %q", p, name)
				}
			}
		}
	}
	return nil
}

func checksum(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}
