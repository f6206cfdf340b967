package vfs

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies what an inode holds.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
	KindSymlink
	// KindDevice never appears in the inode table; the kernel reports it for
	// paths served by a mounted capability.
	KindDevice
)

var kindNames = []string{"file", "directory", "symlink", "device"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if k < 0 || int(k) >= len(kindNames) {
		return nil, fmt.Errorf("invalid kind %d", int(k))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	for i, name := range kindNames {
		if name == string(b) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("invalid kind %q", string(b))
}

// Mode is the access mode a descriptor was opened with.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
	ModeReadWrite
	ModeDirectory
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	case ModeReadWrite:
		return "readwrite"
	case ModeDirectory:
		return "directory"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// CanRead reports whether reads are permitted on a descriptor with this mode.
func (m Mode) CanRead() bool {
	return m == ModeRead || m == ModeReadWrite || m == ModeDirectory
}

// CanWrite reports whether writes are permitted on a descriptor with this mode.
func (m Mode) CanWrite() bool {
	return m == ModeWrite || m == ModeReadWrite
}

// Valid reports whether m is one of the defined modes.
func (m Mode) Valid() bool {
	return m >= ModeRead && m <= ModeDirectory
}

// inode is one entry of the arena. Fields are exported for the snapshot codec
// only; the type never leaves the package.
type inode struct {
	Path      string          `json:"path"`
	Kind      Kind            `json:"kind"`
	Content   json.RawMessage `json:"content,omitempty"`
	Children  []string        `json:"children,omitempty"`
	Target    string          `json:"target,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`

	live bool
}

// Stats is a copy of an inode's metadata.
type Stats struct {
	Path      string
	Kind      Kind
	Size      int // content bytes for files, entry count for directories
	Children  []string
	Target    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsDir reports whether the stats describe a directory.
func (s Stats) IsDir() bool {
	return s.Kind == KindDirectory
}

// DirEntry is one element returned by Readdir.
type DirEntry struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

type handle struct {
	path string
	mode Mode
}

// StandardDirs are created on a fresh filesystem.
var StandardDirs = []string{"/dev", "/proc", "/entity", "/etc", "/var", "/tmp", "/bin"}

// maxSymlinkHops bounds symlink resolution; longer chains are treated as loops.
const maxSymlinkHops = 8
