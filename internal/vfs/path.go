package vfs

import (
	"path"
	"strings"

	"charfs/internal/logging"
)

var (
	pathLogger = logging.GetLogger().WithPrefix("path")
)

// Root is the root of the namespace.
const Root = "/"

// NormalizePath cleans p lexically: repeated separators collapse, "." and ".."
// are resolved, and a trailing separator is dropped except for the root.
// Nothing is checked for existence. Relative paths stay relative.
func NormalizePath(p string) string {
	if p == "" {
		return ""
	}
	cleaned := path.Clean(p)
	pathLogger.Trace("Normalized path: %q -> %q", p, cleaned)
	return cleaned
}

// IsAbs reports whether p is an absolute path.
func IsAbs(p string) bool {
	return strings.HasPrefix(p, "/")
}

// Split returns the segments of a normalized absolute path. The root has no
// segments.
func Split(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// Join joins segments onto base and normalizes the result.
func Join(base string, elems ...string) string {
	return path.Join(append([]string{base}, elems...)...)
}

// Parent returns the parent directory of a normalized absolute path. The
// parent of the root is the root.
func Parent(p string) string {
	return path.Dir(p)
}

// Base returns the last element of the path
func Base(p string) string {
	return path.Base(p)
}

// IsRoot reports whether p is the root path "/".
func IsRoot(p string) bool {
	return p == Root
}

// HasPrefix reports whether p equals prefix or lies below it, matching whole
// segments only: "/dev/x/y" is under "/dev/x" but "/dev/xy" is not.
func HasPrefix(p, prefix string) bool {
	if prefix == Root {
		return IsAbs(p)
	}
	if !strings.HasPrefix(p, prefix) {
		return false
	}
	return len(p) == len(prefix) || p[len(prefix)] == '/'
}

// Rel returns p relative to prefix ("" when equal). p must satisfy HasPrefix.
func Rel(p, prefix string) string {
	if prefix == Root {
		return strings.TrimPrefix(p, "/")
	}
	return strings.TrimPrefix(strings.TrimPrefix(p, prefix), "/")
}
