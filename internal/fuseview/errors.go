// Package fuseview exports the kernel namespace through FUSE.
//
// This file contains error translation between kernel codes and the errno
// values FUSE expects.
package fuseview

import (
	"errors"
	"os"
	"syscall"

	"charfs/internal/errno"
	"charfs/internal/logging"
)

var (
	errLogger = logging.GetLogger().WithPrefix("error")

	// ErrReadOnly indicates an attempt to write through the view
	ErrReadOnly = errors.New("view is read-only")
)

// fuseCodes maps kernel codes to the FUSE errno values.
var fuseCodes = map[errno.Code]syscall.Errno{
	errno.ENOENT: syscall.ENOENT,
	errno.EIO:    syscall.EIO,
	errno.EBADF:  syscall.EBADF,
	errno.EACCES: syscall.EACCES,
	errno.EEXIST: syscall.EEXIST,
	errno.ENODEV: syscall.ENODEV,
	errno.EINVAL: syscall.EINVAL,
}

// Common operation names for consistent logging and error reporting
const (
	OpLookup  = "lookup"  // Looking up a path
	OpReadDir = "readdir" // Reading directory contents
	OpOpen    = "open"    // Opening a file
	OpRead    = "read"    // Reading from a file
	OpMkdir   = "mkdir"   // Creating a new directory
	OpRemove  = "remove"  // Removing a file or directory
	OpGetattr = "getattr" // Getting file attributes
)

// ToFuseError converts an error to the appropriate FUSE error code. Kernel
// errors keep their code; writes through the view are EPERM.
func ToFuseError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrReadOnly) {
		return syscall.EPERM
	}

	var kerr *errno.Error
	if errors.As(err, &kerr) {
		errLogger.Trace("Converting kernel error to FUSE error: %v", kerr)
		if e, ok := fuseCodes[kerr.Code]; ok {
			return e
		}
		errLogger.Debug("Unknown kernel code, returning EIO: %v", kerr)
		return syscall.EIO
	}

	errLogger.Trace("Converting standard error to FUSE error: %v", err)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, os.ErrPermission):
		return syscall.EACCES
	default:
		errLogger.Debug("Unknown error type, returning EIO: %v", err)
		return syscall.EIO
	}
}

// fromCode is ToFuseError for a bare kernel code.
func fromCode(code errno.Code, op, path string) error {
	return ToFuseError(code.Err(op, path))
}
