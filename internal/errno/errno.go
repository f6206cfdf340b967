// Package errno defines the closed set of error codes returned across the
// kernel boundary, the tagged result type carried by syscalls, and an error
// wrapper for Go callers sitting above the kernel.
package errno

import (
	"errors"
	"fmt"
)

// Code is a POSIX-flavoured error number. SUCCESS is zero.
type Code int

const (
	SUCCESS Code = 0
	ENOENT  Code = 2
	EIO     Code = 5
	EBADF   Code = 9
	EACCES  Code = 13
	EEXIST  Code = 17
	ENODEV  Code = 19
	EINVAL  Code = 22
)

var codeNames = map[Code]string{
	SUCCESS: "SUCCESS",
	ENOENT:  "ENOENT",
	EIO:     "EIO",
	EBADF:   "EBADF",
	EACCES:  "EACCES",
	EEXIST:  "EEXIST",
	ENODEV:  "ENODEV",
	EINVAL:  "EINVAL",
}

var codeMessages = map[Code]string{
	SUCCESS: "success",
	ENOENT:  "no such file or directory",
	EIO:     "input/output error",
	EBADF:   "bad file descriptor",
	EACCES:  "permission denied",
	EEXIST:  "file exists",
	ENODEV:  "no such device",
	EINVAL:  "invalid argument",
}

// Codes lists every defined code.
func Codes() []Code {
	return []Code{SUCCESS, ENOENT, EIO, EBADF, EACCES, EEXIST, ENODEV, EINVAL}
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("errno(%d)", int(c))
}

// Message returns the human readable description of the code.
func (c Code) Message() string {
	if msg, ok := codeMessages[c]; ok {
		return msg
	}
	return fmt.Sprintf("error code %d", int(c))
}

// OK reports whether c is SUCCESS.
func (c Code) OK() bool {
	return c == SUCCESS
}

// Valid reports whether c belongs to the closed set.
func (c Code) Valid() bool {
	_, ok := codeNames[c]
	return ok
}

// Err converts c into a Go error for the given operation and path. SUCCESS
// converts to nil.
func (c Code) Err(op, path string) error {
	if c == SUCCESS {
		return nil
	}
	return &Error{Op: op, Path: path, Code: c}
}

// Error wraps a code with context about the operation and affected path.
type Error struct {
	Op   string // Operation that failed (e.g., "open", "ioctl")
	Path string // Affected path, may be empty
	Code Code
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Code.Message(), e.Code)
	}
	return fmt.Sprintf("%s %s: %s (%s)", e.Op, e.Path, e.Code.Message(), e.Code)
}

// Is matches any *Error in target's chain carrying the same code, such as
// the sentinels below. Op and Path are ignored.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// Sentinels usable with errors.Is.
var (
	ErrNotExist = &Error{Code: ENOENT}
	ErrIO       = &Error{Code: EIO}
	ErrBadFD    = &Error{Code: EBADF}
	ErrAccess   = &Error{Code: EACCES}
	ErrExist    = &Error{Code: EEXIST}
	ErrNoDevice = &Error{Code: ENODEV}
	ErrInvalid  = &Error{Code: EINVAL}
)

// CodeOf extracts the code from err. nil maps to SUCCESS and foreign errors to EIO.
func CodeOf(err error) Code {
	if err == nil {
		return SUCCESS
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return EIO
}
