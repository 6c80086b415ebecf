// Package fs serves a guest kernel's mounted tree over FUSE.
//
// This file contains error types and error handling utilities.
package fs

import (
	"errors"
	"fmt"

	"sandfs/internal/logging"

	"bazil.org/fuse"
	"golang.org/x/sys/unix"
)

var (
	errLogger = logging.GetLogger().WithPrefix("error")
)

// Error wraps a guest error with the operation and path that produced it.
type Error struct {
	Op   string // Operation that failed (e.g., "lookup", "readdir")
	Path string // Affected path
	Err  error  // Underlying error
}

// Error implements the error interface, providing a formatted error message
func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("operation %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("operation %s on %s failed: %v", e.Op, e.Path, e.Err)
}

// Unwrap implements error unwrapping for the errors.Is/As functions
func (e *Error) Unwrap() error {
	return e.Err
}

// NewFSError creates a new Error with the given operation, path, and underlying error
func NewFSError(op string, path string, err error) *Error {
	return &Error{
		Op:   op,
		Path: path,
		Err:  err,
	}
}

// ToFuseError converts an error into the errno FUSE replies with. Guest
// errors pass through unchanged; anything else becomes EIO.
func ToFuseError(err error) error {
	if err == nil {
		return nil
	}
	errLogger.Trace("%v", err)

	var errno unix.Errno
	if errors.As(err, &errno) {
		return fuse.Errno(errno)
	}
	errLogger.Debug("Non-errno error, returning EIO: %v", err)
	return fuse.Errno(unix.EIO)
}

// fail wraps err for op on path and converts it for FUSE.
func fail(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return ToFuseError(NewFSError(op, path, err))
}

// Common operation names for consistent logging and error reporting
const (
	OpLookup   = "lookup"   // Looking up a path
	OpGetattr  = "getattr"  // Getting file attributes
	OpSetattr  = "setattr"  // Setting file attributes
	OpReadDir  = "readdir"  // Reading directory contents
	OpOpen     = "open"     // Opening a file or directory
	OpCreate   = "create"   // Creating and opening a file
	OpRead     = "read"     // Reading from a file
	OpWrite    = "write"    // Writing to a file
	OpRelease  = "release"  // Closing a handle
	OpMkdir    = "mkdir"    // Creating a new directory
	OpMknod    = "mknod"    // Creating a file node
	OpRemove   = "remove"   // Removing a file or directory
	OpRename   = "rename"   // Renaming/moving a file or directory
	OpLink     = "link"     // Creating a hard link
	OpSymlink  = "symlink"  // Creating a symbolic link
	OpReadlink = "readlink" // Reading a symbolic link
	OpAccess   = "access"   // Checking access permissions
	OpFsync    = "fsync"    // Flushing to the device
	OpStatfs   = "statfs"   // Getting filesystem status
	OpXattr    = "xattr"    // Extended attribute access
)
