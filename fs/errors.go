package fs

import (
	"errors"
	"io/fs"
	"syscall"

	"github.com/jkaberg/vodfs/catalog"
)

var (
	ErrIsDir     = errors.New("is a directory")
	ErrNotDir    = errors.New("not a directory")
	ErrReadOnly  = errors.New("read-only filesystem")
	ErrBadHandle = errors.New("bad file handle")
)

// Errno maps an error of this package or its dependencies to the errno a
// filesystem call should fail with. A nil error maps to 0.
func Errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, ErrIsDir):
		return syscall.EISDIR
	case errors.Is(err, ErrNotDir), errors.Is(err, catalog.ErrNotDir):
		return syscall.ENOTDIR
	case errors.Is(err, ErrReadOnly):
		return syscall.EROFS
	case errors.Is(err, ErrBadHandle):
		return syscall.EBADF
	}
	// backend.ErrUpstreamUnavailable and anything unexpected
	return syscall.EIO
}
