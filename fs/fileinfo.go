package fs

import (
	"os"
	"time"
)

var _ os.FileInfo = &FileInfo{}

// FileInfo is what Stat reports for an entry.
type FileInfo struct {
	path    string
	name    string
	size    int64
	dir     bool
	modTime time.Time
}

func (fi *FileInfo) Path() string       { return fi.path }
func (fi *FileInfo) Name() string       { return fi.name }
func (fi *FileInfo) Size() int64        { return fi.size }
func (fi *FileInfo) ModTime() time.Time { return fi.modTime }
func (fi *FileInfo) IsDir() bool        { return fi.dir }
func (fi *FileInfo) Sys() interface{}   { return nil }

// Mode is 0555 for directories and 0444 for files; nothing is writable.
func (fi *FileInfo) Mode() os.FileMode {
	if fi.dir {
		return os.ModeDir | 0555
	}
	return 0444
}
