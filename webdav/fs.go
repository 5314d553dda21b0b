package webdav

import (
	"context"
	"io"
	iofs "io/fs"
	"mime"
	"os"
	"path"
	"strings"

	"golang.org/x/net/webdav"

	"github.com/jkaberg/vodfs/fs"
	"github.com/jkaberg/vodfs/probe"
)

var _ webdav.FileSystem = &FS{}

// Client is how every WebDAV request shows up to the probe classifier:
// remote players are trusted consumers.
var Client = probe.Process{Name: "webdav", Category: probe.Player}

// FS exposes the virtual tree read-only over WebDAV.
type FS struct {
	vfs *fs.VFS
}

func NewFS(v *fs.VFS) *FS {
	return &FS{vfs: v}
}

func normalize(name string) string {
	return path.Clean("/" + strings.TrimPrefix(name, "/"))
}

// pathErr keeps the errno so the webdav handler can tell not-found from
// other failures.
func pathErr(op, name string, err error) error {
	return &os.PathError{Op: op, Path: name, Err: fs.Errno(err)}
}

func (wfs *FS) readOnly(op, name string) error {
	_ = wfs.vfs.Modify(op, name)
	return &os.PathError{Op: op, Path: name, Err: os.ErrPermission}
}

func (wfs *FS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	return wfs.readOnly("mkdir", normalize(name))
}

func (wfs *FS) RemoveAll(ctx context.Context, name string) error {
	return wfs.readOnly("remove", normalize(name))
}

func (wfs *FS) Rename(ctx context.Context, oldName, newName string) error {
	return wfs.readOnly("rename", normalize(oldName))
}

func (wfs *FS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	name = normalize(name)

	fi, err := wfs.vfs.Stat(ctx, name)
	if err != nil {
		return nil, pathErr("stat", name, err)
	}
	return &fileInfo{fi}, nil
}

func (wfs *FS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	name = normalize(name)

	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, wfs.readOnly("open", name)
	}

	fi, err := wfs.vfs.Stat(ctx, name)
	if err != nil {
		return nil, pathErr("open", name, err)
	}

	if fi.IsDir() {
		return &dir{vfs: wfs.vfs, ctx: ctx, fi: fi}, nil
	}

	// PROPFIND opens every listed file just to stat it, so the handle is
	// only opened once the body is needed
	return &file{vfs: wfs.vfs, ctx: ctx, name: name}, nil
}

var videoTypes = map[string]string{
	".mkv":  "video/x-matroska",
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".ts":   "video/mp2t",
	".m2ts": "video/mp2t",
	".avi":  "video/x-msvideo",
	".webm": "video/webm",
	".mov":  "video/quicktime",
}

// fileInfo answers content types from the extension, so PROPFIND never
// reads file heads to sniff them.
type fileInfo struct {
	*fs.FileInfo
}

var _ webdav.ContentTyper = &fileInfo{}

func (fi *fileInfo) ContentType(ctx context.Context) (string, error) {
	if fi.IsDir() {
		return "", webdav.ErrNotImplemented
	}
	ext := strings.ToLower(path.Ext(fi.Name()))
	if ct, ok := videoTypes[ext]; ok {
		return ct, nil
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct, nil
	}
	return "application/octet-stream", nil
}

var _ webdav.File = &dir{}

type dir struct {
	vfs *fs.VFS
	ctx context.Context
	fi  *fs.FileInfo

	listed  bool
	pending []*fs.FileInfo
}

func (d *dir) Close() error {
	return nil
}

func (d *dir) Read(p []byte) (int, error) {
	return 0, pathErr("read", d.fi.Path(), fs.ErrIsDir)
}

func (d *dir) Seek(offset int64, whence int) (int64, error) {
	return 0, nil
}

func (d *dir) Write(p []byte) (int, error) {
	return 0, &os.PathError{Op: "write", Path: d.fi.Path(), Err: os.ErrPermission}
}

func (d *dir) Stat() (os.FileInfo, error) {
	return &fileInfo{d.fi}, nil
}

func (d *dir) Readdir(count int) ([]iofs.FileInfo, error) {
	if !d.listed {
		fis, err := d.vfs.ReadDir(d.ctx, d.fi.Path())
		if err != nil {
			return nil, pathErr("readdir", d.fi.Path(), err)
		}
		d.pending = fis
		d.listed = true
	}

	n := len(d.pending)
	if count > 0 {
		if n == 0 {
			return nil, io.EOF
		}
		n = min(n, count)
	}

	out := make([]iofs.FileInfo, 0, n)
	for _, fi := range d.pending[:n] {
		out = append(out, &fileInfo{fi})
	}
	d.pending = d.pending[n:]

	return out, nil
}

var _ webdav.File = &file{}

type file struct {
	vfs  *fs.VFS
	ctx  context.Context
	name string
	off  int64

	fh     uint64
	opened bool
}

func (f *file) open() error {
	if f.opened {
		return nil
	}

	fh, err := f.vfs.Open(f.ctx, f.name, os.O_RDONLY, Client)
	if err != nil {
		return err
	}
	f.fh = fh
	f.opened = true
	return nil
}

func (f *file) Close() error {
	if !f.opened {
		return nil
	}
	f.opened = false
	return f.vfs.Release(f.fh)
}

func (f *file) Read(p []byte) (int, error) {
	if err := f.open(); err != nil {
		return 0, pathErr("read", f.name, err)
	}

	n, err := f.vfs.Read(f.ctx, f.fh, p, f.off, Client)
	if err != nil {
		return 0, pathErr("read", f.name, err)
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	f.off += int64(n)
	return n, nil
}

func (f *file) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += f.off
	case io.SeekEnd:
		// range requests are answered from the real size
		if err := f.open(); err != nil {
			return 0, pathErr("seek", f.name, err)
		}
		size, err := f.vfs.Size(f.ctx, f.fh)
		if err != nil {
			return 0, pathErr("seek", f.name, err)
		}
		offset += size
	default:
		return 0, &os.PathError{Op: "seek", Path: f.name, Err: os.ErrInvalid}
	}

	if offset < 0 {
		return 0, &os.PathError{Op: "seek", Path: f.name, Err: os.ErrInvalid}
	}
	f.off = offset
	return offset, nil
}

func (f *file) Write(p []byte) (int, error) {
	return 0, &os.PathError{Op: "write", Path: f.name, Err: os.ErrPermission}
}

func (f *file) Readdir(count int) ([]iofs.FileInfo, error) {
	return nil, pathErr("readdir", f.name, fs.ErrNotDir)
}

// Stat never sizes the file upstream: unread files report the provisional
// size like they do over FUSE.
func (f *file) Stat() (os.FileInfo, error) {
	fi, err := f.vfs.Stat(f.ctx, f.name)
	if err != nil {
		return nil, pathErr("stat", f.name, err)
	}
	return &fileInfo{fi}, nil
}
