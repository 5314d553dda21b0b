package fuse

import (
	"context"
	"os"

	"github.com/billziss-gh/cgofuse/fuse"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jkaberg/vodfs/fs"
	"github.com/jkaberg/vodfs/probe"
)

var (
	_ fuse.FileSystemInterface = &FS{}
	_ fuse.FileSystemOpenEx    = &FS{}
)

// FS adapts fs.VFS to cgofuse. Every mutating call fails with EROFS.
type FS struct {
	fuse.FileSystemBase

	vfs   *fs.VFS
	procs probe.Resolver

	ctx    context.Context
	cancel context.CancelFunc

	uid, gid uint32
	log      zerolog.Logger
}

func NewFS(v *fs.VFS, procs probe.Resolver) *FS {
	ctx, cancel := context.WithCancel(context.Background())
	return &FS{
		vfs:    v,
		procs:  procs,
		ctx:    ctx,
		cancel: cancel,
		uid:    uint32(os.Getuid()),
		gid:    uint32(os.Getgid()),
		log:    log.Logger.With().Str("component", "fuse").Logger(),
	}
}

func errc(err error) int {
	return -int(fs.Errno(err))
}

// caller resolves the process behind the current FUSE request.
func (f *FS) caller() probe.Process {
	_, _, pid := fuse.Getcontext()
	if pid <= 0 {
		return probe.Process{}
	}
	return f.procs.Resolve(pid)
}

func (f *FS) Init() {
	f.log.Info().Msg("filesystem initialized")
}

func (f *FS) Destroy() {
	f.log.Info().Msg("filesystem destroyed")
	f.cancel()
	f.vfs.Close()
}

func (f *FS) Statfs(path string, stat *fuse.Statfs_t) int {
	stat.Bsize = 4096
	stat.Frsize = 4096
	stat.Namemax = 255
	return 0
}

func (f *FS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	fi, err := f.vfs.Stat(f.ctx, path)
	if err != nil {
		return errc(err)
	}

	f.fill(fi, stat)
	return 0
}

func (f *FS) fill(fi *fs.FileInfo, stat *fuse.Stat_t) {
	if fi.IsDir() {
		stat.Mode = fuse.S_IFDIR | 0555
		stat.Nlink = 2
	} else {
		stat.Mode = fuse.S_IFREG | 0444
		stat.Nlink = 1
		stat.Size = fi.Size()
	}

	mt := fuse.NewTimespec(fi.ModTime())
	stat.Mtim = mt
	stat.Ctim = mt
	stat.Atim = mt
	stat.Birthtim = mt

	stat.Uid = f.uid
	stat.Gid = f.gid
}

func (f *FS) Access(path string, mask uint32) int {
	// W_OK
	if mask&2 != 0 {
		return -fuse.EROFS
	}
	if _, err := f.vfs.Stat(f.ctx, path); err != nil {
		return errc(err)
	}
	return 0
}

func (f *FS) Opendir(path string) (int, uint64) {
	fi, err := f.vfs.Stat(f.ctx, path)
	if err != nil {
		return errc(err), ^uint64(0)
	}
	if !fi.IsDir() {
		return -fuse.ENOTDIR, ^uint64(0)
	}
	return 0, 0
}

func (f *FS) Readdir(path string,
	fill func(name string, stat *fuse.Stat_t, ofst int64) bool,
	ofst int64,
	fh uint64) int {
	fis, err := f.vfs.ReadDir(f.ctx, path)
	if err != nil {
		f.log.Warn().Err(err).Str("path", path).Msg("error listing directory")
		return errc(err)
	}

	fill(".", nil, 0)
	fill("..", nil, 0)

	for _, fi := range fis {
		var st fuse.Stat_t
		f.fill(fi, &st)
		if !fill(fi.Name(), &st, 0) {
			break
		}
	}

	return 0
}

func (f *FS) Open(path string, flags int) (int, uint64) {
	fh, err := f.vfs.Open(f.ctx, path, flags, f.caller())
	if err != nil {
		return errc(err), ^uint64(0)
	}
	return 0, fh
}

// OpenEx is preferred by cgofuse over Open and lets the handle pick its
// caching mode.
func (f *FS) OpenEx(path string, fi *fuse.FileInfo_t) int {
	proc := f.caller()

	fh, err := f.vfs.Open(f.ctx, path, fi.Flags, proc)
	if err != nil {
		fi.Fh = ^uint64(0)
		return errc(err)
	}

	fi.Fh = fh
	cacheMode(fi, proc)
	return 0
}

// cacheMode keeps reads of untrusted processes out of the page cache: they
// may be answered with zeros that a later player must never see.
func cacheMode(fi *fuse.FileInfo_t, proc probe.Process) {
	fi.KeepCache = false
	fi.DirectIo = !proc.Category.Trusted()
}

func (f *FS) CreateEx(path string, mode uint32, fi *fuse.FileInfo_t) int {
	fi.Fh = ^uint64(0)
	return errc(f.vfs.Modify("create", path))
}

func (f *FS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	n, err := f.vfs.Read(f.ctx, fh, buff, ofst, f.caller())
	if err != nil {
		return errc(err)
	}
	return n
}

func (f *FS) Release(path string, fh uint64) int {
	return errc(f.vfs.Release(fh))
}

func (f *FS) Releasedir(path string, fh uint64) int {
	return 0
}

func (f *FS) Create(path string, flags int, mode uint32) (int, uint64) {
	return errc(f.vfs.Modify("create", path)), ^uint64(0)
}

func (f *FS) Write(path string, buff []byte, ofst int64, fh uint64) int {
	return errc(f.vfs.Modify("write", path))
}

func (f *FS) Truncate(path string, size int64, fh uint64) int {
	return errc(f.vfs.Modify("truncate", path))
}

func (f *FS) Mknod(path string, mode uint32, dev uint64) int {
	return errc(f.vfs.Modify("mknod", path))
}

func (f *FS) Mkdir(path string, mode uint32) int {
	return errc(f.vfs.Modify("mkdir", path))
}

func (f *FS) Unlink(path string) int {
	return errc(f.vfs.Modify("unlink", path))
}

func (f *FS) Rmdir(path string) int {
	return errc(f.vfs.Modify("rmdir", path))
}

func (f *FS) Link(oldpath string, newpath string) int {
	return errc(f.vfs.Modify("link", newpath))
}

func (f *FS) Symlink(target string, newpath string) int {
	return errc(f.vfs.Modify("symlink", newpath))
}

func (f *FS) Rename(oldpath string, newpath string) int {
	return errc(f.vfs.Modify("rename", oldpath))
}

func (f *FS) Chmod(path string, mode uint32) int {
	return errc(f.vfs.Modify("chmod", path))
}

func (f *FS) Chown(path string, uid uint32, gid uint32) int {
	return errc(f.vfs.Modify("chown", path))
}

func (f *FS) Utimens(path string, tmsp []fuse.Timespec) int {
	return errc(f.vfs.Modify("utimens", path))
}

func (f *FS) Setxattr(path string, name string, value []byte, flags int) int {
	return errc(f.vfs.Modify("setxattr", path))
}

func (f *FS) Removexattr(path string, name string) int {
	return errc(f.vfs.Modify("removexattr", path))
}
