package fuse

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/billziss-gh/cgofuse/fuse"
	"github.com/rs/zerolog/log"

	"github.com/jkaberg/vodfs/config"
	"github.com/jkaberg/vodfs/fs"
	"github.com/jkaberg/vodfs/probe"
)

type Handler struct {
	conf *config.FuseGlobal

	host *fuse.FileSystemHost
	done chan struct{}
	// set before done is closed
	err error
}

func NewHandler(conf *config.FuseGlobal) *Handler {
	return &Handler{
		conf: conf,
	}
}

// Options are the mount options passed to libfuse.
func (s *Handler) Options() []string {
	config := []string{
		"-o", "ro",
		"-o", "fsname=vodfs",
		"-o", "subtype=vodfs",
	}

	if s.conf.AllowOther {
		config = append(config, "-o", "allow_other")
	}

	if runtime.GOOS == "linux" && s.conf.MaxRead > 0 {
		config = append(config, "-o", fmt.Sprintf("max_read=%d", s.conf.MaxRead.Int64()))
	}

	// direct_io makes every read reach us. Without it the page cache is
	// still dropped on every open, so zeros served to a scanner never
	// outlive its handle; kernel_cache would keep them for the next player.
	if s.conf.DisableKernelCache {
		config = append(config, "-o", "direct_io")
	}

	if s.conf.SingleThread {
		config = append(config, "-s")
	}
	if s.conf.Foreground {
		config = append(config, "-f")
	}

	return config
}

// Mount serves v at the configured path. It returns once the mount was
// started; Done is closed when the filesystem gets unmounted.
func (s *Handler) Mount(v *fs.VFS, procs probe.Resolver) error {
	folder := s.conf.Path
	// On windows, the folder must don't exist
	if runtime.GOOS == "windows" {
		folder = filepath.Dir(s.conf.Path)
	}

	if filepath.VolumeName(folder) == "" {
		if err := os.MkdirAll(folder, 0744); err != nil && !os.IsExist(err) {
			return err
		}
	}

	host := fuse.NewFileSystemHost(NewFS(v, procs))
	host.SetCapReaddirPlus(false)

	s.host = host
	s.done = make(chan struct{})
	opts := s.Options()

	go func() {
		defer close(s.done)

		if !host.Mount(s.conf.Path, opts) {
			s.err = fmt.Errorf("error mounting filesystem at %s", s.conf.Path)
			log.Error().Str("path", s.conf.Path).Msg("error trying to mount filesystem")
		}
	}()

	log.Info().Str("path", s.conf.Path).Strs("options", opts).Msg("starting FUSE mount")

	return nil
}

// Done is closed when the mount ends, including external unmounts.
func (s *Handler) Done() <-chan struct{} {
	return s.done
}

// Err reports why the mount failed. It is only meaningful once Done is
// closed, and nil after a clean unmount.
func (s *Handler) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Handler) Unmount() {
	if s.host == nil {
		return
	}

	ok := s.host.Unmount()
	if !ok {
		log.Error().Str("path", s.conf.Path).Msg("unmount failed")
	}
}
