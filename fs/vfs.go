package fs

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jkaberg/vodfs/catalog"
	"github.com/jkaberg/vodfs/config"
	"github.com/jkaberg/vodfs/metrics"
	"github.com/jkaberg/vodfs/probe"
	"github.com/jkaberg/vodfs/store"
	"github.com/jkaberg/vodfs/stream"
)

const writeFlags = os.O_WRONLY | os.O_RDWR | os.O_CREATE | os.O_TRUNC | os.O_APPEND

// VFS implements the filesystem operations on top of the directory cache,
// the session registry and the probe classifier. It knows nothing about
// FUSE; the fuse and webdav packages adapt it.
type VFS struct {
	dirs    *catalog.DirCache
	reg     *stream.Registry
	cls     *probe.Classifier
	mtimes  store.Mtimes
	tuner   *tuner
	started time.Time
	now     func() time.Time
	log     zerolog.Logger

	prebufferBytes   int64
	prebufferTimeout time.Duration
	seekReset        int64
	janitorEvery     time.Duration

	mu      sync.Mutex
	handles map[uint64]*Handle
	nextFh  atomic.Uint64
}

func New(dirs *catalog.DirCache, reg *stream.Registry, cls *probe.Classifier, mtimes store.Mtimes, conf *config.Root) *VFS {
	return &VFS{
		dirs:             dirs,
		reg:              reg,
		cls:              cls,
		mtimes:           mtimes,
		tuner:            newTuner(conf),
		started:          time.Now(),
		now:              time.Now,
		log:              log.Logger.With().Str("component", "vfs").Logger(),
		prebufferBytes:   conf.Prefetch.PrebufferBytes.Int64(),
		prebufferTimeout: conf.Prefetch.PrebufferTimeout,
		seekReset:        conf.Prefetch.SeekReset.Int64(),
		janitorEvery:     min(max(conf.Session.IdleTTL/2, time.Second), time.Minute),
		handles:          make(map[uint64]*Handle),
	}
}

// Stat never goes upstream for sizes: files not read yet report the
// provisional size.
func (v *VFS) Stat(ctx context.Context, p string) (*FileInfo, error) {
	e, err := v.dirs.FindEntry(ctx, p, true)
	if err != nil {
		return nil, err
	}
	return v.info(e), nil
}

func (v *VFS) ReadDir(ctx context.Context, p string) ([]*FileInfo, error) {
	entries, err := v.dirs.GetEntries(ctx, p, false)
	if err != nil {
		return nil, err
	}

	out := make([]*FileInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, v.info(e))
	}
	return out, nil
}

func (v *VFS) info(e *catalog.Entry) *FileInfo {
	fi := &FileInfo{
		path: e.Path,
		name: e.Name,
		dir:  e.IsDir,
	}

	if e.Path == "/" {
		fi.modTime = v.started
	} else {
		fi.modTime = v.mtimes.FirstSeen(e.Path, v.now())
	}

	if !e.IsDir {
		fi.size = e.Size()
		if fi.size < 0 {
			fi.size = v.cls.Settings().ProvisionalSize
		}
	}

	return fi
}

// Open returns the id of a new handle on file p.
func (v *VFS) Open(ctx context.Context, p string, flags int, proc probe.Process) (uint64, error) {
	if flags&writeFlags != 0 {
		return 0, ErrReadOnly
	}

	e, err := v.dirs.FindEntry(ctx, p, true)
	if err != nil {
		return 0, err
	}
	if e.IsDir {
		return 0, ErrIsDir
	}

	h := &Handle{
		id:    v.nextFh.Add(1),
		path:  e.Path,
		entry: e,
		rec:   v.reg.Acquire(e.Path, e, true),
		proc:  proc,
	}

	v.cls.NoteOpen(e.Path, proc)

	v.mu.Lock()
	v.handles[h.id] = h
	v.mu.Unlock()

	v.log.Debug().
		Str("path", e.Path).
		Uint64("fh", h.id).
		Str("process", proc.Name).
		Str("category", proc.Category.String()).
		Msg("file opened")

	return h.id, nil
}

func (v *VFS) Handle(fh uint64) (*Handle, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	h := v.handles[fh]
	if h == nil {
		return nil, ErrBadHandle
	}
	return h, nil
}

// Read fills buf with the bytes at off of handle fh. proc is the process
// issuing this read; a zero Process falls back to the one that opened the
// handle.
func (v *VFS) Read(ctx context.Context, fh uint64, buf []byte, off int64, proc probe.Process) (int, error) {
	h, err := v.Handle(fh)
	if err != nil {
		return 0, err
	}
	if proc.PID == 0 && proc.Name == "" {
		proc = h.proc
	}
	if len(buf) == 0 {
		return 0, nil
	}

	rec := h.rec
	known := rec.KnownSize()
	if known >= 0 && off >= known {
		return 0, nil
	}

	h.mu.Lock()
	reads := h.reads
	h.reads++
	h.mu.Unlock()

	settings := v.cls.Settings()
	d := v.cls.Classify(probe.ReadInfo{
		Path:            h.path,
		Offset:          off,
		Size:            int64(len(buf)),
		Process:         proc,
		KnownSize:       known,
		ProvisionalSize: settings.ProvisionalSize,
		HandleReads:     reads,
		HandleActivated: h.Activated(),
	})
	metrics.RecordRead(d.Verdict.String(), d.Rule)

	if d.Verdict == probe.Probe {
		return v.readProbe(h, buf, off, settings.ProvisionalSize), nil
	}

	return v.readReal(ctx, h, buf, off, proc)
}

// readProbe answers with zeros. It never asks the upstream for metadata and
// never moves the playback cursor.
func (v *VFS) readProbe(h *Handle, buf []byte, off, provisional int64) int {
	limit := h.rec.KnownSize()
	if limit < 0 {
		limit = provisional
	}

	n := min(int64(len(buf)), limit-off)
	if n <= 0 {
		return 0
	}
	clear(buf[:n])

	h.rec.MarkProbe()
	return int(n)
}

func (v *VFS) readReal(ctx context.Context, h *Handle, buf []byte, off int64, proc probe.Process) (int, error) {
	rec := h.rec

	h.activate()
	rec.Activate()
	v.cls.NoteRealRead(h.path, proc)

	if rec.KnownSize() < 0 {
		if err := v.reg.ResolveMetadata(ctx, rec); err != nil {
			v.log.Warn().Err(err).Str("path", h.path).Msg("error resolving stream metadata, keeping provisional size")
		}
	}
	if size := rec.KnownSize(); size >= 0 && off >= size {
		return 0, nil
	}

	t := v.tuner.pick(h.entry.Extension, proc.Category)
	length := int64(len(buf))

	h.mu.Lock()
	if h.reads > 1 && v.seekReset > 0 && abs(off-h.lastEnd) > v.seekReset {
		v.log.Debug().Str("path", h.path).Int64("from", h.lastEnd).Int64("to", off).Msg("large seek, prebuffering again")
		h.prebuffered = false
	}
	prebuffer := t.Prefetch && !h.prebuffered && v.prebufferBytes > 0
	if prebuffer {
		h.prebuffered = true
	}
	h.mu.Unlock()

	if t.Prefetch {
		rec.SetTuning(t)
		rec.SetCursor(off)

		if prebuffer {
			if err := v.reg.Prebuffer(ctx, rec, off, v.prebufferBytes, v.prebufferTimeout); err != nil {
				v.log.Debug().Err(err).Str("path", h.path).Int64("offset", off).Msg("prebuffer incomplete")
			}
		}
		v.reg.StartPrefetch(rec)
	}

	fetch := max(length, t.Readahead)
	if t.MaxFetch > 0 {
		fetch = min(fetch, max(t.MaxFetch, length))
	}

	data, err := v.reg.FetchAndCache(ctx, rec, off, fetch, t.CacheBudget, length)
	if err != nil {
		v.log.Error().Err(err).Str("path", h.path).Int64("offset", off).Int64("size", length).Msg("read failed")
		return 0, err
	}

	n := copy(buf, data)
	end := off + int64(n)

	// a scanner reading next to a player must not drag its cursor around
	if t.Prefetch || !rec.Prefetching() {
		rec.SetCursor(end)
	}

	h.mu.Lock()
	h.lastEnd = end
	h.mu.Unlock()

	return n, nil
}

// Size returns the real size of the file behind fh, asking the upstream
// when it is not known yet. Callers that need exact lengths up front, like
// HTTP range serving, use it; FUSE never does.
func (v *VFS) Size(ctx context.Context, fh uint64) (int64, error) {
	h, err := v.Handle(fh)
	if err != nil {
		return 0, err
	}

	rec := h.rec
	if err := v.reg.ResolveMetadata(ctx, rec); err != nil {
		return 0, err
	}
	if size := rec.KnownSize(); size >= 0 {
		return size, nil
	}
	return v.cls.Settings().ProvisionalSize, nil
}

// Release is idempotent: releasing an unknown or released handle is a no-op.
func (v *VFS) Release(fh uint64) error {
	v.mu.Lock()
	h := v.handles[fh]
	delete(v.handles, fh)
	v.mu.Unlock()

	if h == nil || !h.release() {
		return nil
	}

	destroyed := v.reg.Release(h.path, h)
	v.log.Debug().
		Str("path", h.path).
		Uint64("fh", fh).
		Bool("activated", h.Activated()).
		Bool("destroyed", destroyed).
		Msg("file released")

	return nil
}

// Modify rejects every mutating operation.
func (v *VFS) Modify(op, p string) error {
	v.log.Debug().Str("op", op).Str("path", p).Msg("write rejected on read-only filesystem")
	return ErrReadOnly
}

// OpenHandles is the number of handles not released yet.
func (v *VFS) OpenHandles() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.handles)
}

// Run evicts idle session records and prunes probe counters until ctx is
// done.
func (v *VFS) Run(ctx context.Context) {
	t := time.NewTicker(v.janitorEvery)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			evicted := v.reg.EvictIdle()
			pruned := v.cls.Prune()
			if evicted > 0 || pruned > 0 {
				v.log.Debug().Int("evicted", evicted).Int("pruned", pruned).Msg("janitor pass")
			}
		}
	}
}

// Close releases every handle still open.
func (v *VFS) Close() {
	v.mu.Lock()
	ids := make([]uint64, 0, len(v.handles))
	for id := range v.handles {
		ids = append(ids, id)
	}
	v.mu.Unlock()

	for _, id := range ids {
		_ = v.Release(id)
	}
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
