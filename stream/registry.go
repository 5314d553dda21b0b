package stream

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jkaberg/vodfs/backend"
	"github.com/jkaberg/vodfs/catalog"
	"github.com/jkaberg/vodfs/metrics"
)

// Upstream is the part of the backend bridge the fetch engine needs.
type Upstream interface {
	NewSession() *backend.Session
	Head(ctx context.Context, url string) (*backend.HeadResult, error)
	RangedGet(ctx context.Context, s *backend.Session, url string, offset, length int64) (*backend.RangeResult, error)
	ResolveStreamURL(ctx context.Context, contentType, id string) (string, error)
}

// Handle is the registry's view of an open file handle.
type Handle interface {
	Record() *Record
	Activated() bool
}

// RecordStat is a point in time copy of one record for the status API.
type RecordStat struct {
	Path        string    `json:"path"`
	Refs        int       `json:"refs"`
	Buffered    int64     `json:"buffered"`
	Segments    int       `json:"segments"`
	KnownSize   int64     `json:"known_size"`
	Cursor      int64     `json:"cursor"`
	Activated   bool      `json:"activated"`
	Prefetching bool      `json:"prefetching"`
	LastUsed    time.Time `json:"last_used"`
}

// Registry owns every session record, keyed by path.
type Registry struct {
	up   Upstream
	opts Options
	now  func() time.Time
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	records map[string]*Record
	seq     uint64

	total  atomic.Int64
	trimMu sync.Mutex
}

func NewRegistry(up Upstream, opts Options) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		up:      up,
		opts:    opts,
		now:     time.Now,
		log:     log.Logger.With().Str("component", "stream").Logger(),
		ctx:     ctx,
		cancel:  cancel,
		records: make(map[string]*Record),
	}
}

func (r *Registry) Options() Options {
	return r.opts
}

// Acquire returns the record of path, creating it from entry when missing.
// Idle records past their TTL are evicted on the way.
func (r *Registry) Acquire(path string, entry *catalog.Entry, takeRef bool) *Record {
	now := r.now()

	r.mu.Lock()
	expired := r.collectIdleLocked(now)

	rec := r.records[path]
	if rec != nil && rec.isSuperseded() {
		// still referenced by old handles; they release it on close
		rec = nil
	}
	if rec == nil {
		r.seq++
		rec = newRecord(path, entry, r.seq, &r.total, r.opts.Default, r.now)
		r.records[path] = rec
		r.log.Debug().Str("path", path).Uint64("seq", rec.seq).Msg("session record created")
	}

	rec.mu.Lock()
	if takeRef {
		rec.refs++
	}
	rec.lastUsed = now
	rec.mu.Unlock()

	metrics.SetSessions(len(r.records))
	r.mu.Unlock()

	r.destroyAll(expired)

	return rec
}

// Release drops the reference h holds. A record that only ever served probes
// is destroyed right away; otherwise it is parked for a fast reopen until the
// idle TTL expires. It reports whether the record was destroyed.
func (r *Registry) Release(path string, h Handle) bool {
	rec := h.Record()
	if rec == nil {
		return false
	}

	r.mu.Lock()
	rec.mu.Lock()
	if rec.refs > 0 {
		rec.refs--
	}
	rec.lastUsed = r.now()

	if rec.refs > 0 {
		rec.mu.Unlock()
		r.mu.Unlock()
		return false
	}

	w := rec.worker
	rec.worker = nil
	rec.cursor = 0
	// the next opener may be a scanner; it must not inherit prefetching
	rec.tuning = r.opts.Default
	destroy := rec.superseded || !(rec.activated || h.Activated())
	if !destroy && r.opts.DropBuffersOnRelease {
		metrics.RecordEviction("release", rec.dropAllLocked())
	}
	rec.mu.Unlock()

	if destroy && r.records[path] == rec {
		delete(r.records, path)
	}
	metrics.SetSessions(len(r.records))
	r.mu.Unlock()

	if w != nil {
		w.stop(r.opts.StopWait)
	}
	if destroy {
		r.destroy(rec)
		r.log.Debug().Str("path", path).Msg("probe-only session record destroyed")
	}

	return destroy
}

// Drop forgets path and everything below it. Records still in use are
// marked superseded and destroyed on their last release.
func (r *Registry) Drop(path string) {
	prefix := strings.TrimSuffix(path, "/") + "/"

	var dead []*Record

	r.mu.Lock()
	for p, rec := range r.records {
		if p != path && !strings.HasPrefix(p, prefix) {
			continue
		}

		rec.mu.Lock()
		rec.superseded = true
		inUse := rec.refs > 0
		rec.mu.Unlock()

		if !inUse {
			delete(r.records, p)
			dead = append(dead, rec)
		}
	}
	metrics.SetSessions(len(r.records))
	r.mu.Unlock()

	r.destroyAll(dead)
}

// EvictIdle destroys unreferenced records idle for longer than the TTL.
func (r *Registry) EvictIdle() int {
	r.mu.Lock()
	expired := r.collectIdleLocked(r.now())
	metrics.SetSessions(len(r.records))
	r.mu.Unlock()

	r.destroyAll(expired)
	return len(expired)
}

// Close stops every worker and drops every record.
func (r *Registry) Close() {
	r.cancel()

	r.mu.Lock()
	all := make([]*Record, 0, len(r.records))
	for p, rec := range r.records {
		all = append(all, rec)
		delete(r.records, p)
	}
	metrics.SetSessions(0)
	r.mu.Unlock()

	r.destroyAll(all)
}

func (r *Registry) Get(path string) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[path]
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// TotalBuffered is the number of bytes held across all records.
func (r *Registry) TotalBuffered() int64 {
	return r.total.Load()
}

func (r *Registry) Snapshot() []RecordStat {
	r.mu.Lock()
	recs := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mu.Unlock()

	out := make([]RecordStat, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out = append(out, RecordStat{
			Path:        rec.path,
			Refs:        rec.refs,
			Buffered:    rec.buffered,
			Segments:    len(rec.segs),
			KnownSize:   rec.knownSize,
			Cursor:      rec.cursor,
			Activated:   rec.activated,
			Prefetching: rec.worker != nil,
			LastUsed:    rec.lastUsed,
		})
		rec.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (r *Registry) collectIdleLocked(now time.Time) []*Record {
	if r.opts.IdleTTL <= 0 {
		return nil
	}

	var expired []*Record
	for p, rec := range r.records {
		rec.mu.Lock()
		idle := rec.refs <= 0 && now.Sub(rec.lastUsed) > r.opts.IdleTTL
		rec.mu.Unlock()

		if idle {
			delete(r.records, p)
			expired = append(expired, rec)
		}
	}
	return expired
}

func (r *Registry) destroyAll(recs []*Record) {
	for _, rec := range recs {
		r.destroy(rec)
	}
}

// destroy closes the upstream session and frees every buffered byte.
func (r *Registry) destroy(rec *Record) {
	rec.mu.Lock()
	if rec.destroyed {
		rec.mu.Unlock()
		return
	}
	rec.destroyed = true
	freed := rec.dropAllLocked()
	w := rec.worker
	rec.worker = nil
	sess := rec.sess
	rec.sess = nil
	rec.mu.Unlock()

	if freed > 0 {
		metrics.RecordEviction("destroy", freed)
	}
	if w != nil {
		w.stop(r.opts.StopWait)
	}
	sess.Close()
}
