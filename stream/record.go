package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jkaberg/vodfs/backend"
	"github.com/jkaberg/vodfs/catalog"
)

// Record is the per-file streaming state shared by every handle open on the
// same path.
type Record struct {
	path  string
	entry *catalog.Entry
	seq   uint64
	total *atomic.Int64
	now   func() time.Time

	// fetchMu serializes upstream fetches of this record; readers of
	// cached bytes never take it
	fetchMu sync.Mutex

	mu          sync.Mutex
	sess        *backend.Session
	streamURL   string
	sessionURL  string
	knownSize   int64
	refs        int
	activated   bool
	servedProbe bool
	superseded  bool
	destroyed   bool
	segs        []segment
	buffered    int64
	tuning      Tuning
	cursor      int64
	lastUsed    time.Time
	worker      *worker
}

func newRecord(path string, e *catalog.Entry, seq uint64, total *atomic.Int64, t Tuning, now func() time.Time) *Record {
	r := &Record{
		path:      path,
		entry:     e,
		seq:       seq,
		total:     total,
		now:       now,
		knownSize: -1,
		tuning:    t,
		lastUsed:  now(),
	}
	if e != nil {
		r.streamURL = e.StreamURL()
		r.sessionURL = e.SessionURL()
		r.knownSize = e.Size()
	}
	return r
}

func (r *Record) Path() string {
	return r.path
}

func (r *Record) Entry() *catalog.Entry {
	return r.entry
}

// KnownSize returns the learned size, or -1.
func (r *Record) KnownSize() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.knownSize
}

func (r *Record) Activated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activated
}

// Activate records that a real read happened on this record.
func (r *Record) Activate() {
	r.mu.Lock()
	r.activated = true
	r.servedProbe = false
	r.mu.Unlock()
}

// MarkProbe records that zero bytes were served for a probe.
func (r *Record) MarkProbe() {
	r.mu.Lock()
	if !r.activated {
		r.servedProbe = true
	}
	r.mu.Unlock()
}

func (r *Record) ServedProbe() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.servedProbe
}

func (r *Record) Refs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs
}

func (r *Record) Buffered() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buffered
}

func (r *Record) Tuning() Tuning {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tuning
}

func (r *Record) SetTuning(t Tuning) {
	r.mu.Lock()
	r.tuning = t
	r.mu.Unlock()
}

func (r *Record) Cursor() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// SetCursor moves the playback position the prefetcher stays ahead of.
func (r *Record) SetCursor(off int64) {
	r.mu.Lock()
	r.cursor = off
	r.lastUsed = r.now()
	r.mu.Unlock()
}

// ContiguousEnd is the end of the cached run starting at off.
func (r *Record) ContiguousEnd(off int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contiguousEndLocked(off)
}

// Cached returns [off, off+n) when fully cached. Past a known EOF it
// returns an empty hit.
func (r *Record) Cached(off, n int64) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookupLocked(off, n)
}

func (r *Record) isSuperseded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.superseded
}

func (r *Record) Prefetching() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.worker != nil
}

// learn stores metadata reported by the upstream on the record and its entry.
func (r *Record) learn(total int64, sessionURL string) {
	r.mu.Lock()
	if total >= 0 && r.knownSize != total {
		r.knownSize = total
		r.clampLocked()
	}
	if sessionURL != "" {
		r.sessionURL = sessionURL
	}
	r.mu.Unlock()

	if r.entry != nil {
		r.entry.SetSize(total)
		if sessionURL != "" {
			r.entry.SetSessionURL(sessionURL)
		}
	}
}

// store caches data at off and trims the record to budget.
func (r *Record) store(off int64, data []byte, budget int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed {
		return
	}
	r.insertLocked(off, data)
	if budget > 0 {
		r.trimLocked(budget)
	}
}

type worker struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (w *worker) stop(wait time.Duration) {
	w.cancel()
	select {
	case <-w.done:
	case <-time.After(wait):
	}
}
