package probe

import (
	"sort"
	"sync"
	"time"
)

const (
	counterScanner     = "scanner"
	counterMediaServer = "media_server_process"
)

type counterKey struct {
	path string
	kind string
}

type counter struct {
	hits     int
	lastSeen time.Time
}

// CounterStat is a point in time copy of one counter.
type CounterStat struct {
	Path     string    `json:"path"`
	Kind     string    `json:"kind"`
	Hits     int       `json:"hits"`
	LastSeen time.Time `json:"last_seen"`
}

// Tracker keeps per-path read counters and playback intent marks. Both live
// independently of file handles, since scanners open and close constantly.
type Tracker struct {
	now func() time.Time

	mu       sync.Mutex
	counters map[counterKey]*counter
	intents  map[string]time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		now:      time.Now,
		counters: make(map[counterKey]*counter),
		intents:  make(map[string]time.Time),
	}
}

// Hit records one read and returns the hit count including it. Hits restart
// from one when the previous read is older than window.
func (t *Tracker) Hit(path, kind string, window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	k := counterKey{path: path, kind: kind}
	c := t.counters[k]
	if c == nil {
		c = &counter{}
		t.counters[k] = c
	}
	if now.Sub(c.lastSeen) > window {
		c.hits = 0
	}
	c.hits++
	c.lastSeen = now

	return c.hits
}

func (t *Tracker) MarkIntent(path string) {
	t.mu.Lock()
	t.intents[path] = t.now()
	t.mu.Unlock()
}

func (t *Tracker) HasIntent(path string, window time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	at, ok := t.intents[path]
	return ok && t.now().Sub(at) <= window
}

// Prune drops counters idle for longer than counterTTL and expired intent
// marks. It returns how many items were removed.
func (t *Tracker) Prune(counterTTL, intentWindow time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	n := 0
	for k, c := range t.counters {
		if now.Sub(c.lastSeen) > counterTTL {
			delete(t.counters, k)
			n++
		}
	}
	for p, at := range t.intents {
		if now.Sub(at) > intentWindow {
			delete(t.intents, p)
			n++
		}
	}
	return n
}

func (t *Tracker) Snapshot() []CounterStat {
	t.mu.Lock()
	out := make([]CounterStat, 0, len(t.counters))
	for k, c := range t.counters {
		out = append(out, CounterStat{Path: k.path, Kind: k.kind, Hits: c.hits, LastSeen: c.lastSeen})
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}
