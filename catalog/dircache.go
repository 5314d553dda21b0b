package catalog

import (
	"context"
	"errors"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/jkaberg/vodfs/backend"
	"github.com/jkaberg/vodfs/metrics"
)

const separator = "/"

var (
	ErrNotFound = errors.New("no such file or directory")
	ErrNotDir   = errors.New("not a directory")
)

// Lister is the part of the backend the cache needs.
type Lister interface {
	Browse(ctx context.Context, path string) ([]backend.RemoteEntry, error)
}

type listing struct {
	entries  []*Entry
	cachedAt time.Time
}

// DirCache keeps a TTL bounded copy of the backend tree plus a flat path
// index over every entry of every cached listing.
type DirCache struct {
	lister Lister
	ttl    time.Duration
	now    func() time.Time
	log    zerolog.Logger

	mu    sync.RWMutex
	root  *Entry
	dirs  map[string]*listing
	index map[string]*Entry

	sf           singleflight.Group
	onInvalidate func(path string)
}

func NewDirCache(l Lister, ttl time.Duration) *DirCache {
	return &DirCache{
		lister: l,
		ttl:    ttl,
		now:    time.Now,
		log:    log.Logger.With().Str("component", "dircache").Logger(),
		root:   newRoot(),
		dirs:   make(map[string]*listing),
		index:  make(map[string]*Entry),
	}
}

// OnInvalidate registers f to be told about paths that vanished from a
// refreshed listing or now point to a different stream.
func (dc *DirCache) OnInvalidate(f func(path string)) {
	dc.mu.Lock()
	dc.onInvalidate = f
	dc.mu.Unlock()
}

// GetEntries returns the children of directory p, browsing the backend when
// the cached listing is missing, stale or forceRefresh is set. If the
// backend fails and a stale listing exists, the stale listing is returned.
func (dc *DirCache) GetEntries(ctx context.Context, p string, forceRefresh bool) ([]*Entry, error) {
	p = clean(p)

	l, fresh := dc.cached(p)
	if l != nil && fresh && !forceRefresh {
		return l.entries, nil
	}

	dir, err := dc.dirEntry(ctx, p)
	if err != nil {
		return nil, err
	}

	v, err, _ := dc.sf.Do(p, func() (interface{}, error) {
		return dc.refresh(ctx, dir)
	})
	if err != nil {
		if l, _ := dc.cached(p); l != nil {
			dc.log.Warn().Err(err).Str("path", p).Msg("backend browse failed, serving stale listing")
			return l.entries, nil
		}
		return nil, err
	}

	return v.([]*Entry), nil
}

// FindEntry resolves one path. With allowStaleParent an indexed entry is
// returned even when its parent listing expired, which keeps bulk stat
// storms from hammering the backend.
func (dc *DirCache) FindEntry(ctx context.Context, p string, allowStaleParent bool) (*Entry, error) {
	p = clean(p)
	if p == separator {
		return dc.root, nil
	}

	parent := path.Dir(p)

	dc.mu.RLock()
	e := dc.index[p]
	dc.mu.RUnlock()

	_, fresh := dc.cached(parent)
	if e != nil && (fresh || allowStaleParent) {
		return e, nil
	}
	if fresh {
		return nil, ErrNotFound
	}

	if _, err := dc.GetEntries(ctx, parent, false); err != nil {
		if e != nil {
			return e, nil
		}
		return nil, err
	}

	dc.mu.RLock()
	e = dc.index[p]
	dc.mu.RUnlock()

	if e == nil {
		return nil, ErrNotFound
	}
	return e, nil
}

func (dc *DirCache) dirEntry(ctx context.Context, p string) (*Entry, error) {
	if p == separator {
		return dc.root, nil
	}

	e, err := dc.FindEntry(ctx, p, true)
	if err != nil {
		return nil, err
	}
	if !e.IsDir {
		return nil, ErrNotDir
	}
	return e, nil
}

func (dc *DirCache) cached(p string) (*listing, bool) {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	l := dc.dirs[p]
	if l == nil {
		return nil, false
	}
	return l, dc.now().Sub(l.cachedAt) < dc.ttl
}

func (dc *DirCache) refresh(ctx context.Context, dir *Entry) ([]*Entry, error) {
	remote, err := dc.lister.Browse(ctx, dir.BrowsePath)
	metrics.RecordDirRefresh(err == nil)
	if err != nil {
		if backend.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	p := dir.Path
	fresh := make([]*Entry, 0, len(remote))
	seen := make(map[string]struct{}, len(remote))
	var invalid []string

	dc.mu.Lock()
	old := dc.dirs[p]

	for _, re := range remote {
		if !validName(re.Name) {
			continue
		}

		n := NewEntry(p, re)
		if _, dup := seen[n.Path]; dup {
			continue
		}
		seen[n.Path] = struct{}{}

		if cur, ok := dc.index[n.Path]; ok {
			if cur.absorb(n) {
				n = cur
			} else {
				dc.forgetLocked(n.Path)
				invalid = append(invalid, n.Path)
			}
		}

		dc.index[n.Path] = n
		fresh = append(fresh, n)
	}

	if old != nil {
		for _, e := range old.entries {
			if _, ok := seen[e.Path]; !ok {
				dc.forgetLocked(e.Path)
				invalid = append(invalid, e.Path)
			}
		}
	}

	dc.dirs[p] = &listing{entries: fresh, cachedAt: dc.now()}
	hook := dc.onInvalidate
	dc.mu.Unlock()

	dc.log.Debug().Str("path", p).Int("entries", len(fresh)).Int("invalidated", len(invalid)).Msg("directory refreshed")

	if hook != nil {
		for _, ip := range invalid {
			hook(ip)
		}
	}

	return fresh, nil
}

// forgetLocked drops p and everything cached below it.
func (dc *DirCache) forgetLocked(p string) {
	delete(dc.index, p)
	delete(dc.dirs, p)

	prefix := p + separator
	for k := range dc.index {
		if strings.HasPrefix(k, prefix) {
			delete(dc.index, k)
		}
	}
	for k := range dc.dirs {
		if strings.HasPrefix(k, prefix) {
			delete(dc.dirs, k)
		}
	}
}

func validName(n string) bool {
	return n != "" && n != "." && n != ".." && !strings.Contains(n, separator)
}

func clean(p string) string {
	return path.Clean(separator + strings.ReplaceAll(p, "\\", "/"))
}
