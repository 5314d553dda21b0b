package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jkaberg/vodfs/backend"
)

type fakeLister struct {
	mu    sync.Mutex
	tree  map[string][]backend.RemoteEntry
	fail  bool
	calls map[string]int
	delay time.Duration
	total atomic.Int32
}

func newFakeLister() *fakeLister {
	return &fakeLister{
		tree: map[string][]backend.RemoteEntry{
			"/": {
				{Name: "Movies", Path: "/Movies", IsDir: true},
			},
			"/Movies": {
				{Name: "A.mkv", Path: "/Movies/A.mkv", ContentType: "movie", UUID: "a", StreamURL: "http://u/a"},
				{Name: "B.mp4", Path: "/Movies/B.mp4", ContentType: "movie", UUID: "b", StreamURL: "http://u/b"},
			},
		},
		calls: make(map[string]int),
	}
}

func (f *fakeLister) Browse(ctx context.Context, p string) ([]backend.RemoteEntry, error) {
	f.total.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[p]++

	if f.fail {
		return nil, backend.ErrUpstreamUnavailable
	}
	es, ok := f.tree[p]
	if !ok {
		return nil, &backend.StatusError{Code: 404, URL: p}
	}
	return append([]backend.RemoteEntry(nil), es...), nil
}

func (f *fakeLister) set(p string, es []backend.RemoteEntry) {
	f.mu.Lock()
	f.tree[p] = es
	f.mu.Unlock()
}

func (f *fakeLister) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeLister) count(p string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[p]
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestCache(l Lister) (*DirCache, *clock) {
	c := &clock{t: time.Unix(1700000000, 0)}
	dc := NewDirCache(l, time.Minute)
	dc.now = c.now
	return dc, c
}

func TestFindEntryLoadsAncestors(t *testing.T) {
	require := require.New(t)

	fl := newFakeLister()
	dc, _ := newTestCache(fl)

	e, err := dc.FindEntry(context.Background(), "/Movies/A.mkv", false)
	require.NoError(err)
	require.Equal("A.mkv", e.Name)
	require.Equal("mkv", e.Extension)
	require.Equal(int64(-1), e.Size())
	require.Equal("http://u/a", e.StreamURL())

	require.Equal(1, fl.count("/"))
	require.Equal(1, fl.count("/Movies"))

	_, err = dc.FindEntry(context.Background(), "/Movies/nope.mkv", false)
	require.ErrorIs(err, ErrNotFound)
	require.Equal(1, fl.count("/Movies"))

	root, err := dc.FindEntry(context.Background(), "/", false)
	require.NoError(err)
	require.True(root.IsDir)
}

func TestGetEntriesCachesUntilTTL(t *testing.T) {
	require := require.New(t)

	fl := newFakeLister()
	dc, clk := newTestCache(fl)
	ctx := context.Background()

	es, err := dc.GetEntries(ctx, "/Movies", false)
	require.NoError(err)
	require.Len(es, 2)

	_, err = dc.GetEntries(ctx, "/Movies", false)
	require.NoError(err)
	require.Equal(1, fl.count("/Movies"))

	clk.advance(2 * time.Minute)
	_, err = dc.GetEntries(ctx, "/Movies", false)
	require.NoError(err)
	require.Equal(2, fl.count("/Movies"))

	_, err = dc.GetEntries(ctx, "/Movies", true)
	require.NoError(err)
	require.Equal(3, fl.count("/Movies"))
}

func TestStaleListingServedOnFailure(t *testing.T) {
	require := require.New(t)

	fl := newFakeLister()
	dc, clk := newTestCache(fl)
	ctx := context.Background()

	_, err := dc.GetEntries(ctx, "/Movies", false)
	require.NoError(err)

	fl.setFail(true)
	clk.advance(2 * time.Minute)

	es, err := dc.GetEntries(ctx, "/Movies", false)
	require.NoError(err)
	require.Len(es, 2)

	_, err = dc.GetEntries(ctx, "/Other", false)
	require.Error(err)
}

func TestAllowStaleParent(t *testing.T) {
	require := require.New(t)

	fl := newFakeLister()
	dc, clk := newTestCache(fl)
	ctx := context.Background()

	_, err := dc.FindEntry(ctx, "/Movies/A.mkv", false)
	require.NoError(err)
	clk.advance(2 * time.Minute)

	_, err = dc.FindEntry(ctx, "/Movies/A.mkv", true)
	require.NoError(err)
	require.Equal(1, fl.count("/Movies"))

	_, err = dc.FindEntry(ctx, "/Movies/A.mkv", false)
	require.NoError(err)
	require.Equal(2, fl.count("/Movies"))
}

func TestRefreshReconcilesIndex(t *testing.T) {
	require := require.New(t)

	fl := newFakeLister()
	dc, _ := newTestCache(fl)
	ctx := context.Background()

	var invalidated []string
	dc.OnInvalidate(func(p string) { invalidated = append(invalidated, p) })

	a, err := dc.FindEntry(ctx, "/Movies/A.mkv", false)
	require.NoError(err)
	a.SetSize(1234)
	a.SetSessionURL("http://u/s/a")

	b, err := dc.FindEntry(ctx, "/Movies/B.mp4", false)
	require.NoError(err)

	fl.set("/Movies", []backend.RemoteEntry{
		{Name: "A.mkv", Path: "/Movies/A.mkv", ContentType: "movie", UUID: "a", StreamURL: "http://u/a"},
		{Name: "B.mp4", Path: "/Movies/B.mp4", ContentType: "movie", UUID: "b", StreamURL: "http://u/b2"},
		{Name: "C.mkv", Path: "/Movies/C.mkv", ContentType: "movie", UUID: "c", StreamURL: "http://u/c"},
	})
	_, err = dc.GetEntries(ctx, "/Movies", true)
	require.NoError(err)

	a2, err := dc.FindEntry(ctx, "/Movies/A.mkv", true)
	require.NoError(err)
	require.Same(a, a2)
	require.Equal(int64(1234), a2.Size())
	require.Equal("http://u/s/a", a2.SessionURL())

	b2, err := dc.FindEntry(ctx, "/Movies/B.mp4", true)
	require.NoError(err)
	require.NotSame(b, b2)
	require.Equal("http://u/b2", b2.StreamURL())

	_, err = dc.FindEntry(ctx, "/Movies/C.mkv", true)
	require.NoError(err)
	require.Equal([]string{"/Movies/B.mp4"}, invalidated)

	fl.set("/Movies", []backend.RemoteEntry{
		{Name: "C.mkv", Path: "/Movies/C.mkv", ContentType: "movie", UUID: "c", StreamURL: "http://u/c"},
	})
	_, err = dc.GetEntries(ctx, "/Movies", true)
	require.NoError(err)

	_, err = dc.FindEntry(ctx, "/Movies/A.mkv", true)
	require.ErrorIs(err, ErrNotFound)
	require.ElementsMatch([]string{"/Movies/B.mp4", "/Movies/A.mkv", "/Movies/B.mp4"}, invalidated)
}

func TestConcurrentBrowseCollapses(t *testing.T) {
	fl := newFakeLister()
	fl.delay = 50 * time.Millisecond
	dc, _ := newTestCache(fl)

	// warm the root so only /Movies is browsed concurrently
	_, err := dc.GetEntries(context.Background(), "/", false)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := dc.GetEntries(context.Background(), "/Movies", false)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, fl.count("/Movies"))
}

func TestFileIsNotADirectory(t *testing.T) {
	dc, _ := newTestCache(newFakeLister())

	_, err := dc.GetEntries(context.Background(), "/Movies/A.mkv", false)
	require.True(t, errors.Is(err, ErrNotDir))
}
