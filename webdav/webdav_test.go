package webdav

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jkaberg/vodfs/backend"
	"github.com/jkaberg/vodfs/catalog"
	"github.com/jkaberg/vodfs/config"
	"github.com/jkaberg/vodfs/fs"
	"github.com/jkaberg/vodfs/probe"
	"github.com/jkaberg/vodfs/store"
	"github.com/jkaberg/vodfs/stream"
)

type upstream struct {
	*httptest.Server
	payload []byte
	heads   atomic.Int32
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()

	u := &upstream{payload: make([]byte, 1<<20)}
	for i := range u.payload {
		u.payload[i] = byte(i % 249)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/browse/movies/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("path") {
		case "/":
			_, _ = w.Write([]byte(`{"entries":[{"name":"Movies","path":"/Movies","is_dir":true}]}`))
		case "/Movies":
			_, _ = w.Write([]byte(`{"entries":[
				{"name":"A.mkv","path":"/Movies/A.mkv","content_type":"movie","uuid":"a","stream_url":"/media"},
				{"name":"B.mp4","path":"/Movies/B.mp4","content_type":"movie","uuid":"b","stream_url":"/media"}
			]}`))
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("/media", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			u.heads.Add(1)
		}
		http.ServeContent(w, r, "media", time.Time{}, bytes.NewReader(u.payload))
	})

	u.Server = httptest.NewServer(mux)
	t.Cleanup(u.Close)
	return u
}

type testEnv struct {
	*httptest.Server
	up  *upstream
	vfs *fs.VFS
	reg *stream.Registry
	cls *probe.Classifier
}

func newTestServer(t *testing.T, user, pass string) *testEnv {
	t.Helper()

	up := newUpstream(t)

	conf := config.AddDefaults(&config.Root{Backend: &config.Backend{URL: up.URL}})
	conf.Upstream.Timeout = 5 * time.Second

	c, err := backend.NewClient(conf.Backend, conf.Upstream)
	require.NoError(t, err)

	reg := stream.NewRegistry(c, stream.OptionsFromConfig(conf))
	cls := probe.NewClassifier(probe.SettingsFromConfig(conf.Probe))
	v := fs.New(catalog.NewDirCache(c, conf.Session.DirCacheTTL), reg, cls, store.NewMemory(), conf)

	srv := httptest.NewServer(NewHandler(v, user, pass))
	t.Cleanup(func() {
		srv.Close()
		v.Close()
		reg.Close()
	})

	return &testEnv{Server: srv, up: up, vfs: v, reg: reg, cls: cls}
}

func do(t *testing.T, method, url string, h map[string]string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	for k, v := range h {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestPropfindListsDirectory(t *testing.T) {
	require := require.New(t)

	e := newTestServer(t, "", "")

	resp, body := do(t, "PROPFIND", e.URL+"/Movies/", map[string]string{"Depth": "1"})
	require.Equal(http.StatusMultiStatus, resp.StatusCode)
	require.Contains(string(body), "A.mkv")
	require.Contains(string(body), "B.mp4")
	require.Contains(string(body), "video/mp4")

	// listing never sizes files upstream nor opens sessions
	require.Zero(e.up.heads.Load())
	require.Zero(e.reg.Len())
	require.Zero(e.vfs.OpenHandles())

	// and does not count as playback of the listed files
	window := e.cls.Settings().IntentWindow
	require.False(e.cls.Tracker().HasIntent("/Movies/A.mkv", window))
	require.False(e.cls.Tracker().HasIntent("/Movies/B.mp4", window))
}

func TestRangedGet(t *testing.T) {
	require := require.New(t)

	e := newTestServer(t, "", "")

	resp, body := do(t, http.MethodGet, e.URL+"/Movies/B.mp4", map[string]string{"Range": "bytes=1000-1999"})
	require.Equal(http.StatusPartialContent, resp.StatusCode)
	require.Equal(e.up.payload[1000:2000], body)
	require.True(strings.HasSuffix(resp.Header.Get("Content-Range"), "/1048576"))

	resp, body = do(t, http.MethodGet, e.URL+"/Movies/B.mp4", nil)
	require.Equal(http.StatusOK, resp.StatusCode)
	require.Equal(e.up.payload, body)

	// GETs are playback
	require.True(e.cls.Tracker().HasIntent("/Movies/B.mp4", e.cls.Settings().IntentWindow))
	require.Zero(e.vfs.OpenHandles())
}

func TestWritesAreRejected(t *testing.T) {
	require := require.New(t)

	e := newTestServer(t, "", "")

	for _, m := range []string{http.MethodPut, http.MethodDelete, "MKCOL"} {
		resp, _ := do(t, m, e.URL+"/Movies/C.mkv", nil)
		require.GreaterOrEqual(resp.StatusCode, 400, m)
	}

	resp, _ := do(t, http.MethodGet, e.URL+"/Movies/C.mkv", nil)
	require.Equal(http.StatusNotFound, resp.StatusCode)
}

func TestBasicAuth(t *testing.T) {
	require := require.New(t)

	e := newTestServer(t, "user", "secret")

	resp, _ := do(t, "PROPFIND", e.URL+"/", map[string]string{"Depth": "0"})
	require.Equal(http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest("PROPFIND", e.URL+"/", nil)
	require.NoError(err)
	req.Header.Set("Depth", "0")
	req.SetBasicAuth("user", "secret")

	resp, err = http.DefaultClient.Do(req)
	require.NoError(err)
	resp.Body.Close()
	require.Equal(http.StatusMultiStatus, resp.StatusCode)
}
