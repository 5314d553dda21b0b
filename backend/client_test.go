package backend

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jkaberg/vodfs/config"
)

func testPayload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	conf := config.AddDefaults(&config.Root{Backend: &config.Backend{URL: url}})
	conf.Upstream.Timeout = 5 * time.Second
	c, err := NewClient(conf.Backend, conf.Upstream)
	require.NoError(t, err)
	return c
}

func TestBrowse(t *testing.T) {
	require := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal("/browse/movies/", r.URL.Path)
		require.Equal("/Action", r.URL.Query().Get("path"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"entries":[
			{"name":"A.mkv","path":"/Action/A.mkv","is_dir":false,"content_type":"movie","extension":"mkv","uuid":"u1","stream_url":"/media/a"},
			{"name":"Sub","path":"/Action/Sub","is_dir":true,"size":null}
		]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	entries, err := c.Browse(context.Background(), "/Action")
	require.NoError(err)
	require.Len(entries, 2)
	require.Equal("A.mkv", entries[0].Name)
	require.Equal(srv.URL+"/media/a", entries[0].StreamURL)
	require.Nil(entries[0].Size)
	require.True(entries[1].IsDir)
}

func TestBrowseNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Browse(context.Background(), "/nope")
	require.Error(t, err)
	require.True(t, IsNotFound(err))
	require.True(t, errors.Is(err, ErrUpstreamUnavailable))
}

func TestResolveStreamURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/stream/episode/abc/", r.URL.Path)
		_, _ = w.Write([]byte(`{"stream_url":"/play/abc"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	u, err := c.ResolveStreamURL(context.Background(), "episode", "abc")
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/play/abc", u)
}

func TestRangedGetFollowsRedirectsKeepingRange(t *testing.T) {
	require := require.New(t)
	payload := testPayload(4096)

	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b", http.StatusFound)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/c", http.StatusTemporaryRedirect)
	})
	mux.HandleFunc("/c", func(w http.ResponseWriter, r *http.Request) {
		require.Equal("bytes=100-199", r.Header.Get("Range"))
		w.Header().Set("X-Session-URL", "/session/1")
		http.ServeContent(w, r, "c", time.Time{}, bytes.NewReader(payload))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	s := c.NewSession()
	defer s.Close()

	res, err := c.RangedGet(context.Background(), s, srv.URL+"/a", 100, 100)
	require.NoError(err)
	require.Equal(payload[100:200], res.Data)
	require.Equal(int64(4096), res.TotalSize)
	require.Equal(srv.URL+"/session/1", res.SessionURL)
	require.Equal(srv.URL+"/c", res.FinalURL)
}

func TestTooManyRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path+"x", http.StatusFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Head(context.Background(), srv.URL+"/loop")
	require.ErrorIs(t, err, ErrTooManyRedirects)
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestRangedGetPastEOF(t *testing.T) {
	payload := testPayload(100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "f", time.Time{}, bytes.NewReader(payload))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	res, err := c.RangedGet(context.Background(), nil, srv.URL, 500, 10)
	require.NoError(t, err)
	require.Empty(t, res.Data)
	require.Equal(t, int64(100), res.TotalSize)
}

func TestRangedGetTruncatesIgnoredRange(t *testing.T) {
	require := require.New(t)
	payload := testPayload(1 << 20)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// upstream that ignores Range and streams the whole body
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	res, err := c.RangedGet(context.Background(), nil, srv.URL, 0, 1024)
	require.NoError(err)
	require.Equal(payload[:1024], res.Data)

	res, err = c.RangedGet(context.Background(), nil, srv.URL, 4096, 16)
	require.NoError(err)
	require.Equal(payload[4096:4112], res.Data)
}

func TestRangedGetServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.RangedGet(context.Background(), nil, srv.URL, 0, 10)
	require.Error(t, err)
	require.True(t, IsRetryable(err))

	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusServiceUnavailable, se.Code)
}

func TestHead(t *testing.T) {
	var heads int32
	payload := testPayload(2048)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			atomic.AddInt32(&heads, 1)
		}
		if strings.HasPrefix(r.URL.Path, "/stream") {
			http.Redirect(w, r, "/sess/42", http.StatusFound)
			return
		}
		http.ServeContent(w, r, "f", time.Time{}, bytes.NewReader(payload))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	res, err := c.Head(context.Background(), srv.URL+"/stream/1")
	require.NoError(t, err)
	require.Equal(t, int64(2048), res.Size)
	require.Equal(t, srv.URL+"/sess/42", res.SessionURL)
	require.Equal(t, int32(2), atomic.LoadInt32(&heads))
}

func TestContentRangeTotal(t *testing.T) {
	require.Equal(t, int64(1000), contentRangeTotal("bytes 0-99/1000"))
	require.Equal(t, int64(55), contentRangeTotal("bytes */55"))
	require.Equal(t, int64(-1), contentRangeTotal("bytes 0-99/*"))
	require.Equal(t, int64(-1), contentRangeTotal(""))
}
