package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jkaberg/vodfs/config"
	"github.com/jkaberg/vodfs/metrics"
)

const (
	sessionHeader = "X-Session-URL"

	// listing and error bodies are small; never buffer more than this
	maxJSONBody = 16 << 20
)

type Client struct {
	base         *url.URL
	mode         string
	timeout      time.Duration
	maxRedirects int
	userAgent    string

	httpc   *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

func NewClient(b *config.Backend, u *config.Upstream) (*Client, error) {
	if b.URL == "" {
		return nil, errors.New("backend url is required")
	}

	base, err := url.Parse(strings.TrimRight(b.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}

	// unlimited unless configured; the upstream is usually connection limited
	lim := rate.NewLimiter(rate.Inf, 0)
	if u.RequestsPerSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(u.RequestsPerSecond), max(1, int(u.RequestsPerSecond)))
	}

	return &Client{
		base:         base,
		mode:         b.Mode,
		timeout:      u.Timeout,
		maxRedirects: u.MaxRedirects,
		userAgent:    u.UserAgent,
		httpc:        newHTTPClient(http.DefaultTransport),
		limiter:      lim,
		log:          log.Logger.With().Str("component", "backend").Logger(),
	}, nil
}

func newHTTPClient(rt http.RoundTripper) *http.Client {
	return &http.Client{
		Transport: rt,
		// redirects are followed by hand so Range survives every hop
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Browse lists one backend directory.
func (c *Client) Browse(ctx context.Context, p string) ([]RemoteEntry, error) {
	u := c.base.JoinPath("browse", c.mode+"/")
	u.RawQuery = url.Values{"path": []string{p}}.Encode()

	var br browseResponse
	if err := c.getJSON(ctx, u.String(), &br); err != nil {
		return nil, fmt.Errorf("error browsing %q: %w", p, err)
	}

	for i := range br.Entries {
		if br.Entries[i].StreamURL != "" {
			br.Entries[i].StreamURL = c.resolve(br.Entries[i].StreamURL)
		}
		if br.Entries[i].SessionURL != "" {
			br.Entries[i].SessionURL = c.resolve(br.Entries[i].SessionURL)
		}
	}

	return br.Entries, nil
}

// ResolveStreamURL asks the backend for the playable URL of an item.
func (c *Client) ResolveStreamURL(ctx context.Context, contentType, id string) (string, error) {
	u := c.base.JoinPath("stream", contentType, id+"/")

	var sr streamResponse
	if err := c.getJSON(ctx, u.String(), &sr); err != nil {
		return "", fmt.Errorf("error resolving stream for %s/%s: %w", contentType, id, err)
	}
	if sr.StreamURL == "" {
		return "", fmt.Errorf("empty stream url for %s/%s: %w", contentType, id, ErrUpstreamUnavailable)
	}

	return c.resolve(sr.StreamURL), nil
}

// Head learns the size and session URL of a stream.
func (c *Client) Head(ctx context.Context, rawURL string) (*HeadResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, final, err := c.do(ctx, c.httpc, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, URL: final}
	}

	return &HeadResult{
		Size:       resp.ContentLength,
		SessionURL: sessionURL(resp, rawURL, final),
		FinalURL:   final,
	}, nil
}

// RangedGet fetches [offset, offset+length) from rawURL using the connection
// of s. The body is never read past length bytes.
func (c *Client) RangedGet(ctx context.Context, s *Session, rawURL string, offset, length int64) (*RangeResult, error) {
	if length <= 0 {
		return &RangeResult{TotalSize: -1}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	h := http.Header{}
	h.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

	hc := c.httpc
	if s != nil {
		hc = s.client
	}

	resp, final, err := c.do(ctx, hc, http.MethodGet, rawURL, h)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	res := &RangeResult{
		TotalSize:  -1,
		SessionURL: sessionURL(resp, rawURL, final),
		FinalURL:   final,
	}

	switch {
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		res.TotalSize = contentRangeTotal(resp.Header.Get("Content-Range"))
		return res, nil
	case resp.StatusCode == http.StatusPartialContent:
		res.TotalSize = contentRangeTotal(resp.Header.Get("Content-Range"))
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		// Range was ignored: the body starts at zero
		res.TotalSize = resp.ContentLength
		if offset > 0 {
			n, err := io.CopyN(io.Discard, resp.Body, offset)
			if errors.Is(err, io.EOF) {
				if res.TotalSize < 0 {
					res.TotalSize = n
				}
				return res, nil
			}
			if err != nil {
				return nil, fmt.Errorf("%w: skipping to offset %d: %w", ErrUpstreamUnavailable, offset, err)
			}
		}
	default:
		return nil, &StatusError{Code: resp.StatusCode, URL: final}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, length))
	if err != nil {
		return nil, fmt.Errorf("%w: reading range body: %w", ErrUpstreamUnavailable, err)
	}
	res.Data = data

	return res, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, v interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	h := http.Header{}
	h.Set("Accept", "application/json")

	resp, final, err := c.do(ctx, c.httpc, http.MethodGet, rawURL, h)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, URL: final}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONBody)).Decode(v); err != nil {
		return fmt.Errorf("%w: decoding response from %s: %w", ErrUpstreamUnavailable, final, err)
	}

	return nil
}

// do runs one request, following redirects manually up to maxRedirects hops.
// The returned response body must be closed by the caller.
func (c *Client) do(ctx context.Context, hc *http.Client, method, rawURL string, h http.Header) (*http.Response, string, error) {
	current := rawURL
	for hop := 0; ; hop++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, current, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
		}

		req, err := http.NewRequestWithContext(ctx, method, current, nil)
		if err != nil {
			return nil, current, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
		}
		for k, v := range h {
			req.Header[k] = v
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		start := time.Now()
		resp, err := hc.Do(req)
		if err != nil {
			metrics.RecordBackendRequest(method, 0, time.Since(start))
			return nil, current, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
		}
		metrics.RecordBackendRequest(method, resp.StatusCode, time.Since(start))

		if !isRedirect(resp.StatusCode) {
			return resp, current, nil
		}

		loc, err := resp.Location()
		drain(resp)
		if err != nil {
			return nil, current, fmt.Errorf("%w: redirect without location: %w", ErrUpstreamUnavailable, err)
		}

		if hop+1 > c.maxRedirects {
			return nil, current, fmt.Errorf("%s %s: %w", method, rawURL, ErrTooManyRedirects)
		}

		c.log.Debug().Str("from", current).Str("to", loc.String()).Int("hop", hop+1).Msg("following redirect")
		current = loc.String()
	}
}

func (c *Client) resolve(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return c.base.ResolveReference(u).String()
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func drain(resp *http.Response) {
	_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)
	resp.Body.Close()
}

// sessionURL prefers an explicit session header and falls back to the
// redirect target when the request was redirected.
func sessionURL(resp *http.Response, original, final string) string {
	if v := resp.Header.Get(sessionHeader); v != "" {
		if base, err := url.Parse(final); err == nil {
			if ref, err := url.Parse(v); err == nil {
				return base.ResolveReference(ref).String()
			}
		}
		return v
	}
	if final != original {
		return final
	}
	return ""
}

// contentRangeTotal extracts N from "bytes a-b/N" or "bytes */N"; -1 if absent.
func contentRangeTotal(v string) int64 {
	i := strings.LastIndexByte(v, '/')
	if i < 0 {
		return -1
	}

	n, err := strconv.ParseInt(strings.TrimSpace(v[i+1:]), 10, 64)
	if err != nil {
		return -1
	}
	return n
}
