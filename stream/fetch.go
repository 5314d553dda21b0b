package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/jkaberg/vodfs/backend"
	"github.com/jkaberg/vodfs/metrics"
)

// FetchAndCache returns the bytes of [offset, offset+length) for rec,
// serving them from its segments when possible and fetching them upstream
// otherwise. length is the fetch window; minLength, when set, is what the
// caller needs, and a cache hit on [offset, offset+minLength) is returned
// as is. Otherwise the result is shorter than length only at EOF or when
// 5xx retries had to shrink the window, which never goes below minLength.
func (r *Registry) FetchAndCache(ctx context.Context, rec *Record, offset, length, budget, minLength int64) ([]byte, error) {
	need := length
	if minLength > 0 {
		need = min(length, minLength)
	}

	if data, ok := rec.Cached(offset, need); ok {
		metrics.RecordCacheLookup(true)
		return data, nil
	}

	rec.fetchMu.Lock()
	defer rec.fetchMu.Unlock()

	// someone may have fetched it while we waited
	if data, ok := rec.Cached(offset, need); ok {
		metrics.RecordCacheLookup(true)
		return data, nil
	}
	metrics.RecordCacheLookup(false)

	u, sess, err := r.prepare(ctx, rec)
	if err != nil {
		metrics.RecordFetchFailure()
		return nil, err
	}

	window := length
	if size := rec.KnownSize(); size >= 0 {
		window = min(window, size-offset)
	}
	if window <= 0 {
		return nil, nil
	}

	policy := r.opts.Retry
	floor := policy.Floor(window, minLength)
	refreshed := false

	var res *backend.RangeResult
	for attempt := 0; ; {
		res, err = r.up.RangedGet(ctx, sess, u, offset, window)
		if err == nil {
			break
		}
		if !backend.IsRetryable(err) {
			metrics.RecordFetchFailure()
			return nil, fmt.Errorf("error fetching %s at %d: %w", rec.path, offset, err)
		}

		attempt++
		next, ok := policy.Shrink(window, floor)
		if !ok || attempt > policy.MaxRetries {
			metrics.RecordFetchFailure()
			r.log.Error().Err(err).Str("path", rec.path).Int64("offset", offset).Int("attempts", attempt).Msg("giving up on ranged fetch")
			return nil, fmt.Errorf("error fetching %s at %d after %d attempts: %w", rec.path, offset, attempt, err)
		}

		// a second failure in a row may mean the session went stale upstream
		if attempt == 2 && !refreshed {
			refreshed = true
			if nu, rerr := r.refreshSession(ctx, rec); rerr != nil {
				r.log.Warn().Err(rerr).Str("path", rec.path).Msg("session refresh failed")
			} else {
				u = nu
			}
		}

		metrics.RecordFetchRetry()
		r.log.Warn().Err(err).
			Str("path", rec.path).
			Int64("offset", offset).
			Int64("window", window).
			Int64("next-window", next).
			Int("attempt", attempt).
			Msg("upstream server error, retrying with a smaller window")

		if err := sleep(ctx, policy.Backoff); err != nil {
			return nil, err
		}
		window = next
	}

	total := res.TotalSize
	if total < 0 && int64(len(res.Data)) < window {
		// a short body without a reported size ends the file
		total = offset + int64(len(res.Data))
	}
	rec.learn(total, res.SessionURL)

	if len(res.Data) == 0 {
		return nil, nil
	}

	metrics.RecordFetchedBytes(len(res.Data))
	rec.store(offset, res.Data, budget)
	r.trimGlobal()

	return res.Data[:min(int64(len(res.Data)), length)], nil
}

// ResolveMetadata learns the size and session URL of rec with a HEAD when
// the size is still unknown.
func (r *Registry) ResolveMetadata(ctx context.Context, rec *Record) error {
	if rec.KnownSize() >= 0 {
		return nil
	}

	rec.fetchMu.Lock()
	defer rec.fetchMu.Unlock()

	if rec.KnownSize() >= 0 {
		return nil
	}

	u, _, err := r.prepare(ctx, rec)
	if err != nil {
		return err
	}

	res, err := r.up.Head(ctx, u)
	if err != nil {
		return fmt.Errorf("error reading metadata of %s: %w", rec.path, err)
	}
	rec.learn(res.Size, res.SessionURL)

	r.log.Debug().Str("path", rec.path).Int64("size", res.Size).Bool("session", res.SessionURL != "").Msg("stream metadata resolved")

	return nil
}

// prepare returns the URL to read from, resolving the stream through the
// backend when the listing did not carry one, and the record's session.
// Caller holds rec.fetchMu.
func (r *Registry) prepare(ctx context.Context, rec *Record) (string, *backend.Session, error) {
	rec.mu.Lock()
	u := rec.sessionURL
	if u == "" {
		u = rec.streamURL
	}
	if rec.sess == nil && !rec.destroyed {
		rec.sess = r.up.NewSession()
	}
	sess := rec.sess
	rec.mu.Unlock()

	if u != "" {
		return u, sess, nil
	}

	su, err := r.resolveStream(ctx, rec)
	if err != nil {
		return "", nil, err
	}
	return su, sess, nil
}

func (r *Registry) resolveStream(ctx context.Context, rec *Record) (string, error) {
	e := rec.entry
	if e == nil || e.ID == "" {
		return "", fmt.Errorf("no stream url for %s: %w", rec.path, backend.ErrUpstreamUnavailable)
	}

	su, err := r.up.ResolveStreamURL(ctx, e.ContentType, e.ID)
	if err != nil {
		return "", err
	}

	rec.mu.Lock()
	rec.streamURL = su
	rec.mu.Unlock()
	e.SetStreamURL(su)

	return su, nil
}

// refreshSession drops the current session URL and asks the stream URL for
// a new one. Caller holds rec.fetchMu.
func (r *Registry) refreshSession(ctx context.Context, rec *Record) (string, error) {
	rec.mu.Lock()
	su := rec.streamURL
	rec.sessionURL = ""
	rec.mu.Unlock()

	if su == "" {
		var err error
		if su, err = r.resolveStream(ctx, rec); err != nil {
			return "", err
		}
	}

	res, err := r.up.Head(ctx, su)
	if err != nil {
		return su, err
	}
	rec.learn(res.Size, res.SessionURL)

	if res.SessionURL != "" {
		r.log.Info().Str("path", rec.path).Msg("session url refreshed")
		return res.SessionURL, nil
	}
	return su, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
