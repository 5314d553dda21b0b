package stream

import (
	"context"
	"time"

	"github.com/jkaberg/vodfs/metrics"
)

// StartPrefetch starts the background worker of rec unless one is running
// or the record is not tuned for prefetching.
func (r *Registry) StartPrefetch(rec *Record) bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.destroyed || rec.worker != nil || !rec.tuning.Prefetch {
		return false
	}

	ctx, cancel := context.WithCancel(r.ctx)
	w := &worker{cancel: cancel, done: make(chan struct{})}
	rec.worker = w

	metrics.AddPrefetchWorkers(1)
	go r.prefetchLoop(ctx, rec, w)

	r.log.Debug().Str("path", rec.path).Msg("prefetch worker started")
	return true
}

// StopPrefetch cancels the worker of rec and waits for it, bounded by the
// configured stop wait.
func (r *Registry) StopPrefetch(rec *Record) {
	rec.mu.Lock()
	w := rec.worker
	rec.worker = nil
	rec.mu.Unlock()

	if w != nil {
		w.stop(r.opts.StopWait)
	}
}

// prefetchLoop keeps TargetAhead bytes cached past the playback cursor.
// Once the target is reached it waits until the look-ahead drains below the
// low watermark before refilling.
func (r *Registry) prefetchLoop(ctx context.Context, rec *Record, w *worker) {
	defer func() {
		rec.mu.Lock()
		if rec.worker == w {
			rec.worker = nil
		}
		rec.mu.Unlock()

		metrics.AddPrefetchWorkers(-1)
		close(w.done)
	}()

	refilling := true
	for {
		if ctx.Err() != nil {
			return
		}

		rec.mu.Lock()
		cursor := rec.cursor
		end := rec.contiguousEndLocked(cursor)
		size := rec.knownSize
		t := rec.tuning
		rec.mu.Unlock()

		if !t.Prefetch {
			return
		}

		ahead := end - cursor
		wait := r.opts.PrefetchPause

		switch {
		case size >= 0 && end >= size:
			wait = r.opts.PrefetchInterval
		case ahead >= t.TargetAhead:
			refilling = false
			wait = r.opts.PrefetchInterval
		case !refilling && ahead >= t.LowWatermark:
			wait = r.opts.PrefetchInterval
		default:
			refilling = true
			n := prefetchChunk(t, ahead, end, size)
			if _, err := r.FetchAndCache(ctx, rec, end, n, t.CacheBudget, 0); err != nil {
				if ctx.Err() != nil {
					return
				}
				r.log.Debug().Err(err).Str("path", rec.path).Int64("offset", end).Msg("prefetch failed, backing off")
				wait = r.opts.PrefetchErrorBackoff
			}
		}

		if err := sleep(ctx, wait); err != nil {
			return
		}
	}
}

func prefetchChunk(t Tuning, ahead, end, size int64) int64 {
	n := max(t.Readahead, t.TargetAhead-ahead)
	if t.MaxFetch > 0 {
		n = min(n, t.MaxFetch)
	}
	if size >= 0 {
		n = min(n, size-end)
	}
	return n
}

// Prebuffer blocks until want bytes past offset are cached, the file ends
// or timeout expires. The first real read of a handle uses it so playback
// starts with a cushion.
func (r *Registry) Prebuffer(ctx context.Context, rec *Record, offset, want int64, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := offset + want
	for {
		rec.mu.Lock()
		end := rec.contiguousEndLocked(offset)
		size := rec.knownSize
		t := rec.tuning
		rec.mu.Unlock()

		if size >= 0 {
			target = min(target, size)
		}
		if end >= target {
			return nil
		}

		n := target - end
		if t.MaxFetch > 0 {
			n = min(n, t.MaxFetch)
		}

		data, err := r.FetchAndCache(ctx, rec, end, n, t.CacheBudget, 0)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return nil
		}
	}
}
