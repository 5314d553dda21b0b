package stream

import (
	"time"

	"github.com/jkaberg/vodfs/config"
)

// Tuning are the per-record window sizes. They depend on the content type and
// on who is reading, so the filesystem layer picks them per read.
type Tuning struct {
	Readahead    int64
	CacheBudget  int64
	MaxFetch     int64
	TargetAhead  int64
	LowWatermark int64
	Prefetch     bool
}

// RetryPolicy says how a ranged fetch recovers from 5xx answers.
type RetryPolicy struct {
	MaxRetries int
	MinWindow  int64
	Backoff    time.Duration
}

// Shrink halves window, never going below floor. ok is false when window is
// already at the floor.
func (p RetryPolicy) Shrink(window, floor int64) (int64, bool) {
	if window <= floor {
		return window, false
	}
	return max(window/2, floor), true
}

// Floor is the smallest window a fetch that must return minLength bytes may
// shrink to.
func (p RetryPolicy) Floor(window, minLength int64) int64 {
	return min(window, max(p.MinWindow, minLength))
}

type Options struct {
	GlobalBuffer         int64
	IdleTTL              time.Duration
	DropBuffersOnRelease bool
	Retry                RetryPolicy

	PrefetchInterval     time.Duration
	PrefetchPause        time.Duration
	PrefetchErrorBackoff time.Duration
	StopWait             time.Duration

	Default Tuning
}

func OptionsFromConfig(c *config.Root) Options {
	return Options{
		GlobalBuffer:         c.Cache.GlobalBuffer.Int64(),
		IdleTTL:              c.Session.IdleTTL,
		DropBuffersOnRelease: c.Session.DropBuffersOnRelease,
		Retry: RetryPolicy{
			MaxRetries: c.Retry.Count,
			MinWindow:  c.Retry.MinFetch.Int64(),
			Backoff:    c.Retry.Backoff,
		},
		PrefetchInterval:     c.Prefetch.Interval,
		PrefetchPause:        c.Prefetch.Pause,
		PrefetchErrorBackoff: c.Prefetch.ErrorBackoff,
		StopWait:             c.Prefetch.StopWait,
		Default: Tuning{
			Readahead:    c.Cache.Readahead.Default.Int64(),
			CacheBudget:  c.Cache.Budget.Default.Int64(),
			MaxFetch:     c.Cache.MaxFetch.Default.Int64(),
			TargetAhead:  c.Prefetch.TargetAhead.Int64(),
			LowWatermark: c.Prefetch.LowWatermark.Int64(),
		},
	}
}
