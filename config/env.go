package config

import (
	"fmt"
	"strconv"
	"time"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

type envSetter func(string) error

func byteVar(p *ByteSize) envSetter {
	return func(s string) error {
		v, err := ParseByteSize(s)
		if err != nil {
			return err
		}
		*p = v
		return nil
	}
}

func durationVar(p *time.Duration) envSetter {
	return func(s string) error {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*p = v
		return nil
	}
}

func intVar(p *int) envSetter {
	return func(s string) error {
		v, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		*p = v
		return nil
	}
}

func floatVar(p *float64) envSetter {
	return func(s string) error {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*p = v
		return nil
	}
}

// ApplyEnv overrides tunables from VODFS_* variables. r must have defaults applied.
func ApplyEnv(r *Root, lookup LookupFunc) error {
	vars := []struct {
		key string
		set envSetter
	}{
		{"VODFS_READAHEAD_BYTES", byteVar(&r.Cache.Readahead.Default)},
		{"VODFS_READAHEAD_LARGE_BYTES", byteVar(&r.Cache.Readahead.Large)},
		{"VODFS_READAHEAD_TRANSCODE_BYTES", byteVar(&r.Cache.Readahead.Transcode)},
		{"VODFS_MAX_FETCH_BYTES", byteVar(&r.Cache.MaxFetch.Default)},
		{"VODFS_MAX_FETCH_LARGE_BYTES", byteVar(&r.Cache.MaxFetch.Large)},
		{"VODFS_MAX_FETCH_TRANSCODE_BYTES", byteVar(&r.Cache.MaxFetch.Transcode)},
		{"VODFS_CACHE_BUDGET_BYTES", byteVar(&r.Cache.Budget.Default)},
		{"VODFS_CACHE_BUDGET_LARGE_BYTES", byteVar(&r.Cache.Budget.Large)},
		{"VODFS_CACHE_BUDGET_TRANSCODE_BYTES", byteVar(&r.Cache.Budget.Transcode)},
		{"VODFS_GLOBAL_BUFFER_BYTES", byteVar(&r.Cache.GlobalBuffer)},

		{"VODFS_PREFETCH_INTERVAL", durationVar(&r.Prefetch.Interval)},
		{"VODFS_PREFETCH_PAUSE", durationVar(&r.Prefetch.Pause)},
		{"VODFS_PREFETCH_ERROR_BACKOFF", durationVar(&r.Prefetch.ErrorBackoff)},
		{"VODFS_PREBUFFER_BYTES", byteVar(&r.Prefetch.PrebufferBytes)},
		{"VODFS_PREBUFFER_TIMEOUT", durationVar(&r.Prefetch.PrebufferTimeout)},
		{"VODFS_TARGET_BUFFER_AHEAD_BYTES", byteVar(&r.Prefetch.TargetAhead)},
		{"VODFS_LOW_WATERMARK_BYTES", byteVar(&r.Prefetch.LowWatermark)},
		{"VODFS_SEEK_RESET_BYTES", byteVar(&r.Prefetch.SeekReset)},

		{"VODFS_RETRY_5XX_COUNT", intVar(&r.Retry.Count)},
		{"VODFS_RETRY_5XX_BACKOFF", durationVar(&r.Retry.Backoff)},
		{"VODFS_RETRY_MIN_FETCH_BYTES", byteVar(&r.Retry.MinFetch)},

		{"VODFS_DIR_CACHE_TTL", durationVar(&r.Session.DirCacheTTL)},
		{"VODFS_SESSION_IDLE_TTL", durationVar(&r.Session.IdleTTL)},
		{"VODFS_UPSTREAM_TIMEOUT", durationVar(&r.Upstream.Timeout)},
		{"VODFS_UPSTREAM_RPS", floatVar(&r.Upstream.RequestsPerSecond)},

		{"VODFS_PROBE_SCANNER_THRESHOLD", intVar(&r.Probe.Scanner.Threshold)},
		{"VODFS_PROBE_SCANNER_MAX_OFFSET", byteVar(&r.Probe.Scanner.MaxOffset)},
		{"VODFS_PROBE_SCANNER_MAX_SIZE", byteVar(&r.Probe.Scanner.MaxSize)},
		{"VODFS_PROBE_DEDICATED_THRESHOLD", intVar(&r.Probe.DedicatedScanner.Threshold)},
		{"VODFS_PROBE_DEDICATED_MAX_OFFSET", byteVar(&r.Probe.DedicatedScanner.MaxOffset)},
		{"VODFS_PROBE_DEDICATED_MAX_SIZE", byteVar(&r.Probe.DedicatedScanner.MaxSize)},
		{"VODFS_PROBE_MEDIA_SERVER_THRESHOLD", intVar(&r.Probe.MediaServer.Threshold)},
		{"VODFS_PROBE_MEDIA_SERVER_MAX_OFFSET", byteVar(&r.Probe.MediaServer.MaxOffset)},
		{"VODFS_PROBE_MEDIA_SERVER_MAX_SIZE", byteVar(&r.Probe.MediaServer.MaxSize)},
		{"VODFS_PROBE_REPEAT_WINDOW", durationVar(&r.Probe.RepeatWindow)},
		{"VODFS_PROBE_COUNTER_TTL", durationVar(&r.Probe.CounterTTL)},
		{"VODFS_PLAYBACK_INTENT_WINDOW", durationVar(&r.Probe.IntentWindow)},
		{"VODFS_TAIL_PROBE_BYTES", byteVar(&r.Probe.TailBytes)},
		{"VODFS_TAIL_PROBE_MAX_READ", byteVar(&r.Probe.TailMaxRead)},
		{"VODFS_PROVISIONAL_SIZE", byteVar(&r.Probe.ProvisionalSize)},
	}

	for _, v := range vars {
		s, ok := lookup(v.key)
		if !ok || s == "" {
			continue
		}
		if err := v.set(s); err != nil {
			return fmt.Errorf("invalid value for %s: %w", v.key, err)
		}
	}

	return nil
}
