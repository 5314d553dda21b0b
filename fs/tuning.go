package fs

import (
	"strings"

	"github.com/jkaberg/vodfs/config"
	"github.com/jkaberg/vodfs/probe"
	"github.com/jkaberg/vodfs/stream"
)

// tuner picks the fetch windows of a real read from the file extension and
// the category of the reading process.
type tuner struct {
	large map[string]struct{}

	def, big, transcode stream.Tuning
}

func newTuner(c *config.Root) *tuner {
	t := &tuner{large: make(map[string]struct{})}
	for _, ext := range c.Cache.LargeContainers {
		t.large[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}

	window := func(readahead, maxFetch, budget config.ByteSize, prefetch bool) stream.Tuning {
		tn := stream.Tuning{
			Readahead:    readahead.Int64(),
			MaxFetch:     maxFetch.Int64(),
			CacheBudget:  budget.Int64(),
			TargetAhead:  c.Prefetch.TargetAhead.Int64(),
			LowWatermark: c.Prefetch.LowWatermark.Int64(),
			Prefetch:     prefetch,
		}
		if prefetch {
			// the look-ahead must fit the record next to one in-flight chunk
			tn.CacheBudget = max(tn.CacheBudget, tn.TargetAhead+tn.MaxFetch)
		}
		return tn
	}

	t.def = window(c.Cache.Readahead.Default, c.Cache.MaxFetch.Default, c.Cache.Budget.Default, false)
	t.big = window(c.Cache.Readahead.Large, c.Cache.MaxFetch.Large, c.Cache.Budget.Large, true)
	t.transcode = window(c.Cache.Readahead.Transcode, c.Cache.MaxFetch.Transcode, c.Cache.Budget.Transcode, true)

	return t
}

func (t *tuner) pick(ext string, c probe.Category) stream.Tuning {
	switch c {
	case probe.Scanner, probe.DedicatedScanner, probe.MediaServer, probe.Indexer:
		// scanners read what they ask for and nothing more
		tn := t.def
		tn.Readahead = 0
		return tn
	case probe.Transcoder:
		return t.transcode
	}

	if _, ok := t.large[ext]; ok {
		return t.big
	}
	return t.def
}
