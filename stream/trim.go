package stream

import (
	"time"

	"github.com/jkaberg/vodfs/metrics"
)

type victimKey struct {
	active   bool
	lastUsed time.Time
	seq      uint64
}

func (k victimKey) less(o victimKey) bool {
	if k.active != o.active {
		return !k.active
	}
	if !k.lastUsed.Equal(o.lastUsed) {
		return k.lastUsed.Before(o.lastUsed)
	}
	return k.seq < o.seq
}

// trimGlobal evicts oldest segments from the least recently used records,
// idle ones first, until the total fits the global ceiling. Only one trim
// runs at a time.
func (r *Registry) trimGlobal() {
	limit := r.opts.GlobalBuffer
	if limit <= 0 || r.total.Load() <= limit {
		return
	}

	r.trimMu.Lock()
	defer r.trimMu.Unlock()

	r.mu.Lock()
	recs := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mu.Unlock()

	var evicted int64
	for r.total.Load() > limit {
		victim := pickVictim(recs)
		if victim == nil {
			break
		}

		victim.mu.Lock()
		evicted += victim.evictOldestLocked()
		victim.mu.Unlock()
	}

	if evicted > 0 {
		metrics.RecordEviction("global", evicted)
		r.log.Debug().Int64("evicted", evicted).Int64("buffered", r.total.Load()).Int64("limit", limit).Msg("global buffer trimmed")
	}
}

func pickVictim(recs []*Record) *Record {
	var (
		victim *Record
		best   victimKey
	)

	for _, rec := range recs {
		rec.mu.Lock()
		k := victimKey{active: rec.refs > 0, lastUsed: rec.lastUsed, seq: rec.seq}
		has := len(rec.segs) > 0
		rec.mu.Unlock()

		if !has {
			continue
		}
		if victim == nil || k.less(best) {
			victim = rec
			best = k
		}
	}

	return victim
}
