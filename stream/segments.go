package stream

import "github.com/jkaberg/vodfs/metrics"

// segment is an immutable run of bytes starting at off.
type segment struct {
	off  int64
	data []byte
}

func (s segment) end() int64 {
	return s.off + int64(len(s.data))
}

// The methods below require r.mu.

// lookupLocked returns [off, off+n) if the cached segments cover it
// contiguously. Past a known EOF it returns an empty hit.
func (r *Record) lookupLocked(off, n int64) ([]byte, bool) {
	if r.knownSize >= 0 {
		if off >= r.knownSize {
			return nil, true
		}
		n = min(n, r.knownSize-off)
	}
	if n <= 0 {
		return nil, true
	}

	end := off + n

	// fast path: one segment covers everything
	for _, s := range r.segs {
		if s.off <= off && s.end() >= end {
			return s.data[off-s.off : end-s.off], true
		}
	}

	if r.contiguousEndLocked(off) < end {
		return nil, false
	}

	out := make([]byte, 0, n)
	pos := off
	for pos < end {
		s, ok := r.coveringLocked(pos)
		if !ok {
			return nil, false
		}
		stop := min(s.end(), end)
		out = append(out, s.data[pos-s.off:stop-s.off]...)
		pos = stop
	}

	return out, true
}

// coveringLocked finds the segment holding pos that reaches furthest.
func (r *Record) coveringLocked(pos int64) (segment, bool) {
	var best segment
	found := false
	for _, s := range r.segs {
		if s.off <= pos && pos < s.end() && (!found || s.end() > best.end()) {
			best = s
			found = true
		}
	}
	return best, found
}

// contiguousEndLocked is the end of the cached run starting at off, or off
// itself when nothing is cached there.
func (r *Record) contiguousEndLocked(off int64) int64 {
	pos := off
	for {
		s, ok := r.coveringLocked(pos)
		if !ok {
			return pos
		}
		pos = s.end()
	}
}

// insertLocked stores data at off, replacing segments it makes redundant.
func (r *Record) insertLocked(off int64, data []byte) {
	if r.knownSize >= 0 {
		if off >= r.knownSize {
			return
		}
		if end := off + int64(len(data)); end > r.knownSize {
			data = data[:r.knownSize-off]
		}
	}
	if len(data) == 0 {
		return
	}

	n := segment{off: off, data: data}
	kept := r.segs[:0]
	for _, s := range r.segs {
		if s.off == n.off || (s.off >= n.off && s.end() <= n.end()) {
			r.account(-int64(len(s.data)))
			continue
		}
		kept = append(kept, s)
	}
	r.segs = append(kept, n)
	r.account(int64(len(data)))
}

// trimLocked evicts oldest segments until the record fits budget, always
// keeping the newest one.
func (r *Record) trimLocked(budget int64) {
	for r.buffered > budget && len(r.segs) > 1 {
		metrics.RecordEviction("budget", r.evictOldestLocked())
	}
}

func (r *Record) evictOldestLocked() int64 {
	if len(r.segs) == 0 {
		return 0
	}
	n := int64(len(r.segs[0].data))
	r.segs[0] = segment{}
	r.segs = r.segs[1:]
	r.account(-n)
	return n
}

func (r *Record) dropAllLocked() int64 {
	n := r.buffered
	r.segs = nil
	r.account(-n)
	return n
}

// clampLocked cuts cached data past a newly learned EOF.
func (r *Record) clampLocked() {
	if r.knownSize < 0 {
		return
	}

	kept := r.segs[:0]
	for _, s := range r.segs {
		switch {
		case s.off >= r.knownSize:
			r.account(-int64(len(s.data)))
		case s.end() > r.knownSize:
			cut := s.end() - r.knownSize
			s.data = s.data[:int64(len(s.data))-cut]
			r.account(-cut)
			kept = append(kept, s)
		default:
			kept = append(kept, s)
		}
	}
	r.segs = kept
}

func (r *Record) account(delta int64) {
	r.buffered += delta
	if r.total != nil {
		metrics.SetBufferedBytes(r.total.Add(delta))
	}
}
