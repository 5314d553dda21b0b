package fs

import (
	"sync"
	"sync/atomic"

	"github.com/jkaberg/vodfs/catalog"
	"github.com/jkaberg/vodfs/probe"
	"github.com/jkaberg/vodfs/stream"
)

type State int32

const (
	StateOpen State = iota
	StateActivated
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateActivated:
		return "activated"
	case StateReleased:
		return "released"
	}
	return "unknown"
}

var _ stream.Handle = &Handle{}

// Handle is one open of a file. It starts pending, becomes activated with
// its first real read and ends released.
type Handle struct {
	id    uint64
	path  string
	entry *catalog.Entry
	rec   *stream.Record
	proc  probe.Process

	state     atomic.Int32
	activated atomic.Bool

	mu          sync.Mutex
	reads       int
	lastEnd     int64
	prebuffered bool
}

func (h *Handle) ID() uint64 {
	return h.id
}

func (h *Handle) Path() string {
	return h.path
}

func (h *Handle) Record() *stream.Record {
	return h.rec
}

func (h *Handle) State() State {
	return State(h.state.Load())
}

// Activated reports whether a real read ever went through this handle. It
// stays true after release.
func (h *Handle) Activated() bool {
	return h.activated.Load()
}

func (h *Handle) activate() {
	h.activated.Store(true)
	h.state.CompareAndSwap(int32(StateOpen), int32(StateActivated))
}

// release reports false when the handle was already released.
func (h *Handle) release() bool {
	for {
		s := h.state.Load()
		if State(s) == StateReleased {
			return false
		}
		if h.state.CompareAndSwap(s, int32(StateReleased)) {
			return true
		}
	}
}
