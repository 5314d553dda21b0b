package probe

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jkaberg/vodfs/config"
)

type Verdict int

const (
	Real Verdict = iota
	Probe
)

func (v Verdict) String() string {
	if v == Probe {
		return "probe"
	}
	return "real"
}

// ReadInfo describes one read as seen by the filesystem layer.
type ReadInfo struct {
	Path    string
	Offset  int64
	Size    int64
	Process Process

	// KnownSize is -1 while the file still reports its provisional size.
	KnownSize       int64
	ProvisionalSize int64

	// reads already served on this handle, and whether one of them went upstream
	HandleReads     int
	HandleActivated bool
}

// ReadClassifier is one probe detection strategy. Rules only ever flag
// probes; a read no rule flags is real.
type ReadClassifier interface {
	Name() string
	Classify(info ReadInfo) Verdict
}

// Limit bounds the repeat rule for one process category.
type Limit struct {
	Threshold int
	MaxOffset int64
	MaxSize   int64
}

type Settings struct {
	ReadBytes           int64
	SingleShotMaxOffset int64
	Limits              map[Category]Limit
	RepeatWindow        time.Duration
	CounterTTL          time.Duration
	IntentWindow        time.Duration
	TailBytes           int64
	TailMaxRead         int64
	ProvisionalSize     int64
}

func SettingsFromConfig(c *config.Probe) *Settings {
	limit := func(l config.RepeatLimit) Limit {
		return Limit{Threshold: l.Threshold, MaxOffset: l.MaxOffset.Int64(), MaxSize: l.MaxSize.Int64()}
	}

	return &Settings{
		ReadBytes:           c.ReadBytes.Int64(),
		SingleShotMaxOffset: c.SingleShotMaxOffset.Int64(),
		Limits: map[Category]Limit{
			Scanner:          limit(c.Scanner),
			DedicatedScanner: limit(c.DedicatedScanner),
			MediaServer:      limit(c.MediaServer),
		},
		RepeatWindow:    c.RepeatWindow,
		CounterTTL:      c.CounterTTL,
		IntentWindow:    c.IntentWindow,
		TailBytes:       c.TailBytes.Int64(),
		TailMaxRead:     c.TailMaxRead.Int64(),
		ProvisionalSize: c.ProvisionalSize.Int64(),
	}
}

// Decision is the classifier output. Rule names the rule that flagged a probe.
type Decision struct {
	Verdict Verdict
	Rule    string
}

// Classifier runs its rules in priority order; the first one flagging a
// probe wins.
type Classifier struct {
	settings atomic.Pointer[Settings]
	tracker  *Tracker
	rules    []ReadClassifier
	log      zerolog.Logger
}

// NewClassifier builds the default rule set: indexer, repeat, tail probe and
// single shot, in that order.
func NewClassifier(s *Settings) *Classifier {
	c := &Classifier{
		tracker: NewTracker(),
		log:     log.Logger.With().Str("component", "probe").Logger(),
	}
	c.settings.Store(s)

	c.rules = []ReadClassifier{
		IndexerRule{},
		&RepeatRule{settings: c.Settings, tracker: c.tracker},
		&TailRule{settings: c.Settings},
		&SingleShotRule{settings: c.Settings},
	}

	return c
}

// WithRules replaces the rule chain.
func (c *Classifier) WithRules(rules ...ReadClassifier) *Classifier {
	c.rules = rules
	return c
}

func (c *Classifier) Settings() *Settings {
	return c.settings.Load()
}

// Update swaps settings at runtime. Counters are kept.
func (c *Classifier) Update(s *Settings) {
	c.settings.Store(s)
	c.log.Info().Int64("probe-read-bytes", s.ReadBytes).Msg("probe settings updated")
}

func (c *Classifier) Tracker() *Tracker {
	return c.tracker
}

func (c *Classifier) Classify(info ReadInfo) Decision {
	for _, r := range c.rules {
		if r.Classify(info) == Probe {
			c.log.Debug().
				Str("path", info.Path).
				Int64("offset", info.Offset).
				Int64("size", info.Size).
				Str("process", info.Process.Name).
				Str("rule", r.Name()).
				Msg("serving probe read")
			return Decision{Verdict: Probe, Rule: r.Name()}
		}
	}
	return Decision{Verdict: Real}
}

// NoteOpen marks playback intent when a trusted process opens path.
func (c *Classifier) NoteOpen(path string, p Process) {
	if p.Category.Trusted() {
		c.tracker.MarkIntent(path)
	}
}

// NoteRealRead marks playback intent when a trusted process really reads
// path, so later scanner reads of it are not starved of data.
func (c *Classifier) NoteRealRead(path string, p Process) {
	if p.Category.Trusted() {
		c.tracker.MarkIntent(path)
	}
}

func (c *Classifier) Prune() int {
	s := c.Settings()
	return c.tracker.Prune(s.CounterTTL, s.IntentWindow)
}

// IndexerRule treats every read of a desktop or background indexer as a probe.
type IndexerRule struct{}

func (IndexerRule) Name() string { return "indexer" }

func (IndexerRule) Classify(info ReadInfo) Verdict {
	if info.Process.Category == Indexer {
		return Probe
	}
	return Real
}

// RepeatRule serves small header reads of scanners and media servers as
// probes until they have read the same file often enough to look like real
// consumption, or until someone started watching it.
type RepeatRule struct {
	settings func() *Settings
	tracker  *Tracker
}

func (*RepeatRule) Name() string { return "repeat" }

func (r *RepeatRule) Classify(info ReadInfo) Verdict {
	var kind string
	switch info.Process.Category {
	case Scanner, DedicatedScanner:
		kind = counterScanner
	case MediaServer:
		kind = counterMediaServer
	default:
		return Real
	}

	s := r.settings()
	l, ok := s.Limits[info.Process.Category]
	if !ok || info.Offset > l.MaxOffset || info.Size > l.MaxSize {
		return Real
	}

	hits := r.tracker.Hit(info.Path, kind, s.RepeatWindow)
	if hits > l.Threshold {
		return Real
	}
	if r.tracker.HasIntent(info.Path, s.IntentWindow) {
		return Real
	}
	return Probe
}

// TailRule answers reads near the end of the provisional size: players look
// for an index there and the file has not been sized yet.
type TailRule struct {
	settings func() *Settings
}

func (*TailRule) Name() string { return "tail" }

func (r *TailRule) Classify(info ReadInfo) Verdict {
	if info.KnownSize >= 0 {
		return Real
	}

	s := r.settings()
	provisional := info.ProvisionalSize
	if provisional <= 0 {
		provisional = s.ProvisionalSize
	}
	if info.Offset >= provisional-s.TailBytes && info.Size <= s.TailMaxRead {
		return Probe
	}
	return Real
}

// SingleShotRule catches the one small read an unknown process does right
// after opening a file to sniff its type.
type SingleShotRule struct {
	settings func() *Settings
}

func (*SingleShotRule) Name() string { return "single_shot" }

func (r *SingleShotRule) Classify(info ReadInfo) Verdict {
	if info.Process.Category != Unknown || info.HandleReads > 0 || info.HandleActivated {
		return Real
	}

	s := r.settings()
	if info.Offset <= s.SingleShotMaxOffset && info.Size <= s.ReadBytes {
		return Probe
	}
	return Real
}
