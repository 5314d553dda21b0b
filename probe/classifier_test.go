package probe

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jkaberg/vodfs/config"
)

const (
	kib = 1 << 10
	mib = 1 << 20
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func newTestClassifier() (*Classifier, *fakeClock) {
	conf := config.AddDefaults(&config.Root{})
	c := NewClassifier(SettingsFromConfig(conf.Probe))
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	c.tracker.now = clk.now
	return c, clk
}

func read(path string, cat Category, off, size int64) ReadInfo {
	return ReadInfo{
		Path:      path,
		Offset:    off,
		Size:      size,
		Process:   Process{PID: 10, Name: cat.String(), Category: cat},
		KnownSize: -1,
	}
}

func TestIndexerAlwaysProbes(t *testing.T) {
	c, _ := newTestClassifier()

	d := c.Classify(read("/m/a.mkv", Indexer, 100*mib, 4*mib))
	require.Equal(t, Probe, d.Verdict)
	require.Equal(t, "indexer", d.Rule)
}

func TestUnknownProcessSingleShot(t *testing.T) {
	require := require.New(t)
	c, _ := newTestClassifier()

	info := read("/m/a.mkv", Unknown, 0, 4)
	require.Equal(Probe, c.Classify(info).Verdict)

	info.HandleReads = 1
	require.Equal(Real, c.Classify(info).Verdict)

	info = read("/m/a.mkv", Unknown, 0, 4*mib)
	require.Equal(Real, c.Classify(info).Verdict)
}

func TestTrustedReadIsReal(t *testing.T) {
	c, _ := newTestClassifier()
	require.Equal(t, Real, c.Classify(read("/m/a.mkv", Player, 0, 4)).Verdict)
	require.Equal(t, Real, c.Classify(read("/m/a.mkv", Transcoder, 0, mib)).Verdict)
}

func TestScannerThreshold(t *testing.T) {
	require := require.New(t)
	c, _ := newTestClassifier()

	for i := 0; i < 20; i++ {
		d := c.Classify(read("/m/a.mkv", Scanner, int64(i)*64*kib, 64*kib))
		require.Equal(Probe, d.Verdict, "read %d", i+1)
		require.Equal("repeat", d.Rule)
	}

	require.Equal(Real, c.Classify(read("/m/a.mkv", Scanner, 0, 64*kib)).Verdict)

	// other files keep their own counter
	require.Equal(Probe, c.Classify(read("/m/b.mkv", Scanner, 0, 64*kib)).Verdict)
}

func TestScannerCounterResetsAfterWindow(t *testing.T) {
	require := require.New(t)
	c, clk := newTestClassifier()

	for i := 0; i < 20; i++ {
		c.Classify(read("/m/a.mkv", Scanner, 0, kib))
	}
	require.Equal(Real, c.Classify(read("/m/a.mkv", Scanner, 0, kib)).Verdict)

	clk.t = clk.t.Add(time.Minute)
	require.Equal(Probe, c.Classify(read("/m/a.mkv", Scanner, 0, kib)).Verdict)
}

func TestScannerCeilings(t *testing.T) {
	c, _ := newTestClassifier()

	// past the scanner offset ceiling and not at the tail
	require.Equal(t, Real, c.Classify(read("/m/a.mkv", Scanner, 100*mib, kib)).Verdict)
	// bigger than the scanner size ceiling
	require.Equal(t, Real, c.Classify(read("/m/a.mkv", Scanner, 0, 8*mib)).Verdict)
}

func TestPlaybackIntentDisablesRepeatProbes(t *testing.T) {
	require := require.New(t)
	c, clk := newTestClassifier()

	require.Equal(Probe, c.Classify(read("/m/a.mkv", MediaServer, 0, kib)).Verdict)

	c.NoteOpen("/m/a.mkv", Process{Category: Transcoder})
	require.Equal(Real, c.Classify(read("/m/a.mkv", MediaServer, 0, kib)).Verdict)

	// untrusted opens do not count
	c.NoteOpen("/m/b.mkv", Process{Category: Scanner})
	require.Equal(Probe, c.Classify(read("/m/b.mkv", MediaServer, 0, kib)).Verdict)

	clk.t = clk.t.Add(10 * time.Minute)
	require.Equal(Probe, c.Classify(read("/m/a.mkv", MediaServer, 0, kib)).Verdict)
}

func TestTailProbe(t *testing.T) {
	require := require.New(t)
	c, _ := newTestClassifier()
	s := c.Settings()

	info := read("/m/a.mkv", Player, s.ProvisionalSize-64*kib, 64*kib)
	d := c.Classify(info)
	require.Equal(Probe, d.Verdict)
	require.Equal("tail", d.Rule)

	info.KnownSize = 2 * s.ProvisionalSize
	require.Equal(Real, c.Classify(info).Verdict)
}

func TestTailProbeIgnoresCounters(t *testing.T) {
	c, _ := newTestClassifier()
	s := c.Settings()

	for i := 0; i < 25; i++ {
		c.Classify(read("/m/a.mkv", Scanner, 0, kib))
	}
	require.Equal(t, Probe, c.Classify(read("/m/a.mkv", Scanner, s.ProvisionalSize-kib, kib)).Verdict)
}

func TestPrune(t *testing.T) {
	c, clk := newTestClassifier()

	c.Classify(read("/m/a.mkv", Scanner, 0, kib))
	c.NoteRealRead("/m/b.mkv", Process{Category: Player})
	require.Len(t, c.Tracker().Snapshot(), 1)

	clk.t = clk.t.Add(time.Hour)
	require.Equal(t, 2, c.Prune())
	require.Empty(t, c.Tracker().Snapshot())
}

func TestUpdateSettings(t *testing.T) {
	c, _ := newTestClassifier()

	s := *c.Settings()
	s.Limits = map[Category]Limit{Scanner: {Threshold: 1, MaxOffset: mib, MaxSize: mib}}
	c.Update(&s)

	require.Equal(t, Probe, c.Classify(read("/m/a.mkv", Scanner, 0, kib)).Verdict)
	require.Equal(t, Real, c.Classify(read("/m/a.mkv", Scanner, 0, kib)).Verdict)
}

func TestCategorize(t *testing.T) {
	cat := NewCategorizer(config.AddDefaults(&config.Root{}).Process)

	cases := []struct {
		comm, argv0 string
		want        Category
	}{
		{"Plex Media Scan", "/usr/lib/plexmediaserver/Plex Media Scanner", DedicatedScanner},
		{"Plex Transcoder", "", Transcoder},
		{"Plex Media Serv", "", MediaServer},
		{"ffprobe", "/usr/bin/ffprobe", Scanner},
		{"tracker-miner-f", "", Indexer},
		{"MPV", "", Player},
		{"bash", "/bin/bash", Unknown},
		{"", "/usr/bin/ffmpeg", Transcoder},
	}

	for _, tc := range cases {
		require.Equal(t, tc.want, cat.Categorize(tc.comm, tc.argv0), tc.comm)
	}
}

func TestProcResolver(t *testing.T) {
	require := require.New(t)

	root := t.TempDir()
	dir := filepath.Join(root, "42")
	require.NoError(os.MkdirAll(dir, 0755))
	require.NoError(os.WriteFile(filepath.Join(dir, "comm"), []byte("ffprobe\n"), 0644))
	require.NoError(os.WriteFile(filepath.Join(dir, "cmdline"), []byte("/usr/bin/ffprobe\x00-i\x00x.mkv\x00"), 0644))

	r := NewProcResolver(root, NewCategorizer(config.AddDefaults(&config.Root{}).Process))

	p := r.Resolve(42)
	require.Equal("ffprobe", p.Name)
	require.Equal(Scanner, p.Category)

	// cached
	require.NoError(os.WriteFile(filepath.Join(dir, "comm"), []byte("mpv\n"), 0644))
	require.Equal(Scanner, r.Resolve(42).Category)

	require.Equal(Unknown, r.Resolve(7).Category)
	require.Equal(Unknown, r.Resolve(0).Category)
}
