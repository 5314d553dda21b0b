package config

import "time"

const (
	mountFolder = "./vodfs-data/mount"
	logFolder   = "./vodfs-data/logs"

	ModeMovies = "movies"
	ModeTV     = "tv"
)

const (
	KiB ByteSize = 1 << 10
	MiB ByteSize = 1 << 20
	GiB ByteSize = 1 << 30
)

func AddDefaults(r *Root) *Root {
	if r.Backend == nil {
		r.Backend = &Backend{}
	}
	if r.Backend.Mode == "" {
		r.Backend.Mode = ModeMovies
	}

	if r.Upstream == nil {
		r.Upstream = &Upstream{}
	}
	if r.Upstream.Timeout == 0 {
		r.Upstream.Timeout = 30 * time.Second
	}
	if r.Upstream.MaxRedirects == 0 {
		r.Upstream.MaxRedirects = 5
	}
	if r.Upstream.UserAgent == "" {
		r.Upstream.UserAgent = "vodfs"
	}

	if r.Fuse == nil {
		r.Fuse = &FuseGlobal{}
	}
	if r.Fuse.Path == "" {
		r.Fuse.Path = mountFolder
	}
	if r.Fuse.MaxRead == 0 {
		r.Fuse.MaxRead = MiB
	}

	if r.Cache == nil {
		r.Cache = &Cache{}
	}
	defaultWindow(&r.Cache.Readahead, 4*MiB, 16*MiB, 8*MiB)
	defaultWindow(&r.Cache.MaxFetch, 8*MiB, 32*MiB, 32*MiB)
	defaultWindow(&r.Cache.Budget, 32*MiB, 128*MiB, 128*MiB)
	if r.Cache.GlobalBuffer == 0 {
		r.Cache.GlobalBuffer = 512 * MiB
	}
	if len(r.Cache.LargeContainers) == 0 {
		r.Cache.LargeContainers = []string{"mkv", "m2ts", "ts", "iso", "vob"}
	}

	if r.Prefetch == nil {
		r.Prefetch = &Prefetch{}
	}
	if r.Prefetch.TargetAhead == 0 {
		r.Prefetch.TargetAhead = 64 * MiB
	}
	if r.Prefetch.LowWatermark == 0 {
		r.Prefetch.LowWatermark = r.Prefetch.TargetAhead / 2
	}
	if r.Prefetch.Interval == 0 {
		r.Prefetch.Interval = 200 * time.Millisecond
	}
	if r.Prefetch.Pause == 0 {
		r.Prefetch.Pause = 10 * time.Millisecond
	}
	if r.Prefetch.ErrorBackoff == 0 {
		r.Prefetch.ErrorBackoff = time.Second
	}
	if r.Prefetch.StopWait == 0 {
		r.Prefetch.StopWait = 2 * time.Second
	}
	if r.Prefetch.PrebufferBytes == 0 {
		r.Prefetch.PrebufferBytes = 8 * MiB
	}
	if r.Prefetch.PrebufferTimeout == 0 {
		r.Prefetch.PrebufferTimeout = 5 * time.Second
	}
	if r.Prefetch.SeekReset == 0 {
		r.Prefetch.SeekReset = 64 * MiB
	}

	if r.Retry == nil {
		r.Retry = &Retry{}
	}
	if r.Retry.Count == 0 {
		r.Retry.Count = 3
	}
	if r.Retry.Backoff == 0 {
		r.Retry.Backoff = 500 * time.Millisecond
	}
	if r.Retry.MinFetch == 0 {
		r.Retry.MinFetch = 256 * KiB
	}

	if r.Session == nil {
		r.Session = &Session{}
	}
	if r.Session.IdleTTL == 0 {
		r.Session.IdleTTL = 5 * time.Minute
	}
	if r.Session.DirCacheTTL == 0 {
		r.Session.DirCacheTTL = time.Minute
	}

	if r.Probe == nil {
		r.Probe = &Probe{}
	}
	if r.Probe.ReadBytes == 0 {
		r.Probe.ReadBytes = 128 * KiB
	}
	if r.Probe.SingleShotMaxOffset == 0 {
		r.Probe.SingleShotMaxOffset = 64 * KiB
	}
	defaultRepeat(&r.Probe.Scanner, 20, 16*MiB, 1*MiB)
	defaultRepeat(&r.Probe.DedicatedScanner, 64, 64*MiB, 2*MiB)
	defaultRepeat(&r.Probe.MediaServer, 8, 4*MiB, 256*KiB)
	if r.Probe.RepeatWindow == 0 {
		r.Probe.RepeatWindow = 30 * time.Second
	}
	if r.Probe.CounterTTL == 0 {
		r.Probe.CounterTTL = 10 * time.Minute
	}
	if r.Probe.IntentWindow == 0 {
		r.Probe.IntentWindow = 2 * time.Minute
	}
	if r.Probe.TailBytes == 0 {
		r.Probe.TailBytes = 16 * MiB
	}
	if r.Probe.TailMaxRead == 0 {
		r.Probe.TailMaxRead = 1 * MiB
	}
	if r.Probe.ProvisionalSize == 0 {
		r.Probe.ProvisionalSize = 30 * GiB
	}

	if r.Process == nil {
		r.Process = &Processes{
			Indexers:          []string{"tracker-miner-f", "tracker-extract", "localsearch", "baloo_file", "updatedb", "plocate"},
			Scanners:          []string{"ffprobe", "mediainfo", "exiftool", "file"},
			DedicatedScanners: []string{"Plex Media Scan", "Plex Media Scanner"},
			MediaServers:      []string{"Plex Media Serv", "Plex Media Server", "jellyfin", "EmbyServer", "emby-server"},
			Players:           []string{"mpv", "vlc", "kodi.bin", "mplayer", "Plex Media Play"},
			Transcoders:       []string{"Plex Transcoder", "ffmpeg"},
		}
	}

	if r.State == nil {
		r.State = &State{}
	}

	if r.HTTP == nil {
		r.HTTP = &HTTPGlobal{}
	}
	if r.HTTP.IP == "" {
		r.HTTP.IP = "0.0.0.0"
	}

	if r.Log == nil {
		r.Log = &Log{}
	}
	if r.Log.Path == "" {
		r.Log.Path = logFolder
	}

	return r
}

func defaultWindow(w *Window, def, large, transcode ByteSize) {
	if w.Default == 0 {
		w.Default = def
	}
	if w.Large == 0 {
		w.Large = large
	}
	if w.Transcode == 0 {
		w.Transcode = transcode
	}
}

func defaultRepeat(l *RepeatLimit, threshold int, maxOffset, maxSize ByteSize) {
	if l.Threshold == 0 {
		l.Threshold = threshold
	}
	if l.MaxOffset == 0 {
		l.MaxOffset = maxOffset
	}
	if l.MaxSize == 0 {
		l.MaxSize = maxSize
	}
}
