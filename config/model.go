package config

import "time"

// Root is the main yaml config object
type Root struct {
	Backend  *Backend      `yaml:"backend"`
	Upstream *Upstream     `yaml:"upstream"`
	Fuse     *FuseGlobal   `yaml:"fuse"`
	Cache    *Cache        `yaml:"cache"`
	Prefetch *Prefetch     `yaml:"prefetch"`
	Retry    *Retry        `yaml:"retry"`
	Session  *Session      `yaml:"session"`
	Probe    *Probe        `yaml:"probe"`
	Process  *Processes    `yaml:"processes"`
	State    *State        `yaml:"state"`
	Log      *Log          `yaml:"log"`
	HTTP     *HTTPGlobal   `yaml:"http"`
	WebDAV   *WebDAVGlobal `yaml:"webdav"`
}

type Log struct {
	Debug      bool   `yaml:"debug"`
	MaxBackups int    `yaml:"max_backups"`
	MaxSize    int    `yaml:"max_size"`
	MaxAge     int    `yaml:"max_age"`
	Path       string `yaml:"path"`
	// Console enables the colored stdout writer. It is forced on in foreground mode.
	Console bool `yaml:"console"`
}

type Backend struct {
	URL string `yaml:"url"`
	// Mode selects the catalog exposed at the mount root: movies or tv.
	Mode string `yaml:"mode"`
}

type Upstream struct {
	Timeout           time.Duration `yaml:"timeout"`
	MaxRedirects      int           `yaml:"max_redirects"`
	RequestsPerSecond float64       `yaml:"requests_per_second,omitempty"`
	UserAgent         string        `yaml:"user_agent,omitempty"`
}

type FuseGlobal struct {
	Path               string   `yaml:"path"`
	AllowOther         bool     `yaml:"allow_other,omitempty"`
	MaxRead            ByteSize `yaml:"max_read"`
	Foreground         bool     `yaml:"foreground,omitempty"`
	SingleThread       bool     `yaml:"single_thread,omitempty"`
	DisableKernelCache bool     `yaml:"disable_kernel_cache,omitempty"`
}

// Window holds one byte value per content category.
type Window struct {
	Default   ByteSize `yaml:"default"`
	Large     ByteSize `yaml:"large"`
	Transcode ByteSize `yaml:"transcode"`
}

type Cache struct {
	Readahead    Window   `yaml:"readahead"`
	MaxFetch     Window   `yaml:"max_fetch"`
	Budget       Window   `yaml:"budget"`
	GlobalBuffer ByteSize `yaml:"global_buffer"`
	// LargeContainers lists extensions that get the large windows and prefetching.
	LargeContainers []string `yaml:"large_containers"`
}

type Prefetch struct {
	TargetAhead      ByteSize      `yaml:"target_ahead"`
	LowWatermark     ByteSize      `yaml:"low_watermark"`
	Interval         time.Duration `yaml:"interval"`
	Pause            time.Duration `yaml:"pause"`
	ErrorBackoff     time.Duration `yaml:"error_backoff"`
	StopWait         time.Duration `yaml:"stop_wait"`
	PrebufferBytes   ByteSize      `yaml:"prebuffer_bytes"`
	PrebufferTimeout time.Duration `yaml:"prebuffer_timeout"`
	SeekReset        ByteSize      `yaml:"seek_reset"`
}

type Retry struct {
	Count    int           `yaml:"count"`
	Backoff  time.Duration `yaml:"backoff"`
	MinFetch ByteSize      `yaml:"min_fetch"`
}

type Session struct {
	IdleTTL              time.Duration `yaml:"idle_ttl"`
	DirCacheTTL          time.Duration `yaml:"dir_cache_ttl"`
	DropBuffersOnRelease bool          `yaml:"drop_buffers_on_release,omitempty"`
}

// RepeatLimit bounds how many small reads of one category are served as probes.
type RepeatLimit struct {
	Threshold int      `yaml:"threshold"`
	MaxOffset ByteSize `yaml:"max_offset"`
	MaxSize   ByteSize `yaml:"max_size"`
}

type Probe struct {
	ReadBytes           ByteSize      `yaml:"read_bytes"`
	SingleShotMaxOffset ByteSize      `yaml:"single_shot_max_offset"`
	Scanner             RepeatLimit   `yaml:"scanner"`
	DedicatedScanner    RepeatLimit   `yaml:"dedicated_scanner"`
	MediaServer         RepeatLimit   `yaml:"media_server"`
	RepeatWindow        time.Duration `yaml:"repeat_window"`
	CounterTTL          time.Duration `yaml:"counter_ttl"`
	IntentWindow        time.Duration `yaml:"intent_window"`
	TailBytes           ByteSize      `yaml:"tail_bytes"`
	TailMaxRead         ByteSize      `yaml:"tail_max_read"`
	ProvisionalSize     ByteSize      `yaml:"provisional_size"`
}

// Processes maps process names (as seen in /proc/<pid>/comm or argv[0]) to categories.
type Processes struct {
	Indexers          []string `yaml:"indexers"`
	Scanners          []string `yaml:"scanners"`
	DedicatedScanners []string `yaml:"dedicated_scanners"`
	MediaServers      []string `yaml:"media_servers"`
	Players           []string `yaml:"players"`
	Transcoders       []string `yaml:"transcoders"`
}

type State struct {
	// Path of the badger directory that keeps first-seen mtimes. Empty keeps them in memory.
	Path string `yaml:"path,omitempty"`
}

type HTTPGlobal struct {
	Port int    `yaml:"port"`
	IP   string `yaml:"ip"`
}

type WebDAVGlobal struct {
	Port int    `yaml:"port"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
}
