package probe

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/jkaberg/vodfs/config"
)

// Category groups the processes that touch the mount by how they read.
type Category int

const (
	Unknown Category = iota
	Player
	Transcoder
	MediaServer
	Scanner
	DedicatedScanner
	Indexer
)

func (c Category) String() string {
	switch c {
	case Player:
		return "player"
	case Transcoder:
		return "transcoder"
	case MediaServer:
		return "media_server"
	case Scanner:
		return "scanner"
	case DedicatedScanner:
		return "dedicated_scanner"
	case Indexer:
		return "indexer"
	}
	return "unknown"
}

// Trusted processes read because someone is watching.
func (c Category) Trusted() bool {
	return c == Player || c == Transcoder
}

type Process struct {
	PID      int
	Name     string
	Category Category
}

// Resolver maps the pid of a filesystem caller to a process.
type Resolver interface {
	Resolve(pid int) Process
}

// Categorizer assigns categories from configured name lists.
type Categorizer struct {
	lists []categoryList
}

type categoryList struct {
	c     Category
	names []string
}

func NewCategorizer(p *config.Processes) *Categorizer {
	// most specific first: a dedicated scanner must not match as a media server
	return &Categorizer{lists: []categoryList{
		{Indexer, p.Indexers},
		{DedicatedScanner, p.DedicatedScanners},
		{Scanner, p.Scanners},
		{MediaServer, p.MediaServers},
		{Transcoder, p.Transcoders},
		{Player, p.Players},
	}}
}

// Categorize matches comm (possibly truncated by the kernel) and the
// basename of argv[0].
func (c *Categorizer) Categorize(comm, argv0 string) Category {
	base := filepath.Base(argv0)
	for _, l := range c.lists {
		for _, n := range l.names {
			if matchName(comm, n) || (argv0 != "" && strings.EqualFold(base, n)) {
				return l.c
			}
		}
	}
	return Unknown
}

// comm is cut to 15 bytes, so a 15 byte comm matches any longer name it prefixes.
const commLen = 15

func matchName(comm, name string) bool {
	if comm == "" {
		return false
	}
	if strings.EqualFold(comm, name) {
		return true
	}
	return len(comm) >= commLen && len(name) > len(comm) && strings.EqualFold(name[:len(comm)], comm)
}

// ProcResolver reads /proc/<pid>/comm and cmdline. Lookups are cached for a
// few seconds since one playback issues thousands of reads.
type ProcResolver struct {
	root  string
	cat   *Categorizer
	cache *expirable.LRU[int, Process]
}

func NewProcResolver(root string, cat *Categorizer) *ProcResolver {
	if root == "" {
		root = "/proc"
	}
	return &ProcResolver{
		root:  root,
		cat:   cat,
		cache: expirable.NewLRU[int, Process](1024, nil, 5*time.Second),
	}
}

func (r *ProcResolver) Resolve(pid int) Process {
	if pid <= 0 {
		return Process{PID: pid}
	}
	if p, ok := r.cache.Get(pid); ok {
		return p
	}

	dir := filepath.Join(r.root, strconv.Itoa(pid))

	var comm, argv0 string
	if b, err := os.ReadFile(filepath.Join(dir, "comm")); err == nil {
		comm = strings.TrimSpace(string(b))
	}
	if b, err := os.ReadFile(filepath.Join(dir, "cmdline")); err == nil {
		if i := bytes.IndexByte(b, 0); i >= 0 {
			b = b[:i]
		}
		argv0 = string(b)
	}

	name := comm
	if name == "" {
		name = filepath.Base(argv0)
	}

	p := Process{PID: pid, Name: name, Category: r.cat.Categorize(comm, argv0)}
	r.cache.Add(pid, p)

	return p
}
