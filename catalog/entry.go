package catalog

import (
	"path"
	"strings"
	"sync"

	"github.com/jkaberg/vodfs/backend"
)

// Entry is a file or directory of the virtual tree. Size and session URL
// start unknown and are filled in as reads learn them.
type Entry struct {
	Path        string
	BrowsePath  string
	Name        string
	IsDir       bool
	ContentType string
	Extension   string
	ID          string

	mu         sync.RWMutex
	size       int64
	streamURL  string
	sessionURL string
}

func newRoot() *Entry {
	return &Entry{Path: separator, BrowsePath: separator, Name: separator, IsDir: true, size: -1}
}

// NewEntry builds the entry of re listed in directory dir.
func NewEntry(dir string, re backend.RemoteEntry) *Entry {
	p := path.Join(dir, re.Name)

	bp := re.Path
	if bp == "" {
		bp = p
	}

	ext := strings.TrimPrefix(re.Extension, ".")
	if ext == "" && !re.IsDir {
		ext = strings.TrimPrefix(path.Ext(re.Name), ".")
	}

	e := &Entry{
		Path:        p,
		BrowsePath:  bp,
		Name:        re.Name,
		IsDir:       re.IsDir,
		ContentType: re.ContentType,
		Extension:   strings.ToLower(ext),
		ID:          re.UUID,
		size:        -1,
		streamURL:   re.StreamURL,
		sessionURL:  re.SessionURL,
	}
	if re.Size != nil && *re.Size >= 0 {
		e.size = *re.Size
	}

	return e
}

// Size returns the known size, or -1.
func (e *Entry) Size() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.size
}

func (e *Entry) SetSize(n int64) {
	if n < 0 {
		return
	}
	e.mu.Lock()
	e.size = n
	e.mu.Unlock()
}

func (e *Entry) StreamURL() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.streamURL
}

func (e *Entry) SetStreamURL(u string) {
	e.mu.Lock()
	e.streamURL = u
	e.mu.Unlock()
}

func (e *Entry) SessionURL() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sessionURL
}

func (e *Entry) SetSessionURL(u string) {
	e.mu.Lock()
	e.sessionURL = u
	e.mu.Unlock()
}

// absorb copies size and session from a newer listing of the same item.
// It returns false when n describes a different stream and has to replace e.
func (e *Entry) absorb(n *Entry) bool {
	if e.IsDir != n.IsDir || e.ID != n.ID || e.ContentType != n.ContentType || e.BrowsePath != n.BrowsePath {
		return false
	}

	n.mu.RLock()
	stream, size, sess := n.streamURL, n.size, n.sessionURL
	n.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// an empty stream url means "resolve by id", which e may already have done
	if stream != "" && e.streamURL != "" && e.streamURL != stream {
		return false
	}
	if stream != "" {
		e.streamURL = stream
	}
	if size >= 0 {
		e.size = size
	}
	if sess != "" {
		e.sessionURL = sess
	}

	return true
}
