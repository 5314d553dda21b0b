package store

import (
	"sync"
	"time"
)

// Mtimes hands out the modification time a path was first seen with, so
// repeated scans never see the tree change under them.
type Mtimes interface {
	FirstSeen(path string, now time.Time) time.Time
	Close() error
}

var _ Mtimes = &Memory{}

type Memory struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewMemory() *Memory {
	return &Memory{seen: make(map[string]time.Time)}
}

func (m *Memory) FirstSeen(p string, now time.Time) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.seen[p]; ok {
		return t
	}
	m.seen[p] = now
	return now
}

func (m *Memory) Close() error {
	return nil
}
