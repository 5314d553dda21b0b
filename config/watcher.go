package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const reloadDebounce = 500 * time.Millisecond

// Watcher reloads the configuration file when it changes on disk and hands
// the new values to onChange.
type Watcher struct {
	h        *Handler
	w        *fsnotify.Watcher
	onChange func(*Root)
	log      zerolog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	started bool
	done    chan struct{}
}

func NewWatcher(h *Handler, onChange func(*Root)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		h:        h,
		w:        w,
		onChange: onChange,
		log:      log.Logger.With().Str("component", "config-watcher").Logger(),
		done:     make(chan struct{}),
	}, nil
}

func (cw *Watcher) Start() error {
	// editors replace files on save, so the folder is watched instead of the file
	if err := cw.w.Add(filepath.Dir(cw.h.Path())); err != nil {
		return err
	}

	target := filepath.Clean(cw.h.Path())

	cw.mu.Lock()
	cw.started = true
	cw.mu.Unlock()

	go func() {
		defer close(cw.done)
		for {
			select {
			case event, ok := <-cw.w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				cw.schedule()
			case err, ok := <-cw.w.Errors:
				if !ok {
					return
				}
				cw.log.Error().Err(err).Str("file", target).Msg("watcher error")
			}
		}
	}()

	cw.log.Info().Str("file", target).Msg("watching configuration file")

	return nil
}

func (cw *Watcher) schedule() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.timer = time.AfterFunc(reloadDebounce, cw.reload)
}

func (cw *Watcher) reload() {
	conf, err := cw.h.Get()
	if err != nil {
		cw.log.Warn().Err(err).Msg("ignoring invalid configuration change")
		return
	}

	cw.log.Info().Msg("configuration reloaded")
	cw.onChange(conf)
}

func (cw *Watcher) Close() error {
	cw.mu.Lock()
	if cw.timer != nil {
		cw.timer.Stop()
	}
	started := cw.started
	cw.mu.Unlock()

	err := cw.w.Close()
	if started {
		<-cw.done
	}
	return err
}
