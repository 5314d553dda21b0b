package store

import (
	"encoding/binary"
	"errors"
	"path"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	dlog "github.com/jkaberg/vodfs/log"
)

var _ Mtimes = &DB{}

const mtimeRootKey = "/mtime/"

// DB keeps first-seen times in badger so they survive restarts. Lookups go
// through an in-memory copy; badger is only hit for paths not seen yet in
// this run.
type DB struct {
	db  *badger.DB
	log zerolog.Logger

	mu    sync.Mutex
	cache map[string]time.Time
}

func NewDB(p string) (*DB, error) {
	l := log.Logger.With().Str("component", "mtime-store").Logger()

	opts := badger.DefaultOptions(p).
		WithLogger(&dlog.Badger{L: l}).
		WithValueLogFileSize(1<<26 - 1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	err = db.RunValueLogGC(0.5)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		db.Close()
		return nil, err
	}

	return &DB{
		db:    db,
		log:   l,
		cache: make(map[string]time.Time),
	}, nil
}

func (d *DB) FirstSeen(p string, now time.Time) time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.cache[p]; ok {
		return t
	}

	key := []byte(path.Join(mtimeRootKey, p))

	t, err := d.get(key)
	switch {
	case err == nil:
	case errors.Is(err, badger.ErrKeyNotFound):
		t = now
		if err := d.set(key, t); err != nil {
			d.log.Warn().Err(err).Str("path", p).Msg("error storing first-seen time")
		}
	default:
		d.log.Warn().Err(err).Str("path", p).Msg("error reading first-seen time")
		t = now
	}

	d.cache[p] = t
	return t
}

func (d *DB) get(key []byte) (time.Time, error) {
	var t time.Time
	err := d.db.View(func(txn *badger.Txn) error {
		it, err := txn.Get(key)
		if err != nil {
			return err
		}
		return it.Value(func(v []byte) error {
			if len(v) != 8 {
				return badger.ErrKeyNotFound
			}
			t = time.Unix(0, int64(binary.BigEndian.Uint64(v)))
			return nil
		})
	})
	return t, err
}

func (d *DB) set(key []byte, t time.Time) error {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, uint64(t.UnixNano()))

	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, v)
	})
}

func (d *DB) Close() error {
	return d.db.Close()
}
