package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryFirstSeen(t *testing.T) {
	require := require.New(t)

	m := NewMemory()
	t0 := time.Unix(1700000000, 0)

	require.Equal(t0, m.FirstSeen("/Movies/A.mkv", t0))
	require.Equal(t0, m.FirstSeen("/Movies/A.mkv", t0.Add(time.Hour)))
	require.Equal(t0.Add(time.Hour), m.FirstSeen("/Movies/B.mkv", t0.Add(time.Hour)))
	require.NoError(m.Close())
}

func TestDBSurvivesReopen(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	t0 := time.Unix(1700000000, 0)

	db, err := NewDB(dir)
	require.NoError(err)
	require.True(t0.Equal(db.FirstSeen("/Movies/A.mkv", t0)))
	require.True(t0.Equal(db.FirstSeen("/Movies/A.mkv", t0.Add(time.Minute))))
	require.NoError(db.Close())

	db, err = NewDB(dir)
	require.NoError(err)
	defer db.Close()

	require.True(t0.Equal(db.FirstSeen("/Movies/A.mkv", t0.Add(time.Hour))))
	later := t0.Add(2 * time.Hour)
	require.True(later.Equal(db.FirstSeen("/Movies/B.mkv", later)))
}
