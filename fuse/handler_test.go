package fuse

import (
	"errors"
	"testing"

	"github.com/billziss-gh/cgofuse/fuse"
	"github.com/stretchr/testify/require"

	"github.com/jkaberg/vodfs/config"
	"github.com/jkaberg/vodfs/probe"
)

func TestOptionsNeverKeepPagesAcrossOpens(t *testing.T) {
	require := require.New(t)

	opts := NewHandler(&config.FuseGlobal{Path: t.TempDir()}).Options()
	require.Contains(opts, "ro")
	require.NotContains(opts, "kernel_cache")
	require.NotContains(opts, "direct_io")

	opts = NewHandler(&config.FuseGlobal{Path: t.TempDir(), DisableKernelCache: true, AllowOther: true}).Options()
	require.Contains(opts, "direct_io")
	require.Contains(opts, "allow_other")
	require.NotContains(opts, "kernel_cache")
}

func TestCacheMode(t *testing.T) {
	tests := []struct {
		name     string
		category probe.Category
		directIO bool
	}{
		{"player", probe.Player, false},
		{"transcoder", probe.Transcoder, false},
		{"scanner", probe.Scanner, true},
		{"media server", probe.MediaServer, true},
		{"indexer", probe.Indexer, true},
		{"unknown", probe.Unknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fi := &fuse.FileInfo_t{KeepCache: true}
			cacheMode(fi, probe.Process{Name: tt.name, Category: tt.category})
			require.Equal(t, tt.directIO, fi.DirectIo)
			require.False(t, fi.KeepCache)
		})
	}
}

func TestErrAfterFailedMount(t *testing.T) {
	require := require.New(t)

	h := NewHandler(&config.FuseGlobal{Path: t.TempDir()})
	require.NoError(h.Err())

	h.done = make(chan struct{})
	h.err = errors.New("mount failed")
	// not reported while the mount goroutine may still be running
	require.NoError(h.Err())

	close(h.done)
	require.EqualError(h.Err(), "mount failed")
}
