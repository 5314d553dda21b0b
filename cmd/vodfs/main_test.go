package main

import (
	"flag"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/jkaberg/vodfs/config"
	"github.com/jkaberg/vodfs/probe"
)

func newContext(t *testing.T, args ...string) *cli.Context {
	t.Helper()

	set := flag.NewFlagSet("vodfs", flag.ContinueOnError)
	for _, f := range flags() {
		require.NoError(t, f.Apply(set))
	}
	require.NoError(t, set.Parse(args))

	return cli.NewContext(cli.NewApp(), set, nil)
}

func TestApplyFlags(t *testing.T) {
	require := require.New(t)

	c := newContext(t,
		"--backend-url", "http://backend:8080",
		"--mode", "tv",
		"--probe-read-bytes", "64KiB",
		"--foreground",
		"--webdav-port", "8081",
	)

	conf := config.AddDefaults(&config.Root{})
	readahead := conf.Cache.Readahead.Default
	require.NoError(applyFlags(c, conf))

	require.Equal("http://backend:8080", conf.Backend.URL)
	require.Equal(config.ModeTV, conf.Backend.Mode)
	require.Equal(64*config.KiB, conf.Probe.ReadBytes)
	require.True(conf.Fuse.Foreground)
	require.True(conf.Log.Console)
	require.Equal(8081, conf.WebDAV.Port)
	// unset flags keep the configured value
	require.Equal(readahead, conf.Cache.Readahead.Default)

	require.Error(applyFlags(newContext(t, "--backend-url", "http://b", "--mode", "music"), config.AddDefaults(&config.Root{})))
	require.Error(applyFlags(newContext(t), config.AddDefaults(&config.Root{})))
	require.Error(applyFlags(newContext(t, "--backend-url", "http://b", "--max-read", "lots"), config.AddDefaults(&config.Root{})))
}

func TestReloadKeepsFlagOverrides(t *testing.T) {
	require := require.New(t)

	h := config.NewHandler(filepath.Join(t.TempDir(), "config.yaml"))
	conf, err := h.Get()
	require.NoError(err)

	c := newContext(t, "--backend-url", "http://backend:8080", "--probe-read-bytes", "64KiB")
	require.NoError(applyFlags(c, conf))
	cls := probe.NewClassifier(probe.SettingsFromConfig(conf.Probe))

	// the file changes a threshold and carries its own read size
	conf.Probe.ReadBytes = 512 * config.KiB
	conf.Probe.Scanner.Threshold = 7
	require.NoError(h.Set(conf))

	reloaded, err := h.Get()
	require.NoError(err)
	reloadProbe(c, cls)(reloaded)

	require.Equal(int64(64*config.KiB), cls.Settings().ReadBytes)
	require.Equal(7, cls.Settings().Limits[probe.Scanner].Threshold)
}
