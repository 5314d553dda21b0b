package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/jkaberg/vodfs/backend"
	"github.com/jkaberg/vodfs/catalog"
	"github.com/jkaberg/vodfs/config"
	"github.com/jkaberg/vodfs/fs"
	"github.com/jkaberg/vodfs/fuse"
	dlog "github.com/jkaberg/vodfs/log"
	"github.com/jkaberg/vodfs/probe"
	"github.com/jkaberg/vodfs/server"
	"github.com/jkaberg/vodfs/store"
	"github.com/jkaberg/vodfs/stream"
)

const (
	configFlag             = "config"
	modeFlag               = "mode"
	backendURLFlag         = "backend-url"
	mountpointFlag         = "mountpoint"
	readaheadFlag          = "readahead-bytes"
	probeReadFlag          = "probe-read-bytes"
	maxReadFlag            = "max-read"
	foregroundFlag         = "foreground"
	singleThreadFlag       = "single-thread"
	disableKernelCacheFlag = "disable-kernel-cache"
	allowOtherFlag         = "allow-other"
	portFlag               = "http-port"
	webDAVPortFlag         = "webdav-port"
)

const shutdownTimeout = 10 * time.Second

func main() {
	app := &cli.App{
		Name:  "vodfs",
		Usage: "Read-only FUSE filesystem streaming a VOD catalog on demand.",
		Flags: flags(),

		Action: func(c *cli.Context) error {
			err := load(c)

			// stop program execution on errors to avoid flashing consoles
			if err != nil && runtime.GOOS == "windows" {
				log.Error().Err(err).Msg("problem starting application")
				fmt.Print("Press 'Enter' to continue...")
				bufio.NewReader(os.Stdin).ReadBytes('\n')
			}

			return err
		},

		HideHelpCommand: true,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("problem starting application")
	}
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    configFlag,
			EnvVars: []string{"VODFS_CONFIG"},
			Usage:   "YAML file containing vodfs configuration. Defaults and env vars are used when empty.",
		},
		&cli.StringFlag{
			Name:    modeFlag,
			EnvVars: []string{"VODFS_MODE"},
			Usage:   "Catalog exposed at the mount root: movies or tv.",
		},
		&cli.StringFlag{
			Name:    backendURLFlag,
			EnvVars: []string{"VODFS_BACKEND_URL"},
			Usage:   "Base URL of the media backend.",
		},
		&cli.StringFlag{
			Name:    mountpointFlag,
			EnvVars: []string{"VODFS_MOUNTPOINT"},
			Usage:   "Folder where the filesystem is mounted.",
		},
		&cli.StringFlag{
			Name:    readaheadFlag,
			EnvVars: []string{"VODFS_READAHEAD_BYTES"},
			Usage:   "Default upstream fetch size for real reads, like 4MiB.",
		},
		&cli.StringFlag{
			Name:    probeReadFlag,
			EnvVars: []string{"VODFS_PROBE_READ_BYTES"},
			Usage:   "Largest read that can be answered as a probe.",
		},
		&cli.StringFlag{
			Name:    maxReadFlag,
			EnvVars: []string{"VODFS_MAX_READ"},
			Usage:   "FUSE max_read mount option.",
		},
		&cli.BoolFlag{
			Name:    foregroundFlag,
			EnvVars: []string{"VODFS_FOREGROUND"},
			Usage:   "Run FUSE in foreground and log to the console.",
		},
		&cli.BoolFlag{
			Name:    singleThreadFlag,
			EnvVars: []string{"VODFS_SINGLE_THREAD"},
			Usage:   "Serve FUSE requests from a single thread.",
		},
		&cli.BoolFlag{
			Name:    disableKernelCacheFlag,
			EnvVars: []string{"VODFS_DISABLE_KERNEL_CACHE"},
			Usage:   "Mount with direct_io so every read reaches vodfs.",
		},
		&cli.BoolFlag{
			Name:    allowOtherFlag,
			EnvVars: []string{"VODFS_FUSE_ALLOW_OTHER"},
			Usage:   "Allow other users to access the mountpoint. You need to add user_allow_other flag to /etc/fuse.conf file.",
		},
		&cli.IntFlag{
			Name:    portFlag,
			EnvVars: []string{"VODFS_HTTP_PORT"},
			Usage:   "HTTP port for the status API. 0 disables it.",
		},
		&cli.IntFlag{
			Name:    webDAVPortFlag,
			EnvVars: []string{"VODFS_WEBDAV_PORT"},
			Usage:   "Port used for the WebDAV interface. 0 disables it.",
		},
	}
}

// applyFlags overrides configuration values with the flags given explicitly.
func applyFlags(c *cli.Context, conf *config.Root) error {
	if c.IsSet(modeFlag) {
		conf.Backend.Mode = c.String(modeFlag)
	}
	if c.IsSet(backendURLFlag) {
		conf.Backend.URL = c.String(backendURLFlag)
	}
	if c.IsSet(mountpointFlag) {
		conf.Fuse.Path = c.String(mountpointFlag)
	}

	bytes := []struct {
		flag string
		dst  *config.ByteSize
	}{
		{readaheadFlag, &conf.Cache.Readahead.Default},
		{probeReadFlag, &conf.Probe.ReadBytes},
		{maxReadFlag, &conf.Fuse.MaxRead},
	}
	for _, b := range bytes {
		if !c.IsSet(b.flag) {
			continue
		}
		v, err := config.ParseByteSize(c.String(b.flag))
		if err != nil {
			return fmt.Errorf("invalid value for --%s: %w", b.flag, err)
		}
		*b.dst = v
	}

	if c.IsSet(foregroundFlag) {
		conf.Fuse.Foreground = c.Bool(foregroundFlag)
	}
	if c.IsSet(singleThreadFlag) {
		conf.Fuse.SingleThread = c.Bool(singleThreadFlag)
	}
	if c.IsSet(disableKernelCacheFlag) {
		conf.Fuse.DisableKernelCache = c.Bool(disableKernelCacheFlag)
	}
	if c.IsSet(allowOtherFlag) {
		conf.Fuse.AllowOther = c.Bool(allowOtherFlag)
	}
	if c.IsSet(portFlag) {
		conf.HTTP.Port = c.Int(portFlag)
	}
	if c.IsSet(webDAVPortFlag) {
		if conf.WebDAV == nil {
			conf.WebDAV = &config.WebDAVGlobal{}
		}
		conf.WebDAV.Port = c.Int(webDAVPortFlag)
	}

	if conf.Fuse.Foreground {
		conf.Log.Console = true
	}

	switch conf.Backend.Mode {
	case config.ModeMovies, config.ModeTV:
	default:
		return fmt.Errorf("unknown mode %q, expected movies or tv", conf.Backend.Mode)
	}
	if conf.Backend.URL == "" {
		return errors.New("backend url is required")
	}

	return nil
}

func openStore(conf *config.State) (store.Mtimes, error) {
	if conf == nil || conf.Path == "" {
		return store.NewMemory(), nil
	}
	if err := os.MkdirAll(conf.Path, 0744); err != nil {
		return nil, fmt.Errorf("error creating state folder: %w", err)
	}
	return store.NewDB(conf.Path)
}

// reloadProbe applies the probe settings of a reloaded configuration. Flags
// given on the command line keep precedence over the file.
func reloadProbe(c *cli.Context, cls *probe.Classifier) func(*config.Root) {
	return func(r *config.Root) {
		if err := applyFlags(c, r); err != nil {
			log.Warn().Err(err).Msg("ignoring invalid configuration change")
			return
		}
		cls.Update(probe.SettingsFromConfig(r.Probe))
		log.Info().Msg("probe settings reloaded")
	}
}

func load(c *cli.Context) error {
	ch := config.NewHandler(c.String(configFlag))

	conf, err := ch.Get()
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	if err := applyFlags(c, conf); err != nil {
		return err
	}

	dlog.Load(conf.Log)

	client, err := backend.NewClient(conf.Backend, conf.Upstream)
	if err != nil {
		return fmt.Errorf("error creating backend client: %w", err)
	}

	mtimes, err := openStore(conf.State)
	if err != nil {
		return fmt.Errorf("error starting state database: %w", err)
	}
	defer func() {
		log.Info().Msg("closing state database...")
		if err := mtimes.Close(); err != nil {
			log.Warn().Err(err).Msg("problem closing state database")
		}
	}()

	dirs := catalog.NewDirCache(client, conf.Session.DirCacheTTL)
	reg := stream.NewRegistry(client, stream.OptionsFromConfig(conf))
	defer reg.Close()

	cls := probe.NewClassifier(probe.SettingsFromConfig(conf.Probe))
	procs := probe.NewProcResolver("/proc", probe.NewCategorizer(conf.Process))

	// renamed or removed entries must not keep serving old sessions
	dirs.OnInvalidate(reg.Drop)

	v := fs.New(dirs, reg, cls, mtimes, conf)
	defer v.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// an unreachable backend is a startup error, not an empty mount
	if _, err := dirs.GetEntries(ctx, "/", true); err != nil {
		return fmt.Errorf("error browsing backend root: %w", err)
	}

	if ch.Path() != "" {
		w, err := config.NewWatcher(ch, reloadProbe(c, cls))
		if err != nil {
			return fmt.Errorf("error creating configuration watcher: %w", err)
		}
		if err := w.Start(); err != nil {
			log.Warn().Err(err).Msg("configuration hot reload disabled")
		}
		defer w.Close()
	}

	go v.Run(ctx)

	mh := fuse.NewHandler(conf.Fuse)
	if err := mh.Mount(v, procs); err != nil {
		return fmt.Errorf("error mounting filesystem: %w", err)
	}

	servers := server.StartServers(dirs, reg, cls, v, conf.HTTP, conf.WebDAV)

	select {
	case <-ctx.Done():
		log.Info().Msg("unmounting fuse filesystem...")
		mh.Unmount()
		<-mh.Done()
	case <-mh.Done():
		if err := mh.Err(); err != nil {
			_ = servers.Shutdown(context.Background())
			return err
		}
		log.Warn().Str("path", conf.Fuse.Path).Msg("filesystem unmounted externally")
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Info().Msg("closing servers...")
	if err := servers.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("problem closing servers")
	}

	log.Info().Msg("exiting")
	return nil
}
