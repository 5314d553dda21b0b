package server

import (
	"context"
	"errors"
	stdhttp "net/http"

	"github.com/rs/zerolog/log"

	"github.com/jkaberg/vodfs/catalog"
	"github.com/jkaberg/vodfs/config"
	"github.com/jkaberg/vodfs/fs"
	apphttp "github.com/jkaberg/vodfs/http"
	"github.com/jkaberg/vodfs/probe"
	"github.com/jkaberg/vodfs/stream"
	"github.com/jkaberg/vodfs/webdav"
)

// Servers are the optional network surfaces next to the FUSE mount.
type Servers struct {
	servers []*stdhttp.Server
}

// StartServers starts the status API and WebDAV in background when their
// ports are configured. Listen errors are logged; the mount keeps running.
func StartServers(dirs *catalog.DirCache, reg *stream.Registry, cls *probe.Classifier, v *fs.VFS, httpConf *config.HTTPGlobal, webdavConf *config.WebDAVGlobal) *Servers {
	log.Info().Msg("starting servers")

	s := &Servers{}

	if httpConf != nil && httpConf.Port > 0 {
		s.serve("http", apphttp.New(dirs, reg, cls, v, httpConf))
	}

	if webdavConf != nil && webdavConf.Port > 0 {
		log.Info().Int("port", webdavConf.Port).Bool("auth", webdavConf.User != "").Msg("starting webDAV server")
		s.serve("webDAV", webdav.NewWebDAVServer(v, webdavConf))
	} else {
		log.Debug().Msg("webDAV disabled")
	}

	return s
}

func (s *Servers) serve(name string, srv *stdhttp.Server) {
	s.servers = append(s.servers, srv)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			log.Error().Err(err).Str("server", name).Str("addr", srv.Addr).Msg("error initializing server")
		}
	}()
}

func (s *Servers) Shutdown(ctx context.Context) error {
	var errs []error
	for _, srv := range s.servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
