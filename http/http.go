package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jkaberg/vodfs/catalog"
	"github.com/jkaberg/vodfs/config"
	"github.com/jkaberg/vodfs/fs"
	"github.com/jkaberg/vodfs/metrics"
	"github.com/jkaberg/vodfs/probe"
	"github.com/jkaberg/vodfs/stream"
)

func NewRouter(dirs *catalog.DirCache, reg *stream.Registry, cls *probe.Classifier, v *fs.VFS) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.ErrorLogger())
	r.Use(Logger())

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	{
		api.GET("/status", apiStatusHandler(reg, v))
		api.GET("/probes", apiProbesHandler(cls))
		api.POST("/refresh", apiRefreshHandler(dirs))
	}

	return r
}

// New builds the status server; the caller starts and stops it.
func New(dirs *catalog.DirCache, reg *stream.Registry, cls *probe.Classifier, v *fs.VFS, cfg *config.HTTPGlobal) *http.Server {
	addr := fmt.Sprintf("%s:%d", cfg.IP, cfg.Port)
	log.Info().Str("host", addr).Msg("starting webserver")

	return &http.Server{
		Addr:    addr,
		Handler: NewRouter(dirs, reg, cls, v),
	}
}

// Logger logs every request at a level that follows its status.
func Logger() gin.HandlerFunc {
	l := log.Logger.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		msg := c.Errors.String()
		if msg == "" {
			msg = "request"
		}

		s := c.Writer.Status()
		var e *zerolog.Event
		switch {
		case s >= 500:
			e = l.Error()
		case s >= 400:
			e = l.Warn()
		default:
			e = l.Debug()
		}
		e.Str("method", c.Request.Method).
			Str("path", path).
			Int("status", s).
			Dur("latency", time.Since(start)).
			Msg(msg)
	}
}
