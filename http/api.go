package http

import (
	"errors"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"github.com/jkaberg/vodfs/catalog"
	"github.com/jkaberg/vodfs/fs"
	"github.com/jkaberg/vodfs/probe"
	"github.com/jkaberg/vodfs/stream"
)

var apiStatusHandler = func(reg *stream.Registry, v *fs.VFS) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		buffered := reg.TotalBuffered()
		ceiling := reg.Options().GlobalBuffer

		ctx.JSON(http.StatusOK, &Status{
			Sessions:      reg.Snapshot(),
			OpenHandles:   v.OpenHandles(),
			Buffered:      buffered,
			BufferedHuman: humanize.IBytes(uint64(max(buffered, 0))),
			Ceiling:       ceiling,
			CeilingHuman:  humanize.IBytes(uint64(max(ceiling, 0))),
		})
	}
}

var apiProbesHandler = func(cls *probe.Classifier) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		s := cls.Settings()
		ctx.JSON(http.StatusOK, gin.H{
			"counters": cls.Tracker().Snapshot(),
			"settings": gin.H{
				"read_bytes":             s.ReadBytes,
				"single_shot_max_offset": s.SingleShotMaxOffset,
				"repeat_window":          s.RepeatWindow.String(),
				"counter_ttl":            s.CounterTTL.String(),
				"intent_window":          s.IntentWindow.String(),
				"tail_bytes":             s.TailBytes,
				"tail_max_read":          s.TailMaxRead,
				"provisional_size":       s.ProvisionalSize,
			},
		})
	}
}

// apiRefreshHandler browses a directory again right away instead of
// waiting for its listing to expire.
var apiRefreshHandler = func(dirs *catalog.DirCache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req Refresh
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(http.StatusBadRequest, &Error{Error: err.Error()})
			return
		}

		entries, err := dirs.GetEntries(ctx.Request.Context(), req.Path, true)
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			ctx.JSON(http.StatusNotFound, &Error{Error: err.Error()})
			return
		case errors.Is(err, catalog.ErrNotDir):
			ctx.JSON(http.StatusBadRequest, &Error{Error: err.Error()})
			return
		case err != nil:
			_ = ctx.Error(err)
			ctx.JSON(http.StatusBadGateway, &Error{Error: err.Error()})
			return
		}

		ctx.JSON(http.StatusOK, gin.H{"path": req.Path, "entries": len(entries)})
	}
}
