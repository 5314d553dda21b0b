package webdav

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/webdav"

	"github.com/jkaberg/vodfs/config"
	"github.com/jkaberg/vodfs/fs"
)

// NewHandler serves v over WebDAV, behind basic auth when user is set.
func NewHandler(v *fs.VFS, user, pass string) http.Handler {
	l := log.Logger.With().Str("component", "webDAV").Logger()

	h := &webdav.Handler{
		FileSystem: NewFS(v),
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				l.Debug().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("webDAV request failed")
			}
		},
	}

	if user == "" {
		return h
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 ||
			subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="vodfs"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// NewWebDAVServer builds the WebDAV server; the caller starts and stops it.
func NewWebDAVServer(v *fs.VFS, conf *config.WebDAVGlobal) *http.Server {
	return &http.Server{
		Addr:    fmt.Sprintf(":%d", conf.Port),
		Handler: NewHandler(v, conf.User, conf.Pass),
	}
}
