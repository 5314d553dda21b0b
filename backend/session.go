package backend

import (
	"net/http"
	"time"
)

// Session is the upstream connection owned by one open file. It keeps a
// single keep-alive connection so consecutive range requests reuse it.
type Session struct {
	client    *http.Client
	transport *http.Transport
}

func (c *Client) NewSession() *Session {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConnsPerHost = 1
	tr.IdleConnTimeout = 90 * time.Second
	// media bytes are already compressed
	tr.DisableCompression = true

	return &Session{
		client:    newHTTPClient(tr),
		transport: tr,
	}
}

func (s *Session) Close() {
	if s == nil {
		return
	}
	s.transport.CloseIdleConnections()
}
