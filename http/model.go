package http

import "github.com/jkaberg/vodfs/stream"

type Error struct {
	Error string `json:"error"`
}

type Status struct {
	Sessions      []stream.RecordStat `json:"sessions"`
	OpenHandles   int                 `json:"open_handles"`
	Buffered      int64               `json:"buffered"`
	BufferedHuman string              `json:"buffered_human"`
	Ceiling       int64               `json:"ceiling"`
	CeilingHuman  string              `json:"ceiling_human"`
}

type Refresh struct {
	Path string `json:"path" binding:"required"`
}
