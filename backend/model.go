package backend

// RemoteEntry is one item of a browse listing as returned by the backend.
type RemoteEntry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	IsDir       bool   `json:"is_dir"`
	ContentType string `json:"content_type,omitempty"`
	Extension   string `json:"extension,omitempty"`
	UUID        string `json:"uuid,omitempty"`
	Size        *int64 `json:"size,omitempty"`
	StreamURL   string `json:"stream_url,omitempty"`
	SessionURL  string `json:"session_url,omitempty"`
}

type browseResponse struct {
	Entries []RemoteEntry `json:"entries"`
}

type streamResponse struct {
	StreamURL string `json:"stream_url"`
}

// HeadResult holds what a HEAD learned about a stream. Size is -1 when the
// upstream did not report a length.
type HeadResult struct {
	Size       int64
	SessionURL string
	FinalURL   string
}

// RangeResult is the outcome of a ranged GET. Data is empty at or past EOF.
// TotalSize is -1 when unknown.
type RangeResult struct {
	Data       []byte
	TotalSize  int64
	SessionURL string
	FinalURL   string
}
