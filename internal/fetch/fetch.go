// Package fetch wraps the external tools that turn a source URL into a file
// on disk: the yt-dlp extraction tool for platform media, and a direct
// HTTP/FTP byte fetch for plain URLs.
package fetch

import (
	"context"

	"github.com/socdl/socdl/internal/strategy"
)

// ProgressEvent mirrors one progress callback from the underlying transfer.
type ProgressEvent struct {
	// Status is "downloading" while bytes move and "finished" once the
	// transfer is complete. Finished does not mean the output file exists
	// yet: remuxing or audio extraction may still be running.
	Status string

	// Downloaded and Total are byte counts. Total is 0 when the source does
	// not report a size.
	Downloaded int64
	Total      int64

	// Speed and ETA are opaque display strings from the tool.
	Speed string
	ETA   string
}

// Progress statuses.
const (
	StatusDownloading = "downloading"
	StatusFinished    = "finished"
)

// Percent computes transfer progress, reporting 0 when the total is unknown
// rather than dividing by zero.
func (e ProgressEvent) Percent() float64 {
	if e.Total <= 0 {
		return 0
	}

	return float64(e.Downloaded) / float64(e.Total) * 100
}

// ProgressFunc receives transfer progress for a single attempt.
type ProgressFunc func(ProgressEvent)

// Fetcher runs one extraction attempt. The produced file must land in dir
// with a name starting with taskID followed by an underscore; the caller
// locates it by that prefix. A nil error with no matching file is treated as
// a failed attempt by the caller.
type Fetcher interface {
	Fetch(ctx context.Context, url string, strat strategy.Strategy, dir, taskID string, progress ProgressFunc) error
}

// MediaFormat describes one selectable stream variant of a source.
type MediaFormat struct {
	Quality  string `json:"quality"`
	Ext      string `json:"ext"`
	Filesize int64  `json:"filesize,omitempty"`
}

// MediaInfo is the probe result for a URL, extracted without downloading.
type MediaInfo struct {
	ID          string        `json:"id"`
	URL         string        `json:"url"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Thumbnail   string        `json:"thumbnail,omitempty"`
	Duration    float64       `json:"duration,omitempty"`
	Platform    string        `json:"platform"`
	Uploader    string        `json:"uploader,omitempty"`
	UploadDate  string        `json:"upload_date,omitempty"`
	ViewCount   int64         `json:"view_count,omitempty"`
	LikeCount   int64         `json:"like_count,omitempty"`
	Formats     []MediaFormat `json:"formats,omitempty"`
	IsVideo     bool          `json:"is_video"`
}
