package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/socdl/socdl/internal/strategy"
	"github.com/socdl/socdl/pkg/errors"
)

// Direct fetches URL bytes without the extraction tool. It is the last rung
// of the generic ladder: plain media links on unknown platforms resolve over
// HTTP(S) or FTP.
type Direct struct {
	// HTTPClient serves http and https URLs. Defaults to a client with a
	// generous timeout suited to large media files.
	HTTPClient *http.Client

	// FTPDialTimeout bounds FTP connection establishment.
	FTPDialTimeout time.Duration
}

// NewDirect returns a direct fetcher with default timeouts.
func NewDirect() *Direct {
	return &Direct{
		HTTPClient:     &http.Client{Timeout: 30 * time.Minute},
		FTPDialTimeout: 10 * time.Second,
	}
}

// Fetch downloads the raw bytes at rawURL into dir under a task-id-prefixed
// name. The file only appears under its final name after a complete
// transfer; partial data lives in a temp file that is removed on failure.
func (d *Direct) Fetch(ctx context.Context, rawURL string, strat strategy.Strategy, dir, taskID string, progress ProgressFunc) error {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidURL, "parse URL for direct fetch")
	}

	switch parsed.Scheme {
	case "http", "https":
		return d.fetchHTTP(ctx, parsed, strat, dir, taskID, progress)
	case "ftp":
		return d.fetchFTP(ctx, parsed, dir, taskID, progress)
	default:
		return errors.New(errors.CodeInvalidURL,
			fmt.Sprintf("unsupported scheme %q for direct fetch", parsed.Scheme))
	}
}

func (d *Direct) fetchHTTP(ctx context.Context, u *url.URL, strat strategy.Strategy, dir, taskID string, progress ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidURL, "build direct request")
	}
	if strat.UserAgent != "" {
		req.Header.Set("User-Agent", strat.UserAgent)
	}

	resp, err := d.httpClient().Do(req)
	if err != nil {
		return errors.WrapStrategy(err, strat.Name, u.String())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return errors.WrapStrategy(
			fmt.Errorf("unexpected status %s", resp.Status), strat.Name, u.String())
	}

	return d.save(resp.Body, resp.ContentLength, dir, outputName(u, taskID), progress)
}

func (d *Direct) fetchFTP(ctx context.Context, u *url.URL, dir, taskID string, progress ProgressFunc) error {
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "21"
	}

	conn, err := ftp.Dial(host+":"+port,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(d.ftpDialTimeout()),
	)
	if err != nil {
		return fmt.Errorf("connect to FTP server %s: %w", host, err)
	}
	defer func() { _ = conn.Quit() }()

	username, password := "anonymous", "anonymous@example.com"
	if u.User != nil {
		username = u.User.Username()
		if pwd, set := u.User.Password(); set {
			password = pwd
		}
	}
	if err := conn.Login(username, password); err != nil {
		return fmt.Errorf("FTP authentication failed for user %s: %w", username, err)
	}

	filePath := u.Path
	if filePath == "" || filePath == "/" {
		return errors.New(errors.CodeInvalidURL, "no file path in FTP URL")
	}

	var total int64
	if size, err := conn.FileSize(filePath); err == nil {
		total = size
	}

	resp, err := conn.Retr(filePath)
	if err != nil {
		return fmt.Errorf("retrieve %s: %w", filePath, err)
	}
	defer func() { _ = resp.Close() }()

	return d.save(resp, total, dir, outputName(u, taskID), progress)
}

// save streams the transfer into a temp file and renames it into place only
// once complete, so a failed attempt never leaves a task-id-prefixed file
// for the caller to mistake for output.
func (d *Direct) save(r io.Reader, total int64, dir, name string, progress ProgressFunc) error {
	tmp, err := os.CreateTemp(dir, ".direct-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	counter := &countingReader{r: r, total: total, progress: progress, started: time.Now()}

	_, copyErr := io.Copy(tmp, counter)
	closeErr := tmp.Close()

	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmpName)
		if copyErr != nil {
			return fmt.Errorf("transfer body: %w", copyErr)
		}
		return fmt.Errorf("finalize temp file: %w", closeErr)
	}

	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("move artifact into place: %w", err)
	}

	if progress != nil {
		progress(ProgressEvent{
			Status:     StatusFinished,
			Downloaded: counter.read,
			Total:      counter.read,
		})
	}

	return nil
}

func (d *Direct) httpClient() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}

	return http.DefaultClient
}

func (d *Direct) ftpDialTimeout() time.Duration {
	if d.FTPDialTimeout > 0 {
		return d.FTPDialTimeout
	}

	return 10 * time.Second
}

// outputName derives the artifact name from the URL path, prefixed with the
// task id like every other artifact.
func outputName(u *url.URL, taskID string) string {
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		base = "download"
	}

	// Strip characters that are unsafe in filenames.
	base = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, base)

	return taskID + "_" + base
}

// countingReader reports progress as bytes flow through it. Events are
// throttled to one per chunk boundary to keep callback volume sane on fast
// transfers.
type countingReader struct {
	r        io.Reader
	read     int64
	total    int64
	lastSent int64
	started  time.Time
	progress ProgressFunc
}

// reportEvery is the byte interval between progress callbacks.
const reportEvery = 256 * 1024

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += int64(n)

	if c.progress != nil && c.read-c.lastSent >= reportEvery {
		c.lastSent = c.read
		c.progress(ProgressEvent{
			Status:     StatusDownloading,
			Downloaded: c.read,
			Total:      c.total,
			Speed:      c.speed(),
		})
	}

	return n, err
}

func (c *countingReader) speed() string {
	elapsed := time.Since(c.started).Seconds()
	if elapsed <= 0 {
		return ""
	}

	perSec := float64(c.read) / elapsed
	switch {
	case perSec >= 1<<20:
		return fmt.Sprintf("%.2fMiB/s", perSec/(1<<20))
	case perSec >= 1<<10:
		return fmt.Sprintf("%.2fKiB/s", perSec/(1<<10))
	default:
		return fmt.Sprintf("%.0fB/s", perSec)
	}
}
