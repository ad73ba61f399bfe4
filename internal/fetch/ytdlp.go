package fetch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/socdl/socdl/internal/platform"
	"github.com/socdl/socdl/internal/strategy"
	"github.com/socdl/socdl/pkg/errors"
)

// progressTemplate makes yt-dlp emit machine-readable progress lines on
// stdout instead of the human table. Fields are pipe-separated because none
// of them may contain a pipe; "NA" marks an unknown value.
const progressTemplate = "download:socdl|%(progress.status)s|%(progress.downloaded_bytes)s|" +
	"%(progress.total_bytes)s|%(progress.total_bytes_estimate)s|" +
	"%(progress._speed_str)s|%(progress._eta_str)s"

// outputTemplate names artifacts with the owning task id as prefix so the
// orchestrator can locate them afterwards, and a truncated title for humans.
const outputTemplate = "%s_%%(title).50s.%%(ext)s"

// YTDLP shells out to the yt-dlp binary for extraction, probing, and
// version reporting.
type YTDLP struct {
	// Binary is the executable to invoke. Defaults to "yt-dlp" on PATH.
	Binary string
}

// NewYTDLP returns a client using the yt-dlp binary from PATH.
func NewYTDLP() *YTDLP {
	return &YTDLP{Binary: "yt-dlp"}
}

// Available reports whether the yt-dlp binary can be found.
func (y *YTDLP) Available() bool {
	_, err := exec.LookPath(y.binary())
	return err == nil
}

// Fetch runs one extraction attempt with the given strategy, streaming
// progress callbacks parsed from the tool's stdout.
func (y *YTDLP) Fetch(ctx context.Context, url string, strat strategy.Strategy, dir, taskID string, progress ProgressFunc) error {
	args := buildArgs(url, strat, dir, taskID)

	cmd := exec.CommandContext(ctx, y.binary(), args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("pipe stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("pipe stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, errors.CodeExtractionFailed, "start yt-dlp")
	}

	var errTail strings.Builder
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(stdout, func(line string) {
			if event, ok := parseProgressLine(line); ok && progress != nil {
				progress(event)
			}
		})
	}()
	go func() {
		defer wg.Done()
		scanLines(stderr, func(line string) {
			appendTail(&errTail, line)
		})
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		msg := strings.TrimSpace(errTail.String())
		if msg == "" {
			msg = err.Error()
		}
		return errors.WrapStrategy(fmt.Errorf("%s: %w", msg, err), strat.Name, url)
	}

	return nil
}

// Probe extracts metadata for a URL without downloading anything.
func (y *YTDLP) Probe(ctx context.Context, url string) (*MediaInfo, error) {
	args := []string{
		"-J",
		"--no-playlist",
		"--no-warnings",
		"--geo-bypass",
		"--no-check-certificates",
		url,
	}

	cmd := exec.CommandContext(ctx, y.binary(), args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, errors.Wrap(
			fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), err),
			errors.CodeExtractionFailed, "probe media info")
	}

	var raw struct {
		ID          string  `json:"id"`
		Title       string  `json:"title"`
		Description string  `json:"description"`
		Thumbnail   string  `json:"thumbnail"`
		Duration    float64 `json:"duration"`
		Uploader    string  `json:"uploader"`
		Channel     string  `json:"channel"`
		UploadDate  string  `json:"upload_date"`
		ViewCount   int64   `json:"view_count"`
		LikeCount   int64   `json:"like_count"`
		Formats     []struct {
			Height         int    `json:"height"`
			Ext            string `json:"ext"`
			VCodec         string `json:"vcodec"`
			Filesize       int64  `json:"filesize"`
			FilesizeApprox int64  `json:"filesize_approx"`
		} `json:"formats"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		return nil, errors.Wrap(err, errors.CodeExtractionFailed, "decode probe output")
	}

	info := &MediaInfo{
		ID:          raw.ID,
		URL:         url,
		Title:       raw.Title,
		Description: raw.Description,
		Thumbnail:   raw.Thumbnail,
		Duration:    raw.Duration,
		Platform:    string(platform.Classify(url)),
		Uploader:    raw.Uploader,
		UploadDate:  raw.UploadDate,
		ViewCount:   raw.ViewCount,
		LikeCount:   raw.LikeCount,
		IsVideo:     raw.Duration > 0,
	}
	if info.Title == "" {
		info.Title = "Untitled"
	}
	if info.Uploader == "" {
		info.Uploader = raw.Channel
	}

	// One entry per distinct height, highest first.
	seen := map[int]bool{}
	for _, f := range raw.Formats {
		if f.Height == 0 || f.VCodec == "none" || seen[f.Height] {
			continue
		}
		seen[f.Height] = true

		size := f.Filesize
		if size == 0 {
			size = f.FilesizeApprox
		}

		ext := f.Ext
		if ext == "" {
			ext = "mp4"
		}

		info.Formats = append(info.Formats, MediaFormat{
			Quality:  fmt.Sprintf("%dp", f.Height),
			Ext:      ext,
			Filesize: size,
		})
	}
	sort.Slice(info.Formats, func(i, j int) bool {
		return heightOf(info.Formats[i].Quality) > heightOf(info.Formats[j].Quality)
	})
	if len(info.Formats) > 5 {
		info.Formats = info.Formats[:5]
	}

	return info, nil
}

// Version returns the yt-dlp version string, or "unavailable" when the
// binary cannot be run.
func (y *YTDLP) Version(ctx context.Context) string {
	out, err := exec.CommandContext(ctx, y.binary(), "--version").Output()
	if err != nil {
		return "unavailable"
	}

	return strings.TrimSpace(string(out))
}

func (y *YTDLP) binary() string {
	if y.Binary != "" {
		return y.Binary
	}

	return "yt-dlp"
}

// buildArgs translates a strategy into a yt-dlp invocation.
func buildArgs(url string, strat strategy.Strategy, dir, taskID string) []string {
	args := []string{
		"--newline",
		"--no-playlist",
		"--no-warnings",
		"--geo-bypass",
		"--no-check-certificates",
		"--progress-template", progressTemplate,
		"-o", filepath.Join(dir, fmt.Sprintf(outputTemplate, taskID)),
		"-f", strat.Selector,
	}

	if strat.MergeFormat != "" {
		args = append(args, "--merge-output-format", strat.MergeFormat)
	}
	if strat.ExtractAudio {
		args = append(args, "-x", "--audio-format", strat.AudioCodec, "--audio-quality", strat.AudioQuality)
	}
	if strat.UserAgent != "" {
		args = append(args, "--user-agent", strat.UserAgent)
	}
	if strat.CookiesFromBrowser != "" {
		args = append(args, "--cookies-from-browser", strat.CookiesFromBrowser)
	}
	if len(strat.PlayerClients) > 0 {
		args = append(args, "--extractor-args", "youtube:player_client="+strings.Join(strat.PlayerClients, ","))
	}

	return append(args, url)
}

// parseProgressLine decodes one templated progress line. Returns false for
// anything else the tool prints.
func parseProgressLine(line string) (ProgressEvent, bool) {
	if !strings.HasPrefix(line, "socdl|") {
		return ProgressEvent{}, false
	}

	fields := strings.Split(line, "|")
	if len(fields) != 7 {
		return ProgressEvent{}, false
	}

	event := ProgressEvent{
		Status:     fields[1],
		Downloaded: parseBytes(fields[2]),
		Total:      parseBytes(fields[3]),
		Speed:      cleanNA(fields[5]),
		ETA:        cleanNA(fields[6]),
	}
	if event.Total == 0 {
		event.Total = parseBytes(fields[4])
	}

	return event, true
}

// parseBytes reads a byte count that yt-dlp may render as an integer, a
// float (estimates), or "NA".
func parseBytes(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "NA" {
		return 0
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}

	return 0
}

func cleanNA(s string) string {
	s = strings.TrimSpace(s)
	if s == "NA" || s == "Unknown" {
		return ""
	}

	return s
}

func heightOf(quality string) int {
	n, _ := strconv.Atoi(strings.TrimSuffix(quality, "p"))
	return n
}

// scanLines reads a stream line by line, treating bare carriage returns as
// line breaks too since yt-dlp redraws progress with CR.
func scanLines(r io.Reader, fn func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(splitNewlineOrCR)

	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			fn(line)
		}
	}
}

func splitNewlineOrCR(data []byte, atEOF bool) (int, []byte, error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}

	return 0, nil, nil
}

// appendTail keeps the last portion of stderr for error reporting without
// holding the full output of a long run.
func appendTail(b *strings.Builder, line string) {
	const maxKeep = 8192

	if b.Len()+len(line)+1 > maxKeep {
		b.Reset()
	}

	b.WriteString(line)
	b.WriteByte('\n')
}
