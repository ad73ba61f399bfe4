// Package thumbnail renders downscaled previews of image artifacts.
package thumbnail

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/socdl/socdl/pkg/errors"
)

// Default bounding box for generated previews.
const (
	DefaultWidth  = 320
	DefaultHeight = 320
)

// imageExtensions lists artifact types the renderer can decode. Video
// artifacts need a frame extractor and are out of scope here.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": false, // imaging cannot decode webp
}

// Renderer produces JPEG previews for artifacts in a flat directory,
// memoizing results on disk under a hidden subdirectory.
type Renderer struct {
	dir      string
	cacheDir string
	width    int
	height   int
}

// NewRenderer creates a renderer for artifacts in dir.
func NewRenderer(dir string) *Renderer {
	return &Renderer{
		dir:      dir,
		cacheDir: filepath.Join(dir, ".thumbs"),
		width:    DefaultWidth,
		height:   DefaultHeight,
	}
}

// Supported reports whether a preview can be rendered for the filename.
func Supported(filename string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Render returns JPEG preview bytes for the named artifact, generating and
// caching them on first request.
func (r *Renderer) Render(filename string) ([]byte, error) {
	if strings.Contains(filename, "/") || strings.Contains(filename, "\\") || strings.Contains(filename, "..") {
		return nil, errors.New(errors.CodeInvalidURL, "invalid artifact name")
	}

	source := filepath.Join(r.dir, filename)
	if _, err := os.Stat(source); err != nil {
		return nil, errors.Wrap(err, errors.CodeFileNotFound, "artifact not found")
	}

	if !Supported(filename) {
		return nil, errors.New(errors.CodeUnknown,
			fmt.Sprintf("no preview renderer for %s artifacts", filepath.Ext(filename)))
	}

	cached := filepath.Join(r.cacheDir, filename+".jpg")
	if data, err := os.ReadFile(cached); err == nil {
		return data, nil
	}

	img, err := imaging.Open(source, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filename, err)
	}

	preview := imaging.Fit(img, r.width, r.height, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, preview, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("encode preview for %s: %w", filename, err)
	}

	r.memoize(cached, buf.Bytes())

	return buf.Bytes(), nil
}

// memoize caches the rendered preview. Failures are ignored; the preview is
// simply regenerated next time.
func (r *Renderer) memoize(path string, data []byte) {
	if err := os.MkdirAll(r.cacheDir, 0o750); err != nil {
		return
	}

	_ = os.WriteFile(path, data, 0o644)
}
