// Package diskspace reports free space for the artifact directory so the
// orchestrator can refuse work that would fill the disk.
package diskspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/socdl/socdl/pkg/errors"
)

// Info describes the filesystem holding a path.
type Info struct {
	TotalBytes     uint64  `json:"total_bytes"`
	FreeBytes      uint64  `json:"free_bytes"`
	AvailableBytes uint64  `json:"available_bytes"`
	UsedBytes      uint64  `json:"used_bytes"`
	UsagePercent   float64 `json:"usage_percent"`
	Path           string  `json:"path"`
}

// Stat returns space information for the filesystem containing path.
func Stat(path string) (*Info, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}

	if _, err := os.Stat(abs); err != nil {
		return nil, errors.Wrap(err, errors.CodeFileNotFound, "stat artifact directory")
	}

	return statFS(abs)
}

// Check returns an error when the filesystem containing path has less than
// minFree bytes available.
func Check(path string, minFree uint64) error {
	if minFree == 0 {
		return nil
	}

	info, err := Stat(path)
	if err != nil {
		return err
	}

	if info.AvailableBytes < minFree {
		return errors.New(errors.CodeInsufficientSpace,
			fmt.Sprintf("only %s available in %s, need at least %s",
				FormatBytes(info.AvailableBytes), path, FormatBytes(minFree)))
	}

	return nil
}

// FormatBytes renders a byte count for humans.
func FormatBytes(bytes uint64) string {
	if bytes < 1024 {
		return fmt.Sprintf("%d B", bytes)
	}

	units := []string{"KB", "MB", "GB", "TB", "PB"}
	value := float64(bytes)

	for _, unit := range units {
		value /= 1024
		if value < 1024 {
			return fmt.Sprintf("%.1f %s", value, unit)
		}
	}

	return fmt.Sprintf("%.1f EB", value/1024)
}
