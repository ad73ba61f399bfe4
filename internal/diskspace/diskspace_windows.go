//go:build windows

package diskspace

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/windows"
)

func statFS(path string) (*Info, error) {
	root := filepath.VolumeName(path)
	if root == "" {
		root = path
	}

	rootPtr, err := windows.UTF16PtrFromString(root)
	if err != nil {
		return nil, fmt.Errorf("encode path %s: %w", root, err)
	}

	var available, total, free uint64
	if err := windows.GetDiskFreeSpaceEx(rootPtr, &available, &total, &free); err != nil {
		return nil, fmt.Errorf("query disk space for %s: %w", root, err)
	}

	used := total - free

	info := &Info{
		TotalBytes:     total,
		FreeBytes:      free,
		AvailableBytes: available,
		UsedBytes:      used,
		Path:           path,
	}
	if total > 0 {
		info.UsagePercent = float64(used) / float64(total) * 100
	}

	return info, nil
}
