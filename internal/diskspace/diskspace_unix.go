//go:build !windows

package diskspace

import (
	"fmt"
	"syscall"
)

func statFS(path string) (*Info, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return nil, fmt.Errorf("statfs %s: %w", path, err)
	}

	total := uint64(stat.Blocks) * uint64(stat.Bsize)
	free := uint64(stat.Bfree) * uint64(stat.Bsize)
	available := uint64(stat.Bavail) * uint64(stat.Bsize)
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
