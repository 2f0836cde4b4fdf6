// Package diskstats probes free/used disk space for the volume behind
// a download destination, and guards pre-allocation against filling
// the disk, generalizing the teacher's StatsManager.GetDiskUsage and
// Allocator.checkDiskSpace into one small, storage-agnostic package.
package diskstats

import (
	"fmt"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
)

const bytesPerGB = 1024 * 1024 * 1024

// Usage is the disk-space snapshot for the volume backing a path.
type Usage struct {
	UsedGB  float64 `json:"used_gb"`
	FreeGB  float64 `json:"free_gb"`
	TotalGB float64 `json:"total_gb"`
	Percent float64 `json:"percent"`
}

// For returns disk usage for the volume containing path. path need not
// exist yet; its parent directory is used.
func For(path string) (Usage, error) {
	dir := filepath.Dir(path)
	stat, err := disk.Usage(dir)
	if err != nil {
		return Usage{}, fmt.Errorf("disk usage for %s: %w", dir, err)
	}
	return Usage{
		UsedGB:  float64(stat.Used) / bytesPerGB,
		FreeGB:  float64(stat.Free) / bytesPerGB,
		TotalGB: float64(stat.Total) / bytesPerGB,
		Percent: stat.UsedPercent,
	}, nil
}

// headroomBytes is held back below the reported free space so a
// download never drives a volume to zero bytes free.
const headroomBytes = 100 * 1024 * 1024

// CheckSpace returns an error if fewer than required+headroomBytes are
// free on the volume backing path. Called by the transfer engine before
// it pre-allocates a job's part file.
func CheckSpace(path string, required int64) error {
	dir := filepath.Dir(path)
	stat, err := disk.Usage(dir)
	if err != nil {
		return fmt.Errorf("failed to check disk space: %w", err)
	}
	if int64(stat.Free) < required+headroomBytes {
		return fmt.Errorf("disk full: required %d bytes, available %d bytes", required, stat.Free)
	}
	return nil
}
