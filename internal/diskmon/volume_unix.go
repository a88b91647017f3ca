//go:build !windows

package diskmon

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// volumeStats returns total, used, and free bytes for the filesystem
// holding path. Free uses Bavail (space available to unprivileged users).
func volumeStats(path string) (total, used, free int64, err error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	// Bsize is int64 on linux but uint32 on darwin.
	bsize := int64(stat.Bsize) //nolint:unconvert
	total = int64(stat.Blocks) * bsize
	free = int64(stat.Bavail) * bsize
	used = total - int64(stat.Bfree)*bsize
	return total, used, free, nil
}
