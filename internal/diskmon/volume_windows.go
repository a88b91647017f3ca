//go:build windows

package diskmon

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// volumeStats returns total, used, and free bytes for the volume holding
// path.
func volumeStats(path string) (total, used, free int64, err error) {
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("utf16 path: %w", err)
	}

	var freeBytesAvailable, totalBytes, totalFreeBytes uint64
	if err := windows.GetDiskFreeSpaceEx(
		pathPtr,
		(*uint64)(unsafe.Pointer(&freeBytesAvailable)),
		(*uint64)(unsafe.Pointer(&totalBytes)),
		(*uint64)(unsafe.Pointer(&totalFreeBytes)),
	); err != nil {
		return 0, 0, 0, fmt.Errorf("GetDiskFreeSpaceEx %s: %w", path, err)
	}

	total = int64(totalBytes)
	free = int64(freeBytesAvailable)
	used = total - int64(totalFreeBytes)
	return total, used, free, nil
}
