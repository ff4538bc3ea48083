//go:build unix

package uplink

import "golang.org/x/sys/unix"

// freeBytes reports the free space on the filesystem holding dir, or 0 when
// it cannot be determined.
func freeBytes(dir string) uint64 {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0
	}
	return stat.Bavail * uint64(stat.Bsize)
}
