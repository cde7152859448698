package shm

import (
	"github.com/shirou/gopsutil/v3/disk"
)

// CanCreate reports whether dir has room for size more bytes. When the filesystem cannot be
// queried it answers true and lets the create itself fail.
func CanCreate(dir string, size uint64) bool {
	if dir == "" {
		dir = DefaultDir
	}
	stat, err := disk.Usage(dir)
	if err != nil {
		return true
	}
	return stat.Free >= size
}
