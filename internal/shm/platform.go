// Package shm contains platform-specific helpers for named shared memory objects and the
// process-shared semaphore built on top of them.
package shm

import "errors"

var (
	// ErrNotExist is returned when attaching to an object nobody has created yet.
	ErrNotExist = errors.New("shared object does not exist")
	// ErrExist is returned when an exclusive create finds the name already taken.
	ErrExist = errors.New("shared object already exists")
	// ErrUnsupported is returned on platforms without shared memory support.
	ErrUnsupported = errors.New("shared memory is not supported on this platform")
)

// DefaultDir is where named objects live, the same place shm_open(3) puts them on Linux.
const DefaultDir = "/dev/shm"

// MappedRegion represents a memory-mapped shared region.
type MappedRegion struct {
	Addr []byte
	Path string

	fd      int
	created bool
}

// Created reports whether this mapping created the underlying object.
func (r *MappedRegion) Created() bool {
	return r != nil && r.created
}

// MapOptions defines options for mapping shared memory.
type MapOptions struct {
	// Dir is the namespace directory. Empty means DefaultDir.
	Dir  string
	Name string
	// Size is required on create. On attach zero means "whatever the creator sized it to".
	Size   int
	Create bool
}

func (o MapOptions) dir() string {
	if o.Dir == "" {
		return DefaultDir
	}
	return o.Dir
}

// Function implementations are provided in platform-specific files (platform_linux.go, platform_other.go).
