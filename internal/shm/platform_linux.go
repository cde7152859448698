//go:build linux

package shm

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// MapRegion maps or creates a shared memory region (Linux implementation).
//
// A create is exclusive: it fails with ErrExist when the name is taken. If any step after
// the object was created fails, the object is removed again before returning, so a
// failed MapRegion never leaves a name behind.
func MapRegion(ctx context.Context, opts MapOptions) (region *MappedRegion, err error) {
	if opts.Name == "" {
		return nil, errors.New("shm: empty object name")
	}
	if opts.Create && opts.Size <= 0 {
		return nil, fmt.Errorf("shm: invalid size %d for %s", opts.Size, opts.Name)
	}
	path := filepath.Join(opts.dir(), opts.Name)

	flags := unix.O_RDWR | unix.O_CLOEXEC
	if opts.Create {
		flags |= unix.O_CREAT | unix.O_EXCL
	}
	fd, err := unix.Open(path, flags, 0600)
	if err != nil {
		switch {
		case errors.Is(err, unix.ENOENT):
			return nil, fmt.Errorf("open %s: %w", path, ErrNotExist)
		case errors.Is(err, unix.EEXIST):
			return nil, fmt.Errorf("open %s: %w", path, ErrExist)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		if err == nil {
			return
		}
		_ = unix.Close(fd)
		if opts.Create {
			_ = unix.Unlink(path)
		}
	}()

	size := opts.Size
	if opts.Create {
		if err = unix.Ftruncate(fd, int64(size)); err != nil {
			return nil, fmt.Errorf("ftruncate: %w", err)
		}
	} else {
		var st unix.Stat_t
		if err = unix.Fstat(fd, &st); err != nil {
			return nil, fmt.Errorf("fstat: %w", err)
		}
		if size == 0 {
			size = int(st.Size)
		}
		if size <= 0 || int64(size) > st.Size {
			err = fmt.Errorf("shm: %s has %d bytes, want %d", path, st.Size, size)
			return nil, err
		}
	}

	addr, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &MappedRegion{
		Addr:    addr,
		Path:    path,
		fd:      fd,
		created: opts.Create,
	}, nil
}

// UnmapRegion unmaps and closes the shared memory region (Linux implementation).
// It never removes the name; see Unlink.
func UnmapRegion(ctx context.Context, region *MappedRegion) error {
	if region == nil || region.Addr == nil {
		return nil
	}
	var firstErr error
	if err := unix.Munmap(region.Addr); err != nil {
		firstErr = fmt.Errorf("munmap: %w", err)
	}
	region.Addr = nil
	if region.fd >= 0 {
		if err := unix.Close(region.fd); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close: %w", err)
		}
		region.fd = -1
	}
	return firstErr
}

// Unlink removes a named object from the namespace. A missing name yields ErrNotExist.
func Unlink(dir, name string) error {
	if dir == "" {
		dir = DefaultDir
	}
	path := filepath.Join(dir, name)
	if err := unix.Unlink(path); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return fmt.Errorf("unlink %s: %w", path, ErrNotExist)
		}
		return fmt.Errorf("unlink %s: %w", path, err)
	}
	return nil
}
