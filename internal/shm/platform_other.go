//go:build !linux

package shm

import "context"

// MapRegion maps or creates a shared memory region. Only Linux is supported.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	return nil, ErrUnsupported
}

// UnmapRegion unmaps and closes the shared memory region.
func UnmapRegion(ctx context.Context, region *MappedRegion) error {
	return ErrUnsupported
}

// Unlink removes a named object from the namespace.
func Unlink(dir, name string) error {
	return ErrUnsupported
}

// Semaphore is unavailable without futex(2).
type Semaphore struct{}

// SemaphoreFileName returns the namespace entry that backs the semaphore called name.
func SemaphoreFileName(name string) string { return "sem." + name }

func CreateSemaphore(ctx context.Context, dir, name string, value uint32) (*Semaphore, error) {
	return nil, ErrUnsupported
}

func OpenSemaphore(ctx context.Context, dir, name string) (*Semaphore, error) {
	return nil, ErrUnsupported
}

func UnlinkSemaphore(dir, name string) error { return ErrUnsupported }

func (s *Semaphore) Name() string                   { return "" }
func (s *Semaphore) Value() uint32                  { return 0 }
func (s *Semaphore) Post() error                    { return ErrUnsupported }
func (s *Semaphore) TryWait() bool                  { return false }
func (s *Semaphore) Wait(ctx context.Context) error { return ErrUnsupported }
func (s *Semaphore) Close() error                   { return nil }
