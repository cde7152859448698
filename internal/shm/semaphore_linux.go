//go:build linux

package shm

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	// semPrefix mirrors glibc, which keeps named semaphores as /dev/shm/sem.<name>.
	semPrefix = "sem."
	// semSize matches sizeof(sem_t) on 64-bit glibc. Only the first word is used.
	semSize = 32

	futexWait = 0
	futexWake = 1

	// waitSlice bounds a single futex sleep when the caller's context can be cancelled.
	waitSlice = 100 * time.Millisecond
)

// Semaphore is a counting semaphore shared between processes through a tiny mapped object.
// The counter lives in the first word of the mapping; waiters sleep on it with futex(2).
type Semaphore struct {
	name   string
	region *MappedRegion
}

// SemaphoreFileName returns the namespace entry that backs the semaphore called name.
func SemaphoreFileName(name string) string {
	return semPrefix + name
}

// CreateSemaphore exclusively creates a named semaphore holding value.
func CreateSemaphore(ctx context.Context, dir, name string, value uint32) (*Semaphore, error) {
	region, err := MapRegion(ctx, MapOptions{Dir: dir, Name: SemaphoreFileName(name), Size: semSize, Create: true})
	if err != nil {
		return nil, fmt.Errorf("sem_open %s: %w", name, err)
	}
	s := &Semaphore{name: name, region: region}
	*s.word() = value
	return s, nil
}

// OpenSemaphore attaches to a semaphore created by another process.
func OpenSemaphore(ctx context.Context, dir, name string) (*Semaphore, error) {
	region, err := MapRegion(ctx, MapOptions{Dir: dir, Name: SemaphoreFileName(name), Size: semSize})
	if err != nil {
		return nil, fmt.Errorf("sem_open %s: %w", name, err)
	}
	return &Semaphore{name: name, region: region}, nil
}

// UnlinkSemaphore removes the semaphore name. Processes that still have it mapped keep working.
func UnlinkSemaphore(dir, name string) error {
	return Unlink(dir, SemaphoreFileName(name))
}

// Name returns the semaphore name without the namespace prefix.
func (s *Semaphore) Name() string { return s.name }

// Value returns the current counter.
func (s *Semaphore) Value() uint32 {
	return AtomicLoadUint32(unsafe.Pointer(s.word()))
}

// Post increments the counter and wakes one waiter.
func (s *Semaphore) Post() error {
	if s.region == nil || s.region.Addr == nil {
		return errors.New("sem_post: semaphore is closed")
	}
	AtomicAddUint32(unsafe.Pointer(s.word()), 1)
	if err := futex(s.word(), futexWake, 1, nil); err != nil {
		return fmt.Errorf("futex wake: %w", err)
	}
	return nil
}

// TryWait takes one unit without blocking.
func (s *Semaphore) TryWait() bool {
	return AtomicDecrementIfPositive(unsafe.Pointer(s.word()))
}

// Wait blocks until a unit is available and takes it.
//
// A context without Done channel waits forever, exactly like sem_wait(3). Otherwise the
// wait returns ctx.Err() once the context is cancelled or its deadline passes.
func (s *Semaphore) Wait(ctx context.Context) error {
	if s.region == nil || s.region.Addr == nil {
		return errors.New("sem_wait: semaphore is closed")
	}
	bounded := ctx.Done() != nil
	for {
		if s.TryWait() {
			return nil
		}
		var ts *unix.Timespec
		if bounded {
			if err := ctx.Err(); err != nil {
				return err
			}
			d := waitSlice
			if deadline, ok := ctx.Deadline(); ok {
				if rem := time.Until(deadline); rem < d {
					d = rem
				}
			}
			if d <= 0 {
				return context.DeadlineExceeded
			}
			t := unix.NsecToTimespec(d.Nanoseconds())
			ts = &t
		}
		err := futex(s.word(), futexWait, 0, ts)
		switch {
		case err == nil, errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR), errors.Is(err, unix.ETIMEDOUT):
			continue
		default:
			return fmt.Errorf("futex wait: %w", err)
		}
	}
}

// Close drops the local mapping. It does not remove the name.
func (s *Semaphore) Close() error {
	if s == nil || s.region == nil {
		return nil
	}
	return UnmapRegion(context.Background(), s.region)
}

func (s *Semaphore) word() *uint32 {
	return (*uint32)(unsafe.Pointer(&s.region.Addr[0]))
}

func futex(addr *uint32, op int, val uint32, ts *unix.Timespec) error {
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), uintptr(op), uintptr(val),
		uintptr(unsafe.Pointer(ts)), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}
