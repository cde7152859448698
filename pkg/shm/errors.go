package shm

import "errors"

var (
	// ErrResourceCreate is returned when the segment or semaphore could not be created.
	// Everything the failed call had created is gone by the time it is returned.
	ErrResourceCreate = errors.New("resource creation failed")
	// ErrResourceAttach is returned when an existing segment or semaphore could not be opened.
	ErrResourceAttach = errors.New("resource attach failed")
	// ErrNotFound accompanies ErrResourceAttach when the name does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrNoSpace accompanies ErrResourceCreate when the namespace filesystem is full.
	ErrNoSpace = errors.New("not enough space for segment")
	// ErrTooLarge is returned by Write when the message does not fit with its terminator.
	ErrTooLarge = errors.New("message too large for channel")
	// ErrTruncated is returned by Read, together with the bytes it did read, when no
	// terminator was found within capacity-1 bytes.
	ErrTruncated = errors.New("message truncated")
	// ErrWaitTimeout is returned by Await when the context deadline passed before a signal.
	ErrWaitTimeout = errors.New("timed out waiting for signal")
	// ErrChannelUsed is returned by Write once the channel has been signalled.
	ErrChannelUsed = errors.New("channel already signalled")
	// ErrReleased is returned by operations on a released resource.
	ErrReleased = errors.New("resource released")
)
