//go:build linux

package transport

import (
	"os"

	"golang.org/x/sys/unix"
)

// newPipe returns a close-on-exec, poller-backed pipe.
func newPipe(name string) (r, w *os.File, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, nil, os.NewSyscallError("pipe2", err)
	}
	return os.NewFile(uintptr(fds[0]), name+"|0"), os.NewFile(uintptr(fds[1]), name+"|1"), nil
}
