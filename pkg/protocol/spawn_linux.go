//go:build linux

package protocol

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// childSysProcAttr kills the child when the parent dies.
func childSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL}
}

// inheritFD wraps fd so reads and writes go through the runtime poller and honour deadlines.
func inheritFD(fd int, name string) (*os.File, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, os.NewSyscallError("setnonblock", err)
	}
	unix.CloseOnExec(fd)
	return os.NewFile(uintptr(fd), name), nil
}
