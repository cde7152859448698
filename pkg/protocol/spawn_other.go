//go:build !linux

package protocol

import (
	"os"
	"syscall"
)

func childSysProcAttr() *syscall.SysProcAttr {
	return nil
}

func inheritFD(fd int, name string) (*os.File, error) {
	return os.NewFile(uintptr(fd), name), nil
}
