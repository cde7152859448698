//go:build unix

package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// DefaultBacklog matches the listen(2) backlog of the single-client demo.
const DefaultBacklog = 5

// RemoveStale unlinks a leftover socket file at path. A missing path is fine; a path that
// exists but is not a socket is refused rather than deleted.
func RemoveStale(path string) (bool, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFSOCK {
		return false, fmt.Errorf("%s exists and is not a socket", path)
	}
	if err := unix.Unlink(path); err != nil && !errors.Is(err, unix.ENOENT) {
		return false, fmt.Errorf("unlink %s: %w", path, err)
	}
	return true, nil
}

// Listener is a Unix stream listener that owns its filesystem path.
type Listener struct {
	*net.UnixListener
	path string
	dev  uint64
	ino  uint64

	once     sync.Once
	closeErr error
}

// Listen creates, binds and listens on path step by step, calling onState after each step
// that succeeds. Any stale socket at path is removed first.
func Listen(path string, backlog int, onState func(ServerState)) (*Listener, error) {
	if onState == nil {
		onState = func(ServerState) {}
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	if _, err := RemoveStale(path); err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	onState(ServerCreated)

	bound := false
	fail := func(err error) (*Listener, error) {
		_ = unix.Close(fd)
		if bound {
			_ = unix.Unlink(path)
		}
		return nil, err
	}

	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		return fail(fmt.Errorf("bind %s: %w", path, err))
	}
	bound = true
	// the peer runs as the same user
	if err := unix.Chmod(path, 0o600); err != nil {
		return fail(fmt.Errorf("chmod %s: %w", path, err))
	}
	onState(ServerBound)

	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return fail(fmt.Errorf("stat %s: %w", path, err))
	}

	if err := unix.Listen(fd, backlog); err != nil {
		return fail(fmt.Errorf("listen %s: %w", path, err))
	}

	f := os.NewFile(uintptr(fd), path)
	ln, err := net.FileListener(f)
	// FileListener dups the descriptor
	_ = f.Close()
	if err != nil {
		_ = unix.Unlink(path)
		return nil, fmt.Errorf("listener %s: %w", path, err)
	}
	ul, ok := ln.(*net.UnixListener)
	if !ok {
		_ = ln.Close()
		_ = unix.Unlink(path)
		return nil, fmt.Errorf("listener %s: unexpected type %T", path, ln)
	}
	onState(ServerListening)
	return &Listener{UnixListener: ul, path: path, dev: uint64(st.Dev), ino: uint64(st.Ino)}, nil
}

// Path returns the filesystem path the listener is bound to.
func (l *Listener) Path() string { return l.path }

// Close stops listening and removes the path, unless another process has since replaced
// it with a socket of its own.
func (l *Listener) Close() error {
	l.once.Do(func() {
		l.closeErr = l.UnixListener.Close()
		if err := l.removeOwned(); err != nil && l.closeErr == nil {
			l.closeErr = err
		}
	})
	return l.closeErr
}

func (l *Listener) removeOwned() error {
	var st unix.Stat_t
	if err := unix.Lstat(l.path, &st); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", l.path, err)
	}
	if uint64(st.Dev) != l.dev || uint64(st.Ino) != l.ino {
		return nil
	}
	if err := unix.Unlink(l.path); err != nil && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("unlink %s: %w", l.path, err)
	}
	return nil
}
