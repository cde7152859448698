// Package api defines the public contracts between the two-party protocol and the
// transports it drives.
package api

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Role is the side of a run a process plays.
type Role int

const (
	// Parent spawns the child and owns every named object of the run.
	Parent Role = iota
	// Child is the re-executed process. It attaches to what the parent made.
	Child
)

func (r Role) String() string {
	if r == Child {
		return "child"
	}
	return "parent"
}

// Transport is one IPC mechanism exercised between a parent and its child.
//
// The parent calls Setup before spawning, hands the returned descriptors to the child,
// then calls Parent and finally Teardown after the child was reaped. The child calls only
// Child. Transports report progress as events but leave the single error event of a failed
// process to the caller: they return wrapped errors instead.
type Transport interface {
	// Module names the event channel of role.
	Module(role Role) string
	// Setup acquires everything that must exist before the child starts.
	Setup(ctx context.Context) (*Handover, error)
	// Parent runs the parent's half of the exchange.
	Parent(ctx context.Context, childPID int) error
	// Child runs the child's half of the exchange.
	Child(ctx context.Context, inherited Inherited) error
	// Teardown releases what Setup acquired. It is safe to call more than once.
	Teardown() error
}

// Inherited gives the child access to descriptors its parent handed over.
type Inherited interface {
	File(key string) (*os.File, error)
}

// Handover collects the descriptors the child inherits, in the order they will appear
// after stdin, stdout and stderr.
type Handover struct {
	keys  []string
	files []*os.File
}

// AddFile registers f under key.
func (h *Handover) AddFile(key string, f *os.File) {
	h.keys = append(h.keys, key)
	h.files = append(h.files, f)
}

// Keys returns the registered keys in descriptor order.
func (h *Handover) Keys() []string {
	if h == nil {
		return nil
	}
	return h.keys
}

// Files returns the registered files in descriptor order.
func (h *Handover) Files() []*os.File {
	if h == nil {
		return nil
	}
	return h.files
}

// File returns a duplicate of the descriptor registered under key, which is what a spawned
// child ends up holding. The caller owns the duplicate.
func (h *Handover) File(key string) (*os.File, error) {
	if h != nil {
		for i, k := range h.keys {
			if k != key {
				continue
			}
			// Fd would switch the shared description to blocking mode; Control leaves it alone.
			rc, err := h.files[i].SyscallConn()
			if err != nil {
				return nil, fmt.Errorf("dup %s: %w", key, err)
			}
			fd := -1
			var dupErr error
			if err := rc.Control(func(raw uintptr) {
				fd, dupErr = unix.FcntlInt(raw, unix.F_DUPFD_CLOEXEC, 0)
			}); err != nil {
				return nil, fmt.Errorf("dup %s: %w", key, err)
			}
			if dupErr != nil {
				return nil, fmt.Errorf("dup %s: %w", key, dupErr)
			}
			return os.NewFile(uintptr(fd), key), nil
		}
	}
	return nil, fmt.Errorf("no inherited descriptor %q", key)
}

// Close closes the parent's copies. The protocol calls it right after the child has started,
// and again on the way out in case the spawn failed. Closing twice is a no-op.
func (h *Handover) Close() error {
	if h == nil {
		return nil
	}
	var first error
	for _, f := range h.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	h.files = nil
	h.keys = nil
	return first
}
