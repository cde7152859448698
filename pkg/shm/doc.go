// Package shm owns the named shared memory segment and semaphore of one run and builds the
// single-shot handoff channel on top of them.
//
// The creating process acquires both objects before spawning its peer, writes a message and
// posts the semaphore. The attaching process opens the same names, waits on the semaphore and
// reads the message back:
//
//	res, err := shm.Acquire(ctx, shm.Options{Name: "ipc_shm", SemName: "ipc_sem", Role: shm.Creator, Size: 4096})
//	if err != nil {
//		return err
//	}
//	defer res.Release()
//	ch := shm.NewChannel(res)
//	if err := ch.Write(ctx, []byte("hello")); err != nil {
//		return err
//	}
//	return ch.Signal(ctx)
//
// Platform-specific helpers are in internal/shm.
package shm
