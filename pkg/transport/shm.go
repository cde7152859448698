package transport

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/srediag/ipcdemo/api"
	"github.com/srediag/ipcdemo/pkg/event"
	"github.com/srediag/ipcdemo/pkg/shm"
)

// SHM hands the message to the child through the shared memory segment, gated by the
// semaphore. The parent is the Creator, the child the Attacher.
type SHM struct {
	opts Options
	em   *event.Emitter
	log  *zap.Logger
	res  *shm.Resource
}

// NewSHM returns the shared memory transport.
func NewSHM(opts Options) *SHM {
	opts.normalize(ModuleSHM)
	return &SHM{opts: opts, em: event.NewEmitter(opts.Sink, ModuleSHM), log: opts.Logger}
}

func (s *SHM) Module(api.Role) string { return ModuleSHM }

func (s *SHM) resourceOptions(role shm.Role) shm.Options {
	names := s.opts.Config.Names()
	o := shm.Options{
		Dir:     names.Dir,
		Name:    names.Segment,
		SemName: names.Semaphore,
		Role:    role,
		Logger:  s.log,
	}
	if role == shm.Creator {
		o.Size = s.opts.Config.SHM.Size
	}
	return o
}

// Setup creates the segment and semaphore. The child finds them by the run's names.
func (s *SHM) Setup(ctx context.Context) (*api.Handover, error) {
	if err := checkSize("segment", s.opts.Message, s.opts.Config.SHM.Size); err != nil {
		return nil, err
	}
	res, err := shm.Acquire(ctx, s.resourceOptions(shm.Creator))
	if err != nil {
		return nil, err
	}
	s.res = res
	s.em.Statusf("created", "Created shared memory segment '%s' (size: %d bytes)", res.Name(), res.Size())
	s.em.Statusf("received", "Parent process (PID: %d) received input message: %q", s.em.PID(), s.opts.Message)
	return &api.Handover{}, nil
}

// Parent writes the message and posts the semaphore.
func (s *SHM) Parent(ctx context.Context, childPID int) error {
	if s.res == nil {
		return fmt.Errorf("shm: %w", shm.ErrReleased)
	}
	pid := s.em.PID()
	ch := shm.NewChannel(s.res, shm.WithOTel(s.opts.OTel))

	s.em.Statusf("writing", "Parent process (PID: %d) writing to shared memory...", pid)
	if err := ch.Write(ctx, []byte(s.opts.Message)); err != nil {
		return fmt.Errorf("write segment: %w", err)
	}
	s.em.Data(s.opts.Message, "parent_write", pid)

	s.em.Statusf("sem_post", "Parent (PID: %d) releasing the semaphore for child %d...", pid, childPID)
	if err := ch.Signal(ctx); err != nil {
		return fmt.Errorf("signal: %w", err)
	}
	return nil
}

// Child attaches, waits for the semaphore and reads the message.
func (s *SHM) Child(ctx context.Context, _ api.Inherited) error {
	pid := s.em.PID()
	res, err := shm.Acquire(ctx, s.resourceOptions(shm.Attacher))
	if err != nil {
		return err
	}
	defer func() {
		if err := res.Release(); err != nil {
			s.log.Warn("child release failed", zap.Error(err))
		}
	}()
	ch := shm.NewChannel(res, shm.WithOTel(s.opts.OTel))

	s.em.Statusf("sem_wait", "Child process (PID: %d) waiting for the semaphore...", pid)
	if err := ch.Await(ctx); err != nil {
		return err
	}
	s.em.Statusf("sem_proceed", "Child (PID: %d) released by the semaphore, reading memory...", pid)

	msg, err := ch.Read(ctx)
	if err != nil && !errors.Is(err, shm.ErrTruncated) {
		return err
	}
	s.em.Data(string(msg), "child_read", os.Getppid())
	if err != nil {
		return err
	}
	s.em.Status("child_exit", "Child process finished.")
	return nil
}

// Teardown unmaps and unlinks the segment and semaphore.
func (s *SHM) Teardown() error {
	if s.res == nil {
		return nil
	}
	return s.res.Release()
}
