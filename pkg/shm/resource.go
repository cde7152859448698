/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package shm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/srediag/ipcdemo/internal/logging"
	internalshm "github.com/srediag/ipcdemo/internal/shm"
)

// Role says whether a Resource owns its names.
type Role int

const (
	// Creator makes the objects and unlinks them on Release.
	Creator Role = iota
	// Attacher opens objects made by a Creator and only closes its handles on Release.
	Attacher
)

func (r Role) String() string {
	switch r {
	case Creator:
		return "creator"
	case Attacher:
		return "attacher"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Options describe the objects to acquire.
type Options struct {
	// Dir is the namespace directory, /dev/shm when empty.
	Dir     string
	Name    string
	SemName string
	Role    Role
	// Size is required for Creator. An Attacher may leave it zero.
	Size   int
	Logger *zap.Logger
}

// platform hooks, replaced in tests
var (
	mapRegion       = internalshm.MapRegion
	unmapRegion     = internalshm.UnmapRegion
	unlinkRegion    = internalshm.Unlink
	createSemaphore = internalshm.CreateSemaphore
	openSemaphore   = internalshm.OpenSemaphore
	unlinkSemaphore = internalshm.UnlinkSemaphore
	canCreate       = internalshm.CanCreate
)

// Resource is one process's view of the segment and semaphore of a run.
type Resource struct {
	opts Options
	log  *zap.Logger

	mu         sync.Mutex
	region     *internalshm.MappedRegion
	sem        *internalshm.Semaphore
	segCreated bool
	semCreated bool
	released   bool
}

// Acquire creates or attaches to the objects named in opts. A Creator first removes
// leftovers of an earlier run under the same names. When any step fails, whatever this
// call created is unmapped, closed and unlinked before the error is returned.
func Acquire(ctx context.Context, opts Options) (*Resource, error) {
	if opts.Name == "" || opts.SemName == "" {
		return nil, errors.New("shm: segment and semaphore names are required")
	}
	if opts.Dir == "" {
		opts.Dir = internalshm.DefaultDir
	}
	r := &Resource{opts: opts, log: opts.Logger}
	if r.log == nil {
		r.log = logging.Named("shm")
	}
	r.log = r.log.With(zap.String("segment", opts.Name), zap.Stringer("role", opts.Role))

	var err error
	switch opts.Role {
	case Creator:
		err = r.create(ctx)
	case Attacher:
		err = r.attach(ctx)
	default:
		return nil, fmt.Errorf("shm: unknown role %v", opts.Role)
	}
	if err != nil {
		if terr := r.teardown(); terr != nil {
			r.log.Warn("rollback incomplete", zap.Error(terr))
		}
		return nil, err
	}
	r.log.Debug("acquired", zap.Int("size", len(r.region.Addr)))
	return r, nil
}

func (r *Resource) create(ctx context.Context) error {
	if r.opts.Size <= 0 {
		return fmt.Errorf("%w: invalid size %d", ErrResourceCreate, r.opts.Size)
	}
	// leftovers from a crashed run; absence is the normal case
	if err := unlinkRegion(r.opts.Dir, r.opts.Name); err == nil {
		r.log.Info("removed stale segment")
	}
	if err := unlinkSemaphore(r.opts.Dir, r.opts.SemName); err == nil {
		r.log.Info("removed stale semaphore", zap.String("semaphore", r.opts.SemName))
	}

	if !canCreate(r.opts.Dir, uint64(r.opts.Size)) {
		return fmt.Errorf("%w: segment %s: %w", ErrResourceCreate, r.opts.Name, ErrNoSpace)
	}

	region, err := mapRegion(ctx, internalshm.MapOptions{
		Dir:    r.opts.Dir,
		Name:   r.opts.Name,
		Size:   r.opts.Size,
		Create: true,
	})
	if err != nil {
		return fmt.Errorf("%w: segment %s: %w", ErrResourceCreate, r.opts.Name, err)
	}
	r.region = region
	r.segCreated = true

	sem, err := createSemaphore(ctx, r.opts.Dir, r.opts.SemName, 0)
	if err != nil {
		return fmt.Errorf("%w: semaphore %s: %w", ErrResourceCreate, r.opts.SemName, err)
	}
	r.sem = sem
	r.semCreated = true
	return nil
}

func (r *Resource) attach(ctx context.Context) error {
	region, err := mapRegion(ctx, internalshm.MapOptions{
		Dir:  r.opts.Dir,
		Name: r.opts.Name,
		Size: r.opts.Size,
	})
	if err != nil {
		return attachError("segment", r.opts.Name, err)
	}
	r.region = region

	sem, err := openSemaphore(ctx, r.opts.Dir, r.opts.SemName)
	if err != nil {
		return attachError("semaphore", r.opts.SemName, err)
	}
	r.sem = sem
	return nil
}

func attachError(what, name string, err error) error {
	if errors.Is(err, internalshm.ErrNotExist) {
		return fmt.Errorf("%w: %s %s: %w", ErrResourceAttach, what, name, ErrNotFound)
	}
	return fmt.Errorf("%w: %s %s: %w", ErrResourceAttach, what, name, err)
}

// teardown releases every handle r holds and unlinks the names it created. It is the
// only cleanup path, used both for rollback and for Release. The first failure is
// returned, the rest are logged.
func (r *Resource) teardown() error {
	var first error
	note := func(step string, err error) {
		if err == nil {
			return
		}
		if first == nil {
			first = fmt.Errorf("%s: %w", step, err)
			return
		}
		r.log.Warn("teardown step failed", zap.String("step", step), zap.Error(err))
	}

	if r.sem != nil {
		note("close semaphore", r.sem.Close())
		r.sem = nil
	}
	if r.region != nil {
		note("unmap segment", unmapRegion(context.Background(), r.region))
		r.region = nil
	}
	if r.semCreated {
		if err := unlinkSemaphore(r.opts.Dir, r.opts.SemName); !errors.Is(err, internalshm.ErrNotExist) {
			note("unlink semaphore", err)
		}
		r.semCreated = false
	}
	if r.segCreated {
		if err := unlinkRegion(r.opts.Dir, r.opts.Name); !errors.Is(err, internalshm.ErrNotExist) {
			note("unlink segment", err)
		}
		r.segCreated = false
	}
	return first
}

// Release closes all local handles and, for a Creator, unlinks both names. Calling it
// again is a no-op.
func (r *Resource) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil
	}
	r.released = true
	err := r.teardown()
	if err != nil {
		r.log.Warn("release failed", zap.Error(err))
	} else {
		r.log.Debug("released")
	}
	return err
}

func (r *Resource) Name() string    { return r.opts.Name }
func (r *Resource) SemName() string { return r.opts.SemName }
func (r *Resource) Dir() string     { return r.opts.Dir }
func (r *Resource) Role() Role      { return r.opts.Role }

// Size returns the mapped size, zero after Release.
func (r *Resource) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.region == nil {
		return 0
	}
	return len(r.region.Addr)
}

func (r *Resource) handles() ([]byte, *internalshm.Semaphore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released || r.region == nil || r.sem == nil {
		return nil, nil, ErrReleased
	}
	return r.region.Addr, r.sem, nil
}
