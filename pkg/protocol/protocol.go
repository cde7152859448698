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

// Package protocol runs a transport between the current process and one child.
//
// The child is the current executable started again with the same arguments and
// IPCDEMO_ROLE=child in its environment. Descriptors the transport hands over are passed
// as extra files and found again through IPCDEMO_FD_<KEY>.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/srediag/ipcdemo/api"
	"github.com/srediag/ipcdemo/internal/config"
	"github.com/srediag/ipcdemo/internal/logging"
	"github.com/srediag/ipcdemo/pkg/event"
)

const (
	// RoleEnv marks the re-executed child.
	RoleEnv = config.Prefix + "_ROLE"
	// RoleChild is the value of RoleEnv in the child.
	RoleChild = "child"

	fdEnvPrefix = config.Prefix + "_FD_"
	// first descriptor after stdin, stdout and stderr
	firstExtraFD = 3

	// DefaultGracePeriod is how long a failed parent lets the child finish on its own
	// before killing it.
	DefaultGracePeriod = 2 * time.Second
)

var (
	// ErrSpawn is returned when the child could not be started. It is never retried.
	ErrSpawn = errors.New("spawn failed")
	// ErrChildFailed is returned by the parent when the child exited unsuccessfully.
	ErrChildFailed = errors.New("child failed")
)

// IsChild reports whether this process was started as the child of a run.
func IsChild() bool {
	return os.Getenv(RoleEnv) == RoleChild
}

// Options configure a run.
type Options struct {
	Transport api.Transport
	Sink      event.Sink
	Config    *config.Config
	Logger    *zap.Logger

	// Command builds the child command. The default re-executes os.Executable with the
	// current arguments.
	Command func() (*exec.Cmd, error)
	// Stdout receives the child's event stream, os.Stdout by default.
	Stdout io.Writer
	// GracePeriod bounds how long the child may keep running after the parent's half
	// failed. Zero means DefaultGracePeriod.
	GracePeriod time.Duration
}

func (o *Options) normalize() error {
	if o.Transport == nil {
		return errors.New("protocol: no transport")
	}
	if o.Sink == nil {
		o.Sink = event.NewWriter(nil)
	}
	if o.Config == nil {
		o.Config = config.Default()
	}
	if o.Logger == nil {
		o.Logger = logging.Named("protocol")
	}
	if o.Command == nil {
		o.Command = reexec
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	return nil
}

// Run plays whichever role this process has.
func Run(ctx context.Context, opts Options) error {
	if IsChild() {
		return RunChild(ctx, opts)
	}
	return RunParent(ctx, opts)
}

// RunParent sets the transport up, spawns the child, runs the parent's half, reaps the
// child and tears everything down. Every failure is reported as exactly one error event.
// On success the last event of this process is the success status.
func RunParent(ctx context.Context, opts Options) error {
	if err := opts.normalize(); err != nil {
		return err
	}
	t := opts.Transport
	module := t.Module(api.Parent)
	em := event.NewEmitter(opts.Sink, module)
	log := opts.Logger.With(zap.String("module", module), zap.Stringer("role", api.Parent))
	fail := func(err error) error {
		em.Error(err)
		return err
	}

	opts.Config.EnsureRunID()
	if opts.Config.WaitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Config.WaitTimeout)
		defer cancel()
	}

	h, err := t.Setup(ctx)
	if err != nil {
		if terr := t.Teardown(); terr != nil {
			log.Warn("rollback after failed setup", zap.Error(terr))
		}
		return fail(err)
	}
	defer func() {
		if terr := t.Teardown(); terr != nil {
			log.Warn("teardown", zap.Error(terr))
		}
	}()

	defer h.Close()

	em.Status("fork", "Starting child process...")
	cmd, err := opts.childCommand(h)
	if err == nil {
		err = cmd.Start()
	}
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrSpawn, err))
	}
	childPID := cmd.Process.Pid
	// the child holds its own copies now; ours would keep the peer from seeing EOF
	if err := h.Close(); err != nil {
		log.Warn("close handed-over descriptors", zap.Error(err))
	}
	log.Debug("child started", zap.Int("child_pid", childPID))

	exchangeErr := t.Parent(ctx, childPID)
	if exchangeErr != nil {
		em.Error(exchangeErr)
	}

	em.Status("waiting_child", "Parent waiting for child process to finish...")
	var waitErr error
	if exchangeErr != nil {
		waitErr = reapWithin(cmd, opts.GracePeriod, log)
	} else {
		waitErr = cmd.Wait()
	}
	teardownErr := t.Teardown()

	switch {
	case exchangeErr != nil:
		return exchangeErr
	case waitErr != nil:
		return fail(fmt.Errorf("%w: pid %d: %w", ErrChildFailed, childPID, waitErr))
	case teardownErr != nil:
		return fail(teardownErr)
	}
	em.Statusf(event.StatusSuccess, "Communication via %s completed successfully.", module)
	return nil
}

// RunChild runs the child's half. A failure is reported as one error event.
func RunChild(ctx context.Context, opts Options) error {
	if err := opts.normalize(); err != nil {
		return err
	}
	t := opts.Transport
	em := event.NewEmitter(opts.Sink, t.Module(api.Child))
	if opts.Config.WaitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Config.WaitTimeout)
		defer cancel()
	}
	if err := t.Child(ctx, EnvInherited{}); err != nil {
		em.Error(err)
		return err
	}
	return nil
}

func reexec() (*exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	return exec.Command(exe, os.Args[1:]...), nil
}

func (o *Options) childCommand(h *api.Handover) (*exec.Cmd, error) {
	cmd, err := o.Command()
	if err != nil {
		return nil, err
	}
	env := cmd.Env
	if env == nil {
		env = os.Environ()
	}
	env = append(env, RoleEnv+"="+RoleChild)
	if o.Config.RunID != "" {
		env = append(env, config.RunIDEnv+"="+o.Config.RunID)
	}
	for i, key := range h.Keys() {
		env = append(env, fdEnvPrefix+key+"="+strconv.Itoa(firstExtraFD+i))
	}
	cmd.Env = env
	cmd.ExtraFiles = h.Files()
	cmd.Stdout = o.Stdout
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.SysProcAttr = childSysProcAttr()
	return cmd, nil
}

// reapWithin waits for the child, killing it if it is still running after grace.
func reapWithin(cmd *exec.Cmd, grace time.Duration, log *zap.Logger) error {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(grace):
		log.Warn("child still running after failed exchange, killing it",
			zap.Int("child_pid", cmd.Process.Pid), zap.Duration("grace", grace))
		_ = cmd.Process.Kill()
		return <-done
	}
}

// EnvInherited finds handed-over descriptors through the environment.
type EnvInherited struct{}

// File returns the descriptor inherited under key.
func (EnvInherited) File(key string) (*os.File, error) {
	v, ok := os.LookupEnv(fdEnvPrefix + key)
	if !ok {
		return nil, fmt.Errorf("descriptor %s was not inherited", key)
	}
	fd, err := strconv.Atoi(v)
	if err != nil || fd < firstExtraFD {
		return nil, fmt.Errorf("descriptor %s: bad value %q", key, v)
	}
	return inheritFD(fd, key)
}
