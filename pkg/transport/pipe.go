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

package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/srediag/ipcdemo/api"
	"github.com/srediag/ipcdemo/pkg/event"
)

// Descriptor keys the child looks its pipe ends up by.
const (
	KeyParentToChildRead  = "P2C_READ"
	KeyChildToParentWrite = "C2P_WRITE"
)

// Pipe exchanges the message over two anonymous pipes: the parent writes it, the child
// echoes the exact bytes back.
type Pipe struct {
	opts Options
	em   *event.Emitter
	log  *zap.Logger

	p2cR, p2cW *os.File
	c2pR, c2pW *os.File
}

// NewPipe returns the pipe transport.
func NewPipe(opts Options) *Pipe {
	opts.normalize(ModulePipes)
	return &Pipe{opts: opts, em: event.NewEmitter(opts.Sink, ModulePipes), log: opts.Logger}
}

func (p *Pipe) Module(api.Role) string { return ModulePipes }

func (p *Pipe) buffer() int { return p.opts.Config.Pipe.Buffer }

// Setup creates both pipes.
func (p *Pipe) Setup(ctx context.Context) (*api.Handover, error) {
	p.em.Status("setup", "Setting up pipes...")
	if err := checkSize("pipe buffer", p.opts.Message, p.buffer()); err != nil {
		return nil, err
	}
	var err error
	if p.p2cR, p.p2cW, err = newPipe("parent->child"); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResourceCreate, err)
	}
	if p.c2pR, p.c2pW, err = newPipe("child->parent"); err != nil {
		_ = p.Teardown()
		return nil, fmt.Errorf("%w: %w", ErrResourceCreate, err)
	}
	p.em.Status("setup_complete", "Pipes created (parent->child and child->parent).")

	// the child's ends belong to the handover from here on
	h := &api.Handover{}
	h.AddFile(KeyParentToChildRead, p.p2cR)
	h.AddFile(KeyChildToParentWrite, p.c2pW)
	p.p2cR, p.c2pW = nil, nil
	return h, nil
}

// Parent sends the message and reads the echo. The child's ends were closed at the spawn
// point along with the rest of the handover.
func (p *Pipe) Parent(ctx context.Context, childPID int) error {
	pid := p.em.PID()
	p.em.Statusf("parent_start", "Parent continues after starting child %d.", childPID)
	p.em.Status("parent_setup", "Parent holds only the pipe ends it uses.")

	p.em.Statusf("parent_write", "Parent sending message: %q", p.opts.Message)
	if err := writeFrame(ctx, p.p2cW, []byte(p.opts.Message)); err != nil {
		return fmt.Errorf("parent write: %w", err)
	}
	p.em.Data(p.opts.Message, "parent -> child", pid)

	p.em.Status("parent_read_wait", "Parent waiting for echo from child...")
	echo, n, err := readFrame(ctx, p.c2pR, p.buffer())
	if err != nil {
		return fmt.Errorf("parent read: %w", err)
	}
	p.em.Statusf("parent_read_ok", "Parent received a %d-byte echo.", n)
	p.em.Data(string(echo), "child -> parent (echo)", childPID)

	closeQuietly(&p.p2cW)
	closeQuietly(&p.c2pR)
	return nil
}

// Child reads the message and writes it back unchanged.
func (p *Pipe) Child(ctx context.Context, inherited api.Inherited) error {
	pid := p.em.PID()
	p.em.Status("child_start", "Child process started.")
	r, err := inherited.File(KeyParentToChildRead)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer r.Close()
	w, err := inherited.File(KeyChildToParentWrite)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer w.Close()
	p.em.Status("child_setup", "Child holds only the pipe ends it uses.")

	p.em.Status("child_read_wait", "Child waiting for message from parent...")
	msg, n, err := readFrame(ctx, r, p.buffer())
	if err != nil {
		return fmt.Errorf("child read: %w", err)
	}
	p.em.Statusf("child_read_ok", "Child received %d bytes.", n)
	p.em.Data(string(msg), "parent -> child", os.Getppid())

	p.em.Statusf("child_write", "Child sending echo: %q", msg)
	if err := writeFrame(ctx, w, msg); err != nil {
		return fmt.Errorf("child write: %w", err)
	}
	p.log.Debug("echo sent", zap.Int("pid", pid), zap.Int("bytes", len(msg)+1))
	p.em.Status("child_exit", "Child process finished.")
	return nil
}

// Teardown closes whatever pipe ends are still open.
func (p *Pipe) Teardown() error {
	for _, f := range []**os.File{&p.p2cR, &p.p2cW, &p.c2pR, &p.c2pW} {
		closeQuietly(f)
	}
	return nil
}

func closeQuietly(f **os.File) {
	if *f != nil {
		_ = (*f).Close()
		*f = nil
	}
}

// writeFrame writes msg followed by a NUL terminator.
func writeFrame(ctx context.Context, f *os.File, msg []byte) error {
	if f == nil {
		return fmt.Errorf("%w: pipe end closed", ErrIO)
	}
	stop := bindContext(ctx, f)
	defer stop()
	frame := make([]byte, len(msg)+1)
	copy(frame, msg)
	if _, err := f.Write(frame); err != nil {
		return ioError(ctx, "write", err)
	}
	return nil
}

// readFrame reads until a NUL terminator and returns the bytes before it along with the
// number of bytes consumed. Reaching end of stream first is an ErrIO.
func readFrame(ctx context.Context, f *os.File, max int) ([]byte, int, error) {
	if f == nil {
		return nil, 0, fmt.Errorf("%w: pipe end closed", ErrIO)
	}
	stop := bindContext(ctx, f)
	defer stop()
	buf := make([]byte, max)
	n := 0
	for n < max {
		m, err := f.Read(buf[n:])
		n += m
		if i := bytes.IndexByte(buf[:n], 0); i >= 0 {
			return buf[:i], n, nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, n, fmt.Errorf("%w: peer closed after %d bytes", ErrIO, n)
			}
			return nil, n, ioError(ctx, "read", err)
		}
	}
	return nil, n, fmt.Errorf("%w: no terminator within %d bytes", ErrIO, max)
}
