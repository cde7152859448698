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

// Package monitor runs demo executables on behalf of a front end and turns their stdout
// into a stream of events, one callback per line.
package monitor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	queuepkg "github.com/Workiva/go-datastructures/queue"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/srediag/ipcdemo/api"
	"github.com/srediag/ipcdemo/internal/logging"
	"github.com/srediag/ipcdemo/pkg/event"
)

var (
	// ErrNotRunning is returned by Stop for a module without a process.
	ErrNotRunning = errors.New("module is not running")
	// ErrExecutableNotFound is returned by Start when the executable cannot be resolved.
	ErrExecutableNotFound = errors.New("executable not found")
)

// DefaultPoolSize covers four concurrent modules at four workers each. Beyond that tasks
// fall back to plain goroutines.
const DefaultPoolSize = 16

// maxLine bounds a single output line.
const maxLine = 1 << 20

// endOfStream is queued after the last line of a process.
type endOfStream struct{}

type process struct {
	module string
	cmd    *exec.Cmd
	cb     api.EventCallback
	events *queuepkg.Queue

	stopped atomic.Bool
	exited  chan struct{}
	done    chan struct{}
	exitErr error
}

func (p *process) running() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// Manager supervises at most one process per module.
type Manager struct {
	procs   cmap.ConcurrentMap[string, *process]
	pool    *ants.Pool
	metrics *Metrics
	log     *zap.Logger
	dir     string

	startMu sync.Mutex
}

var _ api.Lifecycle = (*Manager)(nil)

// Option configures a Manager.
type Option func(*Manager)

// WithDir resolves executables relative to dir, like the build/ directory of a checkout.
func WithDir(dir string) Option { return func(m *Manager) { m.dir = dir } }

// WithLogger sets the diagnostic logger.
func WithLogger(log *zap.Logger) Option { return func(m *Manager) { m.log = log } }

// WithMetrics records events and exits on metrics.
func WithMetrics(metrics *Metrics) Option { return func(m *Manager) { m.metrics = metrics } }

// New returns a Manager whose readers run on a pool of poolSize workers.
func New(poolSize int, opts ...Option) (*Manager, error) {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	m := &Manager{procs: cmap.New[*process](), log: logging.Named("monitor")}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = NewMetrics()
	}
	pool, err := ants.NewPool(poolSize,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(v any) {
			m.log.Error("monitor worker panicked", zap.Any("panic", v))
		}))
	if err != nil {
		return nil, fmt.Errorf("worker pool: %w", err)
	}
	m.pool = pool
	return m, nil
}

// Metrics returns the collectors the manager records on.
func (m *Manager) Metrics() *Metrics { return m.metrics }

func (m *Manager) resolve(executable string) (string, error) {
	path := executable
	if m.dir != "" && !filepath.IsAbs(executable) {
		path = filepath.Join(m.dir, executable)
	}
	found, err := exec.LookPath(path)
	if err != nil {
		return path, fmt.Errorf("%w: %s", ErrExecutableNotFound, path)
	}
	return found, nil
}

// Start launches executable with args under module and delivers its events to cb. A process
// already running under module is stopped first. Start failures are delivered to cb as an
// error event as well as returned.
func (m *Manager) Start(ctx context.Context, module, executable string, args []string, cb api.EventCallback) error {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	if m.Running(module) {
		if err := m.Stop(module); err != nil && !errors.Is(err, ErrNotRunning) {
			m.log.Warn("stop before restart", zap.String("module", module), zap.Error(err))
		}
	}

	path, err := m.resolve(executable)
	if err != nil {
		cb(event.NewError(module, fmt.Sprintf("Executable not found: %s", path), 0))
		return err
	}

	cmd := exec.CommandContext(ctx, path, args...)
	stdout, err := cmd.StdoutPipe()
	if err == nil {
		var stderr io.ReadCloser
		if stderr, err = cmd.StderrPipe(); err == nil {
			err = cmd.Start()
			if err == nil {
				return m.supervise(module, cmd, stdout, stderr, cb)
			}
		}
	}
	cb(event.NewError(module, fmt.Sprintf("Failed to start process: %v", err), 0))
	return fmt.Errorf("start %s: %w", module, err)
}

func (m *Manager) supervise(module string, cmd *exec.Cmd, stdout, stderr io.Reader, cb api.EventCallback) error {
	p := &process{
		module: module,
		cmd:    cmd,
		cb:     cb,
		events: queuepkg.New(64),
		exited: make(chan struct{}),
		done:   make(chan struct{}),
	}
	m.procs.Set(module, p)
	m.metrics.Running.Inc()
	log := m.log.With(zap.String("module", module), zap.Int("pid", cmd.Process.Pid))
	log.Debug("process started", zap.String("path", cmd.Path))

	var outputDone sync.WaitGroup
	outputDone.Add(2)
	tasks := []func(){
		func() {
			defer outputDone.Done()
			m.readEvents(p, stdout)
		},
		func() {
			defer outputDone.Done()
			m.readDiagnostics(log, stderr)
		},
		func() { m.dispatch(p) },
		func() {
			outputDone.Wait()
			p.exitErr = cmd.Wait()
			close(p.exited)
			m.metrics.exited(module, p.exitErr)
			log.Debug("process exited", zap.Error(p.exitErr))
			_ = p.events.Put(endOfStream{})
		},
	}
	for i, task := range tasks {
		if err := m.pool.Submit(task); err != nil {
			// run the rest inline so the process is still reaped
			log.Warn("worker pool refused task", zap.Int("task", i), zap.Error(err))
			go task()
		}
	}
	return nil
}

// readEvents turns each non-empty stdout line into an event. Lines that are not events
// become raw events; a read failure becomes an error event.
func (m *Manager) readEvents(p *process, stdout io.Reader) {
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 4096), maxLine)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		e, err := event.Decode([]byte(line))
		if err != nil {
			e = event.Event{Kind: event.KindRaw, Module: p.module, Data: line}
		}
		_ = p.events.Put(e)
	}
	if err := sc.Err(); err != nil {
		_ = p.events.Put(event.NewError(p.module, fmt.Sprintf("Output reading error: %v", err), 0))
	}
}

func (m *Manager) readDiagnostics(log *zap.Logger, stderr io.Reader) {
	sc := bufio.NewScanner(stderr)
	sc.Buffer(make([]byte, 0, 4096), maxLine)
	for sc.Scan() {
		log.Debug("stderr", zap.String("line", sc.Text()))
	}
}

// dispatch delivers queued events in order until the end of the stream.
func (m *Manager) dispatch(p *process) {
	defer close(p.done)
	for {
		items, err := p.events.Get(1)
		if err != nil {
			return
		}
		for _, item := range items {
			e, ok := item.(event.Event)
			if !ok {
				return
			}
			if p.stopped.Load() {
				continue
			}
			m.metrics.observe(e)
			p.cb(e)
		}
	}
}

// Stop terminates the process of module. No events are delivered for it afterwards.
func (m *Manager) Stop(module string) error {
	p, ok := m.procs.Pop(module)
	if !ok {
		return ErrNotRunning
	}
	p.stopped.Store(true)
	if !p.running() {
		return nil
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("stop %s: %w", module, err)
	}
	return nil
}

// StopAll terminates every supervised process.
func (m *Manager) StopAll() {
	for _, module := range m.procs.Keys() {
		if err := m.Stop(module); err != nil && !errors.Is(err, ErrNotRunning) {
			m.log.Warn("stop", zap.String("module", module), zap.Error(err))
		}
	}
}

// Running reports whether module has a live process.
func (m *Manager) Running(module string) bool {
	p, ok := m.procs.Get(module)
	return ok && p.running()
}

// Wait blocks until every event of module's current process was delivered and returns its
// exit error.
func (m *Manager) Wait(ctx context.Context, module string) error {
	p, ok := m.procs.Get(module)
	if !ok {
		return ErrNotRunning
	}
	select {
	case <-p.done:
		return p.exitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PIDs returns the pid of every running module.
func (m *Manager) PIDs() map[string]int {
	out := make(map[string]int)
	m.procs.IterCb(func(module string, p *process) {
		if p.running() {
			out[module] = p.cmd.Process.Pid
		}
	})
	return out
}

// Close stops everything and releases the worker pool.
func (m *Manager) Close() {
	m.StopAll()
	m.pool.Release()
}
