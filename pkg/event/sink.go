package event

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"
)

// Sink accepts events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(e Event) error
}

// Writer is the production sink: one JSON line per event, written with a single Write call
// and no buffering, so lines from the parent and the child interleave but never tear.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
	log *zap.Logger
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithClock replaces time.Now as the timestamp source.
func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) { w.now = now }
}

// WithLogger sets where encoding and write failures are reported.
func WithLogger(log *zap.Logger) WriterOption {
	return func(w *Writer) { w.log = log }
}

// NewWriter returns a sink writing to out, os.Stdout when out is nil.
func NewWriter(out io.Writer, opts ...WriterOption) *Writer {
	if out == nil {
		out = os.Stdout
	}
	w := &Writer{out: out, now: time.Now, log: zap.NewNop()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Emit stamps e when it carries no timestamp and writes it.
func (w *Writer) Emit(e Event) error {
	if e.Timestamp == 0 {
		e.Timestamp = w.now().Unix()
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	b, err := AppendLine(buf.B, e)
	if err != nil {
		w.log.Warn("event encode failed", zap.String("module", e.Module), zap.Error(err))
		return err
	}
	buf.B = b

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(buf.B); err != nil {
		w.log.Warn("event write failed", zap.String("module", e.Module), zap.Error(err))
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	now    func() time.Time
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

func (r *Recorder) Emit(e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.Timestamp == 0 {
		e.Timestamp = r.now().Unix()
	}
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kind returns the recorded events of kind k, in order.
func (r *Recorder) Kind(k Kind) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// Statuses returns the status field of every status event, in order.
func (r *Recorder) Statuses() []string {
	var out []string
	for _, e := range r.Kind(KindStatus) {
		out = append(out, e.Status)
	}
	return out
}

// Emitter stamps module and pid onto events for one component.
type Emitter struct {
	sink   Sink
	module string
	pid    int
}

// NewEmitter returns an Emitter for module in the current process.
func NewEmitter(sink Sink, module string) *Emitter {
	return &Emitter{sink: sink, module: module, pid: os.Getpid()}
}

// WithModule returns a copy emitting under another module name.
func (e *Emitter) WithModule(module string) *Emitter {
	c := *e
	c.module = module
	return &c
}

// Module returns the module events are emitted under.
func (e *Emitter) Module() string { return e.module }

// PID returns the pid stamped on status and error events.
func (e *Emitter) PID() int { return e.pid }

func (e *Emitter) Status(status, message string) {
	_ = e.sink.Emit(NewStatus(e.module, status, message, e.pid))
}

func (e *Emitter) Statusf(status, format string, args ...interface{}) {
	e.Status(status, fmt.Sprintf(format, args...))
}

// Data emits a payload observation. pid names the process the payload originated from.
func (e *Emitter) Data(data, source string, pid int) {
	_ = e.sink.Emit(NewData(e.module, data, source, pid))
}

func (e *Emitter) Error(err error) {
	_ = e.sink.Emit(NewError(e.module, err.Error(), e.pid))
}

func (e *Emitter) Errorf(format string, args ...interface{}) {
	_ = e.sink.Emit(NewError(e.module, fmt.Sprintf(format, args...), e.pid))
}
