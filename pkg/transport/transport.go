// Package transport implements the parent and child halves of the three IPC mechanisms:
// anonymous pipes, the shared memory handoff and a Unix stream socket.
package transport

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/srediag/ipcdemo/adapter"
	"github.com/srediag/ipcdemo/api"
	"github.com/srediag/ipcdemo/internal/config"
	"github.com/srediag/ipcdemo/internal/logging"
	"github.com/srediag/ipcdemo/pkg/event"
	"github.com/srediag/ipcdemo/pkg/shm"
)

var (
	// ErrIO is returned when a read or write on a pipe or socket fails or comes back short.
	ErrIO = errors.New("i/o failure")
	// ErrTooLarge is returned by Setup when the message cannot fit the transport's buffer.
	ErrTooLarge = shm.ErrTooLarge
	// ErrResourceCreate is returned when pipes or the socket could not be created.
	ErrResourceCreate = shm.ErrResourceCreate
	// ErrWaitTimeout is returned when a configured wait timeout expired.
	ErrWaitTimeout = shm.ErrWaitTimeout
)

// Kind names a transport.
type Kind string

const (
	KindPipes  Kind = "pipes"
	KindSHM    Kind = "shm"
	KindSocket Kind = "socket"
)

// Kinds lists every transport.
var Kinds = []Kind{KindPipes, KindSHM, KindSocket}

// Module names used on the event stream.
const (
	ModulePipes        = "pipes"
	ModuleSHM          = "shm"
	ModuleSocketServer = "socket_server"
	ModuleSocketClient = "socket_client"
)

// DefaultModule is the event channel a transport reports on before roles are known, for
// example when its arguments are rejected.
func DefaultModule(kind Kind) string {
	switch kind {
	case KindSHM:
		return ModuleSHM
	case KindSocket:
		return ModuleSocketServer
	default:
		return ModulePipes
	}
}

// Options are shared by every transport.
type Options struct {
	Message string
	Sink    event.Sink
	Config  *config.Config
	Logger  *zap.Logger
	OTel    *adapter.OTelAdapter
}

func (o *Options) normalize(module string) {
	if o.Config == nil {
		o.Config = config.Default()
	}
	if o.Sink == nil {
		o.Sink = event.NewWriter(nil)
	}
	if o.Logger == nil {
		o.Logger = logging.Named("transport")
	}
	o.Logger = o.Logger.With(zap.String("module", module))
	if o.OTel == nil {
		o.OTel = adapter.NoopOTelAdapter()
	}
}

// New returns the transport called kind.
func New(kind Kind, opts Options) (api.Transport, error) {
	switch kind {
	case KindPipes:
		return NewPipe(opts), nil
	case KindSHM:
		return NewSHM(opts), nil
	case KindSocket:
		return NewSocket(opts), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}

func checkSize(what string, msg string, capacity int) error {
	if len(msg) >= capacity {
		return fmt.Errorf("%w: %d-byte message, %s holds %d bytes with terminator", ErrTooLarge, len(msg), what, capacity)
	}
	return nil
}
