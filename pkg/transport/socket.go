package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/srediag/ipcdemo/api"
	internaltransport "github.com/srediag/ipcdemo/internal/transport"
	"github.com/srediag/ipcdemo/pkg/event"
)

// EchoPrefix starts every server response.
const EchoPrefix = "echo of: "

// Socket runs a one-request echo exchange over a Unix stream socket. The parent is the
// server and owns the socket path; the child is the client.
type Socket struct {
	opts   Options
	server *event.Emitter
	client *event.Emitter
	log    *zap.Logger

	mu          sync.Mutex
	ln          *internaltransport.Listener
	serverState internaltransport.ServerState
	clientState internaltransport.ClientState
}

// NewSocket returns the socket transport.
func NewSocket(opts Options) *Socket {
	opts.normalize(ModuleSocketServer)
	return &Socket{
		opts:   opts,
		server: event.NewEmitter(opts.Sink, ModuleSocketServer),
		client: event.NewEmitter(opts.Sink, ModuleSocketClient),
		log:    opts.Logger,
	}
}

func (s *Socket) Module(role api.Role) string {
	if role == api.Child {
		return ModuleSocketClient
	}
	return ModuleSocketServer
}

// Path returns the socket path of this run.
func (s *Socket) Path() string { return s.opts.Config.Names().Socket }

func (s *Socket) setServerState(st internaltransport.ServerState) {
	s.mu.Lock()
	s.serverState = st
	s.mu.Unlock()
	s.log.Debug("server state", zap.Stringer("state", st))
}

func (s *Socket) setClientState(st internaltransport.ClientState) {
	s.mu.Lock()
	s.clientState = st
	s.mu.Unlock()
	s.log.Debug("client state", zap.Stringer("state", st))
}

// ServerState returns the last state the server reached.
func (s *Socket) ServerState() internaltransport.ServerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverState
}

// ClientState returns the last state the client reached.
func (s *Socket) ClientState() internaltransport.ClientState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientState
}

// Setup binds and listens, so the server is ready before the client exists.
func (s *Socket) Setup(ctx context.Context) (*api.Handover, error) {
	if err := checkSize("socket buffer", s.opts.Message, s.opts.Config.Socket.Buffer); err != nil {
		return nil, err
	}
	path := s.Path()
	ln, err := internaltransport.Listen(path, internaltransport.DefaultBacklog, func(st internaltransport.ServerState) {
		s.setServerState(st)
		switch st {
		case internaltransport.ServerBound:
			s.server.Statusf("bound", "Socket bound to %s.", path)
		case internaltransport.ServerListening:
			s.server.Status("listening", "Server waiting for connection...")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResourceCreate, err)
	}
	s.ln = ln
	return &api.Handover{}, nil
}

// Parent accepts one client, reads its request and answers with the echo.
func (s *Socket) Parent(ctx context.Context, _ int) error {
	if s.ln == nil {
		return fmt.Errorf("%w: server is not listening", ErrIO)
	}
	pid := s.server.PID()

	stop := bindContext(ctx, s.ln)
	conn, err := s.ln.AcceptUnix()
	stop()
	if err != nil {
		return ioError(ctx, "accept", err)
	}
	defer conn.Close()
	s.setServerState(internaltransport.ServerAccepted)
	s.server.Status("accepted", "Client connected.")

	s.setServerState(internaltransport.ServerExchanging)
	stop = bindContext(ctx, conn)
	defer stop()
	req, err := io.ReadAll(io.LimitReader(conn, int64(s.opts.Config.Socket.Buffer-1)))
	if err != nil {
		return ioError(ctx, "recv", err)
	}
	s.server.Data(string(req), "client -> server", pid)

	if _, err := conn.Write([]byte(EchoPrefix + string(req))); err != nil {
		return ioError(ctx, "send", err)
	}
	if err := conn.Close(); err != nil {
		s.log.Warn("close connection", zap.Error(err))
	}
	if err := s.closeListener(); err != nil {
		return err
	}
	s.server.Status("shutdown", "Server finished.")
	return nil
}

// Child connects, with retries, sends the message and reads the echo.
func (s *Socket) Child(ctx context.Context, _ api.Inherited) error {
	pid := s.client.PID()
	s.setClientState(internaltransport.ClientCreated)

	s.setClientState(internaltransport.ClientConnecting)
	s.client.Statusf("connecting", "Connecting to %s...", s.Path())
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	s.setClientState(internaltransport.ClientConnected)
	s.client.Status("connected", "Connected to server.")

	s.setClientState(internaltransport.ClientExchanging)
	stop := bindContext(ctx, conn)
	defer stop()
	if _, err := conn.Write([]byte(s.opts.Message)); err != nil {
		return ioError(ctx, "send", err)
	}
	if err := conn.CloseWrite(); err != nil {
		return ioError(ctx, "shutdown", err)
	}
	s.client.Data(s.opts.Message, "client -> server (sending)", pid)

	limit := int64(s.opts.Config.Socket.Buffer + len(EchoPrefix))
	resp, err := io.ReadAll(io.LimitReader(conn, limit))
	if err != nil {
		return ioError(ctx, "recv", err)
	}
	if len(resp) == 0 {
		return fmt.Errorf("recv: %w: server closed without a response", ErrIO)
	}
	s.client.Data(string(resp), "server -> client (echo)", pid)

	_ = conn.Close()
	s.setClientState(internaltransport.ClientClosed)
	s.client.Status("finished", "Client finished.")
	return nil
}

func (s *Socket) dial(ctx context.Context) (*net.UnixConn, error) {
	cfg := s.opts.Config.Connect
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.Backoff
	eb.MaxInterval = 20 * cfg.Backoff
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(cfg.Retries)), ctx)

	var d net.Dialer
	var conn net.Conn
	attempt := 0
	op := func() error {
		attempt++
		c, err := d.DialContext(ctx, "unix", s.Path())
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		s.log.Debug("connect failed, retrying", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, fmt.Errorf("connect %s: %w: %w", s.Path(), ErrWaitTimeout, ctxErr)
		}
		return nil, fmt.Errorf("connect %s after %d attempts: %w: %w", s.Path(), attempt, ErrIO, err)
	}
	return conn.(*net.UnixConn), nil
}

func (s *Socket) closeListener() error {
	s.mu.Lock()
	ln := s.ln
	s.ln = nil
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	err := ln.Close()
	s.setServerState(internaltransport.ServerClosed)
	if err != nil {
		return fmt.Errorf("close listener: %w", err)
	}
	return nil
}

// Teardown closes the listener and removes the socket path if the server still owns it.
func (s *Socket) Teardown() error {
	return s.closeListener()
}
