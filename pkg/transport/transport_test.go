//go:build linux

package transport

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srediag/ipcdemo/api"
	"github.com/srediag/ipcdemo/internal/config"
	"github.com/srediag/ipcdemo/pkg/event"
	"github.com/srediag/ipcdemo/pkg/shm"
)

// inheritedFiles is what a child would see: its own copies of the handed-over descriptors.
type inheritedFiles map[string]*os.File

func (m inheritedFiles) File(key string) (*os.File, error) {
	f, ok := m[key]
	if !ok {
		return nil, errors.New("not inherited: " + key)
	}
	return f, nil
}

func inherit(t *testing.T, h *api.Handover) inheritedFiles {
	m := inheritedFiles{}
	for _, key := range h.Keys() {
		f, err := h.File(key)
		if err != nil {
			t.Fatalf("dup %s: %v", key, err)
		}
		m[key] = f
	}
	// the spawn point: the parent drops its copies once the child holds its own
	if err := h.Close(); err != nil {
		t.Fatalf("close handover: %v", err)
	}
	return m
}

type TransportTestSuite struct {
	suite.Suite
	cfg *config.Config
	rec *event.Recorder
}

func (s *TransportTestSuite) SetupTest() {
	s.cfg = config.Default()
	s.cfg.SHM.Dir = s.T().TempDir()
	sockDir, err := os.MkdirTemp("", "ipct")
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = os.RemoveAll(sockDir) })
	s.cfg.Socket.Dir = sockDir
	s.cfg.RunID = "t1"
	s.cfg.Connect.Retries = 20
	s.cfg.Connect.Backoff = 5 * time.Millisecond
	s.rec = event.NewRecorder()
}

func (s *TransportTestSuite) options(msg string) Options {
	return Options{Message: msg, Sink: s.rec, Config: s.cfg}
}

// run drives both halves in one process and returns the child's error.
func (s *TransportTestSuite) run(tr api.Transport) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h, err := tr.Setup(ctx)
	s.Require().NoError(err)
	inh := inherit(s.T(), h)

	childErr := make(chan error, 1)
	go func() { childErr <- tr.Child(ctx, inh) }()

	s.Require().NoError(tr.Parent(ctx, os.Getpid()))
	err = <-childErr
	s.Require().NoError(tr.Teardown())
	return err
}

func (s *TransportTestSuite) data(module string) []event.Event {
	var out []event.Event
	for _, e := range s.rec.Kind(event.KindData) {
		if e.Module == module {
			out = append(out, e)
		}
	}
	return out
}

func (s *TransportTestSuite) indexOf(module, status string) int {
	for i, e := range s.rec.Events() {
		if e.Kind == event.KindStatus && e.Module == module && e.Status == status {
			return i
		}
	}
	return -1
}

func (s *TransportTestSuite) TestPipeEcho() {
	s.Require().NoError(s.run(NewPipe(s.options("hello_from_test"))))

	data := s.data(ModulePipes)
	var sent, echoed int = -1, -1
	for i, e := range data {
		if e.Source == "parent -> child" && e.Data == "hello_from_test" && sent < 0 {
			sent = i
		}
		if e.Source == "child -> parent (echo)" && e.Data == "hello_from_test" {
			echoed = i
		}
	}
	s.Require().GreaterOrEqual(sent, 0)
	s.Require().Greater(echoed, sent)
	s.Require().Empty(s.rec.Kind(event.KindError))
	s.Require().Less(s.indexOf(ModulePipes, "setup"), s.indexOf(ModulePipes, "setup_complete"))
}

func (s *TransportTestSuite) TestPipeChildSeesClosedPipe() {
	p := NewPipe(s.options("x"))
	h, err := p.Setup(context.Background())
	s.Require().NoError(err)
	inh := inherit(s.T(), h)
	s.Require().NoError(p.Teardown())

	err = p.Child(context.Background(), inh)
	s.Require().True(errors.Is(err, ErrIO), "got %v", err)
}

func (s *TransportTestSuite) TestPipeChildWaitTimeout() {
	p := NewPipe(s.options("x"))
	h, err := p.Setup(context.Background())
	s.Require().NoError(err)
	defer p.Teardown()
	inh := inherit(s.T(), h)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = p.Child(ctx, inh)
	s.Require().True(errors.Is(err, ErrWaitTimeout), "got %v", err)
}

func (s *TransportTestSuite) TestPipeHandsOverChildEnds() {
	p := NewPipe(s.options("x"))
	h, err := p.Setup(context.Background())
	s.Require().NoError(err)
	defer p.Teardown()

	s.Require().Equal([]string{KeyParentToChildRead, KeyChildToParentWrite}, h.Keys())
	s.Require().Nil(p.p2cR)
	s.Require().Nil(p.c2pW)
	s.Require().NoError(h.Close())
}

func (s *TransportTestSuite) TestPipeParentSeesChildGone() {
	p := NewPipe(s.options("x"))
	h, err := p.Setup(context.Background())
	s.Require().NoError(err)
	defer p.Teardown()
	inh := inherit(s.T(), h)

	// a child that exits without answering
	for _, f := range inh {
		s.Require().NoError(f.Close())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = p.Parent(ctx, os.Getpid())
	s.Require().True(errors.Is(err, ErrIO), "got %v", err)
}

func (s *TransportTestSuite) TestPipeMessageTooLarge() {
	p := NewPipe(s.options(strings.Repeat("m", s.cfg.Pipe.Buffer)))
	_, err := p.Setup(context.Background())
	s.Require().True(errors.Is(err, ErrTooLarge))
	s.Require().Nil(p.p2cR)
}

func (s *TransportTestSuite) TestSHMHandoff() {
	s.Require().NoError(s.run(NewSHM(s.options("Hello from parent!"))))

	var read []string
	for _, e := range s.data(ModuleSHM) {
		if e.Source == "child_read" {
			read = append(read, e.Data)
		}
	}
	s.Require().Equal([]string{"Hello from parent!"}, read)
	s.Require().GreaterOrEqual(s.indexOf(ModuleSHM, "sem_post"), 0)
	s.Require().Less(s.indexOf(ModuleSHM, "sem_wait"), s.indexOf(ModuleSHM, "sem_proceed"))

	entries, err := os.ReadDir(s.cfg.SHM.Dir)
	s.Require().NoError(err)
	s.Require().Empty(entries, "segment and semaphore names must be gone")
}

func (s *TransportTestSuite) TestSHMMessageTooLargeCreatesNothing() {
	s.cfg.SHM.Size = 8
	_, err := NewSHM(s.options("12345678")).Setup(context.Background())
	s.Require().True(errors.Is(err, ErrTooLarge))
	entries, _ := os.ReadDir(s.cfg.SHM.Dir)
	s.Require().Empty(entries)
}

func (s *TransportTestSuite) TestSHMChildWithoutParent() {
	err := NewSHM(s.options("x")).Child(context.Background(), inheritedFiles{})
	s.Require().True(errors.Is(err, shm.ErrResourceAttach))
	s.Require().True(errors.Is(err, shm.ErrNotFound))
}

func (s *TransportTestSuite) TestSocketEcho() {
	tr := NewSocket(s.options("ping"))
	s.Require().NoError(s.run(tr))

	listening := s.indexOf(ModuleSocketServer, "listening")
	connecting := s.indexOf(ModuleSocketClient, "connecting")
	s.Require().GreaterOrEqual(listening, 0)
	s.Require().Less(listening, connecting)

	var request, response string
	for _, e := range s.data(ModuleSocketServer) {
		request = e.Data
	}
	for _, e := range s.data(ModuleSocketClient) {
		if e.Source == "server -> client (echo)" {
			response = e.Data
		}
	}
	s.Require().Equal("ping", request)
	s.Require().Equal("echo of: ping", response)
	s.Require().Contains(response, "ping")

	s.Require().NoFileExists(tr.Path())
	s.Require().Equal("closed", tr.ServerState().String())
	s.Require().Equal("closed", tr.ClientState().String())
}

func (s *TransportTestSuite) TestSocketClientRetriesUntilServerListens() {
	tr := NewSocket(s.options("late"))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	childErr := make(chan error, 1)
	go func() { childErr <- tr.Child(ctx, inheritedFiles{}) }()
	time.Sleep(30 * time.Millisecond)

	_, err := tr.Setup(ctx)
	s.Require().NoError(err)
	s.Require().NoError(tr.Parent(ctx, 0))
	s.Require().NoError(<-childErr)
	s.Require().NoError(tr.Teardown())
}

func (s *TransportTestSuite) TestSocketClientGivesUp() {
	s.cfg.Connect.Retries = 1
	err := NewSocket(s.options("nobody")).Child(context.Background(), inheritedFiles{})
	s.Require().True(errors.Is(err, ErrIO), "got %v", err)
}

func (s *TransportTestSuite) TestSocketAcceptTimeout() {
	tr := NewSocket(s.options("x"))
	_, err := tr.Setup(context.Background())
	s.Require().NoError(err)
	s.Require().FileExists(tr.Path())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = tr.Parent(ctx, 0)
	s.Require().True(errors.Is(err, ErrWaitTimeout), "got %v", err)

	s.Require().NoError(tr.Teardown())
	s.Require().NoFileExists(tr.Path())
}

func (s *TransportTestSuite) TestSocketPathIsRunScoped() {
	tr := NewSocket(s.options("x"))
	s.Require().Equal(filepath.Join(s.cfg.Socket.Dir, "ipc_socket_demo-t1.sock"), tr.Path())
	s.Require().Equal(ModuleSocketClient, tr.Module(api.Child))
	s.Require().Equal(ModuleSocketServer, tr.Module(api.Parent))
}

func (s *TransportTestSuite) TestNew() {
	for _, k := range Kinds {
		tr, err := New(k, s.options("x"))
		s.Require().NoError(err)
		s.Require().Equal(DefaultModule(k), tr.Module(api.Parent))
	}
	_, err := New("carrier-pigeon", s.options("x"))
	s.Require().Error(err)
}

func TestTransportTestSuite(t *testing.T) {
	suite.Run(t, new(TransportTestSuite))
}
