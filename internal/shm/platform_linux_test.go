//go:build linux

package shm

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type PlatformTestSuite struct {
	suite.Suite
	dir string
}

func (s *PlatformTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
}

func (s *PlatformTestSuite) TestCreateAndAttachShareBytes() {
	ctx := context.Background()
	creator, err := MapRegion(ctx, MapOptions{Dir: s.dir, Name: "region", Size: 4096, Create: true})
	s.Require().NoError(err)
	defer func() { s.Require().NoError(UnmapRegion(ctx, creator)) }()
	s.Require().True(creator.Created())
	s.Require().Len(creator.Addr, 4096)

	attacher, err := MapRegion(ctx, MapOptions{Dir: s.dir, Name: "region"})
	s.Require().NoError(err)
	defer func() { s.Require().NoError(UnmapRegion(ctx, attacher)) }()
	s.Require().False(attacher.Created())
	s.Require().Len(attacher.Addr, 4096)

	copy(creator.Addr, "hello")
	s.Require().Equal("hello", string(attacher.Addr[:5]))
}

func (s *PlatformTestSuite) TestExclusiveCreate() {
	ctx := context.Background()
	r, err := MapRegion(ctx, MapOptions{Dir: s.dir, Name: "dup", Size: 64, Create: true})
	s.Require().NoError(err)
	defer func() { _ = UnmapRegion(ctx, r) }()

	_, err = MapRegion(ctx, MapOptions{Dir: s.dir, Name: "dup", Size: 64, Create: true})
	s.Require().True(errors.Is(err, ErrExist))
	// the failed create must not remove the existing object
	_, statErr := os.Stat(filepath.Join(s.dir, "dup"))
	s.Require().NoError(statErr)
}

func (s *PlatformTestSuite) TestAttachMissing() {
	_, err := MapRegion(context.Background(), MapOptions{Dir: s.dir, Name: "missing"})
	s.Require().True(errors.Is(err, ErrNotExist))
}

func (s *PlatformTestSuite) TestAttachLargerThanObject() {
	ctx := context.Background()
	r, err := MapRegion(ctx, MapOptions{Dir: s.dir, Name: "small", Size: 16, Create: true})
	s.Require().NoError(err)
	defer func() { _ = UnmapRegion(ctx, r) }()

	_, err = MapRegion(ctx, MapOptions{Dir: s.dir, Name: "small", Size: 4096})
	s.Require().Error(err)
}

func (s *PlatformTestSuite) TestUnlink() {
	ctx := context.Background()
	r, err := MapRegion(ctx, MapOptions{Dir: s.dir, Name: "gone", Size: 64, Create: true})
	s.Require().NoError(err)
	s.Require().NoError(UnmapRegion(ctx, r))
	// second unmap is a no-op
	s.Require().NoError(UnmapRegion(ctx, r))

	s.Require().NoError(Unlink(s.dir, "gone"))
	s.Require().True(errors.Is(Unlink(s.dir, "gone"), ErrNotExist))
}

func (s *PlatformTestSuite) TestSemaphoreHandoff() {
	ctx := context.Background()
	creator, err := CreateSemaphore(ctx, s.dir, "gate", 0)
	s.Require().NoError(err)
	defer func() {
		_ = creator.Close()
		_ = UnlinkSemaphore(s.dir, "gate")
	}()
	s.Require().FileExists(filepath.Join(s.dir, "sem.gate"))

	attacher, err := OpenSemaphore(ctx, s.dir, "gate")
	s.Require().NoError(err)
	defer func() { _ = attacher.Close() }()

	s.Require().False(attacher.TryWait())

	done := make(chan error, 1)
	go func() { done <- attacher.Wait(context.Background()) }()

	select {
	case <-done:
		s.FailNow("wait returned before post")
	case <-time.After(50 * time.Millisecond):
	}

	s.Require().NoError(creator.Post())
	select {
	case err := <-done:
		s.Require().NoError(err)
	case <-time.After(5 * time.Second):
		s.FailNow("wait did not return after post")
	}
	s.Require().Equal(uint32(0), creator.Value())
}

func (s *PlatformTestSuite) TestSemaphoreWaitDeadline() {
	ctx := context.Background()
	sem, err := CreateSemaphore(ctx, s.dir, "timeout", 0)
	s.Require().NoError(err)
	defer func() {
		_ = sem.Close()
		_ = UnlinkSemaphore(s.dir, "timeout")
	}()

	wctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = sem.Wait(wctx)
	s.Require().True(errors.Is(err, context.DeadlineExceeded))
	s.Require().Less(time.Since(start), 2*time.Second)
}

func (s *PlatformTestSuite) TestSemaphoreInitialValue() {
	ctx := context.Background()
	sem, err := CreateSemaphore(ctx, s.dir, "counted", 2)
	s.Require().NoError(err)
	defer func() {
		_ = sem.Close()
		_ = UnlinkSemaphore(s.dir, "counted")
	}()
	s.Require().NoError(sem.Wait(ctx))
	s.Require().True(sem.TryWait())
	s.Require().False(sem.TryWait())
}

func TestPlatformTestSuite(t *testing.T) {
	suite.Run(t, new(PlatformTestSuite))
}

func TestCanCreate(t *testing.T) {
	dir := t.TempDir()
	if !CanCreate(dir, 1) {
		t.Fatalf("expected room for one byte in %s", dir)
	}
	if CanCreate(dir, math.MaxUint64) {
		t.Fatalf("expected no room for MaxUint64 bytes in %s", dir)
	}
	if !CanCreate(filepath.Join(dir, "does-not-exist"), math.MaxUint64) {
		t.Fatal("unknown filesystems must not block creation")
	}
}
