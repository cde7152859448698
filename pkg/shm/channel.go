package shm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/srediag/ipcdemo/adapter"
)

// Channel is a one-message, one-writer, one-reader handoff over a Resource. The writer
// calls Write then Signal; the reader calls Await then Read.
type Channel struct {
	res  *Resource
	otel *adapter.OTelAdapter

	mu        sync.Mutex
	signalled bool
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithOTel records channel operations through a.
func WithOTel(a *adapter.OTelAdapter) ChannelOption {
	return func(c *Channel) {
		if a != nil {
			c.otel = a
		}
	}
}

// NewChannel binds a channel to res. The channel does not own res.
func NewChannel(res *Resource, opts ...ChannelOption) *Channel {
	c := &Channel{res: res, otel: adapter.NoopOTelAdapter()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Capacity is the segment size. Messages must be strictly shorter.
func (c *Channel) Capacity() int {
	return c.res.Size()
}

// Write copies msg and a NUL terminator into the segment. A message that does not fit
// fails with ErrTooLarge and leaves the segment untouched.
func (c *Channel) Write(ctx context.Context, msg []byte) (err error) {
	ctx, span := c.otel.StartSpan(ctx, "write", attribute.Int("size", len(msg)))
	defer func() {
		c.otel.RecordOp(ctx, span, "write", err)
		span.End()
	}()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.signalled {
		return ErrChannelUsed
	}
	buf, _, err := c.res.handles()
	if err != nil {
		return err
	}
	if len(msg) >= len(buf) {
		return fmt.Errorf("%w: %d bytes, capacity %d", ErrTooLarge, len(msg), len(buf))
	}
	n := copy(buf, msg)
	buf[n] = 0
	c.otel.RecordBytes(ctx, "write", n)
	return nil
}

// Signal posts the gate once. A second Signal is refused with ErrChannelUsed.
func (c *Channel) Signal(ctx context.Context) (err error) {
	ctx, span := c.otel.StartSpan(ctx, "signal")
	defer func() {
		c.otel.RecordOp(ctx, span, "signal", err)
		span.End()
	}()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.signalled {
		return ErrChannelUsed
	}
	_, sem, err := c.res.handles()
	if err != nil {
		return err
	}
	if err := sem.Post(); err != nil {
		return fmt.Errorf("post %s: %w", sem.Name(), err)
	}
	c.signalled = true
	return nil
}

// Await blocks until the peer signals and consumes that signal. Without a deadline or
// cancellation on ctx it waits forever.
func (c *Channel) Await(ctx context.Context) (err error) {
	ctx, span := c.otel.StartSpan(ctx, "await")
	defer func() {
		c.otel.RecordOp(ctx, span, "await", err)
		span.End()
	}()

	_, sem, err := c.res.handles()
	if err != nil {
		return err
	}
	if err := sem.Wait(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrWaitTimeout, err)
		}
		return fmt.Errorf("wait %s: %w", sem.Name(), err)
	}
	return nil
}

// Read returns the bytes before the first NUL, at most Capacity()-1 of them. If there is no
// NUL in that range the first Capacity()-1 bytes are returned with ErrTruncated.
func (c *Channel) Read(ctx context.Context) (msg []byte, err error) {
	ctx, span := c.otel.StartSpan(ctx, "read")
	defer func() {
		c.otel.RecordOp(ctx, span, "read", err)
		span.End()
	}()

	buf, _, err := c.res.handles()
	if err != nil {
		return nil, err
	}
	limit := buf[:len(buf)-1]
	end := bytes.IndexByte(limit, 0)
	if end < 0 {
		out := make([]byte, len(limit))
		copy(out, limit)
		return out, fmt.Errorf("%w: no terminator within %d bytes", ErrTruncated, len(limit))
	}
	out := make([]byte, end)
	copy(out, limit[:end])
	c.otel.RecordBytes(ctx, "read", end)
	return out, nil
}
