package event

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/valyala/bytebufferpool"
)

// ErrMalformed is returned by Decode for lines that are not events.
var ErrMalformed = errors.New("malformed event")

// wire replaces each invalid UTF-8 byte in a string with \ufffd, so every line stays valid JSON.
var wire = sonic.Config{ValidateString: true}.Froze()

// The wire structs pin the field order of each kind. pid is dropped when it is not positive.
type statusLine struct {
	Type      Kind   `json:"type"`
	Module    string `json:"module"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	PID       int    `json:"pid,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type dataLine struct {
	Type      Kind   `json:"type"`
	Module    string `json:"module"`
	Data      string `json:"data"`
	Source    string `json:"source"`
	PID       int    `json:"pid,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type errorLine struct {
	Type      Kind   `json:"type"`
	Module    string `json:"module"`
	Error     string `json:"error"`
	PID       int    `json:"pid,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// AppendLine appends the newline-terminated wire form of e to dst.
func AppendLine(dst []byte, e Event) ([]byte, error) {
	pid := e.PID
	if pid < 0 {
		pid = 0
	}
	var v interface{}
	switch e.Kind {
	case KindStatus:
		v = statusLine{Type: e.Kind, Module: e.Module, Status: e.Status, Message: e.Message, PID: pid, Timestamp: e.Timestamp}
	case KindData:
		v = dataLine{Type: e.Kind, Module: e.Module, Data: e.Data, Source: e.Source, PID: pid, Timestamp: e.Timestamp}
	case KindError:
		v = errorLine{Type: e.Kind, Module: e.Module, Error: e.Error, PID: pid, Timestamp: e.Timestamp}
	default:
		return dst, fmt.Errorf("encode %q: %w", e.Kind, ErrMalformed)
	}
	b, err := wire.Marshal(v)
	if err != nil {
		return dst, fmt.Errorf("encode %s event: %w", e.Kind, err)
	}
	dst = append(dst, b...)
	return append(dst, '\n'), nil
}

// Encode returns the wire form of e, newline included.
func Encode(e Event) ([]byte, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	b, err := AppendLine(buf.B, e)
	if err != nil {
		return nil, err
	}
	buf.B = b
	out := make([]byte, buf.Len())
	copy(out, buf.B)
	return out, nil
}

// Decode parses one wire line. Surrounding whitespace is ignored.
func Decode(line []byte) (Event, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return Event{}, ErrMalformed
	}
	var e Event
	if err := wire.Unmarshal(line, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch e.Kind {
	case KindStatus, KindData, KindError:
	default:
		return Event{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, e.Kind)
	}
	return e, nil
}
