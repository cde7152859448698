// Package event defines the structured observations every transport emits and the
// line-oriented JSON format an external front end consumes them in.
package event

import (
	"fmt"
)

// Kind selects the payload an Event carries.
type Kind string

const (
	KindStatus Kind = "status"
	KindData   Kind = "data"
	KindError  Kind = "error"
	// KindRaw only appears on the observer side, for output lines that were not events.
	KindRaw Kind = "raw"
)

// Terminal status emitted once by the owning process when a run completes.
const StatusSuccess = "success"

// Event is one immutable observation. Which payload fields are meaningful depends on Kind:
// Status+Message, Data+Source, or Error.
type Event struct {
	Kind      Kind   `json:"type"`
	Module    string `json:"module"`
	Status    string `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
	Data      string `json:"data,omitempty"`
	Source    string `json:"source,omitempty"`
	Error     string `json:"error,omitempty"`
	PID       int    `json:"pid,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NewStatus builds a status event.
func NewStatus(module, status, message string, pid int) Event {
	return Event{Kind: KindStatus, Module: module, Status: status, Message: message, PID: pid}
}

// NewData builds a data event.
func NewData(module, data, source string, pid int) Event {
	return Event{Kind: KindData, Module: module, Data: data, Source: source, PID: pid}
}

// NewError builds an error event.
func NewError(module, msg string, pid int) Event {
	return Event{Kind: KindError, Module: module, Error: msg, PID: pid}
}

// IsSuccess reports whether e is the terminal success marker.
func (e Event) IsSuccess() bool {
	return e.Kind == KindStatus && e.Status == StatusSuccess
}

func (e Event) String() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("%s status=%s %q pid=%d", e.Module, e.Status, e.Message, e.PID)
	case KindData:
		return fmt.Sprintf("%s data=%q source=%q pid=%d", e.Module, e.Data, e.Source, e.PID)
	case KindError:
		return fmt.Sprintf("%s error=%q pid=%d", e.Module, e.Error, e.PID)
	default:
		return fmt.Sprintf("%s %s %q", e.Module, e.Kind, e.Data)
	}
}
