package api

import (
	"context"

	"github.com/srediag/ipcdemo/pkg/event"
)

// EventCallback receives every event a supervised process produced, plus raw and error
// events synthesized by the supervisor.
type EventCallback func(event.Event)

// Lifecycle supervises demo processes on behalf of a front end.
type Lifecycle interface {
	// Start launches executable under module, replacing a process already running there.
	Start(ctx context.Context, module, executable string, args []string, cb EventCallback) error
	// Stop terminates the process running under module.
	Stop(module string) error
	// StopAll terminates every supervised process.
	StopAll()
	// Running reports whether module has a live process.
	Running(module string) bool
}
