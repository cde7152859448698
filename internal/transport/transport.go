// Package transport contains low-level helpers for the Unix socket transport: stale path
// removal, a listener that reports its state as it goes, and owner-only path cleanup.
package transport

import "fmt"

// ServerState is a step of the listening side's lifecycle.
type ServerState int

const (
	ServerCreated ServerState = iota
	ServerBound
	ServerListening
	ServerAccepted
	ServerExchanging
	ServerClosed
)

var serverStateNames = [...]string{"created", "bound", "listening", "accepted", "exchanging", "closed"}

func (s ServerState) String() string {
	if s < 0 || int(s) >= len(serverStateNames) {
		return fmt.Sprintf("server_state(%d)", int(s))
	}
	return serverStateNames[s]
}

// ClientState is a step of the connecting side's lifecycle.
type ClientState int

const (
	ClientCreated ClientState = iota
	ClientConnecting
	ClientConnected
	ClientExchanging
	ClientClosed
)

var clientStateNames = [...]string{"created", "connecting", "connected", "exchanging", "closed"}

func (s ClientState) String() string {
	if s < 0 || int(s) >= len(clientStateNames) {
		return fmt.Sprintf("client_state(%d)", int(s))
	}
	return clientStateNames[s]
}
