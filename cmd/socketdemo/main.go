// Command socketdemo runs the socket transport once between itself and a child.
package main

import (
	"os"

	"github.com/srediag/ipcdemo/internal/cli"
	"github.com/srediag/ipcdemo/pkg/transport"
)

func main() {
	os.Exit(cli.Execute(cli.NewTransportCommand(transport.KindSocket, "socketdemo")))
}
