// Command pipedemo runs the pipes transport once between itself and a child.
package main

import (
	"os"

	"github.com/srediag/ipcdemo/internal/cli"
	"github.com/srediag/ipcdemo/pkg/transport"
)

func main() {
	os.Exit(cli.Execute(cli.NewTransportCommand(transport.KindPipes, "pipedemo")))
}
