// Command ipcctl runs any of the transports and watches them under the monitor.
package main

import (
	"os"

	"github.com/srediag/ipcdemo/internal/cli"
)

func main() {
	os.Exit(cli.Execute(cli.NewRootCommand()))
}
