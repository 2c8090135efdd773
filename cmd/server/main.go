// Command seqlims-server runs only the API server, for container images that
// do not ship the administration CLI.
package main

import (
	"fmt"
	"os"

	"github.com/nishad/seqlims/internal/cli"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	var globals cli.Globals

	cmd := cli.NewServerCmd(&globals)
	cmd.Use = "seqlims-server"
	cmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	globals.Bind(cmd.PersistentFlags())

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
